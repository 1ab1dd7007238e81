package sources

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	geojson "github.com/paulmach/go.geojson"
	"github.com/sudorandom/noc-stream/pkg/utils"
)

// ErrNoFeatures is returned when a payload parses but carries no feature list.
var ErrNoFeatures = errors.New("geojson payload has no features")

// CableFeature is a normalised submarine cable route.
type CableFeature struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Color    [3]uint8          `json:"color"`
	Geometry *geojson.Geometry `json:"geometry,omitempty"`
}

// ColorFunc picks the display colour for a cable.
type ColorFunc func() [3]uint8

// RandomCableColor returns a light colour with every channel in [127, 255].
func RandomCableColor() [3]uint8 {
	return [3]uint8{
		uint8(rand.IntN(128) + 127),
		uint8(rand.IntN(128) + 127),
		uint8(rand.IntN(128) + 127),
	}
}

// ParseCables decodes a GeoJSON FeatureCollection into cable features with
// stable, unique ids.
func ParseCables(data []byte, color ColorFunc) ([]CableFeature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	if fc.Features == nil {
		return nil, ErrNoFeatures
	}
	if color == nil {
		color = RandomCableColor
	}

	cables := make([]CableFeature, 0, len(fc.Features))
	seen := make(map[string]bool, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		id := featureID(f, i)
		if seen[id] {
			id = fmt.Sprintf("cable-%d", i)
		}
		seen[id] = true

		name, _ := f.Properties["name"].(string)
		cables = append(cables, CableFeature{
			ID:       id,
			Name:     name,
			Color:    color(),
			Geometry: f.Geometry,
		})
	}
	return cables, nil
}

// featureID uses a non-empty string feature id. Any other id falls back to
// the feature's position.
func featureID(f *geojson.Feature, index int) string {
	if v, ok := f.ID.(string); ok && v != "" {
		return v
	}
	return fmt.Sprintf("cable-%d", index)
}

// CableFetcher loads the cable overlay from a remote GeoJSON endpoint.
type CableFetcher struct {
	URL     string
	Fetcher *utils.CachedFetcher
	Color   ColorFunc
}

func NewCableFetcher(url string, fetcher *utils.CachedFetcher) *CableFetcher {
	if url == "" {
		url = CableGeoURL
	}
	if fetcher == nil {
		fetcher = &utils.CachedFetcher{}
	}
	return &CableFetcher{URL: url, Fetcher: fetcher, Color: RandomCableColor}
}

// FetchCables downloads and normalises the cable collection. A payload that
// fails to parse is evicted from the cache so the next attempt refetches it.
func (c *CableFetcher) FetchCables(ctx context.Context) ([]CableFeature, error) {
	data, err := c.Fetcher.Get(ctx, CableCacheKey, c.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch cables: %w", err)
	}
	cables, err := ParseCables(data, c.Color)
	if err != nil {
		if c.Fetcher.Cache != nil {
			_ = c.Fetcher.Cache.Delete(CableCacheKey)
		}
		return nil, fmt.Errorf("parse cables: %w", err)
	}
	return cables, nil
}
