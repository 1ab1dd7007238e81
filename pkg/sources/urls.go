package sources

const (
	// CableGeoURL serves the submarine cable routes as a GeoJSON FeatureCollection.
	CableGeoURL = "https://z.yuiseki.net/static/cable-geo.json"

	// CableCacheKey is the disk cache key under which the raw cable payload is stored.
	CableCacheKey = "cables/cable-geo.json"
)
