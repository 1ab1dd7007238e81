package simengine

import (
	"math"
	"strings"

	"github.com/biter777/countries"
)

// Projector maps longitude/latitude onto a flat canvas using the Mollweide
// projection, centred on the canvas midpoint.
type Projector struct {
	Width, Height int
	Scale         float64
}

func NewProjector(width, height int, scale float64) Projector {
	return Projector{Width: width, Height: height, Scale: scale}
}

// Project returns canvas coordinates for a point. Latitudes are clamped to
// ±89.5 so the Newton iteration stays away from the poles.
func (p Projector) Project(lat, lng float64) (x, y float64) {
	lat = clamp(lat, -89.5, 89.5)

	latRad, lngRad := lat*math.Pi/180, lng*math.Pi/180
	theta := latRad
	for i := 0; i < 10; i++ {
		denom := 2 + 2*math.Cos(2*theta)
		if math.Abs(denom) < 1e-9 {
			break
		}
		delta := (2*theta + math.Sin(2*theta) - math.Pi*math.Sin(latRad)) / denom
		theta -= delta
		if math.Abs(delta) < 1e-7 {
			break
		}
	}
	x = float64(p.Width)/2 + p.Scale*(2*math.Sqrt2/math.Pi)*lngRad*math.Cos(theta)
	y = float64(p.Height)/2 - p.Scale*math.Sqrt2*math.Sin(theta)
	return x, y
}

// ProjectHub projects a hub's coordinates.
func (p Projector) ProjectHub(h Hub) (x, y float64) {
	return p.Project(h.Lat, h.Lon)
}

// CountryName resolves an ISO alpha-2 code to a short display name, falling
// back to the code itself.
func CountryName(cc string) string {
	if cc == "" {
		return ""
	}
	name := countries.ByName(cc).String()
	if name == "Unknown" {
		return strings.ToUpper(cc)
	}
	if idx := strings.Index(name, " ("); idx != -1 {
		name = name[:idx]
	}
	switch {
	case strings.Contains(name, "Hong Kong"):
		name = "Hong Kong"
	case strings.Contains(name, "Macao"):
		name = "Macao"
	case strings.Contains(name, "Taiwan"):
		name = "Taiwan"
	}
	return name
}
