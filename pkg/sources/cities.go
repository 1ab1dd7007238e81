// Package sources provides the static catalogues and remote data feeds consumed by the simulator.
package sources

// City is a named location that hosts a simulated hub.
type City struct {
	Name    string
	Country string // ISO 3166-1 alpha-2
	Lon     float64
	Lat     float64
}

// MajorCities is the fixed hub catalogue. Order matters: hub ids and the
// RNG draw sequence are derived from list position.
var MajorCities = []City{
	{Name: "Tokyo", Country: "JP", Lon: 139.6917, Lat: 35.6895},
	{Name: "Singapore", Country: "SG", Lon: 103.8198, Lat: 1.3521},
	{Name: "Frankfurt", Country: "DE", Lon: 8.6821, Lat: 50.1109},
	{Name: "San Francisco", Country: "US", Lon: -122.4194, Lat: 37.7749},
	{Name: "New York", Country: "US", Lon: -74.0060, Lat: 40.7128},
	{Name: "Sydney", Country: "AU", Lon: 151.2093, Lat: -33.8688},
	{Name: "London", Country: "GB", Lon: -0.1276, Lat: 51.5074},
	{Name: "Dubai", Country: "AE", Lon: 55.2708, Lat: 25.2048},
	{Name: "Mumbai", Country: "IN", Lon: 72.8777, Lat: 19.0760},
	{Name: "São Paulo", Country: "BR", Lon: -46.6333, Lat: -23.5505},
}
