package simengine

import (
	"math"

	"github.com/sudorandom/noc-stream/pkg/utils"
)

const (
	// TrendWindow is the number of points kept in every KPI trend.
	TrendWindow = 20

	// DefaultMaxEvents caps the retained event history.
	DefaultMaxEvents = 100

	// CategoryGeneral tags events that match no keyword rule.
	CategoryGeneral = "general"
)

var eventMessages = []string{
	"High traffic detected",
	"Latency spike observed",
	"Connection restored",
	"Load balancing activated",
	"Maintenance window started",
	"Capacity threshold exceeded",
	"Redundancy failover initiated",
	"Performance optimization applied",
	"Security scan completed",
	"System health check passed",
}

// EventCategoryRules tags event messages. Earlier rules take precedence.
var EventCategoryRules = []utils.KeywordRule{
	{Category: "security", Keywords: []string{"security", "intrusion"}},
	{Category: "availability", Keywords: []string{"failover", "restored", "outage", "redundancy"}},
	{Category: "latency", Keywords: []string{"latency", "jitter"}},
	{Category: "capacity", Keywords: []string{"traffic", "capacity", "load balancing", "threshold"}},
	{Category: "maintenance", Keywords: []string{"maintenance", "optimization"}},
	{Category: "health", Keywords: []string{"health check"}},
}

type kpiSpec struct {
	id    string
	label string
	unit  string
	value func(r *RNG) float64
	delta float64 // deltaPct is drawn from [-delta/2, delta/2)
}

// kpiCatalog fixes both the KPI set and the order its seeds are drawn in.
var kpiCatalog = []kpiSpec{
	{"total-traffic", "Total Traffic", "Gbps", floorRange(10000, 5000), 20},
	{"active-connections", "Active Connections", "", floorRange(500000, 100000), 15},
	{"avg-latency", "Average Latency", "ms", floorRange(100, 20), 10},
	{"system-health", "System Health", "%", floorRange(20, 80), 5},
	{"error-rate", "Error Rate", "%", func(r *RNG) float64 { return r.Float64() * 2 }, 50},
	{"throughput", "Throughput", "req/s", floorRange(50000, 10000), 25},
}

func floorRange(span, base float64) func(r *RNG) float64 {
	return func(r *RNG) float64 {
		return math.Floor(r.Float64()*span) + base
	}
}
