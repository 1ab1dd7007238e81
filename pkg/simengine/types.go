package simengine

import (
	"time"

	"github.com/sudorandom/noc-stream/pkg/sources"
)

type Status string

const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusAlarm Status = "alarm"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

var severities = []Severity{SeverityInfo, SeverityWarn, SeverityError}

// Hub is a simulated point of presence.
type Hub struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Country string  `json:"country"`
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Load    float64 `json:"load"` // 0-1
	Status  Status  `json:"status"`
}

// Link is a traffic path between two distinct hubs.
type Link struct {
	ID        string  `json:"id"`
	FromHubID string  `json:"fromHubId"`
	ToHubID   string  `json:"toHubId"`
	Volume    float64 `json:"volume"`
	LatencyMs float64 `json:"latencyMs"`
	Status    Status  `json:"status"`
}

// KPI is a headline metric with a fixed-length trend window.
type KPI struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Value    float64   `json:"value"`
	Unit     string    `json:"unit"`
	DeltaPct float64   `json:"deltaPct"`
	Trend    []float64 `json:"trend"`
}

type EventItem struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	HubID     string    `json:"hubId,omitempty"`
}

type Layer string

const (
	LayerArcs   Layer = "arcs"
	LayerHubs   Layer = "hubs"
	LayerLabels Layer = "labels"
)

// Layers lists the toggleable map layers in display order.
var Layers = []Layer{LayerArcs, LayerHubs, LayerLabels}

type UIState struct {
	Paused     bool           `json:"paused"`
	Speed      int            `json:"speed"`
	Layers     map[Layer]bool `json:"layers"`
	FocusHubID string         `json:"focusHubId,omitempty"`
}

// State is a complete snapshot of the store. Snapshots share backing
// arrays with the store and must be treated as read-only.
type State struct {
	Hubs               []Hub                  `json:"hubs"`
	Links              []Link                 `json:"links"`
	KPIs               []KPI                  `json:"kpis"`
	Events             []EventItem            `json:"events"`
	UI                 UIState                `json:"ui"`
	Seed               int64                  `json:"seed"`
	RefreshMs          int                    `json:"refreshMs"`
	LastUpdate         time.Time              `json:"lastUpdate"`
	Cables             []sources.CableFeature `json:"-"`
	HighlightedCableID string                 `json:"highlightedCableId,omitempty"`
	Tick               uint64                 `json:"tick"`
	Version            uint64                 `json:"version"`
}

// Entities groups the collections advanced by a tick.
type Entities struct {
	Hubs   []Hub
	Links  []Link
	KPIs   []KPI
	Events []EventItem
}
