package server

import (
	"fmt"
	"time"

	"github.com/sudorandom/noc-stream/pkg/simengine"
)

// HubView is a hub as delivered to renderers: projected onto the canvas and
// carrying a display name for its country.
type HubView struct {
	simengine.Hub
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	CountryName string  `json:"countryName"`
}

// CableView omits geometry; renderers fetch it once from the cable source.
type CableView struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color"`
}

// Frame is the JSON document pushed to websocket clients and served by
// /api/state.
type Frame struct {
	Type               string                `json:"type"`
	Tick               uint64                `json:"tick"`
	Version            uint64                `json:"version"`
	Seed               int64                 `json:"seed"`
	RefreshMs          int                   `json:"refreshMs"`
	LastUpdate         time.Time             `json:"lastUpdate"`
	UI                 simengine.UIState     `json:"ui"`
	Hubs               []HubView             `json:"hubs"`
	Links              []simengine.Link      `json:"links"`
	KPIs               []simengine.KPI       `json:"kpis"`
	Events             []simengine.EventItem `json:"events"`
	Cables             []CableView           `json:"cables"`
	HighlightedCableID string                `json:"highlightedCableId,omitempty"`
}

// ErrorFrame reports a rejected control message to the sending client.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newFrame(st simengine.State, p simengine.Projector) Frame {
	hubs := make([]HubView, len(st.Hubs))
	for i, h := range st.Hubs {
		x, y := p.ProjectHub(h)
		hubs[i] = HubView{Hub: h, X: x, Y: y, CountryName: simengine.CountryName(h.Country)}
	}
	cables := make([]CableView, len(st.Cables))
	for i, c := range st.Cables {
		cables[i] = CableView{
			ID:    c.ID,
			Name:  c.Name,
			Color: fmt.Sprintf("#%02x%02x%02x", c.Color[0], c.Color[1], c.Color[2]),
		}
	}
	return Frame{
		Type:               "state",
		Tick:               st.Tick,
		Version:            st.Version,
		Seed:               st.Seed,
		RefreshMs:          st.RefreshMs,
		LastUpdate:         st.LastUpdate,
		UI:                 st.UI,
		Hubs:               hubs,
		Links:              st.Links,
		KPIs:               st.KPIs,
		Events:             st.Events,
		Cables:             cables,
		HighlightedCableID: st.HighlightedCableID,
	}
}
