package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type frame struct {
	Type    string `json:"type"`
	Tick    uint64 `json:"tick"`
	Version uint64 `json:"version"`
	Error   string `json:"error"`
	UI      struct {
		Paused bool `json:"paused"`
		Speed  int  `json:"speed"`
	} `json:"ui"`
	Hubs []struct {
		ID     string  `json:"id"`
		Name   string  `json:"name"`
		Load   float64 `json:"load"`
		Status string  `json:"status"`
	} `json:"hubs"`
	Events []struct {
		ID       string `json:"id"`
		Severity string `json:"severity"`
		Category string `json:"category"`
	} `json:"events"`
	HighlightedCableID string `json:"highlightedCableId"`
}

// HubChurn counts how often one hub changed state while watched.
type HubChurn struct {
	Name          string
	StatusChanges int
	LastStatus    string
	MaxLoad       float64
}

// Stats accumulates what a watcher has seen on the stream.
type Stats struct {
	mu          sync.Mutex
	Frames      int
	Errors      []string
	FirstTick   uint64
	LastTick    uint64
	LastVersion uint64
	Stale       int
	Paused      bool
	Speed       int
	Hubs        map[string]*HubChurn
	Severity    map[string]int
	Category    map[string]int
	Highlights  map[string]int
	seenEvents  map[string]bool
	lastLight   string
	StartTime   time.Time
}

func NewStats(start time.Time) *Stats {
	return &Stats{
		Hubs:       make(map[string]*HubChurn),
		Severity:   make(map[string]int),
		Category:   make(map[string]int),
		Highlights: make(map[string]int),
		seenEvents: make(map[string]bool),
		StartTime:  start,
	}
}

func (s *Stats) Record(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return
	}
	if f.Type == "error" {
		s.Errors = append(s.Errors, f.Error)
		return
	}
	if f.Type != "state" {
		return
	}
	if s.Frames > 0 && f.Version <= s.LastVersion {
		s.Stale++
		return
	}

	if s.Frames == 0 {
		s.FirstTick = f.Tick
	}
	s.Frames++
	s.LastTick = f.Tick
	s.LastVersion = f.Version
	s.Paused = f.UI.Paused
	s.Speed = f.UI.Speed

	for _, h := range f.Hubs {
		churn, ok := s.Hubs[h.ID]
		if !ok {
			churn = &HubChurn{Name: h.Name, LastStatus: h.Status}
			s.Hubs[h.ID] = churn
		}
		if h.Status != churn.LastStatus {
			churn.StatusChanges++
			churn.LastStatus = h.Status
		}
		if h.Load > churn.MaxLoad {
			churn.MaxLoad = h.Load
		}
	}

	for _, e := range f.Events {
		if s.seenEvents[e.ID] {
			continue
		}
		s.seenEvents[e.ID] = true
		s.Severity[e.Severity]++
		s.Category[e.Category]++
	}

	if f.HighlightedCableID != "" && f.HighlightedCableID != s.lastLight {
		s.Highlights[f.HighlightedCableID]++
	}
	s.lastLight = f.HighlightedCableID
}

func (s *Stats) Report(w io.Writer, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	ticks := s.LastTick - s.FirstTick

	fmt.Fprintf(w, "\033[H\033[2J") // Clear screen
	fmt.Fprintf(w, "NOC Stream Watch (running for %.1fs)\n", elapsed)
	fmt.Fprintf(w, "--------------------------------------------------\n")
	fmt.Fprintf(w, "Frames:     %d (%.2f/s, %d stale)\n", s.Frames, float64(s.Frames)/elapsed, s.Stale)
	fmt.Fprintf(w, "Ticks:      %d (%.2f/s)\n", ticks, float64(ticks)/elapsed)
	fmt.Fprintf(w, "Speed:      %d  Paused: %v\n", s.Speed, s.Paused)
	fmt.Fprintf(w, "Highlights: %d distinct cables\n", len(s.Highlights))
	fmt.Fprintf(w, "--------------------------------------------------\n")

	fmt.Fprintf(w, "EVENTS SEEN:\n")
	for _, sev := range []string{"info", "warn", "error"} {
		fmt.Fprintf(w, "  %-6s %d\n", sev, s.Severity[sev])
	}
	cats := make([]string, 0, len(s.Category))
	for c := range s.Category {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(w, "  [%s] %d\n", c, s.Category[c])
	}
	fmt.Fprintf(w, "--------------------------------------------------\n")

	type hubChurn struct {
		ID    string
		Churn *HubChurn
	}
	var churnList []hubChurn
	for id, c := range s.Hubs {
		churnList = append(churnList, hubChurn{id, c})
	}
	sort.Slice(churnList, func(i, j int) bool {
		if churnList[i].Churn.StatusChanges == churnList[j].Churn.StatusChanges {
			return churnList[i].ID < churnList[j].ID
		}
		return churnList[i].Churn.StatusChanges > churnList[j].Churn.StatusChanges
	})

	maxHubs := min(5, len(churnList))
	if maxHubs > 0 {
		fmt.Fprintf(w, "Top %d Churning Hubs:\n", maxHubs)
		for _, h := range churnList[:maxHubs] {
			fmt.Fprintf(w, "  %s (%s): %d status changes, peak load %.2f, now %s\n",
				h.Churn.Name, h.ID, h.Churn.StatusChanges, h.Churn.MaxLoad, h.Churn.LastStatus)
		}
	}

	if len(s.Errors) > 0 {
		fmt.Fprintf(w, "--------------------------------------------------\n")
		fmt.Fprintf(w, "Rejected controls: %d (last: %s)\n", len(s.Errors), s.Errors[len(s.Errors)-1])
	}
}
