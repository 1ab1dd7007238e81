package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sudorandom/noc-stream/internal/observability"
	"github.com/sudorandom/noc-stream/pkg/simengine"
)

// replayEpoch pins generated timestamps so replays are byte-for-byte stable.
var replayEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type ReplayCmd struct {
	Ticks int  `help:"Number of main-loop periods to simulate." default:"20"`
	JSON  bool `help:"Print the summary as JSON."`
}

func (c *ReplayCmd) Run(g *Globals) error {
	log := g.logger()
	ctx := context.Background()

	// Spans go to stderr so they never mix with the summary.
	tcfg := observability.TracingConfigFromEnv()
	tcfg.Writer = os.Stderr
	shutdownTracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	sum, err := replay(g.config(), c.Ticks)
	if err != nil {
		return err
	}
	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	sum.Print(os.Stdout)
	return nil
}

// replay drives a store on a manual clock for the given number of main
// loop periods.
func replay(cfg simengine.Config, ticks int) (Summary, error) {
	clock := simengine.NewManualClock(replayEpoch)
	store, err := simengine.NewStore(cfg, simengine.WithClock(clock))
	if err != nil {
		return Summary{}, err
	}
	defer store.Close()

	store.Initialize(context.Background())
	clock.Advance(cfg.RefreshInterval(cfg.Speed) * time.Duration(ticks))
	return Summarize(store.Snapshot()), nil
}

type KPISummary struct {
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	DeltaPct float64 `json:"deltaPct"`
}

// Summary condenses a snapshot into the figures printed after a replay.
type Summary struct {
	Seed             int64                      `json:"seed"`
	Tick             uint64                     `json:"tick"`
	HubStatus        map[simengine.Status]int   `json:"hubStatus"`
	Countries        []string                   `json:"countries"`
	Links            int                        `json:"links"`
	TotalVolume      float64                    `json:"totalVolume"`
	MeanLatencyMs    float64                    `json:"meanLatencyMs"`
	KPIs             []KPISummary               `json:"kpis"`
	Events           int                        `json:"events"`
	EventsBySeverity map[simengine.Severity]int `json:"eventsBySeverity"`
	EventsByCategory map[string]int             `json:"eventsByCategory"`
}

func Summarize(st simengine.State) Summary {
	s := Summary{
		Seed:             st.Seed,
		Tick:             st.Tick,
		HubStatus:        make(map[simengine.Status]int),
		Links:            len(st.Links),
		Events:           len(st.Events),
		EventsBySeverity: make(map[simengine.Severity]int),
		EventsByCategory: make(map[string]int),
	}

	seen := make(map[string]bool)
	for _, h := range st.Hubs {
		s.HubStatus[h.Status]++
		name := simengine.CountryName(h.Country)
		if name != "" && !seen[name] {
			seen[name] = true
			s.Countries = append(s.Countries, name)
		}
	}
	sort.Strings(s.Countries)

	for _, l := range st.Links {
		s.TotalVolume += l.Volume
		s.MeanLatencyMs += l.LatencyMs
	}
	if len(st.Links) > 0 {
		s.MeanLatencyMs /= float64(len(st.Links))
	}

	for _, k := range st.KPIs {
		s.KPIs = append(s.KPIs, KPISummary{Label: k.Label, Value: k.Value, Unit: k.Unit, DeltaPct: k.DeltaPct})
	}
	for _, e := range st.Events {
		s.EventsBySeverity[e.Severity]++
		s.EventsByCategory[e.Category]++
	}
	return s
}

func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Replay summary (seed %d, %d ticks)\n", s.Seed, s.Tick)
	fmt.Fprintf(w, "--------------------------------------------------\n")
	fmt.Fprintf(w, "Hubs:      ok=%d warn=%d alarm=%d\n",
		s.HubStatus[simengine.StatusOK], s.HubStatus[simengine.StatusWarn], s.HubStatus[simengine.StatusAlarm])
	fmt.Fprintf(w, "Countries: %d\n", len(s.Countries))
	for _, c := range s.Countries {
		fmt.Fprintf(w, "  %s\n", c)
	}
	fmt.Fprintf(w, "Links:     %d (volume %.0f, mean latency %.1fms)\n", s.Links, s.TotalVolume, s.MeanLatencyMs)
	fmt.Fprintf(w, "--------------------------------------------------\n")
	fmt.Fprintf(w, "KPIs:\n")
	for _, k := range s.KPIs {
		fmt.Fprintf(w, "  %-20s %12.2f %-6s %+6.2f%%\n", k.Label, k.Value, k.Unit, k.DeltaPct)
	}
	fmt.Fprintf(w, "--------------------------------------------------\n")
	fmt.Fprintf(w, "Events:    %d (info=%d warn=%d error=%d)\n", s.Events,
		s.EventsBySeverity[simengine.SeverityInfo],
		s.EventsBySeverity[simengine.SeverityWarn],
		s.EventsBySeverity[simengine.SeverityError])

	cats := make([]string, 0, len(s.EventsByCategory))
	for c := range s.EventsByCategory {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Fprintf(w, "  %-14s %d\n", c, s.EventsByCategory[c])
	}
}
