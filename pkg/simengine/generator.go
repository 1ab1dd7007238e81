package simengine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sudorandom/noc-stream/pkg/sources"
	"github.com/sudorandom/noc-stream/pkg/utils"
)

const (
	linkProbability   = 0.4
	statusRerollOdds  = 0.1
	eventOdds         = 0.3
	hubAttachOdds     = 0.7
	maxEventAge       = 5 * time.Minute
	hubLoadJitter     = 0.1
	linkVolumeJitter  = 100
	linkLatencyJitter = 20
	kpiRelativeJitter = 0.05
	minLatencyMs      = 10
)

// Generator produces and advances the synthetic entity collections. Every
// method consumes draws from a single RNG in a fixed order, so a given seed
// and call sequence always yields the same data.
type Generator struct {
	rng          *RNG
	cities       []sources.City
	now          func() time.Time
	classifier   *utils.KeywordClassifier
	eventCounter int
}

// NewGenerator builds a generator for the given city catalogue. now stamps
// generated events; it defaults to time.Now.
func NewGenerator(seed int64, cities []sources.City, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{
		rng:        NewRNG(seed),
		cities:     cities,
		now:        now,
		classifier: utils.NewKeywordClassifier(EventCategoryRules, CategoryGeneral),
	}
}

// InitHubs creates one hub per city, in catalogue order.
func (g *Generator) InitHubs() []Hub {
	hubs := make([]Hub, 0, len(g.cities))
	for i, c := range g.cities {
		hubs = append(hubs, Hub{
			ID:      fmt.Sprintf("hub-%d", i),
			Name:    c.Name,
			Country: c.Country,
			Lon:     c.Lon,
			Lat:     c.Lat,
			Load:    0.3 + g.rng.Float64()*0.4,
			Status:  g.rng.Status(),
		})
	}
	return hubs
}

// InitLinks connects each unordered hub pair with probability 0.4. Pairs are
// visited in (i, j) nested ascending order.
func (g *Generator) InitLinks(hubs []Hub) []Link {
	var links []Link
	for i := 0; i < len(hubs); i++ {
		for j := i + 1; j < len(hubs); j++ {
			if !g.rng.Chance(linkProbability) {
				continue
			}
			links = append(links, Link{
				ID:        fmt.Sprintf("link-%d-%d", i, j),
				FromHubID: hubs[i].ID,
				ToHubID:   hubs[j].ID,
				Volume:    math.Floor(g.rng.Float64()*1000) + 100,
				LatencyMs: math.Floor(g.rng.Float64()*200) + 20,
				Status:    g.rng.Status(),
			})
		}
	}
	return links
}

func (g *Generator) InitKPIs() []KPI {
	kpis := make([]KPI, 0, len(kpiCatalog))
	for _, spec := range kpiCatalog {
		value := spec.value(g.rng)
		delta := g.rng.Jitter(spec.delta)
		trend := make([]float64, TrendWindow)
		for i := range trend {
			trend[i] = 50 + g.rng.Jitter(40)
		}
		kpis = append(kpis, KPI{
			ID:       spec.id,
			Label:    spec.label,
			Value:    value,
			Unit:     spec.unit,
			DeltaPct: delta,
			Trend:    trend,
		})
	}
	return kpis
}

// GenerateEvents draws count events and returns them newest first. A
// non-positive count yields no events and consumes no draws.
func (g *Generator) GenerateEvents(hubs []Hub, count int) []EventItem {
	if count <= 0 {
		return nil
	}
	now := g.now()
	events := make([]EventItem, 0, count)
	for i := 0; i < count; i++ {
		severity := Pick(g.rng, severities)
		var hubID string
		if g.rng.Chance(hubAttachOdds) {
			hubID = Pick(g.rng, hubs).ID
		}
		age := time.Duration(g.rng.Float64() * float64(maxEventAge))
		msg := Pick(g.rng, eventMessages)

		events = append(events, EventItem{
			ID:        fmt.Sprintf("event-%d", g.eventCounter),
			Timestamp: now.Add(-age).UTC().Truncate(time.Millisecond),
			Severity:  severity,
			Message:   msg,
			Category:  g.classifier.Classify(msg),
			HubID:     hubID,
		})
		g.eventCounter++
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events
}

func (g *Generator) UpdateHubs(hubs []Hub) []Hub {
	next := make([]Hub, len(hubs))
	for i, h := range hubs {
		h.Load = clamp(h.Load+g.rng.Jitter(hubLoadJitter), 0, 1)
		if g.rng.Chance(statusRerollOdds) {
			h.Status = g.rng.Status()
		}
		next[i] = h
	}
	return next
}

func (g *Generator) UpdateLinks(links []Link) []Link {
	next := make([]Link, len(links))
	for i, l := range links {
		l.Volume = math.Max(0, l.Volume+g.rng.Jitter(linkVolumeJitter))
		l.LatencyMs = math.Max(minLatencyMs, l.LatencyMs+g.rng.Jitter(linkLatencyJitter))
		if g.rng.Chance(statusRerollOdds) {
			l.Status = g.rng.Status()
		}
		next[i] = l
	}
	return next
}

// UpdateKPIs applies relative noise to each value and slides its trend.
// deltaPct compares the new value with the trend tail before the slide.
func (g *Generator) UpdateKPIs(kpis []KPI) []KPI {
	next := make([]KPI, len(kpis))
	for i, k := range kpis {
		value := math.Max(0, k.Value+g.rng.Jitter(k.Value*kpiRelativeJitter))

		k.DeltaPct = 0
		if len(k.Trend) > 1 {
			if prev := k.Trend[len(k.Trend)-1]; prev != 0 {
				k.DeltaPct = (value - prev) / prev * 100
			}
		}
		k.Value = value
		k.Trend = slide(k.Trend, value, TrendWindow)
		next[i] = k
	}
	return next
}

// UpdateEvents occasionally draws one to three new events and merges them
// into the history, keeping it newest first and at most limit long.
func (g *Generator) UpdateEvents(events []EventItem, hubs []Hub, limit int) []EventItem {
	if !g.rng.Chance(eventOdds) {
		return events
	}
	count := int(math.Floor(g.rng.Float64()*3)) + 1
	return mergeNewestFirst(g.GenerateEvents(hubs, count), events, limit)
}

// UpdateData advances every collection by one tick. Draws are consumed in
// the order hubs, links, KPIs, events.
func (g *Generator) UpdateData(cur Entities, maxEvents int) Entities {
	hubs := g.UpdateHubs(cur.Hubs)
	links := g.UpdateLinks(cur.Links)
	kpis := g.UpdateKPIs(cur.KPIs)
	events := g.UpdateEvents(cur.Events, hubs, maxEvents)
	return Entities{Hubs: hubs, Links: links, KPIs: kpis, Events: events}
}

// mergeNewestFirst merges two newest-first lists. On equal timestamps the
// entry from fresh comes first.
func mergeNewestFirst(fresh, old []EventItem, limit int) []EventItem {
	if limit <= 0 {
		return nil
	}
	out := make([]EventItem, 0, min(len(fresh)+len(old), limit))
	i, j := 0, 0
	for len(out) < limit && (i < len(fresh) || j < len(old)) {
		switch {
		case j >= len(old):
			out = append(out, fresh[i])
			i++
		case i >= len(fresh):
			out = append(out, old[j])
			j++
		case old[j].Timestamp.After(fresh[i].Timestamp):
			out = append(out, old[j])
			j++
		default:
			out = append(out, fresh[i])
			i++
		}
	}
	return out
}

func slide(trend []float64, v float64, window int) []float64 {
	start := 0
	if len(trend) >= window {
		start = len(trend) - window + 1
	}
	next := make([]float64, 0, window)
	next = append(next, trend[start:]...)
	return append(next, v)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
