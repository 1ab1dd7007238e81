package simengine

import (
	"context"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sudorandom/noc-stream/internal/logging"
	"github.com/sudorandom/noc-stream/pkg/sources"
)

const tracerName = "github.com/sudorandom/noc-stream/pkg/simengine"

// CableSource supplies the cable overlay. It is called once per Initialize,
// off the simulation path.
type CableSource interface {
	FetchCables(ctx context.Context) ([]sources.CableFeature, error)
}

// MetricsRecorder receives store-level measurements. Implementations must
// be safe for concurrent use.
type MetricsRecorder interface {
	ObserveTick(d time.Duration)
	SetEntityCounts(hubs, links, kpis, events int)
	SetCableCount(n int)
	IncCableFetchFailures()
	SetPaused(paused bool)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTick(time.Duration)          {}
func (noopMetrics) SetEntityCounts(int, int, int, int) {}
func (noopMetrics) SetCableCount(int)                  {}
func (noopMetrics) IncCableFetchFailures()             {}
func (noopMetrics) SetPaused(bool)                     {}

// Option customises Store construction.
type Option func(*Store)

// WithClock sets the clock used for timers and timestamps.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(s *Store) { s.metrics = m }
}

// WithCableSource attaches the source fetched in the background by Initialize.
func WithCableSource(src CableSource) Option {
	return func(s *Store) { s.cableSource = src }
}

// WithCities replaces the hub catalogue.
func WithCities(cities []sources.City) Option {
	return func(s *Store) { s.cities = cities }
}

// WithHighlightPicker overrides the cosmetic cable picker. pick must return
// an index in [0, n).
func WithHighlightPicker(pick func(n int) int) Option {
	return func(s *Store) { s.pick = pick }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Store) { s.tracer = t }
}

// Subscriber receives a snapshot after every state change. Deliveries from
// different goroutines may interleave; compare State.Version to drop stale
// ones.
type Subscriber func(State)

// Store owns all simulation state. Its action methods are the only way to
// mutate it; each one moves the state atomically from one version to the
// next and then notifies subscribers outside the lock.
type Store struct {
	cfg         Config
	clock       Clock
	log         logging.Logger
	metrics     MetricsRecorder
	tracer      trace.Tracer
	cableSource CableSource
	cities      []sources.City
	pick        func(n int) int
	sched       *Scheduler

	mu           sync.Mutex
	gen          *Generator
	state        State
	initialized  bool
	closed       bool
	cablesLoaded chan struct{}
	subs         map[int]Subscriber
	nextSub      int
}

// NewStore validates cfg and builds an uninitialised store.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:    cfg,
		cities: sources.MajorCities,
		subs:   make(map[int]Subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = RealClock()
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.pick == nil {
		s.pick = rand.IntN
	}
	s.sched = NewScheduler(s.clock, s.log)
	s.state = State{
		UI:        defaultUI(cfg.Speed),
		Seed:      cfg.Seed,
		RefreshMs: int(cfg.RefreshInterval(cfg.Speed).Milliseconds()),
	}
	s.cablesLoaded = closedChan()
	return s, nil
}

func defaultUI(speed int) UIState {
	layers := make(map[Layer]bool, len(Layers))
	for _, l := range Layers {
		layers[l] = true
	}
	return UIState{Speed: speed, Layers: layers}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Initialize seeds every entity collection from a fresh generator, starts
// both loops and begins the cable fetch in the background. Calling it again
// restarts the simulation from the same seed.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	gen := NewGenerator(s.cfg.Seed, s.cities, s.clock.Now)
	hubs := gen.InitHubs()
	links := gen.InitLinks(hubs)
	kpis := gen.InitKPIs()
	events := gen.GenerateEvents(hubs, s.cfg.InitialEvents)

	s.gen = gen
	s.state.Hubs = hubs
	s.state.Links = links
	s.state.KPIs = kpis
	s.state.Events = events
	s.state.UI = defaultUI(s.cfg.Speed)
	s.state.RefreshMs = int(s.cfg.RefreshInterval(s.cfg.Speed).Milliseconds())
	s.state.HighlightedCableID = ""
	s.state.LastUpdate = s.clock.Now()
	s.state.Tick = 0
	s.initialized = true

	var done chan struct{}
	if s.cableSource != nil {
		done = make(chan struct{})
		s.cablesLoaded = done
	} else {
		s.cablesLoaded = closedChan()
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.log.Info(ctx, "store initialised",
		logging.Int("hubs", len(hubs)),
		logging.Int("links", len(links)),
		logging.Int("kpis", len(kpis)),
		logging.Int("events", len(events)),
		logging.Any("seed", s.cfg.Seed),
	)
	s.metrics.SetEntityCounts(len(hubs), len(links), len(kpis), len(events))
	s.metrics.SetPaused(false)
	s.notify(snap)

	s.StartUpdateLoop()
	s.StartCableHighlightLoop()

	if done != nil {
		go func() {
			defer close(done)
			_ = s.LoadCables(ctx)
		}()
	}
}

// CablesLoaded is closed once the background cable fetch started by the
// latest Initialize has finished, successfully or not.
func (s *Store) CablesLoaded() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cablesLoaded
}

// LoadCables fetches the cable overlay and installs it. A failure is logged
// and leaves the current cable list untouched.
func (s *Store) LoadCables(ctx context.Context) error {
	if s.cableSource == nil {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "simengine.LoadCables")
	defer span.End()

	s.log.Info(ctx, "fetching cable geometry")
	cables, err := s.cableSource.FetchCables(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncCableFetchFailures()
		s.log.Warn(ctx, "cable fetch failed; continuing without cables", logging.Err(err))
		return err
	}
	span.SetAttributes(attribute.Int("cables", len(cables)))
	s.SetCables(cables)
	s.log.Info(ctx, "cable geometry loaded", logging.Int("cables", len(cables)))
	return nil
}

// Tick advances the simulation by one step. It is a no-op while paused or
// before Initialize, and reports whether a step was applied.
func (s *Store) Tick(ctx context.Context) bool {
	return s.tick(ctx, nil)
}

// tick applies one step if owned, when set, still holds under the store lock.
func (s *Store) tick(ctx context.Context, owned func() bool) bool {
	start := time.Now()

	s.mu.Lock()
	if !s.initialized || s.closed || s.state.UI.Paused || (owned != nil && !owned()) {
		s.mu.Unlock()
		return false
	}
	_, span := s.tracer.Start(ctx, "simengine.Tick")
	next := s.gen.UpdateData(Entities{
		Hubs:   s.state.Hubs,
		Links:  s.state.Links,
		KPIs:   s.state.KPIs,
		Events: s.state.Events,
	}, s.cfg.MaxEvents)
	s.state.Hubs = next.Hubs
	s.state.Links = next.Links
	s.state.KPIs = next.KPIs
	s.state.Events = next.Events
	s.state.Tick++
	s.state.LastUpdate = s.clock.Now()
	snap := s.commitLocked()
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int64("tick", int64(snap.Tick)),
		attribute.Int("events", len(snap.Events)),
	)
	span.End()

	s.metrics.ObserveTick(time.Since(start))
	s.metrics.SetEntityCounts(len(snap.Hubs), len(snap.Links), len(snap.KPIs), len(snap.Events))
	s.notify(snap)
	return true
}

// TogglePause flips the paused flag. Loops keep running while paused.
func (s *Store) TogglePause() bool {
	s.mu.Lock()
	s.state.UI.Paused = !s.state.UI.Paused
	paused := s.state.UI.Paused
	snap := s.commitLocked()
	s.mu.Unlock()

	s.log.Info(context.Background(), "pause toggled", logging.Bool("paused", paused))
	s.metrics.SetPaused(paused)
	s.notify(snap)
	return paused
}

// SetSpeed changes the simulation speed and, if the main loop is running,
// restarts it at the new period.
func (s *Store) SetSpeed(speed int) error {
	if !validSpeed(speed) {
		return ErrInvalidSpeed
	}
	interval := s.cfg.RefreshInterval(speed)

	s.mu.Lock()
	s.state.UI.Speed = speed
	s.state.RefreshMs = int(interval.Milliseconds())
	snap := s.commitLocked()
	s.mu.Unlock()

	s.log.Info(context.Background(), "speed changed",
		logging.Int("speed", speed),
		logging.Duration("interval", interval),
	)
	s.notify(snap)

	if s.sched.Running(LoopMain) {
		s.StartUpdateLoop()
	}
	return nil
}

// ToggleLayer flips the visibility of a known layer.
func (s *Store) ToggleLayer(name Layer) (bool, error) {
	if !slices.Contains(Layers, name) {
		return false, ErrUnknownLayer
	}
	s.mu.Lock()
	layers := maps.Clone(s.state.UI.Layers)
	layers[name] = !layers[name]
	s.state.UI.Layers = layers
	visible := layers[name]
	snap := s.commitLocked()
	s.mu.Unlock()

	s.notify(snap)
	return visible, nil
}

// SetFocusHub focuses the map on a hub. An empty id clears the focus.
func (s *Store) SetFocusHub(id string) error {
	s.mu.Lock()
	if id != "" && !slices.ContainsFunc(s.state.Hubs, func(h Hub) bool { return h.ID == id }) {
		s.mu.Unlock()
		return ErrUnknownHub
	}
	s.state.UI.FocusHubID = id
	snap := s.commitLocked()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// SetHighlightedCable marks one cable as highlighted. An empty id clears it.
func (s *Store) SetHighlightedCable(id string) {
	s.mu.Lock()
	if s.state.HighlightedCableID == id {
		s.mu.Unlock()
		return
	}
	s.state.HighlightedCableID = id
	snap := s.commitLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SetCables replaces the cable overlay.
func (s *Store) SetCables(cables []sources.CableFeature) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state.Cables = cables
	snap := s.commitLocked()
	s.mu.Unlock()

	s.metrics.SetCableCount(len(cables))
	s.notify(snap)
}

// StartUpdateLoop runs Tick at the period derived from the current speed.
func (s *Store) StartUpdateLoop() {
	s.mu.Lock()
	interval := s.cfg.RefreshInterval(s.state.UI.Speed)
	s.mu.Unlock()

	if err := s.sched.StartOwned(LoopMain, interval, s.loopTick); err != nil {
		s.log.Error(context.Background(), "start update loop", logging.Err(err))
	}
}

func (s *Store) loopTick(gen uint64) {
	s.tick(context.Background(), func() bool { return s.sched.Owns(LoopMain, gen) })
}

// StopUpdateLoop stops the main loop. A tick already in progress finishes
// before it returns; none starts afterwards.
func (s *Store) StopUpdateLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.Stop(LoopMain)
}

// StartCableHighlightLoop highlights a random cable every HighlightEvery and
// clears it HighlightFor later.
func (s *Store) StartCableHighlightLoop() {
	if err := s.sched.StartOwned(LoopCableHighlight, s.cfg.HighlightEvery, s.highlightNext); err != nil {
		s.log.Error(context.Background(), "start highlight loop", logging.Err(err))
	}
}

// StopCableHighlightLoop stops the rotation, cancels a pending clear and
// removes any highlight.
func (s *Store) StopCableHighlightLoop() {
	s.mu.Lock()
	s.sched.Stop(LoopCableHighlight)
	s.sched.Stop(LoopHighlightClear)
	if s.state.HighlightedCableID == "" {
		s.mu.Unlock()
		return
	}
	s.state.HighlightedCableID = ""
	snap := s.commitLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Store) highlightNext(gen uint64) {
	s.mu.Lock()
	n := len(s.state.Cables)
	if n == 0 || s.closed || !s.sched.Owns(LoopCableHighlight, gen) {
		s.mu.Unlock()
		return
	}
	i := s.pick(n)
	if i < 0 || i >= n {
		i = 0
	}
	s.state.HighlightedCableID = s.state.Cables[i].ID
	s.sched.OnceOwned(LoopHighlightClear, s.cfg.HighlightFor, s.clearHighlight)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Store) clearHighlight(gen uint64) {
	s.mu.Lock()
	if !s.sched.Release(LoopHighlightClear, gen) || s.state.HighlightedCableID == "" {
		s.mu.Unlock()
		return
	}
	s.state.HighlightedCableID = ""
	snap := s.commitLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// LoopRunning reports whether the named loop currently has a live timer.
func (s *Store) LoopRunning(name LoopName) bool {
	return s.sched.Running(name)
}

// LoopInterval returns the period of a running loop.
func (s *Store) LoopInterval(name LoopName) (time.Duration, bool) {
	return s.sched.Interval(name)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Snapshot returns the current state. Slices are shared with the store and
// must not be modified.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Hubs() []Hub                    { return s.Snapshot().Hubs }
func (s *Store) Links() []Link                  { return s.Snapshot().Links }
func (s *Store) KPIs() []KPI                    { return s.Snapshot().KPIs }
func (s *Store) Events() []EventItem            { return s.Snapshot().Events }
func (s *Store) UI() UIState                    { return s.Snapshot().UI }
func (s *Store) Cables() []sources.CableFeature { return s.Snapshot().Cables }
func (s *Store) HighlightedCableID() string     { return s.Snapshot().HighlightedCableID }
func (s *Store) Config() Config                 { return s.cfg }

// Close stops every loop and drops all subscribers. Actions after Close
// leave the state unchanged apart from UI toggles.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	clear(s.subs)
	s.sched.StopAll()
}

func (s *Store) commitLocked() State {
	s.state.Version++
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	snap := s.state
	snap.UI.Layers = maps.Clone(s.state.UI.Layers)
	return snap
}

func (s *Store) notify(snap State) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
