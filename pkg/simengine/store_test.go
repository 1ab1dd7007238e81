package simengine

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sudorandom/noc-stream/pkg/sources"
)

type fakeCables struct {
	cables []sources.CableFeature
	err    error
}

func (f fakeCables) FetchCables(context.Context) ([]sources.CableFeature, error) {
	return f.cables, f.err
}

type fakeMetrics struct {
	mu       sync.Mutex
	ticks    int
	failures int
	cables   int
	events   int
	paused   bool
}

func (m *fakeMetrics) ObserveTick(time.Duration) { m.mu.Lock(); m.ticks++; m.mu.Unlock() }
func (m *fakeMetrics) SetEntityCounts(_, _, _, events int) {
	m.mu.Lock()
	m.events = events
	m.mu.Unlock()
}
func (m *fakeMetrics) SetCableCount(n int)    { m.mu.Lock(); m.cables = n; m.mu.Unlock() }
func (m *fakeMetrics) IncCableFetchFailures() { m.mu.Lock(); m.failures++; m.mu.Unlock() }
func (m *fakeMetrics) SetPaused(p bool)       { m.mu.Lock(); m.paused = p; m.mu.Unlock() }

func newTestStore(t *testing.T, cfg Config, opts ...Option) (*Store, *ManualClock) {
	t.Helper()
	clock := NewManualClock(epoch)
	s, err := NewStore(cfg, append([]Option{WithClock(clock)}, opts...)...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s, clock
}

func testCables() []sources.CableFeature {
	return []sources.CableFeature{{ID: "c-0"}, {ID: "c-1"}, {ID: "c-2"}}
}

func TestNewStoreRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Speed = 3
	_, err := NewStore(cfg)
	if !errors.Is(err, ErrInvalidConfig) || !errors.Is(err, ErrInvalidSpeed) {
		t.Errorf("err = %v, want ErrInvalidConfig wrapping ErrInvalidSpeed", err)
	}

	cfg = DefaultConfig()
	cfg.MaxEvents = 0
	if _, err := NewStore(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestStoreDeterministic(t *testing.T) {
	run := func() State {
		s, _ := newTestStore(t, DefaultConfig())
		s.Initialize(context.Background())
		for i := 0; i < 40; i++ {
			s.Tick(context.Background())
		}
		return s.Snapshot()
	}
	a, b := run(), run()
	if !reflect.DeepEqual(a.Hubs, b.Hubs) || !reflect.DeepEqual(a.Links, b.Links) ||
		!reflect.DeepEqual(a.KPIs, b.KPIs) || !reflect.DeepEqual(a.Events, b.Events) {
		t.Fatal("two stores with the same seed diverged")
	}
	if a.Tick != 40 {
		t.Errorf("Tick = %d, want 40", a.Tick)
	}
}

func TestStoreSeed42SingleTick(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	before := s.Hubs()
	if len(before) != 10 {
		t.Fatalf("got %d hubs, want 10", len(before))
	}
	if len(s.Links()) == 0 {
		t.Fatal("expected links for seed 42")
	}

	if !s.Tick(context.Background()) {
		t.Fatal("tick was not applied")
	}
	after := s.Hubs()
	if len(after) != 10 {
		t.Fatalf("hub count changed to %d", len(after))
	}
	for i := range after {
		if d := math.Abs(after[i].Load - before[i].Load); d > 0.05+1e-12 {
			t.Errorf("hub %s drifted %v", after[i].ID, d)
		}
	}
	if n := len(s.Events()); n > 100 {
		t.Errorf("event history length %d", n)
	}
}

func TestTickWhilePausedIsNoop(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	if !s.TogglePause() {
		t.Fatal("TogglePause should report paused")
	}
	before := s.Snapshot()
	if s.Tick(context.Background()) {
		t.Error("Tick applied while paused")
	}
	if after := s.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Error("snapshot changed across a paused tick")
	}
}

func TestTickBeforeInitialize(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	if s.Tick(context.Background()) {
		t.Error("Tick applied before Initialize")
	}
}

func TestPausedLoopKeepsRunning(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	s.TogglePause()
	clock.Advance(9 * time.Second)
	if got := s.Snapshot().Tick; got != 0 {
		t.Fatalf("Tick = %d while paused", got)
	}
	if !s.LoopRunning(LoopMain) {
		t.Fatal("pausing must not stop the main loop")
	}
	s.TogglePause()
	clock.Advance(3 * time.Second)
	if got := s.Snapshot().Tick; got != 1 {
		t.Errorf("Tick = %d after resume, want 1", got)
	}
}

func TestSetSpeedRestartsMainLoop(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	if clock.Pending() != 2 {
		t.Fatalf("Pending = %d after Initialize, want 2", clock.Pending())
	}

	if err := s.SetSpeed(2); err != nil {
		t.Fatal(err)
	}
	if d, ok := s.LoopInterval(LoopMain); !ok || d != 1500*time.Millisecond {
		t.Errorf("main interval = %v, %v; want 1.5s", d, ok)
	}
	if ui := s.UI(); ui.Speed != 2 {
		t.Errorf("Speed = %d", ui.Speed)
	}
	if ms := s.Snapshot().RefreshMs; ms != 1500 {
		t.Errorf("RefreshMs = %d, want 1500", ms)
	}
	if clock.Pending() != 2 {
		t.Errorf("Pending = %d after SetSpeed, want 2", clock.Pending())
	}

	clock.Advance(3 * time.Second)
	if got := s.Snapshot().Tick; got != 2 {
		t.Errorf("Tick = %d after 3s at speed 2, want 2", got)
	}
}

func TestSetSpeedInvalid(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	if err := s.SetSpeed(5); !errors.Is(err, ErrInvalidSpeed) {
		t.Errorf("err = %v, want ErrInvalidSpeed", err)
	}
}

func TestSetSpeedWhileStoppedDoesNotStart(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	s.StopUpdateLoop()
	_ = s.SetSpeed(2)
	if s.LoopRunning(LoopMain) {
		t.Error("SetSpeed started a stopped loop")
	}
}

func TestStartUpdateLoopTwice(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	s.StartUpdateLoop()
	s.StartUpdateLoop()
	clock.Advance(3 * time.Second)
	if got := s.Snapshot().Tick; got != 1 {
		t.Errorf("Tick = %d after one period, want 1", got)
	}
}

func TestStopUpdateLoopTwice(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	s.StopUpdateLoop()
	s.StopUpdateLoop()
	clock.Advance(30 * time.Second)
	if got := s.Snapshot().Tick; got != 0 {
		t.Errorf("Tick = %d after stop", got)
	}
}

func TestCableHighlightCycle(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig(),
		WithCableSource(fakeCables{cables: testCables()}),
		WithHighlightPicker(func(int) int { return 1 }),
	)
	s.Initialize(context.Background())
	<-s.CablesLoaded()

	if got := len(s.Cables()); got != 3 {
		t.Fatalf("got %d cables", got)
	}
	clock.Advance(3 * time.Second)
	if got := s.HighlightedCableID(); got != "c-1" {
		t.Fatalf("highlight = %q, want c-1", got)
	}
	clock.Advance(999 * time.Millisecond)
	if got := s.HighlightedCableID(); got != "c-1" {
		t.Fatalf("highlight cleared early: %q", got)
	}
	clock.Advance(time.Millisecond)
	if got := s.HighlightedCableID(); got != "" {
		t.Errorf("highlight = %q after 1s, want cleared", got)
	}
}

func TestCableHighlightNoCables(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	clock.Advance(6 * time.Second)
	if got := s.HighlightedCableID(); got != "" {
		t.Errorf("highlight = %q with no cables", got)
	}
}

func TestStopCableHighlightLoopClears(t *testing.T) {
	s, clock := newTestStore(t, DefaultConfig(),
		WithCableSource(fakeCables{cables: testCables()}),
		WithHighlightPicker(func(int) int { return 0 }),
	)
	s.Initialize(context.Background())
	<-s.CablesLoaded()
	clock.Advance(3 * time.Second)
	if s.HighlightedCableID() == "" {
		t.Fatal("expected a highlight")
	}

	s.StopCableHighlightLoop()
	s.StopCableHighlightLoop()
	if got := s.HighlightedCableID(); got != "" {
		t.Errorf("highlight = %q after stop", got)
	}
	if s.LoopRunning(LoopCableHighlight) || s.LoopRunning(LoopHighlightClear) {
		t.Error("highlight timers still live")
	}
	clock.Advance(10 * time.Second)
	if got := s.HighlightedCableID(); got != "" {
		t.Errorf("highlight = %q after stop and advance", got)
	}
}

func TestCableFetchFailureIsGraceful(t *testing.T) {
	m := &fakeMetrics{}
	s, clock := newTestStore(t, DefaultConfig(),
		WithCableSource(fakeCables{err: errors.New("connection refused")}),
		WithMetrics(m),
	)
	s.Initialize(context.Background())
	<-s.CablesLoaded()

	if got := len(s.Cables()); got != 0 {
		t.Errorf("got %d cables after failure", got)
	}
	clock.Advance(3 * time.Second)
	if got := s.Snapshot().Tick; got != 1 {
		t.Errorf("simulation stalled after fetch failure: Tick = %d", got)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures != 1 {
		t.Errorf("failures = %d, want 1", m.failures)
	}
	if m.ticks != 1 {
		t.Errorf("observed ticks = %d, want 1", m.ticks)
	}
}

func TestLoadCablesKeepsPriorListOnFailure(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig(), WithCableSource(fakeCables{err: errors.New("boom")}))
	s.SetCables(testCables())
	if err := s.LoadCables(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if got := len(s.Cables()); got != 3 {
		t.Errorf("got %d cables, want prior 3", got)
	}
}

func TestToggleLayer(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	for _, l := range Layers {
		if !s.UI().Layers[l] {
			t.Errorf("layer %s should start visible", l)
		}
	}
	visible, err := s.ToggleLayer(LayerArcs)
	if err != nil || visible {
		t.Fatalf("ToggleLayer(arcs) = %v, %v", visible, err)
	}
	if s.UI().Layers[LayerArcs] {
		t.Error("arcs still visible")
	}
	if _, err := s.ToggleLayer("terrain"); !errors.Is(err, ErrUnknownLayer) {
		t.Errorf("err = %v, want ErrUnknownLayer", err)
	}

	ui := s.UI()
	ui.Layers[LayerHubs] = false
	if !s.UI().Layers[LayerHubs] {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestSetFocusHub(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())

	if err := s.SetFocusHub("hub-3"); err != nil {
		t.Fatal(err)
	}
	if got := s.UI().FocusHubID; got != "hub-3" {
		t.Errorf("focus = %q", got)
	}
	if err := s.SetFocusHub("hub-99"); !errors.Is(err, ErrUnknownHub) {
		t.Errorf("err = %v, want ErrUnknownHub", err)
	}
	if got := s.UI().FocusHubID; got != "hub-3" {
		t.Errorf("failed focus changed state to %q", got)
	}
	if err := s.SetFocusHub(""); err != nil || s.UI().FocusHubID != "" {
		t.Errorf("clearing focus: %v, %q", err, s.UI().FocusHubID)
	}
}

func TestSubscribe(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	var versions []uint64
	unsubscribe := s.Subscribe(func(st State) { versions = append(versions, st.Version) })

	s.Initialize(context.Background())
	s.Tick(context.Background())
	s.TogglePause()
	if len(versions) != 3 {
		t.Fatalf("got %d notifications, want 3", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("versions not increasing: %v", versions)
		}
	}

	unsubscribe()
	unsubscribe()
	s.TogglePause()
	if len(versions) != 3 {
		t.Errorf("notified after unsubscribe")
	}
}

func TestReinitializeIsReproducible(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	first := s.Snapshot()
	for i := 0; i < 5; i++ {
		s.Tick(context.Background())
	}
	s.Initialize(context.Background())
	again := s.Snapshot()
	if !reflect.DeepEqual(first.Hubs, again.Hubs) || !reflect.DeepEqual(first.KPIs, again.KPIs) {
		t.Error("re-initialising with the same seed produced different data")
	}
	if again.Tick != 0 {
		t.Errorf("Tick = %d after re-initialise", again.Tick)
	}
}

func TestCloseStopsLoops(t *testing.T) {
	clock := NewManualClock(epoch)
	s, err := NewStore(DefaultConfig(), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	s.Initialize(context.Background())
	s.Close()
	if clock.Pending() != 0 {
		t.Errorf("Pending = %d after Close", clock.Pending())
	}
	if s.Tick(context.Background()) {
		t.Error("Tick applied after Close")
	}
}

func TestStopUpdateLoopRacingRealTimer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseRefresh = 5 * time.Millisecond
	cfg.HighlightEvery = time.Hour
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	s.Initialize(context.Background())

	// Hold the store lock so the next fire parks inside the tick.
	s.mu.Lock()
	time.Sleep(20 * time.Millisecond)
	stopped := make(chan struct{})
	go func() {
		s.StopUpdateLoop()
		close(stopped)
	}()
	time.Sleep(5 * time.Millisecond)
	s.mu.Unlock()

	<-stopped
	after := s.Snapshot().Tick
	time.Sleep(30 * time.Millisecond)
	if got := s.Snapshot().Tick; got != after {
		t.Errorf("state mutated after StopUpdateLoop returned: tick %d -> %d", after, got)
	}
	if s.LoopRunning(LoopMain) {
		t.Error("main loop still running")
	}
}

func TestStaleLoopCallbacksDoNotMutate(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig(),
		WithCableSource(fakeCables{cables: testCables()}),
		WithHighlightPicker(func(int) int { return 2 }),
	)
	s.Initialize(context.Background())
	<-s.CablesLoaded()
	s.StopUpdateLoop()
	s.StopCableHighlightLoop()
	before := s.Snapshot()

	// Generation 0 is never issued, so it stands in for any stopped timer.
	s.loopTick(0)
	s.highlightNext(0)
	s.clearHighlight(0)

	after := s.Snapshot()
	if after.Version != before.Version || after.Tick != before.Tick {
		t.Errorf("stale callbacks changed state: version %d -> %d, tick %d -> %d",
			before.Version, after.Version, before.Tick, after.Tick)
	}
	if s.LoopRunning(LoopHighlightClear) {
		t.Error("stale highlight armed a clear timer")
	}
}

func TestSetCablesAfterCloseIsNoop(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	s.Initialize(context.Background())
	s.Close()
	s.SetCables(testCables())
	if got := len(s.Cables()); got != 0 {
		t.Errorf("got %d cables after Close", got)
	}
}
