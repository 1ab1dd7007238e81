package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sudorandom/noc-stream/pkg/simengine"
)

type clientCounter struct{ n atomic.Int64 }

func (c *clientCounter) SetClients(n int) { c.n.Store(int64(n)) }

func newTestServer(t *testing.T, opts ...Option) (*Server, *simengine.Store, *httptest.Server) {
	t.Helper()
	store, err := simengine.NewStore(simengine.DefaultConfig(),
		simengine.WithClock(simengine.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))),
	)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	store.Initialize(context.Background())
	srv := New(store, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		store.Close()
	})
	return srv, store, ts
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestStateEndpoint(t *testing.T) {
	_, store, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var f Frame
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Type != "state" || len(f.Hubs) != 10 || len(f.KPIs) != 6 {
		t.Fatalf("unexpected frame: type=%s hubs=%d kpis=%d", f.Type, len(f.Hubs), len(f.KPIs))
	}
	if f.Hubs[0].CountryName == "" || f.Hubs[0].X == 0 {
		t.Errorf("hub view not enriched: %+v", f.Hubs[0])
	}
	if f.Version != store.Snapshot().Version {
		t.Errorf("version = %d, want %d", f.Version, store.Snapshot().Version)
	}
}

func TestActionEndpoints(t *testing.T) {
	_, store, ts := newTestServer(t)

	if resp := post(t, ts.URL+"/api/pause"); resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status = %d", resp.StatusCode)
	}
	if !store.UI().Paused {
		t.Error("pause endpoint did not pause")
	}

	if resp := post(t, ts.URL+"/api/speed?value=2"); resp.StatusCode != http.StatusOK {
		t.Fatalf("speed status = %d", resp.StatusCode)
	}
	if store.UI().Speed != 2 {
		t.Error("speed not applied")
	}

	if resp := post(t, ts.URL+"/api/layers/labels"); resp.StatusCode != http.StatusOK {
		t.Fatalf("layer status = %d", resp.StatusCode)
	}
	if store.UI().Layers[simengine.LayerLabels] {
		t.Error("labels layer still visible")
	}

	if resp := post(t, ts.URL+"/api/focus?hub=hub-2"); resp.StatusCode != http.StatusOK {
		t.Fatalf("focus status = %d", resp.StatusCode)
	}
	if store.UI().FocusHubID != "hub-2" {
		t.Error("focus not applied")
	}
}

func TestActionEndpointsRejectBadInput(t *testing.T) {
	_, _, ts := newTestServer(t)

	for _, path := range []string{
		"/api/speed?value=3",
		"/api/speed?value=fast",
		"/api/layers/terrain",
		"/api/focus?hub=hub-404",
	} {
		if resp := post(t, ts.URL+path); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("POST %s status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestApply(t *testing.T) {
	srv, store, _ := newTestServer(t)

	tests := []struct {
		msg     string
		wantErr error
	}{
		{`{"action":"speed","value":2}`, nil},
		{`{"action":"speed","value":7}`, simengine.ErrInvalidSpeed},
		{`{"action":"layer","value":"arcs"}`, nil},
		{`{"action":"layer","value":"terrain"}`, simengine.ErrUnknownLayer},
		{`{"action":"focus","value":"hub-1"}`, nil},
		{`{"action":"focus","value":null}`, nil},
		{`{"action":"focus","value":"nope"}`, simengine.ErrUnknownHub},
		{`{"action":"rewind"}`, ErrUnknownAction},
	}
	for _, tt := range tests {
		var msg ControlMessage
		if err := json.Unmarshal([]byte(tt.msg), &msg); err != nil {
			t.Fatalf("bad test message %s: %v", tt.msg, err)
		}
		err := srv.Apply(msg)
		if tt.wantErr == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tt.msg, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: err = %v, want %v", tt.msg, err, tt.wantErr)
		}
	}
	if store.UI().FocusHubID != "" {
		t.Errorf("null focus should clear, got %q", store.UI().FocusHubID)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("noc_ticks_total 0\n"))
	})
	_, _, ts := newTestServer(t, WithMetricsHandler(metrics))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func readFrame(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func TestWebsocketStreamsAndAcceptsControl(t *testing.T) {
	clients := &clientCounter{}
	_, store, ts := newTestServer(t, WithClientRecorder(clients))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	var first Frame
	readFrame(t, c, &first)
	if first.Version != store.Snapshot().Version || first.UI.Paused {
		t.Fatalf("unexpected initial frame version=%d paused=%v", first.Version, first.UI.Paused)
	}
	if clients.n.Load() != 1 {
		t.Errorf("clients = %d, want 1", clients.n.Load())
	}

	if err := c.WriteJSON(ControlMessage{Action: "pause"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var next Frame
	readFrame(t, c, &next)
	if !next.UI.Paused || next.Version <= first.Version {
		t.Errorf("expected paused frame after control, got paused=%v version=%d", next.UI.Paused, next.Version)
	}

	if err := c.WriteJSON(ControlMessage{Action: "rewind"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ef ErrorFrame
	readFrame(t, c, &ef)
	if ef.Type != "error" || !strings.Contains(ef.Error, "rewind") {
		t.Errorf("unexpected error frame %+v", ef)
	}
}
