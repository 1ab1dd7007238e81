// Package server is the render boundary of the simulator: it turns store
// snapshots into JSON frames for websocket clients and maps HTTP and
// websocket control messages onto store actions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sudorandom/noc-stream/internal/logging"
	"github.com/sudorandom/noc-stream/pkg/simengine"
)

var ErrUnknownAction = errors.New("unknown control action")

// ControlMessage is a client request sent over the websocket.
type ControlMessage struct {
	Action string          `json:"action"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// ClientRecorder observes the number of connected websocket clients.
type ClientRecorder interface {
	SetClients(n int)
}

type Option func(*Server)

func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func WithClientRecorder(r ClientRecorder) Option {
	return func(s *Server) { s.clients = r }
}

func WithProjector(p simengine.Projector) Option {
	return func(s *Server) { s.projector = p }
}

type Server struct {
	store     *simengine.Store
	log       logging.Logger
	metrics   http.Handler
	clients   ClientRecorder
	projector simengine.Projector
	hub       *Hub
	mux       *http.ServeMux

	publishMu   sync.Mutex
	lastVersion uint64
	unsubscribe func()
}

// New wires a server to store and starts forwarding its snapshots to
// websocket clients.
func New(store *simengine.Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		projector: simengine.NewProjector(1920, 1080, 380),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	var onClients func(int)
	if s.clients != nil {
		onClients = s.clients.SetClients
	}
	s.hub = newHub(s.log, onClients)
	s.routes()

	s.publish(store.Snapshot())
	s.unsubscribe = store.Subscribe(s.publish)
	return s
}

func (s *Server) routes() {
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/pause", s.handlePause)
	s.mux.HandleFunc("POST /api/speed", s.handleSpeed)
	s.mux.HandleFunc("POST /api/layers/{name}", s.handleLayer)
	s.mux.HandleFunc("POST /api/focus", s.handleFocus)
	s.mux.HandleFunc("GET /ws", s.handleWS)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Close detaches from the store and disconnects websocket clients.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Close()
}

// publish encodes snap and hands it to the hub, skipping deliveries older
// than one already sent.
func (s *Server) publish(snap simengine.State) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if snap.Version != 0 && snap.Version <= s.lastVersion {
		return
	}
	data, err := json.Marshal(newFrame(snap, s.projector))
	if err != nil {
		s.log.Error(context.Background(), "failed to marshal frame", logging.Err(err))
		return
	}
	s.lastVersion = snap.Version
	s.hub.Publish(data)
}

// Apply runs a control message against the store.
func (s *Server) Apply(msg ControlMessage) error {
	switch msg.Action {
	case "pause":
		s.store.TogglePause()
		return nil
	case "speed":
		var speed int
		if err := json.Unmarshal(msg.Value, &speed); err != nil {
			return fmt.Errorf("%w: %v", simengine.ErrInvalidSpeed, err)
		}
		return s.store.SetSpeed(speed)
	case "layer":
		var name string
		if err := json.Unmarshal(msg.Value, &name); err != nil {
			return fmt.Errorf("%w: %v", simengine.ErrUnknownLayer, err)
		}
		_, err := s.store.ToggleLayer(simengine.Layer(name))
		return err
	case "focus":
		var id *string
		if len(msg.Value) > 0 {
			if err := json.Unmarshal(msg.Value, &id); err != nil {
				return fmt.Errorf("%w: %v", simengine.ErrUnknownHub, err)
			}
		}
		if id == nil {
			return s.store.SetFocusHub("")
		}
		return s.store.SetFocusHub(*id)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, newFrame(s.store.Snapshot(), s.projector))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.store.TogglePause()
	writeJSON(w, s.store.UI())
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	speed, err := strconv.Atoi(r.URL.Query().Get("value"))
	if err != nil {
		http.Error(w, simengine.ErrInvalidSpeed.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.SetSpeed(speed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.store.UI())
}

func (s *Server) handleLayer(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ToggleLayer(simengine.Layer(r.PathValue("name"))); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.store.UI())
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SetFocusHub(r.URL.Query().Get("hub")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.store.UI())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r, func(conn *websocket.Conn, raw []byte) {
		var msg ControlMessage
		err := json.Unmarshal(raw, &msg)
		if err == nil {
			err = s.Apply(msg)
		}
		if err == nil {
			return
		}
		s.log.Warn(r.Context(), "rejected control message", logging.String("action", msg.Action), logging.Err(err))
		if data, mErr := json.Marshal(ErrorFrame{Type: "error", Error: err.Error()}); mErr == nil {
			s.hub.reply(conn, data)
		}
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
