package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sudorandom/noc-stream/internal/logging"
)

type directMessage struct {
	conn *websocket.Conn
	data []byte
}

// Hub fans frames out to websocket clients. All writes happen on the run
// goroutine, so each connection has a single writer.
type Hub struct {
	upgrader  websocket.Upgrader
	log       logging.Logger
	onClients func(n int)

	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
	direct    chan directMessage
	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}

	mu     sync.RWMutex
	latest []byte
}

func newHub(log logging.Logger, onClients func(n int)) *Hub {
	if onClients == nil {
		onClients = func(int) {}
	}
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:       log,
		onClients: onClients,
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 16),
		direct:    make(chan directMessage, 16),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)
	ctx := context.Background()
	for {
		select {
		case <-h.done:
			for conn := range h.clients {
				_ = conn.Close()
			}
			return
		case conn := <-h.register:
			h.clients[conn] = true
			h.onClients(len(h.clients))
			if latest := h.Latest(); latest != nil {
				h.write(ctx, conn, latest)
			}
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
				h.onClients(len(h.clients))
				h.log.Info(ctx, "websocket client disconnected", logging.String("remote", conn.RemoteAddr().String()))
			}
		case msg := <-h.direct:
			if h.clients[msg.conn] {
				h.write(ctx, msg.conn, msg.data)
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				h.write(ctx, conn, msg)
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, data []byte) {
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.log.Warn(ctx, "failed to send frame to websocket client", logging.Err(err))
		delete(h.clients, conn)
		_ = conn.Close()
		h.onClients(len(h.clients))
	}
}

// Publish records data as the latest frame and queues it for every client.
// A full queue drops the frame; clients catch up on the next one.
func (h *Hub) Publish(data []byte) {
	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	select {
	case h.broadcast <- data:
	default:
		h.log.Warn(context.Background(), "websocket broadcast queue full; dropping frame")
	}
}

// Latest returns the most recently published frame.
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// serve upgrades the request and pumps incoming messages to onMessage until
// the client goes away. Replies go out through the run goroutine.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, onMessage func(conn *websocket.Conn, msg []byte)) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		_ = conn.Close()
		return
	}
	h.log.Info(r.Context(), "websocket client connected", logging.String("remote", conn.RemoteAddr().String()))

	go func() {
		defer func() {
			select {
			case h.remove <- conn:
			case <-h.done:
			}
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					h.log.Warn(context.Background(), "websocket read error", logging.Err(err))
				}
				return
			}
			onMessage(conn, message)
		}
	}()
}

func (h *Hub) reply(conn *websocket.Conn, data []byte) {
	select {
	case h.direct <- directMessage{conn: conn, data: data}:
	case <-h.done:
	default:
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	<-h.stopped
}
