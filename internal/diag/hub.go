package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 2 * time.Second

// Hub streams diagnostic events as JSON to websocket clients. Emit never
// blocks: when the buffer is full the event is counted as dropped.
type Hub struct {
	events   chan Event
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	dropped atomic.Uint64
}

// NewHub creates a Hub buffering up to size events.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = 64
	}
	return &Hub{
		events:   make(chan Event, size),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

var _ Emitter = (*Hub)(nil)

// Emit queues ev for broadcast.
func (h *Hub) Emit(ev Event) {
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and keeps the client registered until it
// goes away. Clients are write-only; anything they send is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("[DIAG] websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	slog.Info("[DIAG] client connected", "remote", conn.RemoteAddr().String())

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		slog.Info("[DIAG] client disconnected", "remote", conn.RemoteAddr().String())
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run broadcasts queued events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.events:
			msg, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("[DIAG] marshal event", "kind", ev.Kind, "error", err)
				continue
			}
			h.broadcast(msg)
		}
	}
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// ListenAndServe serves the event feed on addr at /events until ctx is
// cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/events", h)
	server := &http.Server{Addr: addr, Handler: mux}

	go h.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[DIAG] event feed listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("diag: listen on %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("diag: shutdown: %w", err)
	}
	return nil
}
