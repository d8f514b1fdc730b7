// Package ws streams watchdog events to WebSocket clients.
package ws

import (
	"context"
	"net/http"

	"github.com/HerbHall/powerwatch/internal/event"
	"github.com/HerbHall/powerwatch/internal/watchdog"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Route is the WebSocket endpoint. ?device=<name> limits the stream to one
// device.
const Route = "/api/v1/ws/events"

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// Handler serves the event stream.
type Handler struct {
	hub         *Hub
	logger      *zap.Logger
	unsubscribe func()
}

// NewHandler creates a handler and subscribes it to watchdog events on bus.
func NewHandler(bus *event.Bus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		hub:    NewHub(logger),
		logger: logger,
	}
	if bus != nil {
		h.unsubscribe = bus.SubscribeAll(h.handleEvent)
	}
	return h
}

// RegisterRoutes registers the WebSocket route on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+Route, h.handleEvents)
}

// Close detaches the handler from the bus.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}

func (h *Handler) handleEvent(_ context.Context, e event.Event) {
	if e.Source != watchdog.EventSource {
		return
	}
	if msg, ok := FromEvent(e); ok {
		h.hub.Broadcast(msg)
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}

	client := newClient(conn, r.RemoteAddr, r.URL.Query().Get("device"), h.logger)
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	// readPump blocks until the client goes away.
	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}
