// Package ws serves the duplex event channel at /ws: one writer goroutine
// per connection draining an EventBus subscription.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"tokenpulse/internal/domain/models"
	"tokenpulse/internal/eventbus"
	"tokenpulse/pkg/logger"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotSource supplies the posts a newly connected client receives as
// its initialSnapshot before any live events.
type SnapshotSource interface {
	Snapshot() []models.Post
}

// Hub upgrades incoming /ws connections and fans EventBus events out to
// each one, one writer goroutine per connection.
type Hub struct {
	bus      *eventbus.Bus
	snapshot SnapshotSource
	log      *logger.Logger
}

func NewHub(bus *eventbus.Bus, snapshot SnapshotSource, log *logger.Logger) *Hub {
	return &Hub{bus: bus, snapshot: snapshot, log: log}
}

// RegisterRoutes mounts the duplex channel at /ws.
func (h *Hub) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.serve)
}

func (h *Hub) serve(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Warn("ws: upgrade failed", logger.Error(err))
		return err
	}
	defer conn.Close()

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	if h.snapshot != nil {
		if err := h.writeEvent(conn, models.NewInitialSnapshot(h.snapshot.Snapshot())); err != nil {
			return nil
		}
	}

	// Clients don't carry command semantics yet; messages are read and
	// logged only.
	go h.drainInbound(conn)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := h.writeEvent(conn, event); err != nil {
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func (h *Hub) drainInbound(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.log.Info("ws: client message", logger.String("message", string(msg)))
	}
}

func (h *Hub) writeEvent(conn *websocket.Conn, event models.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("ws: marshal event failed", logger.Error(err))
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
