package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/council/internal/application/orchestrator"
	"github.com/aescanero/council/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventBufferSize = 32
	writeTimeout    = 10 * time.Second
	loadTimeout     = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is what renderers receive for every snapshot
type Message struct {
	Type       ports.EventType `json:"type"`
	Generation uint64          `json:"generation"`
	Snapshot   interface{}     `json:"snapshot"`
}

// Handler streams deliberation snapshots to websocket clients
type Handler struct {
	eventBus ports.EventBus
	store    ports.SnapshotStore
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler. store may be nil.
func NewHandler(eventBus ports.EventBus, store ports.SnapshotStore, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		store:    store,
		logger:   logger,
	}
}

// HandleDeliberationStream sends the latest snapshot, then every update
// until the client disconnects
func (h *Handler) HandleDeliberationStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established", zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before loading the latest snapshot so no update is missed
	events := make(chan Message, eventBufferSize)
	if err := h.eventBus.Subscribe(ctx, orchestrator.SnapshotTopic, h.forward(events)); err != nil {
		h.logger.Error("failed to subscribe to snapshots", zap.Error(err))
		return
	}

	// Detect client disconnects
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if latest, ok := h.loadLatest(ctx); ok {
		if err := write(conn, latest); err != nil {
			h.logger.Warn("failed to write message", zap.Error(err))
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("WebSocket connection closed", zap.String("client", c.ClientIP()))
			return
		case msg := <-events:
			if err := write(conn, msg); err != nil {
				h.logger.Warn("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// forward converts bus events into messages without blocking the bus
func (h *Handler) forward(ch chan<- Message) ports.EventHandler {
	return func(ctx context.Context, event ports.Event) error {
		if event.Type != ports.EventTypeSnapshotUpdated {
			return nil
		}

		msg := Message{
			Type:       event.Type,
			Generation: event.Generation,
			Snapshot:   event.Data["snapshot"],
		}

		select {
		case ch <- msg:
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.Uint64("generation", event.Generation))
		}
		return nil
	}
}

func (h *Handler) loadLatest(ctx context.Context) (Message, bool) {
	if h.store == nil {
		return Message{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	raw, err := h.store.LoadLatest(ctx)
	if err != nil {
		if !errors.Is(err, ports.ErrSnapshotNotFound) {
			h.logger.Warn("failed to load latest snapshot", zap.Error(err))
		}
		return Message{}, false
	}

	var header struct {
		Generation uint64 `json:"generation"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		h.logger.Warn("stored snapshot is not valid JSON", zap.Error(err))
		return Message{}, false
	}

	return Message{
		Type:       ports.EventTypeSnapshotUpdated,
		Generation: header.Generation,
		Snapshot:   raw,
	}, true
}

func write(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
