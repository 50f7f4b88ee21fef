package handlers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MangBao/triage-recovery-hub-be/internal/events"
)

const wsWriteTimeout = 10 * time.Second

// clientAction is a message sent by a WebSocket client.
type clientAction struct {
	Action    string          `json:"action"`
	TicketIDs json.RawMessage `json:"ticket_ids"`
}

// WebSocketHandler streams ticket updates to dashboard clients.
type WebSocketHandler struct {
	hub    *events.Hub
	logger *zap.Logger
}

// NewWebSocketHandler constructs handler.
func NewWebSocketHandler(hub *events.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger.Named("ws")}
}

// Upgrade rejects plain HTTP requests on the WebSocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle GET /ws/tickets.
func (h *WebSocketHandler) Handle() fiber.Handler {
	return websocket.New(h.serve)
}

func (h *WebSocketHandler) serve(conn *websocket.Conn) {
	logger := h.logger.With(zap.String("conn_id", uuid.NewString()))
	logger.Info("websocket connected")

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}

	sub := h.hub.Subscribe()
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range sub.C {
			if err := write(ev.ClientMessage()); err != nil {
				logger.Debug("forward update failed", zap.Int64("ticket_id", ev.TicketID), zap.Error(err))
				// Unblock the read loop so the connection is torn down.
				_ = conn.Close()
				return
			}
		}
	}()
	// The connection is recycled once serve returns, so the forwarder must be
	// gone by then.
	defer func() {
		sub.Close()
		<-forwarded
		logger.Info("websocket disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if err := h.handleMessage(sub, data, write); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) handleMessage(sub *events.Subscription, data []byte, write func(any) error) error {
	var msg clientAction
	if err := json.Unmarshal(data, &msg); err != nil {
		return write(fiber.Map{"type": "error", "message": "message must be a JSON object"})
	}

	switch msg.Action {
	case "subscribe":
		ids, ok := parseTicketIDs(msg.TicketIDs)
		if !ok {
			return write(fiber.Map{"type": "error", "message": "ticket_ids must be a list of integers"})
		}
		sub.Add(ids...)
		return write(fiber.Map{"type": "subscribed", "ticket_ids": ids})
	case "unsubscribe":
		ids, ok := parseTicketIDs(msg.TicketIDs)
		if !ok {
			return write(fiber.Map{"type": "error", "message": "ticket_ids must be a list of integers"})
		}
		sub.Remove(ids...)
		return nil
	case "ping":
		return write(fiber.Map{"type": "pong"})
	default:
		return write(fiber.Map{"type": "error", "message": "Unknown action: " + msg.Action})
	}
}

func parseTicketIDs(raw json.RawMessage) ([]int64, bool) {
	if len(raw) == 0 {
		return []int64{}, true
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, false
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, true
}
