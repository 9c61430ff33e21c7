package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aescanero/council/pkg/ports"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	closeGracePeriod = time.Second
)

// Client streams council events over a websocket. Sessions are opened by
// the wrapped SessionProvider, usually the SSE client's HTTP endpoint.
type Client struct {
	ports.SessionProvider

	baseURL *url.URL
	dialer  *websocket.Dialer
	logger  *zap.Logger
}

// NewClient creates a new websocket council client
func NewClient(baseURL string, sessions ports.SessionProvider, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL: %q", baseURL)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported backend URL scheme: %s", u.Scheme)
	}

	return &Client{
		SessionProvider: sessions,
		baseURL:         u,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logger,
	}, nil
}

// StreamPrompt dials the conversation's websocket, sends prompt and delivers
// every event until the deliberation finishes or the server closes
func (c *Client) StreamPrompt(ctx context.Context, sessionID, prompt string, onEvent ports.EventCallback) error {
	endpoint := c.baseURL.JoinPath("api", "conversations", sessionID, "message", "ws").String()

	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to dial event stream: %w", err)
	}
	defer conn.Close()

	// Unblock the reader when ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		_ = conn.Close()
	})
	defer stop()

	if err := conn.WriteJSON(map[string]string{"content": prompt}); err != nil {
		return fmt.Errorf("failed to send prompt: %w", err)
	}

	c.logger.Debug("event stream opened",
		zap.String("session_id", sessionID),
		zap.String("endpoint", endpoint))

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("failed to read event stream: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ev := rawEvent(data)
		onEvent(ev)

		if ev.Type == "complete" || ev.Type == "error" {
			c.closeNormally(conn)
			return nil
		}
	}
}

func (c *Client) closeNormally(conn *websocket.Conn) {
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("failed to send close frame", zap.Error(err))
	}
}

func rawEvent(data []byte) ports.RawEvent {
	var envelope struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(data, &envelope)

	body := make(json.RawMessage, len(data))
	copy(body, data)

	return ports.RawEvent{Type: envelope.Type, Body: body}
}
