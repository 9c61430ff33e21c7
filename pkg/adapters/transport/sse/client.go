package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aescanero/council/pkg/ports"
	gosse "github.com/tmaxmax/go-sse"
	"go.uber.org/zap"
)

const (
	maxErrorBody = 512
	// a stage1 event carries every participant's full answer
	maxEventSize = 4 << 20
	// defaultEventName is the type of an event sent without an event field
	defaultEventName = "message"
)

// Client talks to a council backend over HTTP. Sessions are conversations;
// prompts are streamed back as server-sent events.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewClient creates a new SSE council client. requestTimeout bounds session
// creation only; the stream is bounded by the caller's context.
func NewClient(baseURL string, requestTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL: %q", baseURL)
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{},
		requestTimeout: requestTimeout,
		logger:         logger,
	}, nil
}

// CreateSession creates a new conversation on the backend
func (c *Client) CreateSession(ctx context.Context) (ports.Session, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/conversations", strings.NewReader("{}"))
	if err != nil {
		return ports.Session{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ports.Session{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ports.Session{}, statusError("create conversation", resp)
	}

	var session ports.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return ports.Session{}, fmt.Errorf("failed to decode conversation: %w", err)
	}
	if session.ID == "" {
		return ports.Session{}, errors.New("backend returned a conversation without an id")
	}

	c.logger.Debug("conversation created", zap.String("session_id", session.ID))

	return session, nil
}

// StreamPrompt sends prompt to the conversation and delivers every event
// until the backend closes the stream
func (c *Client) StreamPrompt(ctx context.Context, sessionID, prompt string, onEvent ports.EventCallback) error {
	body, err := json.Marshal(map[string]string{"content": prompt})
	if err != nil {
		return fmt.Errorf("failed to marshal prompt: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/conversations/%s/message/stream", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("stream message", resp)
	}

	c.logger.Debug("event stream opened", zap.String("session_id", sessionID))

	if err := readEvents(resp.Body, onEvent); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to read event stream: %w", err)
	}

	return nil
}

// readEvents delivers each server-sent event of r as one RawEvent until r
// is exhausted
func readEvents(r io.Reader, onEvent ports.EventCallback) error {
	for ev, err := range gosse.Read(r, &gosse.ReadConfig{MaxEventSize: maxEventSize}) {
		if err != nil {
			return err
		}
		if ev.Data == "" {
			continue
		}
		onEvent(rawEvent(ev.Type, ev.Data))
	}
	return nil
}

// rawEvent wraps a data payload. The type comes from the payload itself and
// falls back to the SSE event name.
func rawEvent(eventName, payload string) ports.RawEvent {
	var envelope struct {
		Type string `json:"type"`
	}
	kind := eventName
	if kind == defaultEventName {
		kind = ""
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err == nil && envelope.Type != "" {
		kind = envelope.Type
	}

	return ports.RawEvent{
		Type: kind,
		Body: json.RawMessage(payload),
	}
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		return fmt.Errorf("%s: backend returned %s", op, resp.Status)
	}
	return fmt.Errorf("%s: backend returned %s: %s", op, resp.Status, msg)
}
