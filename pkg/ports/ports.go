// Package ports defines the interfaces the deliberation orchestrator depends on.
//
// The orchestrator never talks to the network directly. It opens sessions
// through a SessionProvider, consumes progress events through a
// StreamProvider, and fans snapshots out through an EventBus and a
// SnapshotStore. Adapters under pkg/adapters implement these ports.
package ports

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrSnapshotNotFound is returned by SnapshotStore.LoadLatest when nothing
// has been stored yet or the stored snapshot expired.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Session is the result of opening a deliberation session.
type Session struct {
	ID string `json:"id"`
}

// SessionProvider opens new deliberation sessions.
type SessionProvider interface {
	CreateSession(ctx context.Context) (Session, error)
}

// RawEvent is a single progress event as received from the stream.
// Type is the discriminant; Body is the complete JSON envelope.
type RawEvent struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// EventCallback receives stream events in delivery order.
type EventCallback func(RawEvent)

// StreamProvider starts a prompt on an open session and delivers its events.
// StreamPrompt blocks until the stream ends. A returned error is a
// transport-level delivery failure.
type StreamProvider interface {
	StreamPrompt(ctx context.Context, sessionID, prompt string, onEvent EventCallback) error
}

// EventType identifies a bus event.
type EventType string

const (
	// EventTypeSnapshotUpdated carries the latest deliberation snapshot.
	EventTypeSnapshotUpdated EventType = "snapshot.updated"
)

// Event is a message published on the EventBus.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	SessionID  string                 `json:"session_id,omitempty"`
	Generation uint64                 `json:"generation"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// EventHandler handles a bus event.
type EventHandler func(ctx context.Context, event Event) error

// EventBus fans events out to subscribers.
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// SnapshotStore keeps the latest published snapshot so late renderers can
// catch up before live updates arrive.
type SnapshotStore interface {
	SaveLatest(ctx context.Context, snapshot json.RawMessage) error
	LoadLatest(ctx context.Context) (json.RawMessage, error)
}

// MetricsCollector records orchestrator metrics.
type MetricsCollector interface {
	RecordSubmission(result string)
	RecordEvent(kind string)
	RecordStreamError(reason string)
	RecordStaleEvent()
	RecordDeliberationCompleted(duration time.Duration)
	SetWaitingParticipants(n int)
	SetTickerActive(active bool)
}

// Message is a single chat message sent to an LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLMRequest is a completion request.
type LLMRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// LLMResponse is a completion result.
type LLMResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// LLMClient generates completions.
type LLMClient interface {
	GenerateCompletion(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}
