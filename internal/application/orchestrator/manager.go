package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/council/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SnapshotTopic is the event bus topic snapshots are published on.
const SnapshotTopic = "deliberation.events"

const (
	snapshotBufferSize = 64
	publishTimeout     = 5 * time.Second
)

// Config holds orchestrator settings
type Config struct {
	TickInterval    time.Duration
	StreamTimeout   time.Duration
	MaxPromptLength int
}

// Manager owns the active deliberation. Every transition and tick runs
// under mu, so each one is atomic with respect to the others.
type Manager struct {
	sessions  ports.SessionProvider
	streams   ports.StreamProvider
	eventBus  ports.EventBus
	store     ports.SnapshotStore
	metrics   ports.MetricsCollector
	validator *Validator
	ticker    *ElapsedTicker
	logger    *zap.Logger
	cfg       Config

	mu           sync.Mutex
	state        Deliberation
	generation   uint64
	submitting   bool
	closed       bool
	startedAt    time.Time
	cancelStream context.CancelFunc
	runDone      chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelFunc
	inflight   sync.WaitGroup

	snapshots     chan Snapshot
	publisherDone chan struct{}
}

// NewManager creates a new orchestrator manager and starts its snapshot
// publisher. eventBus and store may be nil.
func NewManager(
	cfg Config,
	sessions ports.SessionProvider,
	streams ports.StreamProvider,
	eventBus ports.EventBus,
	store ports.SnapshotStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *Manager {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		sessions:      sessions,
		streams:       streams,
		eventBus:      eventBus,
		store:         store,
		metrics:       metrics,
		validator:     NewValidator(cfg.MaxPromptLength),
		logger:        logger,
		cfg:           cfg,
		state:         NewDeliberation(),
		baseCtx:       ctx,
		baseCancel:    cancel,
		snapshots:     make(chan Snapshot, snapshotBufferSize),
		publisherDone: make(chan struct{}),
	}
	m.ticker = NewElapsedTicker(cfg.TickInterval, m.tick, logger)

	go m.publishLoop()

	return m
}

// Snapshot returns a read-only copy of the current state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.snapshot(m.generation)
}

// Reset discards the deliberation and restores the initial state. Events
// still arriving from the previous stream are ignored afterwards.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.generation++
	m.submitting = false
	if m.cancelStream != nil {
		m.cancelStream()
		m.cancelStream = nil
	}

	m.dispatchLocked(ResetRequested{})

	m.logger.Info("deliberation reset", zap.Uint64("generation", m.generation))
}

// Wait blocks until the in-flight stream, if any, has finished
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.runDone
	m.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown gracefully shuts down the manager
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.generation++
	if m.cancelStream != nil {
		m.cancelStream()
		m.cancelStream = nil
	}
	m.ticker.Stop()
	m.metrics.SetTickerActive(false)
	close(m.snapshots)
	m.mu.Unlock()

	m.baseCancel()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		m.ticker.Wait()
		<-m.publisherDone
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// dispatchLocked applies ev and keeps the ticker in step with the stage
func (m *Manager) dispatchLocked(ev Event) {
	prev := m.state
	next := ev.apply(prev)
	m.state = next

	m.metrics.RecordEvent(string(ev.Kind()))
	m.metrics.SetWaitingParticipants(countWaiting(next.Participants))

	if prev.Stage != next.Stage {
		m.logger.Info("deliberation stage changed",
			zap.String("session_id", next.SessionID),
			zap.String("from", string(prev.Stage)),
			zap.String("to", string(next.Stage)),
			zap.String("event", string(ev.Kind())))
	} else {
		m.logger.Debug("deliberation event applied",
			zap.String("session_id", next.SessionID),
			zap.String("stage", string(next.Stage)),
			zap.String("event", string(ev.Kind())))
	}

	if next.Stage == StageComplete && prev.Stage != StageComplete {
		m.metrics.RecordDeliberationCompleted(time.Since(m.startedAt))
	}

	m.syncTickerLocked(next.Stage)
	m.publishLocked()
}

func (m *Manager) syncTickerLocked(stage Stage) {
	if m.closed {
		return
	}
	switch {
	case stage.Waiting() && !m.ticker.Running():
		m.ticker.Start()
		m.metrics.SetTickerActive(true)
	case !stage.Waiting() && m.ticker.Running():
		m.ticker.Stop()
		m.metrics.SetTickerActive(false)
	}
}

// tick advances elapsed time for waiting participants
func (m *Manager) tick(token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ticker.Active(token) || !m.state.Stage.Waiting() {
		return
	}

	m.state.Participants = advanceElapsed(m.state.Participants, m.ticker.Interval().Seconds())
	m.publishLocked()
}

// publishLocked queues the current snapshot for the publisher
func (m *Manager) publishLocked() {
	if m.closed {
		return
	}

	select {
	case m.snapshots <- m.state.snapshot(m.generation):
	default:
		m.logger.Warn("snapshot channel full, dropping snapshot",
			zap.Uint64("generation", m.generation),
			zap.String("stage", string(m.state.Stage)))
	}
}

// publishLoop publishes snapshots in the order they were queued
func (m *Manager) publishLoop() {
	defer close(m.publisherDone)

	for snap := range m.snapshots {
		m.publish(snap)
	}
}

func (m *Manager) publish(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if m.store != nil {
		data, err := json.Marshal(snap)
		if err != nil {
			m.logger.Error("failed to marshal snapshot", zap.Error(err))
		} else if err := m.store.SaveLatest(ctx, data); err != nil {
			m.logger.Error("failed to save snapshot",
				zap.String("session_id", snap.SessionID),
				zap.Error(err))
		}
	}

	if m.eventBus == nil {
		return
	}

	event := ports.Event{
		ID:         uuid.New().String(),
		Type:       ports.EventTypeSnapshotUpdated,
		Timestamp:  time.Now(),
		SessionID:  snap.SessionID,
		Generation: snap.Generation,
		Data: map[string]interface{}{
			"snapshot": snap,
		},
	}

	if err := m.eventBus.Publish(ctx, SnapshotTopic, event); err != nil {
		m.logger.Error("failed to publish snapshot",
			zap.String("session_id", snap.SessionID),
			zap.Error(err))
	}
}
