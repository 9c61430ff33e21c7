package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aescanero/council/pkg/ports"
	"go.uber.org/zap"
)

// streamEndedMessage is the deliberation error when a stream closes early.
const streamEndedMessage = "The council stream ended before the deliberation completed"

// Submit validates prompt, opens a session and starts streaming the
// council's events. It returns once the stream has been opened; events are
// consumed on a goroutine owned by the manager. Stream failures are stored
// as the deliberation error and are not returned.
func (m *Manager) Submit(ctx context.Context, prompt string) error {
	if err := m.validator.Validate(prompt); err != nil {
		m.metrics.RecordSubmission("invalid")
		m.logger.Warn("submission rejected", zap.Error(err))
		return err
	}

	m.mu.Lock()
	if m.closed || m.submitting || m.state.Stage != StageIdle {
		stage := m.state.Stage
		m.mu.Unlock()
		m.metrics.RecordSubmission("busy")
		m.logger.Warn("submission rejected while deliberation in flight",
			zap.String("stage", string(stage)))
		return fmt.Errorf("%w (stage %s)", ErrDeliberationInProgress, stage)
	}
	m.submitting = true
	m.generation++
	gen := m.generation
	m.state.Error = ""
	m.state.Synthesis = nil
	m.publishLocked()
	m.mu.Unlock()

	session, err := m.sessions.CreateSession(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		m.metrics.RecordSubmission("reset")
		if err == nil {
			m.logger.Info("discarding session opened before reset",
				zap.String("session_id", session.ID))
		}
		return ErrSubmissionReset
	}
	m.submitting = false

	if err != nil {
		m.state.Stage = StageIdle
		m.state.Error = err.Error()
		m.metrics.RecordSubmission("session_failed")
		m.logger.Error("failed to create session", zap.Error(err))
		m.publishLocked()
		return fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}

	m.startedAt = time.Now()
	m.dispatchLocked(Submitted{SessionID: session.ID, Prompt: prompt})

	var (
		streamCtx context.Context
		cancel    context.CancelFunc
	)
	if m.cfg.StreamTimeout > 0 {
		streamCtx, cancel = context.WithTimeout(m.baseCtx, m.cfg.StreamTimeout)
	} else {
		streamCtx, cancel = context.WithCancel(m.baseCtx)
	}
	if m.cancelStream != nil {
		// a stream that reported an error may still be open
		m.cancelStream()
	}
	m.cancelStream = cancel

	done := make(chan struct{})
	m.runDone = done

	m.inflight.Add(1)
	go m.consume(streamCtx, cancel, gen, session.ID, prompt, done)

	m.metrics.RecordSubmission("accepted")
	m.logger.Info("deliberation submitted",
		zap.String("session_id", session.ID),
		zap.Uint64("generation", gen),
		zap.Int("prompt_length", len(prompt)))

	return nil
}

// consume runs the stream for one submission
func (m *Manager) consume(ctx context.Context, cancel context.CancelFunc, gen uint64, sessionID, prompt string, done chan struct{}) {
	defer m.inflight.Done()
	defer close(done)
	defer cancel()

	err := m.streams.StreamPrompt(ctx, sessionID, prompt, func(raw ports.RawEvent) {
		m.handleRaw(gen, raw)
	})

	m.finishStream(gen, sessionID, err)
}

// handleRaw decodes one stream event and applies it if it belongs to the
// current generation
func (m *Manager) handleRaw(gen uint64, raw ports.RawEvent) {
	ev, err := Decode(raw)
	if err != nil {
		m.metrics.RecordStreamError("malformed")
		m.logger.Warn("malformed event from stream",
			zap.String("type", raw.Type),
			zap.Error(err))
		ev = Failed{Message: MalformedEventMessage}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		m.metrics.RecordStaleEvent()
		m.logger.Debug("dropping stale event",
			zap.String("type", raw.Type),
			zap.Uint64("event_generation", gen),
			zap.Uint64("generation", m.generation))
		return
	}

	if failed, ok := ev.(Failed); ok && err == nil {
		m.metrics.RecordStreamError("error_event")
		m.logger.Warn("council reported an error",
			zap.Error(fmt.Errorf("%w: %s", ErrStreamError, failed.Message)))
	}
	if unknown, ok := ev.(Unknown); ok {
		m.logger.Debug("ignoring unknown event kind", zap.String("type", unknown.Type))
	}

	m.dispatchLocked(ev)
}

// finishStream converts transport failures and early endings into a
// stream error for the current generation
func (m *Manager) finishStream(gen uint64, sessionID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}
	m.cancelStream = nil

	stage := m.state.Stage
	if stage == StageIdle || stage == StageComplete {
		if err != nil {
			m.logger.Debug("stream closed with error after deliberation ended",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
		return
	}

	message := streamEndedMessage
	reason := "ended_early"
	if err != nil {
		message = err.Error()
		reason = "transport"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
	}

	m.metrics.RecordStreamError(reason)
	m.logger.Warn("council stream failed",
		zap.String("session_id", sessionID),
		zap.String("stage", string(stage)),
		zap.String("reason", reason),
		zap.Error(fmt.Errorf("%w: %s", ErrStreamError, message)))

	m.dispatchLocked(Failed{Message: message})
}
