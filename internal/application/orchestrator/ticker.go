package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ElapsedTicker drives the periodic elapsed-time updates. Each Start hands
// out a new token; a tick is only honored while its token is current, so
// Stop takes effect immediately even if a tick is already queued.
type ElapsedTicker struct {
	interval time.Duration
	onTick   func(token uint64)
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	token   uint64
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewElapsedTicker creates a new ticker; onTick runs on the ticker goroutine.
func NewElapsedTicker(interval time.Duration, onTick func(token uint64), logger *zap.Logger) *ElapsedTicker {
	return &ElapsedTicker{
		interval: interval,
		onTick:   onTick,
		logger:   logger,
	}
}

// Interval returns the tick interval
func (t *ElapsedTicker) Interval() time.Duration {
	return t.interval
}

// Start starts the ticker if it is not running and returns the active token
func (t *ElapsedTicker) Start() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return t.token
	}
	t.running = true
	t.token++
	t.stopCh = make(chan struct{})

	t.wg.Add(1)
	go t.run(t.token, t.stopCh)

	t.logger.Debug("elapsed ticker started",
		zap.Uint64("token", t.token),
		zap.Duration("interval", t.interval))

	return t.token
}

// Stop stops the ticker. It does not wait for the goroutine to exit.
func (t *ElapsedTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.running = false
	close(t.stopCh)

	t.logger.Debug("elapsed ticker stopped", zap.Uint64("token", t.token))
}

// Running reports whether the ticker is running
func (t *ElapsedTicker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Active reports whether token belongs to the running ticker
func (t *ElapsedTicker) Active(token uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running && t.token == token
}

// Token returns the active token, or 0 when stopped
func (t *ElapsedTicker) Token() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	return t.token
}

// Wait blocks until every ticker goroutine has exited
func (t *ElapsedTicker) Wait() {
	t.wg.Wait()
}

// run is the tick loop for one Start/Stop cycle
func (t *ElapsedTicker) run(token uint64, stopCh <-chan struct{}) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.onTick(token)
		}
	}
}
