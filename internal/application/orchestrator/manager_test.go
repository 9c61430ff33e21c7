package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/council/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopMetrics struct {
	mu           sync.Mutex
	submissions  map[string]int
	streamErrors map[string]int
	staleEvents  int
}

func newNopMetrics() *nopMetrics {
	return &nopMetrics{
		submissions:  map[string]int{},
		streamErrors: map[string]int{},
	}
}

func (m *nopMetrics) RecordSubmission(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[result]++
}

func (m *nopMetrics) RecordEvent(string) {}

func (m *nopMetrics) RecordStreamError(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErrors[reason]++
}

func (m *nopMetrics) RecordStaleEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleEvents++
}

func (m *nopMetrics) RecordDeliberationCompleted(time.Duration) {}
func (m *nopMetrics) SetWaitingParticipants(int)                {}
func (m *nopMetrics) SetTickerActive(bool)                      {}

func (m *nopMetrics) stale() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.staleEvents
}

type fakeSessions struct {
	mu    sync.Mutex
	err   error
	calls int
	block chan struct{}
}

func (f *fakeSessions) CreateSession(ctx context.Context) (ports.Session, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	block := f.block
	err := f.err
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return ports.Session{}, err
	}
	return ports.Session{ID: "session-" + string(rune('0'+n))}, nil
}

// fakeStream delivers events pushed by the test, one at a time, and
// acknowledges each after the callback has returned.
type fakeStream struct {
	events  chan ports.RawEvent
	applied chan struct{}
	end     chan error
	started chan string
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events:  make(chan ports.RawEvent),
		applied: make(chan struct{}),
		end:     make(chan error, 1),
		started: make(chan string, 4),
	}
}

func (f *fakeStream) StreamPrompt(ctx context.Context, sessionID, prompt string, onEvent ports.EventCallback) error {
	f.started <- sessionID
	for {
		select {
		case ev := <-f.events:
			onEvent(ev)
			f.applied <- struct{}{}
		case err := <-f.end:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *fakeStream) send(t *testing.T, kind, body string) {
	t.Helper()
	select {
	case f.events <- raw(kind, body):
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not accept %s", kind)
	}
	select {
	case <-f.applied:
	case <-time.After(2 * time.Second):
		t.Fatalf("event %s was not applied", kind)
	}
}

func (f *fakeStream) finish(err error) {
	f.end <- err
}

type fakeStore struct {
	mu     sync.Mutex
	latest json.RawMessage
	saves  int
}

func (s *fakeStore) SaveLatest(_ context.Context, snapshot json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = snapshot
	s.saves++
	return nil
}

func (s *fakeStore) LoadLatest(context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

func (s *fakeStore) snapshot(t *testing.T) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var snap Snapshot
	if len(s.latest) > 0 {
		require.NoError(t, json.Unmarshal(s.latest, &snap))
	}
	return snap
}

type harness struct {
	manager  *Manager
	sessions *fakeSessions
	stream   *fakeStream
	store    *fakeStore
	metrics  *nopMetrics
}

func newHarness(t *testing.T, interval time.Duration) *harness {
	t.Helper()

	h := &harness{
		sessions: &fakeSessions{},
		stream:   newFakeStream(),
		store:    &fakeStore{},
		metrics:  newNopMetrics(),
	}
	h.manager = NewManager(
		Config{TickInterval: interval},
		h.sessions,
		h.stream,
		nil,
		h.store,
		h.metrics,
		zap.NewNop(),
	)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, h.manager.Shutdown(ctx))
	})
	return h
}

func (h *harness) submit(t *testing.T, prompt string) {
	t.Helper()
	require.NoError(t, h.manager.Submit(context.Background(), prompt))
	select {
	case <-h.stream.started:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not started")
	}
}

const (
	stage1AllBody = `{"type":"stage1_complete","data":[{"model":"gemini","response":"4"},{"model":"codex","response":"2+2=4"},{"model":"claude","response":"Four."}]}`
	stage2Body    = `{"type":"stage2_complete","data":[],"metadata":{"aggregate_rankings":[{"model":"gemini","average_rank":1.0},{"model":"claude","average_rank":2.0},{"model":"codex","average_rank":3.0}]}}`
)

func TestSubmitRejectsBlankPrompt(t *testing.T) {
	h := newHarness(t, time.Hour)
	before := h.manager.Snapshot()

	for _, prompt := range []string{"", "   ", "\n\t"} {
		err := h.manager.Submit(context.Background(), prompt)
		assert.ErrorIs(t, err, ErrInvalidSubmission)
	}

	assert.Equal(t, before, h.manager.Snapshot())
	assert.Zero(t, h.sessions.calls)
}

func TestSubmitRejectedWhileInFlight(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	before := h.manager.Snapshot()

	err := h.manager.Submit(context.Background(), "Another question")
	assert.ErrorIs(t, err, ErrInvalidSubmission)
	assert.ErrorIs(t, err, ErrDeliberationInProgress)
	assert.Equal(t, before, h.manager.Snapshot())
	assert.Equal(t, 1, h.sessions.calls)
}

func TestSubmitRejectedWhileSessionOpening(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.sessions.block = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- h.manager.Submit(context.Background(), "first") }()

	require.Eventually(t, func() bool {
		h.sessions.mu.Lock()
		defer h.sessions.mu.Unlock()
		return h.sessions.calls == 1
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, h.manager.Submit(context.Background(), "second"), ErrInvalidSubmission)

	close(h.sessions.block)
	require.NoError(t, <-errCh)
	<-h.stream.started
	assert.Equal(t, StageCollecting, h.manager.Snapshot().Stage)
}

func TestSubmitSessionCreationFailed(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.sessions.err = errors.New("backend unavailable")

	err := h.manager.Submit(context.Background(), "What is 2+2?")
	require.ErrorIs(t, err, ErrSessionCreationFailed)

	snap := h.manager.Snapshot()
	assert.Equal(t, StageIdle, snap.Stage)
	assert.Equal(t, "backend unavailable", snap.Error)
	assert.False(t, h.manager.ticker.Running())

	// the error is cleared by the next accepted submission
	h.sessions.err = nil
	h.submit(t, "What is 2+2?")
	assert.Empty(t, h.manager.Snapshot().Error)
}

func TestScenarioAStage1Complete(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")

	snap := h.manager.Snapshot()
	assert.Equal(t, StageCollecting, snap.Stage)
	assert.Equal(t, "session-1", snap.SessionID)
	for _, p := range snap.Participants {
		assert.True(t, p.IsWaiting)
	}

	h.stream.send(t, "stage1_complete", stage1AllBody)

	snap = h.manager.Snapshot()
	assert.Equal(t, StageCollecting, snap.Stage)
	for _, p := range snap.Participants {
		assert.False(t, p.IsWaiting, p.ID)
		require.NotNil(t, p.DisplayResponse, p.ID)
	}

	h.stream.send(t, "stage2_start", `{"type":"stage2_start"}`)
	assert.Equal(t, StageVoting, h.manager.Snapshot().Stage)
}

func TestScenarioBStage2Ranking(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	h.stream.send(t, "stage1_complete", stage1AllBody)
	h.stream.send(t, "stage2_start", `{"type":"stage2_start"}`)
	h.stream.send(t, "stage2_complete", stage2Body)

	snap := h.manager.Snapshot()
	assert.Equal(t, StageVoting, snap.Stage)
	require.Len(t, snap.Participants, 3)
	assert.Equal(t, ParticipantGemini, snap.Participants[0].ID)
	assert.Equal(t, 30, snap.Participants[0].Score)
	assert.Equal(t, ParticipantClaude, snap.Participants[1].ID)
	assert.Equal(t, 20, snap.Participants[1].Score)
	assert.Equal(t, ParticipantCodex, snap.Participants[2].ID)
	assert.Equal(t, 0, snap.Participants[2].Score)
}

func TestScenarioCErrorEvent(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	h.stream.send(t, "stage1_complete", stage1AllBody)
	h.stream.send(t, "stage2_start", `{"type":"stage2_start"}`)
	require.True(t, h.manager.ticker.Running())

	h.stream.send(t, "error", `{"type":"error","message":"rate limited"}`)

	snap := h.manager.Snapshot()
	assert.Equal(t, StageIdle, snap.Stage)
	assert.Equal(t, "rate limited", snap.Error)
	for _, p := range snap.Participants {
		assert.False(t, p.IsWaiting)
	}
	assert.False(t, h.manager.ticker.Running())
}

func TestScenarioDComplete(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	h.stream.send(t, "stage1_complete", stage1AllBody)
	h.stream.send(t, "stage2_start", `{"type":"stage2_start"}`)
	h.stream.send(t, "stage2_complete", stage2Body)
	h.stream.send(t, "stage3_start", `{"type":"stage3_start"}`)
	assert.Equal(t, StageSynthesizing, h.manager.Snapshot().Stage)
	assert.False(t, h.manager.ticker.Running())

	h.stream.send(t, "stage3_complete", `{"type":"stage3_complete","data":{"model":"gemini","response":"2+2 is 4."}}`)
	h.stream.send(t, "complete", `{"type":"complete"}`)
	h.stream.finish(nil)
	require.NoError(t, h.manager.Wait(context.Background()))

	snap := h.manager.Snapshot()
	assert.Equal(t, StageComplete, snap.Stage)
	assert.Equal(t, snap.Participants[0].ID, snap.WinnerID)
	assert.Equal(t, ParticipantGemini, snap.WinnerID)
	require.NotNil(t, snap.Synthesis)
	assert.Equal(t, "2+2 is 4.", *snap.Synthesis)
	assert.Empty(t, snap.Error)

	assert.ErrorIs(t, h.manager.Submit(context.Background(), "next"), ErrInvalidSubmission)
}

func TestUnknownEventIgnored(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	before := h.manager.Snapshot()

	h.stream.send(t, "stage1_start", `{"type":"stage1_start"}`)

	assert.Equal(t, before, h.manager.Snapshot())
}

func TestMalformedEventBecomesError(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")

	h.stream.send(t, "stage1_complete", `{"type":"stage1_complete","data":"oops"}`)

	snap := h.manager.Snapshot()
	assert.Equal(t, StageIdle, snap.Stage)
	assert.Equal(t, MalformedEventMessage, snap.Error)
	assert.Equal(t, 1, h.metrics.streamErrors["malformed"])
}

func TestNullAnswersStopWaiting(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	require.True(t, h.manager.ticker.Running())

	h.stream.send(t, "stage1_complete", `{"type":"stage1_complete","data":null}`)

	snap := h.manager.Snapshot()
	assert.Equal(t, StageIdle, snap.Stage)
	assert.Equal(t, MalformedEventMessage, snap.Error)
	for _, p := range snap.Participants {
		assert.False(t, p.IsWaiting)
	}
	assert.False(t, h.manager.ticker.Running())
}

func TestEmptyErrorMessageIsShown(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")

	h.stream.send(t, "error", `{"type":"error","message":""}`)

	snap := h.manager.Snapshot()
	assert.Equal(t, StageIdle, snap.Stage)
	assert.Equal(t, MalformedEventMessage, snap.Error)
}

func TestOutOfRangeRankIsMalformed(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	h.stream.send(t, "stage2_start", `{"type":"stage2_start"}`)

	h.stream.send(t, "stage2_complete", `{"type":"stage2_complete","metadata":{"aggregate_rankings":[{"model":"gemini","average_rank":0.5}]}}`)

	snap := h.manager.Snapshot()
	assert.Equal(t, StageIdle, snap.Stage)
	assert.Equal(t, MalformedEventMessage, snap.Error)
	for _, p := range snap.Participants {
		assert.Zero(t, p.Score)
	}
}

func TestTransportErrorBecomesError(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")

	h.stream.finish(errors.New("connection reset by peer"))
	require.NoError(t, h.manager.Wait(context.Background()))

	snap := h.manager.Snapshot()
	assert.Equal(t, StageIdle, snap.Stage)
	assert.Equal(t, "connection reset by peer", snap.Error)
	assert.False(t, h.manager.ticker.Running())
}

func TestStreamEndingEarlyBecomesError(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	h.stream.send(t, "stage1_complete", stage1AllBody)

	h.stream.finish(nil)
	require.NoError(t, h.manager.Wait(context.Background()))

	snap := h.manager.Snapshot()
	assert.Equal(t, StageIdle, snap.Stage)
	assert.Equal(t, streamEndedMessage, snap.Error)
}

func TestResetRestoresInitialState(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	h.stream.send(t, "stage1_complete", stage1AllBody)
	h.stream.send(t, "stage2_start", `{"type":"stage2_start"}`)
	h.stream.send(t, "stage2_complete", stage2Body)

	h.manager.Reset()

	snap := h.manager.Snapshot()
	fresh := NewDeliberation().snapshot(snap.Generation)
	assert.Equal(t, fresh, snap)
	assert.False(t, h.manager.ticker.Running())

	require.NoError(t, h.manager.Wait(context.Background()))
}

func TestResetFromEveryStage(t *testing.T) {
	steps := [][2]string{
		{"stage1_complete", stage1AllBody},
		{"stage2_start", `{}`},
		{"stage2_complete", stage2Body},
		{"stage3_start", `{}`},
		{"stage3_complete", `{"data":{"response":"done"}}`},
		{"complete", `{}`},
	}

	for n := 0; n <= len(steps); n++ {
		h := newHarness(t, time.Hour)
		h.submit(t, "What is 2+2?")
		for _, step := range steps[:n] {
			h.stream.send(t, step[0], step[1])
		}

		h.manager.Reset()

		snap := h.manager.Snapshot()
		assert.Equal(t, NewDeliberation().snapshot(snap.Generation), snap, "after %d events", n)
	}
}

func TestStaleEventsIgnoredAfterReset(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")

	gen := h.manager.Snapshot().Generation
	h.manager.Reset()

	// an event from the previous stream that was already in flight
	h.manager.handleRaw(gen, raw("stage2_start", `{}`))

	snap := h.manager.Snapshot()
	assert.Equal(t, StageIdle, snap.Stage)
	assert.Equal(t, 1, h.metrics.stale())
	assert.False(t, h.manager.ticker.Running())

	// a new deliberation can start right away
	h.submit(t, "Second question")
	assert.Equal(t, StageCollecting, h.manager.Snapshot().Stage)
}

func TestResetWhileSessionOpeningDiscardsSubmission(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.sessions.block = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- h.manager.Submit(context.Background(), "first") }()

	require.Eventually(t, func() bool {
		h.sessions.mu.Lock()
		defer h.sessions.mu.Unlock()
		return h.sessions.calls == 1
	}, time.Second, time.Millisecond)

	h.manager.Reset()
	close(h.sessions.block)

	assert.ErrorIs(t, <-errCh, ErrSubmissionReset)
	assert.Equal(t, StageIdle, h.manager.Snapshot().Stage)
}

func TestTickAdvancesOnlyWaitingParticipants(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	h.stream.send(t, "stage1_complete", `{"data":[{"model":"gemini","response":"4"}]}`)

	token := h.manager.ticker.Token()
	require.NotZero(t, token)
	h.manager.tick(token)
	h.manager.tick(token)

	for _, p := range h.manager.Snapshot().Participants {
		if p.ID == ParticipantGemini {
			assert.Zero(t, p.ElapsedSeconds)
		} else {
			assert.InDelta(t, 7200.0, p.ElapsedSeconds, 1e-9, p.ID)
		}
	}
}

func TestTickIgnoredAfterStop(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	token := h.manager.ticker.Token()

	h.stream.send(t, "error", `{"message":"rate limited"}`)
	h.manager.tick(token)

	for _, p := range h.manager.Snapshot().Participants {
		assert.Zero(t, p.ElapsedSeconds)
	}
}

func TestTickerRunsInRealTime(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.submit(t, "What is 2+2?")

	require.Eventually(t, func() bool {
		return h.manager.Snapshot().Participants[0].ElapsedSeconds >= 0.02
	}, 2*time.Second, 5*time.Millisecond)

	h.manager.Reset()
	frozen := h.manager.Snapshot()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, h.manager.Snapshot())
}

func TestSnapshotsArePublished(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.submit(t, "What is 2+2?")
	h.stream.send(t, "stage1_complete", stage1AllBody)

	require.Eventually(t, func() bool {
		snap := h.store.snapshot(t)
		return snap.Stage == StageCollecting && !snap.Participants[0].IsWaiting
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownStopsEverything(t *testing.T) {
	h := newHarness(t, 5*time.Millisecond)
	h.submit(t, "What is 2+2?")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.manager.Shutdown(ctx))

	assert.False(t, h.manager.ticker.Running())
	assert.ErrorIs(t, h.manager.Submit(context.Background(), "late"), ErrInvalidSubmission)

	frozen := h.manager.Snapshot()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, h.manager.Snapshot())
}
