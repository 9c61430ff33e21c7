package council

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/council/internal/application/orchestrator"
	"github.com/aescanero/council/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/council/pkg/ports"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLLM answers by prompt kind and fails for the models listed in failing
type fakeLLM struct {
	mu      sync.Mutex
	failing map[string]bool
	ranking string
	calls   []string
}

func (f *fakeLLM) GenerateCompletion(ctx context.Context, req *ports.LLMRequest) (*ports.LLMResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Model)
	failing := f.failing[req.Model]
	f.mu.Unlock()

	if failing {
		return nil, errors.New("model unavailable")
	}

	prompt := req.Messages[0].Content
	content := "answer from " + req.Model
	switch {
	case strings.Contains(prompt, "Chairman of an LLM Council"):
		content = "  The council agrees: 4.  "
	case strings.Contains(prompt, "FINAL RANKING:"):
		content = f.ranking
	}

	return &ports.LLMResponse{Content: content, Model: req.Model, InputTokens: 10, OutputTokens: 5}, nil
}

type recordedCall struct {
	model string
	err   error
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRecorder) RecordLLMCall(model string, _ time.Duration, _, _ int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{model: model, err: err})
}

func testConfig() Config {
	return Config{
		Members: []Member{
			{ID: "gemini", Model: "model-g"},
			{ID: "codex", Model: "model-x"},
			{ID: "claude", Model: "model-c"},
		},
		Chairman:  "gemini",
		MaxTokens: 256,
	}
}

func newEngine(t *testing.T, llm ports.LLMClient, recorder CallRecorder) *Engine {
	t.Helper()
	engine, err := NewEngine(testConfig(), llm, recorder, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func collect(t *testing.T, engine *Engine, prompt string) []ports.RawEvent {
	t.Helper()

	session, err := engine.CreateSession(context.Background())
	require.NoError(t, err)

	var events []ports.RawEvent
	require.NoError(t, engine.StreamPrompt(context.Background(), session.ID, prompt, func(ev ports.RawEvent) {
		events = append(events, ev)
	}))
	return events
}

func kinds(events []ports.RawEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

const unanimousRanking = "All fine.\n\nFINAL RANKING:\n1. Response A\n2. Response C\n3. Response B"

func TestNewEngineValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no members", func(c *Config) { c.Members = nil }},
		{"duplicate member", func(c *Config) { c.Members = append(c.Members, Member{ID: "gemini", Model: "m"}) }},
		{"member without model", func(c *Config) { c.Members[0].Model = "" }},
		{"unknown chairman", func(c *Config) { c.Chairman = "mistral" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewEngine(cfg, &fakeLLM{}, nil, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestNewEngineDefaultsChairmanModel(t *testing.T) {
	engine := newEngine(t, &fakeLLM{}, nil)
	assert.Equal(t, "model-g", engine.cfg.ChairmanModel)
	assert.Equal(t, 3, engine.cfg.MaxConcurrent)
}

func TestStreamPromptUnknownSession(t *testing.T) {
	engine := newEngine(t, &fakeLLM{}, nil)

	err := engine.StreamPrompt(context.Background(), "nope", "hi", func(ports.RawEvent) {})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestIdleSessionsArePruned(t *testing.T) {
	engine := newEngine(t, &fakeLLM{}, nil)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	old, err := engine.CreateSession(context.Background())
	require.NoError(t, err)
	kept, err := engine.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, engine.Sessions())

	now = now.Add(45 * time.Minute)
	require.NoError(t, engine.StreamPrompt(context.Background(), kept.ID, "hi", func(ports.RawEvent) {}))

	now = now.Add(30 * time.Minute)
	_, err = engine.CreateSession(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, engine.Sessions())
	err = engine.StreamPrompt(context.Background(), old.ID, "hi", func(ports.RawEvent) {})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestStreamPromptEmitsAllStages(t *testing.T) {
	recorder := &fakeRecorder{}
	engine := newEngine(t, &fakeLLM{ranking: unanimousRanking}, recorder)

	events := collect(t, engine, "What is 2+2?")

	assert.Equal(t, []string{
		"stage1_start", "stage1_complete",
		"stage2_start", "stage2_complete",
		"stage3_start", "stage3_complete",
		"complete",
	}, kinds(events))

	var stage1 struct {
		Data []MemberAnswer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(events[1].Body, &stage1))
	assert.Equal(t, []MemberAnswer{
		{Model: "gemini", Response: "answer from model-g"},
		{Model: "codex", Response: "answer from model-x"},
		{Model: "claude", Response: "answer from model-c"},
	}, stage1.Data)

	var stage2 struct {
		Data     []MemberReview `json:"data"`
		Metadata struct {
			LabelToModel      map[string]string  `json:"label_to_model"`
			AggregateRankings []AggregateRanking `json:"aggregate_rankings"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(events[3].Body, &stage2))
	assert.Len(t, stage2.Data, 3)
	assert.Equal(t, "codex", stage2.Metadata.LabelToModel["Response B"])
	assert.Equal(t, []AggregateRanking{
		{Model: "gemini", AverageRank: 1, RankingsCount: 3},
		{Model: "claude", AverageRank: 2, RankingsCount: 3},
		{Model: "codex", AverageRank: 3, RankingsCount: 3},
	}, stage2.Metadata.AggregateRankings)

	var stage3 struct {
		Data MemberAnswer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(events[5].Body, &stage3))
	assert.Equal(t, MemberAnswer{Model: "gemini", Response: "The council agrees: 4."}, stage3.Data)

	// three answers, three reviews, one synthesis
	assert.Len(t, recorder.calls, 7)
}

func TestStreamPromptOmitsFailedMembers(t *testing.T) {
	llm := &fakeLLM{failing: map[string]bool{"model-x": true}, ranking: "FINAL RANKING:\n1. Response B\n2. Response A"}
	engine := newEngine(t, llm, nil)

	events := collect(t, engine, "What is 2+2?")
	require.Equal(t, "stage1_complete", events[1].Type)

	var stage1 struct {
		Data []MemberAnswer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(events[1].Body, &stage1))
	require.Len(t, stage1.Data, 2)
	assert.Equal(t, "gemini", stage1.Data[0].Model)
	assert.Equal(t, "claude", stage1.Data[1].Model)

	var stage2 struct {
		Metadata struct {
			AggregateRankings []AggregateRanking `json:"aggregate_rankings"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(events[3].Body, &stage2))
	require.Len(t, stage2.Metadata.AggregateRankings, 2)
	assert.Equal(t, "claude", stage2.Metadata.AggregateRankings[0].Model)
}

func TestStreamPromptAllMembersFail(t *testing.T) {
	llm := &fakeLLM{failing: map[string]bool{"model-g": true, "model-x": true, "model-c": true}}
	engine := newEngine(t, llm, nil)

	events := collect(t, engine, "What is 2+2?")

	assert.Equal(t, []string{"stage1_start", "error"}, kinds(events))
	assert.JSONEq(t, `{"type":"error","message":"All models failed to respond. Please try again."}`, string(events[1].Body))
}

func TestStreamPromptChairmanFailure(t *testing.T) {
	cfg := testConfig()
	cfg.ChairmanModel = "model-chair"
	llm := &fakeLLM{failing: map[string]bool{"model-chair": true}, ranking: unanimousRanking}
	engine, err := NewEngine(cfg, llm, nil, zap.NewNop())
	require.NoError(t, err)

	events := collect(t, engine, "What is 2+2?")
	require.Equal(t, "stage3_complete", events[5].Type)

	var stage3 struct {
		Data MemberAnswer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(events[5].Body, &stage3))
	assert.Equal(t, synthesisFailedResponse, stage3.Data.Response)
	assert.Equal(t, "complete", events[6].Type)
}

func TestStreamPromptCancelled(t *testing.T) {
	engine := newEngine(t, &fakeLLM{ranking: unanimousRanking}, nil)
	session, err := engine.CreateSession(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = engine.StreamPrompt(ctx, session.ID, "hi", func(ports.RawEvent) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineDrivesOrchestrator(t *testing.T) {
	engine := newEngine(t, &fakeLLM{ranking: unanimousRanking}, nil)
	metrics := prometheus.NewCollector(prom.NewRegistry())

	manager := orchestrator.NewManager(
		orchestrator.Config{TickInterval: time.Hour, MaxPromptLength: 1000},
		engine, engine, nil, nil, metrics, zap.NewNop(),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	require.NoError(t, manager.Submit(context.Background(), "What is 2+2?"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Wait(ctx))

	snap := manager.Snapshot()
	assert.Equal(t, orchestrator.StageComplete, snap.Stage)
	assert.Equal(t, orchestrator.ParticipantGemini, snap.WinnerID)
	require.NotNil(t, snap.Synthesis)
	assert.Equal(t, "The council agrees: 4.", *snap.Synthesis)

	scores := map[orchestrator.ParticipantID]int{}
	for _, p := range snap.Participants {
		scores[p.ID] = p.Score
		require.NotNil(t, p.DisplayResponse)
	}
	assert.Equal(t, map[orchestrator.ParticipantID]int{
		orchestrator.ParticipantGemini: 30,
		orchestrator.ParticipantClaude: 20,
		orchestrator.ParticipantCodex:  0,
	}, scores)
}
