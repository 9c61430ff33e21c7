package council

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/council/pkg/ports"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const (
	allMembersFailedMessage = "All models failed to respond. Please try again."
	synthesisFailedResponse = "Error: Unable to generate final synthesis."

	// sessionIdleTimeout is how long an unused session is kept
	sessionIdleTimeout = time.Hour
)

// ErrUnknownSession is returned when a prompt targets a session the engine
// never opened.
var ErrUnknownSession = errors.New("unknown session")

// Member is one council seat and the model that answers for it
type Member struct {
	ID    string
	Model string
}

// Config holds engine settings
type Config struct {
	Members       []Member
	Chairman      string
	ChairmanModel string
	MaxTokens     int
	Temperature   float64
	MaxConcurrent int
}

// CallRecorder records LLM calls
type CallRecorder interface {
	RecordLLMCall(model string, duration time.Duration, inputTokens, outputTokens int64, err error)
}

// MemberAnswer is a stage 1 answer
type MemberAnswer struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// MemberReview is a stage 2 peer review
type MemberReview struct {
	Model         string   `json:"model"`
	Ranking       string   `json:"ranking"`
	ParsedRanking []string `json:"parsed_ranking"`
}

// Engine runs deliberations in process
type Engine struct {
	cfg      Config
	llm      ports.LLMClient
	recorder CallRecorder
	logger   *zap.Logger

	now      func() time.Time
	mu       sync.Mutex
	sessions map[string]time.Time // last use
}

// NewEngine creates a new local council engine. recorder may be nil.
func NewEngine(cfg Config, llm ports.LLMClient, recorder CallRecorder, logger *zap.Logger) (*Engine, error) {
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("council needs at least one member")
	}
	if len(cfg.Members) > 26 {
		return nil, fmt.Errorf("council supports at most 26 members, got %d", len(cfg.Members))
	}

	seen := make(map[string]bool, len(cfg.Members))
	chairmanModel := ""
	for _, m := range cfg.Members {
		if m.ID == "" || m.Model == "" {
			return nil, fmt.Errorf("council member needs an id and a model")
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("duplicate council member: %s", m.ID)
		}
		seen[m.ID] = true
		if m.ID == cfg.Chairman {
			chairmanModel = m.Model
		}
	}
	if !seen[cfg.Chairman] {
		return nil, fmt.Errorf("chairman %q is not a council member", cfg.Chairman)
	}
	if cfg.ChairmanModel == "" {
		cfg.ChairmanModel = chairmanModel
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = len(cfg.Members)
	}
	if cfg.MaxTokens < 1 {
		cfg.MaxTokens = 4096
	}

	return &Engine{
		cfg:      cfg,
		llm:      llm,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}, nil
}

// CreateSession opens a new in-process session
func (e *Engine) CreateSession(ctx context.Context) (ports.Session, error) {
	id := uuid.New().String()

	e.mu.Lock()
	now := e.now()
	for sid, lastUsed := range e.sessions {
		if now.Sub(lastUsed) > sessionIdleTimeout {
			delete(e.sessions, sid)
		}
	}
	e.sessions[id] = now
	e.mu.Unlock()

	e.logger.Debug("local session created", zap.String("session_id", id))

	return ports.Session{ID: id}, nil
}

// Sessions returns the number of open sessions
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// StreamPrompt runs all three stages for prompt and reports progress
// through onEvent
func (e *Engine) StreamPrompt(ctx context.Context, sessionID, prompt string, onEvent ports.EventCallback) error {
	e.mu.Lock()
	_, ok := e.sessions[sessionID]
	if ok {
		e.sessions[sessionID] = e.now()
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	logger := e.logger.With(zap.String("session_id", sessionID))
	started := time.Now()

	// Stage 1
	if err := emit(onEvent, "stage1_start", nil); err != nil {
		return err
	}
	answers := e.collectAnswers(ctx, prompt)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(answers) == 0 {
		logger.Warn("no council member answered")
		return emit(onEvent, "error", map[string]interface{}{"message": allMembersFailedMessage})
	}
	if err := emit(onEvent, "stage1_complete", map[string]interface{}{"data": answers}); err != nil {
		return err
	}
	logger.Info("stage 1 complete", zap.Int("answers", len(answers)))

	// Stage 2
	if err := emit(onEvent, "stage2_start", nil); err != nil {
		return err
	}
	labelToModel := make(map[string]string, len(answers))
	for i, answer := range answers {
		labelToModel[responseLabel(i)] = answer.Model
	}
	reviews := e.collectReviews(ctx, rankingPrompt(prompt, answers))
	if err := ctx.Err(); err != nil {
		return err
	}
	parsed := make([][]string, len(reviews))
	for i, review := range reviews {
		parsed[i] = review.ParsedRanking
	}
	aggregate := Aggregate(parsed, labelToModel)
	err := emit(onEvent, "stage2_complete", map[string]interface{}{
		"data": reviews,
		"metadata": map[string]interface{}{
			"label_to_model":     labelToModel,
			"aggregate_rankings": aggregate,
		},
	})
	if err != nil {
		return err
	}
	logger.Info("stage 2 complete",
		zap.Int("reviews", len(reviews)),
		zap.Int("ranked", len(aggregate)))

	// Stage 3
	if err := emit(onEvent, "stage3_start", nil); err != nil {
		return err
	}
	synthesis, err := e.complete(ctx, e.cfg.ChairmanModel, synthesisPrompt(prompt, answers, reviews))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Warn("chairman failed to synthesize", zap.Error(err))
		synthesis = synthesisFailedResponse
	}
	err = emit(onEvent, "stage3_complete", map[string]interface{}{
		"data": MemberAnswer{Model: e.cfg.Chairman, Response: synthesis},
	})
	if err != nil {
		return err
	}

	logger.Info("deliberation complete", zap.Duration("duration", time.Since(started)))

	return emit(onEvent, "complete", nil)
}

type memberResult struct {
	index  int
	member Member
	text   string
	err    error
}

// queryMembers sends prompt to every member in parallel. Results come back
// in member order; members that failed are logged and omitted.
func (e *Engine) queryMembers(ctx context.Context, stage, prompt string) []memberResult {
	p := pool.NewWithResults[memberResult]().
		WithContext(ctx).
		WithMaxGoroutines(e.cfg.MaxConcurrent)

	for i, m := range e.cfg.Members {
		p.Go(func(ctx context.Context) (memberResult, error) {
			text, err := e.complete(ctx, m.Model, prompt)
			return memberResult{index: i, member: m, text: text, err: err}, nil
		})
	}

	results, _ := p.Wait()
	sort.Slice(results, func(i, j int) bool {
		return results[i].index < results[j].index
	})

	ok := results[:0]
	for _, r := range results {
		if r.err != nil {
			e.logger.Warn("council member failed",
				zap.String("stage", stage),
				zap.String("member", r.member.ID),
				zap.String("model", r.member.Model),
				zap.Error(r.err))
			continue
		}
		ok = append(ok, r)
	}
	return ok
}

func (e *Engine) collectAnswers(ctx context.Context, prompt string) []MemberAnswer {
	results := e.queryMembers(ctx, "stage1", prompt)

	answers := make([]MemberAnswer, 0, len(results))
	for _, r := range results {
		answers = append(answers, MemberAnswer{Model: r.member.ID, Response: r.text})
	}
	return answers
}

func (e *Engine) collectReviews(ctx context.Context, prompt string) []MemberReview {
	results := e.queryMembers(ctx, "stage2", prompt)

	reviews := make([]MemberReview, 0, len(results))
	for _, r := range results {
		reviews = append(reviews, MemberReview{
			Model:         r.member.ID,
			Ranking:       r.text,
			ParsedRanking: ParseRanking(r.text),
		})
	}
	return reviews
}

// complete runs a single-turn completion
func (e *Engine) complete(ctx context.Context, model, prompt string) (string, error) {
	start := time.Now()

	resp, err := e.llm.GenerateCompletion(ctx, &ports.LLMRequest{
		Model:       model,
		Messages:    []ports.Message{{Role: "user", Content: prompt}},
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})

	var in, out int64
	if resp != nil {
		in, out = resp.InputTokens, resp.OutputTokens
	}
	if e.recorder != nil {
		e.recorder.RecordLLMCall(model, time.Since(start), in, out, err)
	}

	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// emit delivers one event envelope. fields are merged next to "type".
func emit(onEvent ports.EventCallback, kind string, fields map[string]interface{}) error {
	envelope := map[string]interface{}{"type": kind}
	for k, v := range fields {
		envelope[k] = v
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}

	onEvent(ports.RawEvent{Type: kind, Body: body})
	return nil
}
