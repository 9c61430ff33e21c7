package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	submissions           *prometheus.CounterVec
	events                *prometheus.CounterVec
	streamErrors          *prometheus.CounterVec
	staleEvents           prometheus.Counter
	deliberationDuration  prometheus.Histogram
	deliberationsComplete prometheus.Counter
	waitingParticipants   prometheus.Gauge
	tickerActive          prometheus.Gauge

	// Local engine metrics
	llmCalls   *prometheus.CounterVec
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector registered on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_submissions_total",
				Help: "Total number of prompt submissions by result",
			},
			[]string{"result"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_events_total",
				Help: "Total number of deliberation events applied by kind",
			},
			[]string{"kind"},
		),
		streamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_stream_errors_total",
				Help: "Total number of stream errors by reason",
			},
			[]string{"reason"},
		),
		staleEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "council_stale_events_total",
				Help: "Total number of events dropped because they belonged to a discarded deliberation",
			},
		),
		deliberationsComplete: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "council_deliberations_completed_total",
				Help: "Total number of deliberations that reached the complete stage",
			},
		),
		deliberationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "council_deliberation_duration_seconds",
				Help:    "Time from submission to completion in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		waitingParticipants: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "council_waiting_participants",
				Help: "Number of participants currently waiting",
			},
		),
		tickerActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "council_ticker_active",
				Help: "Whether the elapsed-time ticker is running (1) or stopped (0)",
			},
		),
		llmCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_llm_calls_total",
				Help: "Total number of LLM API calls by model and status",
			},
			[]string{"model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "council_llm_tokens_total",
				Help: "Total number of LLM tokens used",
			},
			[]string{"model", "type"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "council_llm_latency_seconds",
				Help:    "LLM API call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"model"},
		),
	}
}

// RecordSubmission counts a submission attempt
func (c *Collector) RecordSubmission(result string) {
	c.submissions.WithLabelValues(result).Inc()
}

// RecordEvent counts an applied event
func (c *Collector) RecordEvent(kind string) {
	c.events.WithLabelValues(kind).Inc()
}

// RecordStreamError counts a stream failure
func (c *Collector) RecordStreamError(reason string) {
	c.streamErrors.WithLabelValues(reason).Inc()
}

// RecordStaleEvent counts an event dropped after a reset
func (c *Collector) RecordStaleEvent() {
	c.staleEvents.Inc()
}

// RecordDeliberationCompleted records a completed deliberation
func (c *Collector) RecordDeliberationCompleted(duration time.Duration) {
	c.deliberationsComplete.Inc()
	c.deliberationDuration.Observe(duration.Seconds())
}

// SetWaitingParticipants sets the waiting participants gauge
func (c *Collector) SetWaitingParticipants(n int) {
	c.waitingParticipants.Set(float64(n))
}

// SetTickerActive sets the ticker gauge
func (c *Collector) SetTickerActive(active bool) {
	if active {
		c.tickerActive.Set(1)
		return
	}
	c.tickerActive.Set(0)
}

// RecordLLMCall records one LLM API call made by the local engine
func (c *Collector) RecordLLMCall(model string, duration time.Duration, inputTokens, outputTokens int64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.llmCalls.WithLabelValues(model, status).Inc()
	c.llmLatency.WithLabelValues(model).Observe(duration.Seconds())
	if err == nil {
		c.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
		c.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	}
}
