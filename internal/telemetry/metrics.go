package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter      metric.Int64Counter
	RequestDuration     metric.Float64Histogram
	TokensUsed          metric.Int64Counter
	UploadDuration      metric.Float64Histogram
	ChunksIndexed       metric.Int64Counter
	QuestionDuration    metric.Float64Histogram
	CircuitBreakerState metric.Int64Counter
	ActiveSessions      metric.Int64UpDownCounter
}

// InitMetrics initializes all application metrics
func InitMetrics(serviceName string) (*Metrics, error) {
	meter := otel.Meter(serviceName)

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tokensUsed, err := meter.Int64Counter(
		"llm.tokens.used",
		metric.WithDescription("Approximate LLM tokens used"),
	)
	if err != nil {
		return nil, err
	}

	uploadDuration, err := meter.Float64Histogram(
		"document.index.duration",
		metric.WithDescription("Load, chunk, embed and index duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"document.chunks.indexed",
		metric.WithDescription("Total chunks embedded into session indexes"),
	)
	if err != nil {
		return nil, err
	}

	questionDuration, err := meter.Float64Histogram(
		"question.answer.duration",
		metric.WithDescription("Question answering duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	activeSessions, err := meter.Int64UpDownCounter(
		"sessions.active",
		metric.WithDescription("Open sessions"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:      requestCounter,
		RequestDuration:     requestDuration,
		TokensUsed:          tokensUsed,
		UploadDuration:      uploadDuration,
		ChunksIndexed:       chunksIndexed,
		QuestionDuration:    questionDuration,
		CircuitBreakerState: circuitBreakerState,
		ActiveSessions:      activeSessions,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordTokensUsed records LLM token usage
func (m *Metrics) RecordTokensUsed(tokens int64, model string) {
	if m == nil {
		return
	}
	m.TokensUsed.Add(context.Background(), tokens, metric.WithAttributes(
		attribute.String("llm.model", model),
	))
}

// RecordUpload records one index build, successful or not.
func (m *Metrics) RecordUpload(duration float64, kind, status string, chunks int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("document.kind", kind),
		attribute.String("document.status", status),
	)
	m.UploadDuration.Record(context.Background(), duration, attrs)
	if chunks > 0 {
		m.ChunksIndexed.Add(context.Background(), int64(chunks), attrs)
	}
}

// RecordQuestion records one question round.
func (m *Metrics) RecordQuestion(duration float64, status string) {
	if m == nil {
		return
	}
	m.QuestionDuration.Record(context.Background(), duration, metric.WithAttributes(
		attribute.String("question.status", status),
	))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// SessionOpened and SessionClosed track the live session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(context.Background(), 1)
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(context.Background(), -1)
}
