package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"query-sphere/internal/logger"
	"query-sphere/internal/telemetry"
	"query-sphere/models"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ErrTransient marks LLM failures worth one retry (connection reset, refused,
// unexpected EOF). It is always joined with models.ErrLLMRequestFailed.
var ErrTransient = errors.New("transient")

type GuardSettings struct {
	Name              string
	Timeout           time.Duration
	RequestsPerMinute int
}

// GuardedLLM wraps a provider with a timeout, a circuit breaker, a request
// rate limiter and a token counter, and classifies every error into the
// models.ErrLLM* family.
type GuardedLLM struct {
	inner        LLMClient
	timeout      time.Duration
	breaker      *gobreaker.CircuitBreaker
	rateLimiter  *rate.Limiter
	tokenCounter *TokenCounter
	metrics      *telemetry.Metrics
}

func NewGuardedLLM(inner LLMClient, s GuardSettings, metrics *telemetry.Metrics) *GuardedLLM {
	rpm := s.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name + "-llm",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.RecordCircuitBreakerState(name, to.String())
		},
	})

	return &GuardedLLM{
		inner:   inner,
		timeout: s.Timeout,
		breaker: breaker,
		// RPM limit with some buffer
		rateLimiter:  rate.NewLimiter(rate.Limit(float64(rpm)*0.9/60.0), max(rpm/10, 1)),
		tokenCounter: NewTokenCounter(rpm),
		metrics:      metrics,
	}
}

func (g *GuardedLLM) Model() string { return g.inner.Model() }

func (g *GuardedLLM) Close() error { return g.inner.Close() }

// Usage reports the token counter totals.
func (g *GuardedLLM) Usage() TokenUsage { return g.tokenCounter.Usage() }

func (g *GuardedLLM) Complete(ctx context.Context, req LLMRequest) (*Completion, error) {
	tracer := otel.Tracer("llm-client")
	ctx, span := tracer.Start(ctx, "llm.complete")
	defer span.End()

	estimated := estimateTokens(req.System, req.Prompt)
	span.SetAttributes(
		attribute.String("llm.model", g.inner.Model()),
		attribute.Int("llm.estimated_tokens", estimated),
	)

	// Count the attempt up front so failed and timed out calls still spend
	// the per-minute budget.
	if !g.tokenCounter.Reserve(1) {
		span.SetAttributes(attribute.Bool("llm.rate_limited", true))
		return nil, fmt.Errorf("%w: request budget exhausted, wait before retry", models.ErrLLMRequestFailed)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("llm.rate_limited", true))
		return nil, g.classify(ctx, err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Complete(ctx, req)
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("llm.error", true), attribute.String("llm.error_message", err.Error()))
		return nil, g.classify(ctx, err)
	}

	completion := result.(*Completion)
	g.tokenCounter.RecordUsage(completion.Tokens, 0)
	g.metrics.RecordTokensUsed(int64(completion.Tokens), g.inner.Model())
	span.SetAttributes(attribute.Int("llm.actual_tokens", completion.Tokens))

	if strings.TrimSpace(completion.Text) == "" {
		return nil, models.ErrLLMEmptyResponse
	}
	return completion, nil
}

func (g *GuardedLLM) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: no reply within %s", models.ErrLLMTimeout, g.timeout)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %s unavailable: %v", models.ErrLLMRequestFailed, g.inner.Model(), err)
	case isTransient(err):
		return fmt.Errorf("%w: %w: %v", models.ErrLLMRequestFailed, ErrTransient, err)
	default:
		return fmt.Errorf("%w: %v", models.ErrLLMRequestFailed, err)
	}
}

func isTransient(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// TokenCounter tracks requests and tokens per minute and per day.
type TokenCounter struct {
	mu              sync.Mutex
	rpm             int
	minuteTokens    int
	dailyTokens     int
	totalTokens     int
	minuteRequests  int
	dailyRequests   int
	lastMinuteReset time.Time
	lastDayReset    time.Time
	now             func() time.Time
}

// TokenUsage is a snapshot of a TokenCounter.
type TokenUsage struct {
	MinuteRequests int `json:"minute_requests"`
	MinuteTokens   int `json:"minute_tokens"`
	DailyRequests  int `json:"daily_requests"`
	DailyTokens    int `json:"daily_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

func NewTokenCounter(rpm int) *TokenCounter {
	now := time.Now()
	return &TokenCounter{rpm: rpm, lastMinuteReset: now, lastDayReset: now, now: time.Now}
}

func (tc *TokenCounter) CanConsume(requests int) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.resetExpired()
	return tc.minuteRequests+requests <= tc.rpm
}

// Reserve counts requests against the minute and day windows if they fit
// and reports whether they did.
func (tc *TokenCounter) Reserve(requests int) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.resetExpired()
	if tc.minuteRequests+requests > tc.rpm {
		return false
	}
	tc.minuteRequests += requests
	tc.dailyRequests += requests
	return true
}

func (tc *TokenCounter) RecordUsage(tokens, requests int) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.resetExpired()
	tc.minuteTokens += tokens
	tc.minuteRequests += requests
	tc.dailyTokens += tokens
	tc.dailyRequests += requests
	tc.totalTokens += tokens
}

func (tc *TokenCounter) Usage() TokenUsage {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.resetExpired()
	return TokenUsage{
		MinuteRequests: tc.minuteRequests,
		MinuteTokens:   tc.minuteTokens,
		DailyRequests:  tc.dailyRequests,
		DailyTokens:    tc.dailyTokens,
		TotalTokens:    tc.totalTokens,
	}
}

// resetExpired must be called with mu held.
func (tc *TokenCounter) resetExpired() {
	now := tc.now()
	if now.Sub(tc.lastMinuteReset) >= time.Minute {
		tc.minuteTokens = 0
		tc.minuteRequests = 0
		tc.lastMinuteReset = now
	}
	if now.Sub(tc.lastDayReset) >= 24*time.Hour {
		tc.dailyTokens = 0
		tc.dailyRequests = 0
		tc.lastDayReset = now
	}
}
