package agent

import (
	"context"
	"errors"
	"log/slog"

	"github.com/man-su-97/rag-chatbot/internal/observability"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

// Failover retries a failed turn once against a fallback provider.
//
// Only transient failures (rate limits and provider outages) are retried.
// Validation, credential, and request-shape failures are returned as-is
// because a different provider would reject the turn the same way. A
// streaming turn is retried only when nothing has reached the client yet.
type Failover struct {
	next     Runner
	fallback models.ProviderConfig
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewFailover wraps next with a single fallback attempt.
func NewFailover(next Runner, fallback models.ProviderConfig, logger *slog.Logger, metrics *observability.Metrics) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{
		next:     next,
		fallback: fallback,
		logger:   logger.With("component", "failover"),
		metrics:  metrics,
	}
}

// Fallback returns the fallback provider configuration.
func (f *Failover) Fallback() models.ProviderConfig {
	return f.fallback
}

// Run implements Runner.
func (f *Failover) Run(ctx context.Context, sc SessionContext, message string) (*TurnResult, error) {
	result, err := f.next.Run(ctx, sc, message)
	if err == nil || !f.shouldRetry(ctx, sc, err) {
		return result, err
	}
	f.record(ctx, sc, err)
	return f.next.Run(ctx, sc.WithProvider(f.fallback), message)
}

// RunStreaming implements Runner.
func (f *Failover) RunStreaming(ctx context.Context, sc SessionContext, message string, obs Observer) (*TurnResult, error) {
	tracked := &emitTracker{next: obs}
	result, err := f.next.RunStreaming(ctx, sc, message, tracked)
	if err == nil || !f.shouldRetry(ctx, sc, err) {
		return result, err
	}
	if tracked.emitted {
		f.logger.WarnContext(ctx, "not failing over, output already streamed",
			"session_id", sc.SessionID,
			"error", err,
		)
		return result, err
	}
	f.record(ctx, sc, err)
	return f.next.RunStreaming(ctx, sc.WithProvider(f.fallback), message, tracked)
}

func (f *Failover) shouldRetry(ctx context.Context, sc SessionContext, err error) bool {
	if ctx.Err() != nil || isSinkError(err) || errors.Is(err, ErrValidation) {
		return false
	}
	if f.fallback.APIKey == "" || f.fallback.Provider == "" {
		return false
	}
	if f.fallback.Provider == sc.Provider.Provider && f.fallback.Model == sc.Provider.Model {
		return false
	}
	return ClassifyError(err).Transient()
}

func (f *Failover) record(ctx context.Context, sc SessionContext, err error) {
	class := ClassifyError(err)
	f.metrics.RecordFailover(string(sc.Provider.Provider), string(f.fallback.Provider), string(class))
	f.logger.WarnContext(ctx, "primary provider failed, retrying with fallback",
		"session_id", sc.SessionID,
		"from", sc.Provider.String(),
		"to", f.fallback.String(),
		"class", string(class),
		"error", err,
	)
}

// emitTracker records whether anything client-visible was produced.
type emitTracker struct {
	next    Observer
	emitted bool
}

func (t *emitTracker) OnModelCall(iteration int) error {
	return t.next.OnModelCall(iteration)
}

func (t *emitTracker) OnContent(content string) error {
	if content != "" {
		t.emitted = true
	}
	return t.next.OnContent(content)
}

func (t *emitTracker) OnCommand(cmd Command) error {
	t.emitted = true
	return t.next.OnCommand(cmd)
}
