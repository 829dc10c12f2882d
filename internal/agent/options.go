package agent

import (
	"log/slog"

	"github.com/man-su-97/rag-chatbot/internal/observability"
)

// DefaultMaxIterations bounds informational tool round trips per turn.
const DefaultMaxIterations = 5

// PipelineOptions configures the pipeline executor.
type PipelineOptions struct {
	// MaxIterations limits model invocations that end in an informational
	// tool call. When reached the turn is finalized with what it has.
	MaxIterations int

	// MaxMessageLength limits the user message in characters.
	MaxMessageLength int

	// SystemPrompt is prepended to every model call. Empty disables it.
	SystemPrompt string

	// Locker serializes turns per session when set.
	Locker SessionLocker

	// Logger receives pipeline diagnostics.
	Logger *slog.Logger

	// Metrics records turn, model and tool metrics when set.
	Metrics *observability.Metrics

	// Tracer creates spans per stage when set.
	Tracer *observability.Tracer
}

// DefaultPipelineOptions returns the baseline pipeline options.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{
		MaxIterations:    DefaultMaxIterations,
		MaxMessageLength: DefaultMaxMessageLength,
		SystemPrompt:     DefaultSystemPrompt,
		Logger:           slog.Default(),
	}
}

func mergePipelineOptions(base, override PipelineOptions) PipelineOptions {
	merged := base
	if override.MaxIterations > 0 {
		merged.MaxIterations = override.MaxIterations
	}
	if override.MaxMessageLength > 0 {
		merged.MaxMessageLength = override.MaxMessageLength
	}
	if override.SystemPrompt != "" {
		merged.SystemPrompt = override.SystemPrompt
	}
	if override.Locker != nil {
		merged.Locker = override.Locker
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	if override.Metrics != nil {
		merged.Metrics = override.Metrics
	}
	if override.Tracer != nil {
		merged.Tracer = override.Tracer
	}
	return merged
}
