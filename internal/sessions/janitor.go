package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/man-su-97/rag-chatbot/internal/observability"
)

// DefaultJanitorSchedule runs the sweep every five minutes.
const DefaultJanitorSchedule = "@every 5m"

// cronParser supports both standard (5-field) and extended (6-field with seconds) cron expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Evictor removes session state idle since a cutoff.
type Evictor interface {
	EvictIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// JanitorConfig configures the idle-session janitor.
type JanitorConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 5m".
	Schedule string

	// TTL is how long a session may stay idle.
	TTL time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Janitor evicts idle sessions from its evictors on a cron schedule.
type Janitor struct {
	cron     *cron.Cron
	ttl      time.Duration
	evictors []Evictor
	logger   *slog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	sizer    func() int
}

// NewJanitor validates the schedule and registers the sweep. The janitor
// does not run until Start.
func NewJanitor(cfg JanitorConfig, evictors ...Evictor) (*Janitor, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("janitor ttl must be positive")
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		cron:     cron.New(cron.WithParser(cronParser)),
		ttl:      cfg.TTL,
		evictors: evictors,
		logger:   logger.With("component", "janitor"),
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// ReportSize makes each sweep publish fn() as the active session gauge.
func (j *Janitor) ReportSize(fn func() int) {
	j.sizer = fn
}

// Start runs the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep evicts sessions idle longer than the TTL and returns the number
// removed across all evictors.
func (j *Janitor) Sweep(ctx context.Context) int {
	cutoff := j.now().Add(-j.ttl)
	total := 0
	for _, evictor := range j.evictors {
		n, err := evictor.EvictIdle(ctx, cutoff)
		if err != nil {
			j.logger.Warn("evict idle sessions failed", "error", err)
			j.metrics.RecordError("janitor", "evict_failed")
			continue
		}
		total += n
	}
	if total > 0 {
		j.logger.Info("evicted idle sessions", "count", total, "cutoff", cutoff)
	}
	if j.sizer != nil {
		j.metrics.SetActiveSessions(j.sizer())
	}
	return total
}
