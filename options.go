package toolsync

import (
	"log/slog"
	"time"

	"github.com/goliatone/go-toolsync/pkg/activity"
)

// DefaultMaxPasses bounds a digest when WithMaxPasses is not given.
const DefaultMaxPasses = 10

// DefaultToolPrefix is the identifier prefix used by the default resolver.
const DefaultToolPrefix = "scatter"

// Option configures a Scheduler or Synchronizer. Options that do not apply to
// the constructor they are passed to are ignored.
type Option func(*config)

type config struct {
	resolver      IdentityResolver
	logger        SyncLogger
	observers     []Observer
	maxPasses     int
	clock         func() time.Time
	activityHooks activity.Hooks
	activityActor string
}

func newConfig(opts []Option) config {
	cfg := config{
		resolver:  FieldResolver{Prefix: DefaultToolPrefix},
		logger:    noopSyncLogger{},
		maxPasses: DefaultMaxPasses,
		clock:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithResolver sets the identity resolver. A nil resolver leaves every tool
// unnamed.
func WithResolver(resolver IdentityResolver) Option {
	return func(cfg *config) {
		cfg.resolver = resolver
	}
}

// WithSyncLogger records reconciliation steps.
func WithSyncLogger(logger SyncLogger) Option {
	return func(cfg *config) {
		if logger == nil {
			cfg.logger = noopSyncLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithSlog is shorthand for WithSyncLogger(NewSlogLogger(logger)).
func WithSlog(logger *slog.Logger) Option {
	return WithSyncLogger(NewSlogLogger(logger))
}

// WithObserver adds an observer for scheduler events.
func WithObserver(observer Observer) Option {
	return func(cfg *config) {
		if observer != nil {
			cfg.observers = append(cfg.observers, observer)
		}
	}
}

// WithMaxPasses bounds the number of passes a digest may take before it
// gives up with ErrDigestLimit. Values below 1 keep the default.
func WithMaxPasses(passes int) Option {
	return func(cfg *config) {
		if passes > 0 {
			cfg.maxPasses = passes
		}
	}
}

// WithSchedulerClock overrides the scheduler time source.
func WithSchedulerClock(now func() time.Time) Option {
	return func(cfg *config) {
		if now != nil {
			cfg.clock = now
		}
	}
}
