package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	toolsync "github.com/goliatone/go-toolsync"
)

// MetricsHandler translates scheduler events into OpenTelemetry metrics.
type MetricsHandler struct {
	digests        metric.Int64Counter
	digestPasses   metric.Int64Histogram
	digestDuration metric.Float64Histogram
	watchFirings   metric.Int64Counter
	conflicts      metric.Int64Counter
	limits         metric.Int64Counter
}

// NewMetricsHandler creates the instruments on meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	digests, err := meter.Int64Counter("toolsync.digest.count",
		metric.WithDescription("Number of completed digests"),
	)
	if err != nil {
		return nil, err
	}

	passes, err := meter.Int64Histogram("toolsync.digest.passes",
		metric.WithDescription("Passes a digest needed to settle"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("toolsync.digest.duration",
		metric.WithDescription("Duration of a digest in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	firings, err := meter.Int64Counter("toolsync.watch.fired",
		metric.WithDescription("Number of watcher listener invocations"),
	)
	if err != nil {
		return nil, err
	}

	conflicts, err := meter.Int64Counter("toolsync.sync.conflicts",
		metric.WithDescription("Number of rejected identifier collisions"),
	)
	if err != nil {
		return nil, err
	}

	limits, err := meter.Int64Counter("toolsync.digest.limit",
		metric.WithDescription("Number of digests aborted at the pass limit"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		digests:        digests,
		digestPasses:   passes,
		digestDuration: duration,
		watchFirings:   firings,
		conflicts:      conflicts,
		limits:         limits,
	}, nil
}

// Handle implements toolsync.Observer.
func (h *MetricsHandler) Handle(e toolsync.Event) {
	ctx := context.Background()
	switch e.Kind {
	case toolsync.EventDigestFinished:
		outcome := "ok"
		if e.Err != nil {
			outcome = "error"
		}
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		h.digests.Add(ctx, 1, attrs)
		h.digestPasses.Record(ctx, int64(e.Pass), attrs)
		h.digestDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
	case toolsync.EventWatchFired:
		h.watchFirings.Add(ctx, 1, metric.WithAttributes(
			attribute.String("watcher", e.Watcher),
			attribute.Bool("error", e.Err != nil),
		))
	case toolsync.EventSyncConflict:
		h.conflicts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("watcher", e.Watcher),
		))
	case toolsync.EventDigestLimit:
		h.limits.Add(ctx, 1)
	}
}
