// Package otel provides OpenTelemetry observers for toolsync schedulers.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	toolsync "github.com/goliatone/go-toolsync"
)

// TracingHandler opens one span per digest and records watcher firings and
// conflicts as span events.
type TracingHandler struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span // digestID -> span
}

// NewTracingHandler creates a TracingHandler that starts spans on tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

// Handle implements toolsync.Observer.
func (h *TracingHandler) Handle(e toolsync.Event) {
	switch e.Kind {
	case toolsync.EventDigestStarted:
		h.handleStarted(e)
	case toolsync.EventWatchFired, toolsync.EventSyncConflict, toolsync.EventDigestLimit:
		h.handleEvent(e)
	case toolsync.EventDigestFinished:
		h.handleFinished(e)
	}
}

func (h *TracingHandler) handleStarted(e toolsync.Event) {
	_, span := h.tracer.Start(context.Background(), "toolsync.digest",
		trace.WithAttributes(attribute.String("toolsync.digest_id", e.DigestID)),
		trace.WithTimestamp(e.Time),
	)
	h.mu.Lock()
	h.spans[e.DigestID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleEvent(e toolsync.Event) {
	h.mu.Lock()
	span, ok := h.spans[e.DigestID]
	h.mu.Unlock()
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("toolsync.pass", e.Pass),
	}
	if e.Watcher != "" {
		attrs = append(attrs,
			attribute.String("toolsync.watcher", e.Watcher),
			attribute.Int("toolsync.slot", e.Slot),
		)
	}
	if e.Key != "" {
		attrs = append(attrs, attribute.String("toolsync.key", e.Key))
	}
	if e.Err != nil {
		attrs = append(attrs, attribute.String("toolsync.error", e.Err.Error()))
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) handleFinished(e toolsync.Event) {
	h.mu.Lock()
	span, ok := h.spans[e.DigestID]
	if ok {
		delete(h.spans, e.DigestID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(attribute.Int("toolsync.passes", e.Pass))
	if e.Err != nil {
		span.SetStatus(codes.Error, e.Err.Error())
		span.RecordError(e.Err, trace.WithTimestamp(e.Time))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveDigests reports how many digest spans are still open.
func (h *TracingHandler) ActiveDigests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spans)
}
