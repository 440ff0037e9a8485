package toolsync

import "time"

// EventKind identifies a scheduler event.
type EventKind string

const (
	EventDigestStarted  EventKind = "digest.started"
	EventDigestFinished EventKind = "digest.finished"
	EventWatchFired     EventKind = "watch.fired"
	EventSyncConflict   EventKind = "sync.conflict"
	EventDigestLimit    EventKind = "digest.limit"
)

// Event is emitted by the Scheduler while it runs a digest. Slot is -1 for
// watchers that do not belong to a synchronizer.
type Event struct {
	Kind     EventKind
	DigestID string
	Slot     int
	Watcher  string
	Pass     int
	Key      string
	Err      error
	Time     time.Time
	Elapsed  time.Duration
}

// Observer receives scheduler events. Handle runs synchronously inside the
// digest and must not call back into the scheduler.
type Observer interface {
	Handle(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Handle implements Observer.
func (f ObserverFunc) Handle(event Event) {
	if f != nil {
		f(event)
	}
}

// MultiObserver fans events out to every observer in order.
type MultiObserver []Observer

// Handle implements Observer.
func (m MultiObserver) Handle(event Event) {
	for _, observer := range m {
		if observer != nil {
			observer.Handle(event)
		}
	}
}
