package toolsync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-toolsync/pkg/activity"
)

// Watcher is one change detector. Get returns a detached snapshot of the
// watched value, Equal compares two snapshots and Listener runs with the new
// and previous snapshot whenever they differ. The first evaluation always
// fires, with oldValue equal to newValue.
type Watcher struct {
	Name     string
	Get      func() any
	Equal    func(a, b any) bool
	Listener func(newValue, oldValue any) error
}

type watch struct {
	Watcher
	owner  *Synchronizer
	last   any
	seeded bool
}

// Scheduler runs digests: it re-evaluates every registered watcher, pass
// after pass, until a pass finds nothing dirty. Listener errors do not stop
// the pass; they are logged, reported to observers and joined into the
// Digest result.
//
// Watch, Attach, Detach and RemoveSlot must not be called from a listener or
// an observer.
type Scheduler struct {
	mu      sync.Mutex
	opts    []Option
	watches []*watch
	syncs   []*Synchronizer

	maxPasses int
	logger    SyncLogger
	observer  Observer
	clock     func() time.Time
	activity  *activity.Emitter
}

// NewScheduler builds a scheduler. Resolver options are kept and applied to
// synchronizers created through AddSlot.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := newConfig(opts)
	return &Scheduler{
		opts:      append([]Option(nil), opts...),
		maxPasses: cfg.maxPasses,
		logger:    cfg.logger,
		observer:  MultiObserver(cfg.observers),
		clock:     cfg.clock,
		activity: activity.NewEmitter(cfg.activityHooks, activity.Config{
			Enabled: len(cfg.activityHooks) > 0,
			ActorID: cfg.activityActor,
		}),
	}
}

// AddSlot appends an unnamed slot to doc and attaches a synchronizer for it.
func (s *Scheduler) AddSlot(doc *Document, opts ...Option) (*Synchronizer, error) {
	if doc == nil {
		return nil, fmt.Errorf("toolsync: AddSlot requires a document")
	}
	index := doc.AddSlot("")
	merged := append(append([]Option(nil), s.opts...), opts...)
	synchronizer, err := NewSynchronizer(doc, index, merged...)
	if err != nil {
		return nil, err
	}
	s.Attach(synchronizer)
	return synchronizer, nil
}

// Attach registers the watchers of synchronizer. Attaching twice is a no-op.
func (s *Scheduler) Attach(synchronizer *Synchronizer) {
	if synchronizer == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.syncs {
		if existing == synchronizer {
			return
		}
	}
	s.syncs = append(s.syncs, synchronizer)
	for _, watcher := range synchronizer.Watchers() {
		s.watches = append(s.watches, &watch{Watcher: watcher, owner: synchronizer})
	}
}

// Detach removes the watchers of synchronizer. Registry state is left as is.
func (s *Scheduler) Detach(synchronizer *Synchronizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked(synchronizer)
}

func (s *Scheduler) detachLocked(synchronizer *Synchronizer) {
	syncs := s.syncs[:0]
	for _, existing := range s.syncs {
		if existing != synchronizer {
			syncs = append(syncs, existing)
		}
	}
	s.syncs = syncs
	watches := s.watches[:0]
	for _, w := range s.watches {
		if w.owner != synchronizer {
			watches = append(watches, w)
		}
	}
	s.watches = watches
}

// Watch registers a free-standing watcher and returns a function that
// removes it again. Without an Equal, values are compared with
// reflect.DeepEqual, so Get may return maps and slices.
func (s *Scheduler) Watch(watcher Watcher) func() {
	if watcher.Equal == nil {
		watcher.Equal = reflect.DeepEqual
	}
	w := &watch{Watcher: watcher}
	s.mu.Lock()
	s.watches = append(s.watches, w)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, existing := range s.watches {
			if existing == w {
				s.watches = append(s.watches[:i], s.watches[i+1:]...)
				return
			}
		}
	}
}

// RemoveSlot detaches synchronizer, deletes its slot and registry entry from
// the document and shifts the index of every later slot sharing the document.
func (s *Scheduler) RemoveSlot(synchronizer *Synchronizer) (string, error) {
	if synchronizer == nil {
		return "", fmt.Errorf("toolsync: RemoveSlot requires a synchronizer")
	}
	remover, ok := synchronizer.doc.(interface {
		RemoveSlot(index int) (string, bool)
	})
	if !ok {
		return "", fmt.Errorf("toolsync: document %T cannot remove slots", synchronizer.doc)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked(synchronizer)
	index := synchronizer.index
	id, removed := remover.RemoveSlot(index)
	if !removed {
		return "", fmt.Errorf("toolsync: slot %d out of range", index)
	}
	for _, other := range s.syncs {
		if other.doc == synchronizer.doc && other.index > index {
			other.index--
		}
	}
	s.logger.LogSync(SyncLogEvent{Slot: index, Action: "remove_slot", Key: id})
	return id, nil
}

// Digest runs passes until every watcher is clean. It returns the joined
// listener errors, ctx.Err() when cancelled between passes, and a
// *DigestLimitError when the configured pass limit is exhausted.
func (s *Scheduler) Digest(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	digestID := uuid.NewString()
	started := s.clock()
	s.notify(Event{Kind: EventDigestStarted, DigestID: digestID, Slot: -1, Time: started})

	var errs []error
	var dirty []string
	pass := 0
	for pass < s.maxPasses {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return s.finish(digestID, started, pass, errs)
		}
		pass++
		dirty = dirty[:0]
		for _, w := range append([]*watch(nil), s.watches...) {
			fired, err := s.evaluate(ctx, digestID, pass, w)
			if !fired {
				continue
			}
			dirty = append(dirty, w.label())
			if err != nil {
				errs = append(errs, err)
			}
		}
		if len(dirty) == 0 {
			return s.finish(digestID, started, pass, errs)
		}
	}

	limit := &DigestLimitError{Passes: pass, Dirty: append([]string(nil), dirty...)}
	s.notify(Event{Kind: EventDigestLimit, DigestID: digestID, Slot: -1, Pass: pass, Err: limit, Time: s.clock()})
	s.logger.LogSync(SyncLogEvent{DigestID: digestID, Slot: -1, Action: "digest_limit", Pass: pass, Err: limit})
	errs = append(errs, limit)
	return s.finish(digestID, started, pass, errs)
}

func (s *Scheduler) evaluate(ctx context.Context, digestID string, pass int, w *watch) (bool, error) {
	value := w.Get()
	if w.seeded && w.Equal(value, w.last) {
		return false, nil
	}
	old := w.last
	if !w.seeded {
		old = value
	}
	w.last = value
	w.seeded = true

	slot := w.slot()
	if w.owner != nil {
		w.owner.setTrace(digestID, pass)
		defer w.owner.setTrace("", 0)
	}
	began := s.clock()
	var err error
	if w.Listener != nil {
		err = w.Listener(value, old)
	}
	elapsed := s.clock().Sub(began)
	s.notify(Event{
		Kind:     EventWatchFired,
		DigestID: digestID,
		Slot:     slot,
		Watcher:  w.Name,
		Pass:     pass,
		Err:      err,
		Time:     began,
		Elapsed:  elapsed,
	})
	if err == nil {
		return true, nil
	}

	s.logger.LogSync(SyncLogEvent{
		DigestID: digestID,
		Slot:     slot,
		Action:   "watch " + w.Name,
		Pass:     pass,
		Duration: elapsed,
		Err:      err,
	})
	var collision *CollisionError
	if errors.As(err, &collision) {
		s.notify(Event{
			Kind:     EventSyncConflict,
			DigestID: digestID,
			Slot:     slot,
			Watcher:  w.Name,
			Pass:     pass,
			Key:      collision.Key,
			Err:      err,
			Time:     s.clock(),
		})
		s.reportConflict(ctx, digestID, w.owner, collision)
	}
	return true, err
}

func (s *Scheduler) reportConflict(ctx context.Context, digestID string, owner *Synchronizer, collision *CollisionError) {
	if !s.activity.Enabled() {
		return
	}
	slot := collision.Slot
	input := activity.ToolEventInput{
		Key:  collision.Key,
		Slot: &slot,
		Metadata: map[string]any{
			"owner":     collision.Owner,
			"digest_id": digestID,
		},
		OccurredAt: s.clock(),
	}
	if owner != nil {
		input.PreviousKey = owner.bound
	}
	if err := s.activity.Emit(ctx, activity.BuildToolConflictEvent(input)); err != nil {
		s.logger.LogSync(SyncLogEvent{DigestID: digestID, Slot: slot, Action: "activity", Key: collision.Key, Err: err})
	}
}

func (s *Scheduler) finish(digestID string, started time.Time, passes int, errs []error) error {
	err := errors.Join(errs...)
	finished := s.clock()
	s.notify(Event{
		Kind:     EventDigestFinished,
		DigestID: digestID,
		Slot:     -1,
		Pass:     passes,
		Err:      err,
		Time:     finished,
		Elapsed:  finished.Sub(started),
	})
	s.logger.LogSync(SyncLogEvent{
		DigestID: digestID,
		Slot:     -1,
		Action:   "digest",
		Pass:     passes,
		Duration: finished.Sub(started),
		Err:      err,
	})
	return err
}

func (s *Scheduler) notify(event Event) {
	if s.observer != nil {
		s.observer.Handle(event)
	}
}

func (w *watch) slot() int {
	if w.owner == nil {
		return -1
	}
	return w.owner.index
}

func (w *watch) label() string {
	if w.owner == nil {
		return w.Name
	}
	return fmt.Sprintf("slot:%d/%s", w.owner.index, w.Name)
}
