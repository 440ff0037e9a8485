package toolsync

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"

	"github.com/goliatone/go-toolsync/pkg/activity"
)

func digest(t *testing.T, sched *Scheduler) {
	t.Helper()
	if err := sched.Digest(context.Background()); err != nil {
		t.Fatalf("Digest: %v", err)
	}
}

func TestScenarioUnnamedSlotStaysUnregistered(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	s, err := sched.AddSlot(doc)
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	rev := doc.Revision()
	digest(t, sched)

	if s.Identifier() != "" || len(doc.Keys()) != 0 || doc.Revision() != rev {
		t.Fatalf("expected untouched registry, id=%q keys=%v rev %d->%d", s.Identifier(), doc.Keys(), rev, doc.Revision())
	}
	if !s.Properties().Equal(DefaultProperties()) {
		t.Fatalf("expected default bag, got %v", s.Properties())
	}
}

func TestScenarioEditAndRename(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	s, _ := sched.AddSlot(doc)
	digest(t, sched)

	s.EditProperties(func(p *Properties) { p.X = "revenue" })
	digest(t, sched)
	if s.Identifier() != "scatter-revenue" {
		t.Fatalf("expected scatter-revenue, got %q", s.Identifier())
	}
	entry, ok := doc.Get("scatter-revenue")
	if !ok || !entry.Equal(Properties{X: "revenue"}) {
		t.Fatalf("expected published bag, got %v ok=%v", entry, ok)
	}
	checkInvariants(t, doc, s)

	s.EditProperties(func(p *Properties) { p.X = "cost" })
	digest(t, sched)
	if s.Identifier() != "scatter-cost" {
		t.Fatalf("expected scatter-cost, got %q", s.Identifier())
	}
	if _, ok := doc.Get("scatter-revenue"); ok {
		t.Fatal("expected scatter-revenue removed")
	}
	if keys := doc.Keys(); len(keys) != 1 || keys[0] != "scatter-cost" {
		t.Fatalf("unexpected keys %v", keys)
	}
	checkInvariants(t, doc, s)
}

func TestScenarioExternalEntryOverwritesLocal(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler(WithResolver(StickyResolver{Inner: FieldResolver{Prefix: "scatter"}}))
	s, _ := sched.AddSlot(doc)
	s.EditProperties(func(p *Properties) { p.X = "revenue" })
	digest(t, sched)

	external := Properties{Enabled: true, Title: true, X: "a", Y: "b"}
	doc.Set("scatter-revenue", external)
	digest(t, sched)

	if s.Identifier() != "scatter-revenue" || !s.Properties().Equal(external) {
		t.Fatalf("expected local state to follow registry, got %q %v", s.Identifier(), s.Properties())
	}
	checkInvariants(t, doc, s)
}

func TestScenarioExternalEntryWithDerivedNaming(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	s, _ := sched.AddSlot(doc)
	s.EditProperties(func(p *Properties) { p.X = "revenue" })
	digest(t, sched)

	external := Properties{Enabled: true, Title: true, X: "a", Y: "b"}
	doc.Set("scatter-revenue", external)
	digest(t, sched)

	// the pulled bag derives a new name, so the entry follows it
	if !s.Properties().Equal(external) || s.Identifier() != "scatter-a-b" {
		t.Fatalf("unexpected state %q %v", s.Identifier(), s.Properties())
	}
	if keys := doc.Keys(); len(keys) != 1 || keys[0] != "scatter-a-b" {
		t.Fatalf("unexpected keys %v", keys)
	}
	checkInvariants(t, doc, s)
}

func TestScenarioIdentifierClearedExternally(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	s, _ := sched.AddSlot(doc)
	s.EditProperties(func(p *Properties) { p.X = "cost" })
	digest(t, sched)

	s.SetIdentifier("")
	digest(t, sched)

	if _, ok := doc.Get("scatter-cost"); ok {
		t.Fatal("expected scatter-cost removed")
	}
	if doc.SlotID(0) != "" || s.Identifier() != "" {
		t.Fatalf("expected unnamed slot, got slot=%q local=%q", doc.SlotID(0), s.Identifier())
	}
	if !s.Properties().Equal(Properties{X: "cost"}) {
		t.Fatalf("expected local bag retained, got %v", s.Properties())
	}
	rev := doc.Revision()
	digest(t, sched)
	if doc.Revision() != rev {
		t.Fatal("expected quiescence after clearing")
	}
}

func TestDigestIsIdempotent(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	s, _ := sched.AddSlot(doc)
	s.EditProperties(func(p *Properties) { p.X = "a" })
	digest(t, sched)

	rev := doc.Revision()
	var fired int
	sched.observer = ObserverFunc(func(e Event) {
		if e.Kind == EventWatchFired {
			fired++
		}
	})
	digest(t, sched)
	s.SetProperties(s.Properties())
	digest(t, sched)
	if doc.Revision() != rev || fired != 0 {
		t.Fatalf("expected no writes or firings, rev %d->%d fired=%d", rev, doc.Revision(), fired)
	}
}

func TestStaleRegistryReadResetsToDefaults(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	s, _ := sched.AddSlot(doc)
	s.EditProperties(func(p *Properties) { p.X = "a"; p.Enabled = true })
	digest(t, sched)

	doc.Delete("scatter-a")
	digest(t, sched)

	if !s.Properties().Equal(DefaultProperties()) {
		t.Fatalf("expected default bag after stale read, got %v", s.Properties())
	}
	if s.Identifier() != "scatter-a" {
		t.Fatalf("expected identifier kept, got %q", s.Identifier())
	}
	checkInvariants(t, doc, s)
}

func TestExternalDescriptorChanges(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler(WithResolver(StickyResolver{Inner: FieldResolver{Prefix: "scatter"}}))
	s, _ := sched.AddSlot(doc)
	s.EditProperties(func(p *Properties) { p.X = "a" })
	digest(t, sched)

	doc.Set("imported", Properties{Title: true, X: "imported"})
	doc.SetSlotID(0, "imported")
	digest(t, sched)
	if s.Identifier() != "imported" || !s.Properties().Equal(Properties{Title: true, X: "imported"}) {
		t.Fatalf("expected pull of imported entry, got %q %v", s.Identifier(), s.Properties())
	}
	if _, ok := doc.Get("scatter-a"); ok {
		t.Fatal("expected previous key released")
	}
	checkInvariants(t, doc, s)

	doc.SetSlotID(0, "")
	digest(t, sched)
	if s.Identifier() != "" || len(doc.Keys()) != 0 {
		t.Fatalf("expected release on external clear, got %q keys=%v", s.Identifier(), doc.Keys())
	}
}

func TestExternalDescriptorCollisionIsReverted(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	first, _ := sched.AddSlot(doc)
	second, _ := sched.AddSlot(doc)
	first.EditProperties(func(p *Properties) { p.X = "a" })
	second.EditProperties(func(p *Properties) { p.X = "b" })
	digest(t, sched)

	doc.SetSlotID(1, "scatter-a")
	err := sched.Digest(context.Background())
	if !errors.Is(err, ErrIdentifierCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
	if doc.SlotID(1) != "scatter-b" || second.Identifier() != "scatter-b" {
		t.Fatalf("expected descriptor restored, got %q", doc.SlotID(1))
	}
	checkInvariants(t, doc, first, second)
}

func TestCollisionIsRejectedAndReported(t *testing.T) {
	capture := &activity.CaptureHook{}
	var conflicts []Event
	doc := NewDocument()
	sched := NewScheduler(
		WithActivityHooks(activity.Hooks{capture}),
		WithActivityActor("editor"),
		WithObserver(ObserverFunc(func(e Event) {
			if e.Kind == EventSyncConflict {
				conflicts = append(conflicts, e)
			}
		})),
	)
	first, _ := sched.AddSlot(doc)
	second, _ := sched.AddSlot(doc)
	first.EditProperties(func(p *Properties) { p.X = "revenue" })
	digest(t, sched)

	second.EditProperties(func(p *Properties) { p.X = "revenue" })
	err := sched.Digest(context.Background())
	var collision *CollisionError
	if !errors.As(err, &collision) || collision.Owner != 0 || collision.Slot != 1 {
		t.Fatalf("expected collision with slot 0, got %v", err)
	}
	if second.Identifier() != "" || second.Conflict() == nil {
		t.Fatalf("expected second slot unnamed with conflict, got %q %v", second.Identifier(), second.Conflict())
	}
	entry, _ := doc.Get("scatter-revenue")
	if !entry.Equal(first.Properties()) {
		t.Fatal("owner entry must not be overwritten")
	}
	if len(conflicts) != 1 || conflicts[0].Key != "scatter-revenue" || conflicts[0].Slot != 1 {
		t.Fatalf("unexpected conflict events %+v", conflicts)
	}
	if len(capture.Events) != 1 {
		t.Fatalf("expected 1 activity event, got %d", len(capture.Events))
	}
	event := capture.Events[0]
	if event.Verb != activity.VerbToolConflict || event.ActorID != "editor" || event.ObjectID != "scatter-revenue" {
		t.Fatalf("unexpected activity event %+v", event)
	}
	checkInvariants(t, doc, first, second)

	// a quiet digest does not repeat the conflict
	digest(t, sched)
}

func TestListenerErrorsDoNotAbortThePass(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	first, _ := sched.AddSlot(doc)
	second, _ := sched.AddSlot(doc)
	third, _ := sched.AddSlot(doc)
	first.EditProperties(func(p *Properties) { p.X = "a" })
	digest(t, sched)

	second.EditProperties(func(p *Properties) { p.X = "a" })
	third.EditProperties(func(p *Properties) { p.X = "c" })
	if err := sched.Digest(context.Background()); !errors.Is(err, ErrIdentifierCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
	if third.Identifier() != "scatter-c" {
		t.Fatalf("expected third slot published, got %q", third.Identifier())
	}
	checkInvariants(t, doc, first, second, third)
}

func TestUniquenessUnderDisjointResolution(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	var syncs []*Synchronizer
	fields := []string{"a", "b", "c", "d"}
	for range fields {
		s, _ := sched.AddSlot(doc)
		syncs = append(syncs, s)
	}
	for round := 0; round < 3; round++ {
		for i, s := range syncs {
			x := fields[i] + string(rune('0'+round))
			s.EditProperties(func(p *Properties) { p.X = x; p.Enabled = round%2 == 0 })
		}
		digest(t, sched)
		checkInvariants(t, doc, syncs...)
		for _, s := range syncs {
			if s.Conflict() != nil {
				t.Fatalf("unexpected conflict %v", s.Conflict())
			}
		}
	}
	if len(doc.Keys()) != len(syncs) {
		t.Fatalf("expected one key per slot, got %v", doc.Keys())
	}
}

func TestRandomEditsPreserveInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	doc := NewDocument()
	sched := NewScheduler(WithMaxPasses(6))
	var syncs []*Synchronizer
	for i := 0; i < 3; i++ {
		s, _ := sched.AddSlot(doc)
		syncs = append(syncs, s)
	}
	values := []string{"", "a", "b", "c"}

	for step := 0; step < 300; step++ {
		s := syncs[rng.IntN(len(syncs))]
		switch rng.IntN(5) {
		case 0:
			s.SetIdentifier("")
		case 1:
			s.SetIdentifier("custom-" + values[rng.IntN(len(values))])
		case 2:
			y := values[rng.IntN(len(values))]
			s.EditProperties(func(p *Properties) { p.Y = y })
		default:
			x := values[rng.IntN(len(values))]
			s.EditProperties(func(p *Properties) { p.X = x; p.Title = !p.Title })
		}
		if err := sched.Digest(context.Background()); err != nil && !errors.Is(err, ErrIdentifierCollision) {
			t.Fatalf("step %d: unexpected digest error %v", step, err)
		} else if errors.Is(err, ErrDigestLimit) {
			t.Fatalf("step %d: digest did not settle: %v", step, err)
		}
		checkInvariants(t, doc, syncs...)

		rev := doc.Revision()
		digest(t, sched)
		if doc.Revision() != rev {
			t.Fatalf("step %d: second digest wrote to the registry", step)
		}
	}
}

func TestWatcherOrderDoesNotChangeOutcome(t *testing.T) {
	run := func(reverse bool) DocumentSnapshot {
		doc := NewDocument()
		sched := NewScheduler()
		var syncs []*Synchronizer
		var watchers []Watcher
		for i := 0; i < 2; i++ {
			s, err := NewSynchronizer(doc, doc.AddSlot(""))
			if err != nil {
				t.Fatalf("NewSynchronizer: %v", err)
			}
			syncs = append(syncs, s)
			watchers = append(watchers, s.Watchers()...)
		}
		if reverse {
			for i, j := 0, len(watchers)-1; i < j; i, j = i+1, j-1 {
				watchers[i], watchers[j] = watchers[j], watchers[i]
			}
		}
		for _, w := range watchers {
			sched.Watch(w)
		}

		steps := []func(){
			func() { syncs[0].EditProperties(func(p *Properties) { p.X = "revenue" }) },
			func() { syncs[1].EditProperties(func(p *Properties) { p.X = "cost"; p.Y = "month" }) },
			func() {
				syncs[0].EditProperties(func(p *Properties) { p.X = "cost" })
				syncs[0].SetIdentifier("manual")
			},
			func() { doc.Set("scatter-cost-month", Properties{Enabled: true, X: "cost", Y: "month"}) },
			func() { syncs[1].SetIdentifier("") },
		}
		for _, step := range steps {
			step()
			if err := sched.Digest(context.Background()); err != nil {
				t.Fatalf("reverse=%v: %v", reverse, err)
			}
			checkInvariants(t, doc, syncs...)
		}
		return doc.Snapshot()
	}

	forward, backward := run(false), run(true)
	if len(forward.Tools) != len(backward.Tools) {
		t.Fatalf("tools differ: %v vs %v", forward.Tools, backward.Tools)
	}
	for key, props := range forward.Tools {
		if other, ok := backward.Tools[key]; !ok || !other.Equal(props) {
			t.Fatalf("entry %q differs: %v vs %v", key, props, other)
		}
	}
	for i := range forward.Slots {
		if forward.Slots[i] != backward.Slots[i] {
			t.Fatalf("slot %d differs: %v vs %v", i, forward.Slots[i], backward.Slots[i])
		}
	}
}

func TestDigestLimit(t *testing.T) {
	var limitEvents int
	sched := NewScheduler(WithMaxPasses(4), WithObserver(ObserverFunc(func(e Event) {
		if e.Kind == EventDigestLimit {
			limitEvents++
		}
	})))
	counter := 0
	sched.Watch(Watcher{
		Name: "unstable",
		Get:  func() any { counter++; return counter },
	})

	err := sched.Digest(context.Background())
	var limit *DigestLimitError
	if !errors.As(err, &limit) || !errors.Is(err, ErrDigestLimit) {
		t.Fatalf("expected digest limit, got %v", err)
	}
	if limit.Passes != 4 || len(limit.Dirty) != 1 || limit.Dirty[0] != "unstable" {
		t.Fatalf("unexpected limit error %+v", limit)
	}
	if limitEvents != 1 {
		t.Fatalf("expected 1 limit event, got %d", limitEvents)
	}
}

func TestWatchFiresInitiallyAndDeregisters(t *testing.T) {
	sched := NewScheduler()
	value := "a"
	type call struct{ newValue, oldValue any }
	var calls []call
	stop := sched.Watch(Watcher{
		Name: "value",
		Get:  func() any { return value },
		Listener: func(newValue, oldValue any) error {
			calls = append(calls, call{newValue, oldValue})
			return nil
		},
	})
	digest(t, sched)
	value = "b"
	digest(t, sched)
	stop()
	value = "c"
	digest(t, sched)

	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %+v", calls)
	}
	if calls[0].newValue != "a" || calls[0].oldValue != "a" {
		t.Fatalf("expected initial call with old == new, got %+v", calls[0])
	}
	if calls[1].newValue != "b" || calls[1].oldValue != "a" {
		t.Fatalf("unexpected change call %+v", calls[1])
	}
}

func TestWatchComparesUncomparableValuesDeeply(t *testing.T) {
	sched := NewScheduler()
	tags := []string{"a"}
	fired := 0
	sched.Watch(Watcher{
		Name: "tags",
		Get:  func() any { return append([]string(nil), tags...) },
		Listener: func(_, _ any) error {
			fired++
			return nil
		},
	})
	digest(t, sched)
	digest(t, sched)
	if fired != 1 {
		t.Fatalf("expected equal slices to stay clean, fired %d times", fired)
	}
	tags = append(tags, "b")
	digest(t, sched)
	if fired != 2 {
		t.Fatalf("expected changed slice to fire, fired %d times", fired)
	}
}

func TestDigestEvents(t *testing.T) {
	var events []Event
	doc := NewDocument()
	sched := NewScheduler(WithObserver(ObserverFunc(func(e Event) { events = append(events, e) })))
	if _, err := sched.AddSlot(doc); err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	digest(t, sched)

	kinds := make([]EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	want := []EventKind{EventDigestStarted, EventWatchFired, EventWatchFired, EventWatchFired, EventDigestFinished}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
	if _, err := uuid.Parse(events[0].DigestID); err != nil {
		t.Fatalf("expected uuid digest id, got %q", events[0].DigestID)
	}
	for _, e := range events {
		if e.DigestID != events[0].DigestID {
			t.Fatal("expected one digest id per digest")
		}
	}
	if events[1].Watcher != WatchIdentifier || events[1].Slot != 0 || events[1].Pass != 1 {
		t.Fatalf("unexpected watch event %+v", events[1])
	}
	if last := events[len(events)-1]; last.Pass != 2 {
		t.Fatalf("expected 2 passes, got %d", last.Pass)
	}
}

func TestDigestHonoursCancellation(t *testing.T) {
	sched := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sched.Digest(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRemoveSlotShiftsLaterSlots(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	var syncs []*Synchronizer
	for _, x := range []string{"a", "b", "c"} {
		s, _ := sched.AddSlot(doc)
		s.EditProperties(func(p *Properties) { p.X = x })
		syncs = append(syncs, s)
	}
	digest(t, sched)

	id, err := sched.RemoveSlot(syncs[0])
	if err != nil || id != "scatter-a" {
		t.Fatalf("RemoveSlot: %q %v", id, err)
	}
	if _, ok := doc.Get("scatter-a"); ok {
		t.Fatal("expected removed slot entry deleted")
	}
	if syncs[1].Index() != 0 || syncs[2].Index() != 1 {
		t.Fatalf("expected indices to shift, got %d %d", syncs[1].Index(), syncs[2].Index())
	}
	rev := doc.Revision()
	digest(t, sched)
	if doc.Revision() != rev {
		t.Fatal("expected no writes after removal")
	}

	syncs[2].EditProperties(func(p *Properties) { p.X = "d" })
	digest(t, sched)
	if doc.SlotID(1) != "scatter-d" {
		t.Fatalf("expected shifted slot to rename, got %q", doc.SlotID(1))
	}
	checkInvariants(t, doc, syncs[1], syncs[2])

	syncs[0].EditProperties(func(p *Properties) { p.X = "z" })
	digest(t, sched)
	if _, ok := doc.Get("scatter-z"); ok {
		t.Fatal("detached synchronizer must not publish")
	}
}

func TestAttachIsIdempotentAndDetachStopsReconciliation(t *testing.T) {
	doc := NewDocument()
	sched := NewScheduler()
	s, _ := sched.AddSlot(doc)
	sched.Attach(s)
	var fired int
	sched.observer = ObserverFunc(func(e Event) {
		if e.Kind == EventWatchFired {
			fired++
		}
	})
	digest(t, sched)
	if fired != 3 {
		t.Fatalf("expected 3 firings for one attachment, got %d", fired)
	}

	sched.Detach(s)
	s.EditProperties(func(p *Properties) { p.X = "a" })
	digest(t, sched)
	if len(doc.Keys()) != 0 {
		t.Fatalf("expected detached slot to stay unpublished, got %v", doc.Keys())
	}
}
