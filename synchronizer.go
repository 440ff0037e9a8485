package toolsync

import "fmt"

// Watcher names registered by a Synchronizer.
const (
	WatchIdentifier = "identifier"
	WatchRegistry   = "registry"
	WatchProperties = "properties"
)

// Synchronizer keeps one slot's identifier and property bag consistent with a
// SharedDocument. It holds a local mirror of both plus the key it currently
// publishes, and reconciles them through three handlers that always read the
// current state, so they can run in any order.
//
// A Synchronizer is not safe for concurrent use; drive it from a Scheduler.
type Synchronizer struct {
	doc      SharedDocument
	resolver IdentityResolver
	logger   SyncLogger

	index      int
	localID    string
	localProps Properties
	bound      string
	conflict   error

	digestID string
	pass     int
}

// NewSynchronizer attaches to the slot at index. The local mirror starts from
// the slot descriptor and its registry entry, or from DefaultProperties when
// the slot is unnamed.
func NewSynchronizer(doc SharedDocument, index int, opts ...Option) (*Synchronizer, error) {
	if doc == nil {
		return nil, fmt.Errorf("toolsync: synchronizer requires a document")
	}
	if index < 0 || index >= doc.Len() {
		return nil, fmt.Errorf("toolsync: slot %d out of range (len %d)", index, doc.Len())
	}
	cfg := newConfig(opts)
	s := &Synchronizer{
		doc:        doc,
		resolver:   cfg.resolver,
		logger:     cfg.logger,
		index:      index,
		localProps: DefaultProperties(),
	}
	if id := doc.SlotID(index); id != "" {
		s.localID = id
		s.bound = id
		if props, ok := doc.Get(id); ok {
			s.localProps = props
		}
	}
	return s, nil
}

// Index returns the slot position the synchronizer addresses.
func (s *Synchronizer) Index() int {
	return s.index
}

// Identifier returns the local identifier; "" while the tool is unnamed.
func (s *Synchronizer) Identifier() string {
	return s.localID
}

// Properties returns a copy of the local property bag.
func (s *Synchronizer) Properties() Properties {
	return s.localProps.Clone()
}

// Conflict returns the last collision that was rejected, or nil once the slot
// has published successfully since.
func (s *Synchronizer) Conflict() error {
	return s.conflict
}

// SetProperties replaces the local property bag. Reconciliation happens on
// the next digest.
func (s *Synchronizer) SetProperties(props Properties) {
	s.localProps = props.Clone()
}

// EditProperties mutates a copy of the local bag in place.
func (s *Synchronizer) EditProperties(edit func(*Properties)) {
	if edit == nil {
		return
	}
	props := s.localProps.Clone()
	edit(&props)
	s.localProps = props
}

// SetIdentifier changes the local identifier. An empty id unregisters the
// tool on the next digest while keeping its local bag.
func (s *Synchronizer) SetIdentifier(id string) {
	s.localID = id
}

// Watchers returns the three change detectors driving this synchronizer.
func (s *Synchronizer) Watchers() []Watcher {
	return []Watcher{
		{
			Name:  WatchIdentifier,
			Get:   func() any { return s.localID },
			Equal: equalStrings,
			Listener: func(newValue, oldValue any) error {
				return s.OnIdentifierChanged(newValue.(string), oldValue.(string))
			},
		},
		{
			Name:  WatchRegistry,
			Get:   func() any { return s.binding() },
			Equal: equalBindings,
			Listener: func(_, _ any) error {
				return s.OnRegistryEntryChanged()
			},
		},
		{
			Name:  WatchProperties,
			Get:   func() any { return s.localProps.Clone() },
			Equal: equalProperties,
			Listener: func(_, _ any) error {
				return s.OnPropertiesChanged()
			},
		},
	}
}

// OnIdentifierChanged binds the slot descriptor to the local identifier.
// Clearing the identifier removes the published entry. A rename moves the
// entry from the previous key in one Rebind. An identifier already held by
// another slot is rejected and the previous identifier is restored.
func (s *Synchronizer) OnIdentifierChanged(newID, oldID string) error {
	switch {
	case newID == "":
		if s.bound != "" {
			s.doc.Delete(s.bound)
			s.log("release", "", s.bound, nil)
		}
		s.doc.SetSlotID(s.index, "")
		s.bound = ""
		return nil
	case newID == s.bound:
		s.doc.SetSlotID(s.index, newID)
		return nil
	}

	if owner, ok := s.otherOwner(newID); ok {
		s.localID = s.bound
		return s.reject(newID, owner)
	}

	previous := s.bound
	if _, exists := s.doc.Get(newID); exists {
		// Adopt the existing entry; the registry watcher pulls it.
		s.doc.Delete(previous)
	} else {
		s.doc.Rebind(previous, newID, s.localProps)
	}
	s.doc.SetSlotID(s.index, newID)
	s.bound = newID
	s.conflict = nil
	s.log("bind", newID, firstNonEmpty(previous, oldID), nil)
	return nil
}

// OnRegistryEntryChanged pulls the entry named by the slot descriptor into
// the local mirror. An absent entry resets the bag to defaults and
// re-initialises the entry. A descriptor renamed or cleared from outside
// releases the key this slot published before.
func (s *Synchronizer) OnRegistryEntryChanged() error {
	id := s.doc.SlotID(s.index)
	if id == "" {
		if s.bound != "" {
			s.doc.Delete(s.bound)
			s.log("release", "", s.bound, nil)
			s.bound = ""
			s.localID = ""
		}
		return nil
	}
	if id != s.bound {
		if owner, ok := s.otherOwner(id); ok {
			s.doc.SetSlotID(s.index, s.bound)
			return s.reject(id, owner)
		}
		if s.bound != "" {
			s.doc.Delete(s.bound)
		}
	}

	previous := s.bound
	s.localID = id
	s.bound = id
	props, ok := s.doc.Get(id)
	if !ok {
		props = DefaultProperties()
		s.doc.Set(id, props)
		s.log("stale_read", id, "", nil)
	} else {
		s.log("pull", id, previous, nil)
	}
	s.localProps = props
	return nil
}

// OnPropertiesChanged re-derives the identifier from the local bag and
// publishes the bag under it. An empty identifier, or no resolver at all,
// leaves an unnamed tool unregistered and a named one under its identifier.
// Writes are skipped when the registry already holds an equal bag.
func (s *Synchronizer) OnPropertiesChanged() error {
	if s.resolver == nil {
		// Naming is left to SetIdentifier; a named tool still publishes.
		if s.bound != "" {
			s.publish(s.bound)
		}
		return nil
	}
	resolved, err := resolveFor(s.resolver, s.localProps.Clone(), s.localID, s.index)
	if err != nil {
		err = &ResolveError{Slot: s.index, Err: err}
		s.log("resolve", "", s.localID, err)
		return err
	}
	if resolved == "" {
		// Not nameable: an unnamed tool stays unregistered, a named one keeps
		// its identifier.
		if s.bound != "" {
			s.publish(s.bound)
		}
		return nil
	}
	if owner, ok := s.otherOwner(resolved); ok {
		if s.bound != "" {
			s.publish(s.bound)
		}
		return s.reject(resolved, owner)
	}

	previous := s.bound
	s.localID = resolved
	if previous != "" && previous != resolved {
		s.doc.Rebind(previous, resolved, s.localProps)
		s.log("rename", resolved, previous, nil)
	} else {
		s.publish(resolved)
	}
	s.doc.SetSlotID(s.index, resolved)
	s.bound = resolved
	s.conflict = nil
	return nil
}

func (s *Synchronizer) publish(key string) {
	if current, ok := s.doc.Get(key); ok && current.Equal(s.localProps) {
		return
	}
	s.doc.Set(key, s.localProps)
	s.log("publish", key, "", nil)
}

func (s *Synchronizer) reject(key string, owner int) error {
	err := &CollisionError{Key: key, Slot: s.index, Owner: owner}
	s.conflict = err
	s.log("collision", key, s.bound, err)
	return err
}

// otherOwner reports a slot other than this one whose descriptor names key.
func (s *Synchronizer) otherOwner(key string) (int, bool) {
	for i := 0; i < s.doc.Len(); i++ {
		if i != s.index && s.doc.SlotID(i) == key {
			return i, true
		}
	}
	return -1, false
}

func (s *Synchronizer) binding() binding {
	b := binding{id: s.doc.SlotID(s.index)}
	if b.id != "" {
		b.props, b.present = s.doc.Get(b.id)
	}
	return b
}

func (s *Synchronizer) setTrace(digestID string, pass int) {
	s.digestID = digestID
	s.pass = pass
}

func (s *Synchronizer) log(action, key, previous string, err error) {
	s.logger.LogSync(SyncLogEvent{
		DigestID:    s.digestID,
		Slot:        s.index,
		Action:      action,
		Key:         key,
		PreviousKey: previous,
		Pass:        s.pass,
		Err:         err,
	})
}

// binding is what the registry watcher compares: the descriptor identifier
// and the entry it names.
type binding struct {
	id      string
	present bool
	props   Properties
}

func equalStrings(a, b any) bool {
	return a.(string) == b.(string)
}

func equalBindings(a, b any) bool {
	x, y := a.(binding), b.(binding)
	return x.id == y.id && x.present == y.present && x.props.Equal(y.props)
}

func equalProperties(a, b any) bool {
	return a.(Properties).Equal(b.(Properties))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
