package toolsync

import (
	"context"
	"sort"
	"sync"

	"github.com/goliatone/go-toolsync/pkg/activity"
)

// Registry is the document-wide mapping from tool identifier to property bag.
// Implementations return detached copies from Get and store detached copies
// on Set so callers never alias registry entries.
type Registry interface {
	Get(key string) (Properties, bool)
	Set(key string, props Properties)
	Delete(key string)
	// Rebind moves the entry at oldKey to newKey with props as its value. The
	// delete and the insert happen as one operation.
	Rebind(oldKey, newKey string, props Properties)
}

// SlotList is the ordered list of slot descriptors. Position is the address
// a synchronizer uses; the identifier is the registry key the slot displays.
type SlotList interface {
	Len() int
	SlotID(index int) string
	SetSlotID(index int, id string)
	// Owner returns the first slot whose identifier equals key.
	Owner(key string) (int, bool)
}

// SharedDocument is the shared store a synchronizer reconciles against.
type SharedDocument interface {
	Registry
	SlotList
}

// Slot is one element of the ordered slot list.
type Slot struct {
	ID string `json:"id,omitempty"`
}

// DocumentSnapshot is the detached, serialisable form of a Document.
type DocumentSnapshot struct {
	Tools map[string]Properties `json:"tools"`
	Slots []Slot                `json:"slots"`
}

// Clone returns a deep copy of the snapshot.
func (s DocumentSnapshot) Clone() DocumentSnapshot {
	out := DocumentSnapshot{
		Tools: make(map[string]Properties, len(s.Tools)),
		Slots: append([]Slot(nil), s.Slots...),
	}
	for key, props := range s.Tools {
		out.Tools[key] = props.Clone()
	}
	return out
}

// DocumentOption configures a Document.
type DocumentOption func(*documentConfig)

type documentConfig struct {
	hooks   activity.Hooks
	channel string
	actorID string
	logger  SyncLogger
}

// WithDocumentHooks attaches activity hooks notified on every effective
// registry mutation.
func WithDocumentHooks(hooks activity.Hooks) DocumentOption {
	return func(cfg *documentConfig) {
		cfg.hooks = cloneActivityHooks(hooks)
	}
}

// WithDocumentActor stamps emitted activity with actorID.
func WithDocumentActor(actorID string) DocumentOption {
	return func(cfg *documentConfig) {
		cfg.actorID = actorID
	}
}

// WithDocumentChannel overrides the activity channel.
func WithDocumentChannel(channel string) DocumentOption {
	return func(cfg *documentConfig) {
		cfg.channel = channel
	}
}

// WithDocumentLogger records hook failures.
func WithDocumentLogger(logger SyncLogger) DocumentOption {
	return func(cfg *documentConfig) {
		cfg.logger = logger
	}
}

// Document is the in-memory SharedDocument. It is safe for concurrent use,
// although reconciliation itself is single threaded.
type Document struct {
	mu       sync.RWMutex
	tools    map[string]Properties
	slots    []Slot
	revision uint64

	emitter *activity.Emitter
	logger  SyncLogger
}

// NewDocument returns an empty document.
func NewDocument(opts ...DocumentOption) *Document {
	cfg := documentConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	logger := cfg.logger
	if logger == nil {
		logger = noopSyncLogger{}
	}
	return &Document{
		tools: map[string]Properties{},
		emitter: activity.NewEmitter(cfg.hooks, activity.Config{
			Enabled: len(cfg.hooks) > 0,
			Channel: cfg.channel,
			ActorID: cfg.actorID,
		}),
		logger: logger,
	}
}

// Get returns a copy of the entry at key.
func (d *Document) Get(key string) (Properties, bool) {
	if key == "" {
		return Properties{}, false
	}
	d.mu.RLock()
	props, ok := d.tools[key]
	d.mu.RUnlock()
	if !ok {
		return Properties{}, false
	}
	return props.Clone(), true
}

// Set stores props under key. Writing a value equal to the current entry is a
// no-op and does not advance the revision.
func (d *Document) Set(key string, props Properties) {
	if key == "" {
		return
	}
	d.mu.Lock()
	previous, existed := d.tools[key]
	if existed && previous.Equal(props) {
		d.mu.Unlock()
		return
	}
	d.tools[key] = props.Clone()
	d.revision++
	slot := d.ownerLocked(key)
	d.mu.Unlock()

	input := activity.ToolEventInput{Key: key, Slot: slot, NewValue: props.ToMap()}
	if existed {
		input.OldValue = previous.ToMap()
		d.emit(activity.BuildToolUpdatedEvent(input))
		return
	}
	d.emit(activity.BuildToolRegisteredEvent(input))
}

// Delete removes key. Removing a missing key is a no-op.
func (d *Document) Delete(key string) {
	if key == "" {
		return
	}
	d.mu.Lock()
	previous, existed := d.tools[key]
	if !existed {
		d.mu.Unlock()
		return
	}
	delete(d.tools, key)
	d.revision++
	d.mu.Unlock()

	d.emit(activity.BuildToolRemovedEvent(activity.ToolEventInput{
		PreviousKey: key,
		OldValue:    previous.ToMap(),
	}))
}

// Rebind moves the entry from oldKey to newKey under a single lock.
func (d *Document) Rebind(oldKey, newKey string, props Properties) {
	switch {
	case newKey == "":
		d.Delete(oldKey)
		return
	case oldKey == "" || oldKey == newKey:
		d.Set(newKey, props)
		return
	}

	d.mu.Lock()
	previous, hadOld := d.tools[oldKey]
	current, hadNew := d.tools[newKey]
	if !hadOld && hadNew && current.Equal(props) {
		d.mu.Unlock()
		return
	}
	delete(d.tools, oldKey)
	d.tools[newKey] = props.Clone()
	d.revision++
	slot := d.ownerLocked(newKey)
	d.mu.Unlock()

	input := activity.ToolEventInput{Key: newKey, Slot: slot, NewValue: props.ToMap()}
	if hadOld {
		input.PreviousKey = oldKey
		input.OldValue = previous.ToMap()
		d.emit(activity.BuildToolRenamedEvent(input))
		return
	}
	if hadNew {
		input.OldValue = current.ToMap()
		d.emit(activity.BuildToolUpdatedEvent(input))
		return
	}
	d.emit(activity.BuildToolRegisteredEvent(input))
}

// SetRaw decodes an untyped payload and stores it under key.
func (d *Document) SetRaw(key string, payload map[string]any) error {
	props, err := PropertiesFromMap(key, payload)
	if err != nil {
		return err
	}
	d.Set(key, props)
	return nil
}

// Keys returns the registry keys in sorted order.
func (d *Document) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.tools))
	for key := range d.tools {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Revision advances on every effective mutation of entries or slots.
func (d *Document) Revision() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

// Len returns the number of slots.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.slots)
}

// SlotID returns the identifier of the slot at index, or "" when the slot is
// unnamed or out of range.
func (d *Document) SlotID(index int) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if index < 0 || index >= len(d.slots) {
		return ""
	}
	return d.slots[index].ID
}

// SetSlotID updates the identifier of the slot at index.
func (d *Document) SetSlotID(index int, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.slots) || d.slots[index].ID == id {
		return
	}
	d.slots[index].ID = id
	d.revision++
}

// Owner returns the first slot referencing key.
func (d *Document) Owner(key string) (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if slot := d.ownerLocked(key); slot != nil {
		return *slot, true
	}
	return -1, false
}

// AddSlot appends a slot descriptor and returns its position.
func (d *Document) AddSlot(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slots = append(d.slots, Slot{ID: id})
	d.revision++
	return len(d.slots) - 1
}

// RemoveSlot deletes the descriptor at index together with its registry
// entry. Later slots shift down by one. It returns the removed identifier.
func (d *Document) RemoveSlot(index int) (string, bool) {
	d.mu.Lock()
	if index < 0 || index >= len(d.slots) {
		d.mu.Unlock()
		return "", false
	}
	id := d.slots[index].ID
	d.slots = append(d.slots[:index], d.slots[index+1:]...)
	d.revision++
	shared := id != "" && d.ownerLocked(id) != nil
	d.mu.Unlock()

	if id != "" && !shared {
		d.Delete(id)
	}
	return id, true
}

// Slots returns a copy of the slot list.
func (d *Document) Slots() []Slot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Slot(nil), d.slots...)
}

// Snapshot returns a detached copy of the document.
func (d *Document) Snapshot() DocumentSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DocumentSnapshot{Tools: d.tools, Slots: d.slots}.Clone()
}

// Restore replaces the document content with snapshot.
func (d *Document) Restore(snapshot DocumentSnapshot) {
	cloned := snapshot.Clone()
	d.mu.Lock()
	d.tools = cloned.Tools
	d.slots = cloned.Slots
	d.revision++
	d.mu.Unlock()
}

func (d *Document) ownerLocked(key string) *int {
	if key == "" {
		return nil
	}
	for i := range d.slots {
		if d.slots[i].ID == key {
			index := i
			return &index
		}
	}
	return nil
}

func (d *Document) emit(event activity.Event) {
	if !d.emitter.Enabled() {
		return
	}
	if err := d.emitter.Emit(context.Background(), event); err != nil {
		d.logger.LogSync(SyncLogEvent{
			Action: "activity",
			Key:    event.ObjectID,
			Err:    err,
		})
	}
}
