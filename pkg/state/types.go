package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	toolsync "github.com/goliatone/go-toolsync"
)

var ErrETagMismatch = errors.New("state: etag mismatch")

// ErrInvalidSnapshot reports a snapshot whose slots and tools disagree.
var ErrInvalidSnapshot = errors.New("state: invalid snapshot")

// Ref identifies one persisted document.
type Ref struct {
	Workspace string
	Document  string
}

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads/saves one snapshot for a single document reference.
type Store interface {
	Load(ctx context.Context, ref Ref) (snapshot toolsync.DocumentSnapshot, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot toolsync.DocumentSnapshot, meta Meta) (Meta, error)
}

// Mutator edits a live document inside Syncer.Mutate.
type Mutator func(*toolsync.Document) error

// Identifier returns the canonical storage key for r.
func (r Ref) Identifier() (string, error) {
	document := strings.TrimSpace(r.Document)
	if document == "" {
		return "", fmt.Errorf("state: document is required")
	}
	if strings.Contains(document, "/") {
		return "", fmt.Errorf("state: document %q must not contain '/'", document)
	}
	workspace := strings.TrimSpace(r.Workspace)
	if workspace == "" {
		return "document/" + document, nil
	}
	return fmt.Sprintf("workspace/%s/document/%s", workspace, document), nil
}

// Validate checks that every named slot has a registry entry and that no
// identifier is referenced by two slots.
func Validate(snapshot toolsync.DocumentSnapshot) error {
	seen := make(map[string]int, len(snapshot.Slots))
	for index, slot := range snapshot.Slots {
		if slot.ID == "" {
			continue
		}
		if previous, dup := seen[slot.ID]; dup {
			return fmt.Errorf("%w: slots %d and %d both reference %q", ErrInvalidSnapshot, previous, index, slot.ID)
		}
		seen[slot.ID] = index
		if _, ok := snapshot.Tools[slot.ID]; !ok {
			return fmt.Errorf("%w: slot %d references missing tool %q", ErrInvalidSnapshot, index, slot.ID)
		}
	}
	return nil
}

// Syncer moves document snapshots between a Store and live documents.
type Syncer struct {
	Store Store
	Now   func() time.Time
	// Documents builds the Document returned by Mutate. NewDocument is used
	// when nil.
	Documents func() *toolsync.Document
}

// Load restores the persisted snapshot for ref into doc. ok is false when
// nothing has been saved yet; doc is left untouched in that case.
func (s Syncer) Load(ctx context.Context, ref Ref, doc *toolsync.Document) (Meta, bool, error) {
	if s.Store == nil {
		return Meta{}, false, fmt.Errorf("state: store is required")
	}
	if doc == nil {
		return Meta{}, false, fmt.Errorf("state: document is required")
	}
	snapshot, meta, ok, err := s.Store.Load(ctx, ref)
	if err != nil {
		return Meta{}, false, fmt.Errorf("state: load %q: %w", ref.Document, err)
	}
	if !ok {
		return Meta{}, false, nil
	}
	doc.Restore(snapshot)
	return meta, true, nil
}

// Save persists the current content of doc, stamping a new snapshot id and
// ETag. A non-empty meta.ETag must match the stored one.
func (s Syncer) Save(ctx context.Context, ref Ref, doc *toolsync.Document, meta Meta) (Meta, error) {
	if s.Store == nil {
		return Meta{}, fmt.Errorf("state: store is required")
	}
	if doc == nil {
		return Meta{}, fmt.Errorf("state: document is required")
	}
	_, loaded, ok, err := s.Store.Load(ctx, ref)
	if err != nil {
		return Meta{}, fmt.Errorf("state: load %q: %w", ref.Document, err)
	}
	if !ok {
		loaded = Meta{}
	}
	if err := checkETag(meta, loaded); err != nil {
		return loaded, err
	}
	return s.save(ctx, ref, doc.Snapshot(), mergeMeta(loaded, meta))
}

// Mutate loads the document for ref, applies fn, validates the result and
// saves it. A non-empty meta.ETag must match the stored one. The returned
// document holds the saved content.
func (s Syncer) Mutate(ctx context.Context, ref Ref, meta Meta, fn Mutator) (*toolsync.Document, Meta, error) {
	if s.Store == nil {
		return nil, Meta{}, fmt.Errorf("state: store is required")
	}
	if fn == nil {
		return nil, Meta{}, fmt.Errorf("state: mutator is required")
	}
	if _, err := ref.Identifier(); err != nil {
		return nil, Meta{}, err
	}

	snapshot, loaded, ok, err := s.Store.Load(ctx, ref)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("state: load %q: %w", ref.Document, err)
	}
	if !ok {
		snapshot = toolsync.DocumentSnapshot{}
		loaded = Meta{}
	}
	if err := checkETag(meta, loaded); err != nil {
		return nil, loaded, err
	}

	doc := s.newDocument()
	doc.Restore(snapshot)
	if err := fn(doc); err != nil {
		return nil, loaded, err
	}
	next := doc.Snapshot()
	if err := Validate(next); err != nil {
		return nil, loaded, err
	}

	saved, err := s.save(ctx, ref, next, mergeMeta(loaded, meta))
	if err != nil {
		return nil, loaded, err
	}
	return doc, saved, nil
}

func (s Syncer) save(ctx context.Context, ref Ref, snapshot toolsync.DocumentSnapshot, meta Meta) (Meta, error) {
	meta.SnapshotID = uuid.NewString()
	meta.ETag = uuid.NewString()
	meta.UpdatedAt = s.now()
	saved, err := s.Store.Save(ctx, ref, snapshot, meta)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save %q: %w", ref.Document, err)
	}
	return saved, nil
}

func (s Syncer) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Syncer) newDocument() *toolsync.Document {
	if s.Documents != nil {
		if doc := s.Documents(); doc != nil {
			return doc
		}
	}
	return toolsync.NewDocument()
}

func checkETag(expected, loaded Meta) error {
	if expected.ETag != "" && loaded.ETag != "" && expected.ETag != loaded.ETag {
		return fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, expected.ETag, loaded.ETag)
	}
	return nil
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}
