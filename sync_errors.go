package toolsync

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentifierCollision indicates a slot resolved to a key another slot
	// already references.
	ErrIdentifierCollision = errors.New("toolsync: identifier collision")
	// ErrDigestLimit indicates change detection did not settle within the
	// configured number of passes.
	ErrDigestLimit = errors.New("toolsync: digest pass limit reached")
	// ErrResolve indicates the identity resolver failed.
	ErrResolve = errors.New("toolsync: identity resolver failed")
)

// CollisionError carries the key that was rejected and the slot holding it.
type CollisionError struct {
	Key   string
	Slot  int
	Owner int
}

func (e *CollisionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("toolsync: slot %d cannot take identifier %q: held by slot %d", e.Slot, e.Key, e.Owner)
}

func (e *CollisionError) Unwrap() error {
	return ErrIdentifierCollision
}

// DigestLimitError reports which watchers were still dirty on the last pass.
type DigestLimitError struct {
	Passes int
	Dirty  []string
}

func (e *DigestLimitError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("toolsync: digest did not settle after %d passes (dirty: %v)", e.Passes, e.Dirty)
}

func (e *DigestLimitError) Unwrap() error {
	return ErrDigestLimit
}

// ResolveError wraps a resolver failure for one slot.
type ResolveError struct {
	Slot int
	Err  error
}

func (e *ResolveError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("toolsync: resolve identifier for slot %d: %v", e.Slot, e.Err)
}

// Unwrap exposes both ErrResolve and the resolver's own error.
func (e *ResolveError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return []error{ErrResolve, e.Err}
}
