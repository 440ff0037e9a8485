package toolsync

import (
	"strings"
	"unicode"
)

// IdentityResolver computes the identifier that should represent a tool given
// its property bag and the identifier it currently has. An empty result means
// the tool is not nameable yet. Implementations must be deterministic and
// return previousID when nothing needs to change.
type IdentityResolver interface {
	Resolve(props Properties, previousID string) (string, error)
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(props Properties, previousID string) (string, error)

// Resolve implements IdentityResolver.
func (f ResolverFunc) Resolve(props Properties, previousID string) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(props, previousID)
}

// FieldResolver derives the identifier from the bound X/Y fields, e.g.
// "scatter-revenue" or "scatter-revenue-cost". A bag without any field binding
// is not nameable.
type FieldResolver struct {
	Prefix    string
	Separator string
}

// Resolve implements IdentityResolver.
func (r FieldResolver) Resolve(props Properties, _ string) (string, error) {
	sep := r.Separator
	if sep == "" {
		sep = "-"
	}
	parts := make([]string, 0, 3)
	for _, field := range []string{props.X, props.Y} {
		if slug := Slug(field); slug != "" {
			parts = append(parts, slug)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	if prefix := Slug(r.Prefix); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, sep), nil
}

// StickyResolver keeps an identifier once one has been assigned and only asks
// Inner while the tool is still unnamed.
type StickyResolver struct {
	Inner IdentityResolver
}

// Resolve implements IdentityResolver.
func (r StickyResolver) Resolve(props Properties, previousID string) (string, error) {
	if previousID != "" {
		return previousID, nil
	}
	if r.Inner == nil {
		return "", nil
	}
	return r.Inner.Resolve(props, previousID)
}

// ResolveSlot forwards the slot index to Inner when it accepts one.
func (r StickyResolver) ResolveSlot(props Properties, previousID string, index int) (string, error) {
	if previousID != "" {
		return previousID, nil
	}
	if r.Inner == nil {
		return "", nil
	}
	return resolveFor(r.Inner, props, previousID, index)
}

// Slug lower-cases value and collapses every run of characters that are not
// letters or digits into a single dash.
func Slug(value string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.TrimSpace(value) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingDash = true
	}
	return b.String()
}

// SlotResolver is implemented by resolvers that also want the slot index the
// tool occupies.
type SlotResolver interface {
	ResolveSlot(props Properties, previousID string, index int) (string, error)
}

func resolveFor(resolver IdentityResolver, props Properties, previousID string, index int) (string, error) {
	if slotted, ok := resolver.(SlotResolver); ok {
		return slotted.ResolveSlot(props, previousID, index)
	}
	return resolver.Resolve(props, previousID)
}
