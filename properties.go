package toolsync

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/goliatone/go-toolsync/internal/hydrate"
	"github.com/goliatone/go-toolsync/layering"
)

// Properties is the configuration payload for one tool instance. Extra holds
// tool specific settings that ride along with the synchronized bag.
type Properties struct {
	Enabled bool           `json:"enabled"`
	Title   bool           `json:"title"`
	X       string         `json:"X"`
	Y       string         `json:"Y"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// DefaultProperties returns the bag a slot starts with before it is named.
func DefaultProperties() Properties {
	return Properties{}
}

// Clone returns a deep copy of p.
func (p Properties) Clone() Properties {
	return layering.Clone(p)
}

// Equal reports deep equality. A nil Extra equals an empty one.
func (p Properties) Equal(other Properties) bool {
	if p.Enabled != other.Enabled || p.Title != other.Title || p.X != other.X || p.Y != other.Y {
		return false
	}
	if len(p.Extra) == 0 && len(other.Extra) == 0 {
		return true
	}
	return reflect.DeepEqual(p.Extra, other.Extra)
}

// IsZero reports whether p still holds the default values.
func (p Properties) IsZero() bool {
	return p.Equal(DefaultProperties())
}

// ToMap flattens the bag into the untyped form used by expression resolvers
// and persisted documents.
func (p Properties) ToMap() map[string]any {
	out := map[string]any{
		"enabled": p.Enabled,
		"title":   p.Title,
		"X":       p.X,
		"Y":       p.Y,
	}
	if len(p.Extra) > 0 {
		out["extra"] = layering.Clone(p.Extra)
	}
	return out
}

// String renders the bag as compact JSON for logs.
func (p Properties) String() string {
	raw, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

var propertiesDecoder = hydrate.NewDecoder(
	hydrate.WithBase(DefaultProperties),
	hydrate.WithPreHook[Properties](foldPropertyPayload),
	hydrate.WithPostHook[Properties](compactExtra),
)

// PropertiesFromMap decodes an untyped payload, such as an entry pushed by
// another component, into a property bag. Missing fields keep their defaults.
// Lower-case x and y are accepted for X and Y, and keys the bag does not know
// are kept in Extra rather than dropped.
func PropertiesFromMap(key string, payload map[string]any) (Properties, error) {
	return propertiesDecoder.Decode(hydrate.Context{Key: key}, payload)
}

var propertyFields = map[string]string{
	"enabled": "enabled",
	"title":   "title",
	"x":       "X",
	"y":       "Y",
	"extra":   "extra",
}

func foldPropertyPayload(_ hydrate.Context, payload map[string]any) (map[string]any, error) {
	extra := map[string]any{}
	if raw, ok := payload["extra"]; ok && raw != nil {
		nested, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("extra must be an object, got %T", raw)
		}
		extra = nested
	}

	out := make(map[string]any, len(payload))
	for key, value := range payload {
		field, known := propertyFields[strings.ToLower(key)]
		switch {
		case field == "extra":
		case !known:
			if _, taken := extra[key]; !taken {
				extra[key] = value
			}
		case key == field:
			out[field] = value
		default:
			// the exact spelling wins over an alias
			if _, set := payload[field]; !set {
				out[field] = value
			}
		}
	}
	if len(extra) > 0 {
		out["extra"] = extra
	}
	return out, nil
}

func compactExtra(_ hydrate.Context, props *Properties) error {
	if len(props.Extra) == 0 {
		props.Extra = nil
	}
	return nil
}
