package layering

import (
	"reflect"
	"testing"
)

type bag struct {
	Name   string
	Count  *int
	Extra  map[string]any
	Tags   []string
	hidden string
}

func TestCloneDetachesNestedValues(t *testing.T) {
	count := 3
	original := bag{
		Name:  "scatter",
		Count: &count,
		Extra: map[string]any{
			"axis": map[string]any{"min": 0, "max": 10},
			"none": nil,
		},
		Tags:   []string{"a", "b"},
		hidden: "secret",
	}

	cloned := Clone(original)

	if cloned.Name != "scatter" || *cloned.Count != 3 {
		t.Fatalf("unexpected clone: %+v", cloned)
	}
	if cloned.hidden != "" {
		t.Fatalf("expected unexported field to stay zero, got %q", cloned.hidden)
	}

	*cloned.Count = 9
	cloned.Tags[0] = "changed"
	cloned.Extra["axis"].(map[string]any)["max"] = 99

	if count != 3 {
		t.Fatalf("pointer target mutated through clone")
	}
	if original.Tags[0] != "a" {
		t.Fatalf("slice mutated through clone: %v", original.Tags)
	}
	if original.Extra["axis"].(map[string]any)["max"] != 10 {
		t.Fatalf("nested map mutated through clone: %v", original.Extra)
	}
	if _, ok := cloned.Extra["none"]; !ok {
		t.Fatalf("expected nil map entry to survive clone")
	}
}

func TestCloneNilAndScalar(t *testing.T) {
	var m map[string]any
	if got := Clone(m); got != nil {
		t.Fatalf("expected nil map, got %#v", got)
	}
	if got := Clone("x"); got != "x" {
		t.Fatalf("expected scalar passthrough, got %q", got)
	}
	var v any
	if got := Clone(v); got != nil {
		t.Fatalf("expected nil interface, got %#v", got)
	}
	in := map[string]any{"list": []any{1, "two"}}
	if got := Clone(in); !reflect.DeepEqual(got, in) {
		t.Fatalf("expected deep equal clone, got %#v", got)
	}
}
