package hydrate

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

type chartSettings struct {
	Enabled bool   `json:"enabled"`
	Title   bool   `json:"title"`
	X       string `json:"X"`
	Y       string `json:"Y"`
}

func TestDecoderCases(t *testing.T) {
	cases := []struct {
		name      string
		input     map[string]any
		options   []DecoderOption[chartSettings]
		expect    chartSettings
		expectErr string
	}{
		{
			name:   "plain payload",
			input:  map[string]any{"enabled": true, "X": "revenue", "Y": "cost"},
			expect: chartSettings{Enabled: true, X: "revenue", Y: "cost"},
		},
		{
			name:  "base keeps missing fields",
			input: map[string]any{"X": "revenue"},
			options: []DecoderOption[chartSettings]{
				WithBase(func() chartSettings { return chartSettings{Title: true, Y: "default"} }),
			},
			expect: chartSettings{Title: true, X: "revenue", Y: "default"},
		},
		{
			name:  "pre hook lower cases field names",
			input: map[string]any{"X": "Revenue"},
			options: []DecoderOption[chartSettings]{
				WithPreHook[chartSettings](func(_ Context, payload map[string]any) (map[string]any, error) {
					if x, ok := payload["X"].(string); ok {
						payload["X"] = strings.ToLower(x)
					}
					return payload, nil
				}),
			},
			expect: chartSettings{X: "revenue"},
		},
		{
			name:  "post hook failure wraps key",
			input: map[string]any{},
			options: []DecoderOption[chartSettings]{
				WithPostHook[chartSettings](func(_ Context, v *chartSettings) error {
					if v.X == "" {
						return errors.New("x is required")
					}
					return nil
				}),
			},
			expectErr: `post-hook for key "scatter-a" failed: x is required`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoder := NewDecoder(tc.options...)
			got, err := decoder.Decode(Context{Key: "scatter-a"}, tc.input)
			if tc.expectErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tc.expectErr)
				}
				if !strings.Contains(err.Error(), tc.expectErr) {
					t.Fatalf("expected error containing %q, got %v", tc.expectErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected decode error: %v", err)
			}
			if !reflect.DeepEqual(tc.expect, got) {
				t.Fatalf("decoded mismatch:\nwant: %#v\n got: %#v", tc.expect, got)
			}
		})
	}
}

func TestDecoderNilPayload(t *testing.T) {
	_, err := NewDecoder[chartSettings]().Decode(Context{Key: "k"}, nil)
	if err == nil || !strings.Contains(err.Error(), `payload is nil for key "k"`) {
		t.Fatalf("expected nil payload error, got %v", err)
	}
}

func TestDecoderDoesNotMutateInput(t *testing.T) {
	input := map[string]any{"X": "Revenue"}
	decoder := NewDecoder(WithPreHook[chartSettings](func(_ Context, payload map[string]any) (map[string]any, error) {
		payload["X"] = "changed"
		return payload, nil
	}))
	if _, err := decoder.Decode(Context{Key: "k"}, input); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if input["X"] != "Revenue" {
		t.Fatalf("expected input to be untouched, got %v", input["X"])
	}
}
