package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_PlainStringsPassThrough(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()

	value, err := resolver.Resolve("no templates here", nil)
	require.NoError(t, err)
	assert.Equal(t, "no templates here", value)
}

func TestResolve_VariableLookup(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()
	data := map[string]any{
		"vars": map[string]any{"name": "conveyor"},
	}

	value, err := resolver.Resolve("{{.vars.name}}", data)
	require.NoError(t, err)
	assert.Equal(t, "conveyor", value)
}

func TestResolve_MissingKeyFails(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()
	data := map[string]any{"vars": map[string]any{}}

	_, err := resolver.Resolve("{{.vars.missing}}", data)
	require.Error(t, err)
}

func TestResolve_Coercion(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()
	data := map[string]any{
		"vars": map[string]any{
			"count": 42,
			"flag":  true,
			"list":  []any{1.0, 2.0},
		},
	}

	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"number", "{{.vars.count}}", float64(42)},
		{"boolean", "{{.vars.flag}}", true},
		{"json array", "{{json .vars.list}}", []any{1.0, 2.0}},
		{"string stays string", "{{.vars.count}} items", "42 items"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			value, err := resolver.Resolve(tt.input, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestResolve_HelperFunctions(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()
	data := map[string]any{
		"vars": map[string]any{"name": "conveyor", "items": []any{"a", "b"}},
	}

	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"upper", "{{upper .vars.name}}", "CONVEYOR"},
		{"join", `{{join "," .vars.items}}`, "a,b"},
		{"add", "{{add 2.0 3.0}}", float64(5)},
		{"default", `{{default "fallback" ""}}`, "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			value, err := resolver.Resolve(tt.input, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestResolve_DivisionByZero(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()

	_, err := resolver.Resolve("{{div 1.0 0.0}}", map[string]any{})
	require.Error(t, err)
}

func TestResolveInputs_DeepResolution(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()
	data := map[string]any{
		"vars": map[string]any{"city": "Lisbon"},
	}

	inputs := map[string]any{
		"plain":  123,
		"direct": "{{.vars.city}}",
		"nested": map[string]any{"inner": "{{upper .vars.city}}"},
		"list":   []any{"{{.vars.city}}", "static"},
	}

	resolved, err := resolver.ResolveInputs(inputs, data)
	require.NoError(t, err)

	assert.Equal(t, 123, resolved["plain"])
	assert.Equal(t, "Lisbon", resolved["direct"])
	assert.Equal(t, map[string]any{"inner": "LISBON"}, resolved["nested"])
	assert.Equal(t, []any{"Lisbon", "static"}, resolved["list"])
}

func TestResolveInputs_DoesNotMutateOriginal(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()
	inputs := map[string]any{"value": "{{.vars.n}}"}
	data := map[string]any{"vars": map[string]any{"n": 1}}

	_, err := resolver.ResolveInputs(inputs, data)
	require.NoError(t, err)

	assert.Equal(t, "{{.vars.n}}", inputs["value"])
}

func TestTruthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"nil", nil, false},
		{"true", true, true},
		{"false", false, false},
		{"empty string", "", false},
		{"false string", "false", false},
		{"zero string", "0", false},
		{"non-empty string", "yes", true},
		{"zero number", float64(0), false},
		{"number", float64(3), true},
		{"empty list", []any{}, false},
		{"list", []any{1}, true},
		{"empty map", map[string]any{}, false},
		{"map", map[string]any{"k": 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Truthy(tt.value))
		})
	}
}
