package workflow

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/template"
)

func newBuiltinEngine() *Engine {
	return NewEngine(Config{
		Resolver: template.NewResolver(),
		Logger:   slog.Default(),
	})
}

func TestCoreSet(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()

	value, err := engine.executeCoreAction("core.set", map[string]any{"value": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestCoreExtract(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()
	data := map[string]any{
		"user": map[string]any{
			"emails": []any{"a@example.com", "b@example.com"},
		},
	}

	value, err := engine.executeCoreAction("core.extract", map[string]any{
		"data": data,
		"path": "user.emails.1",
	})
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", value)

	_, err = engine.executeCoreAction("core.extract", map[string]any{
		"data": data,
		"path": "user.missing",
	})

	var validationErr *models.ValidationError

	require.ErrorAs(t, err, &validationErr)
}

func TestCoreAggregate(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()
	items := []any{1.0, 2.0, 3.0, 4.0}

	tests := []struct {
		op   string
		want any
	}{
		{"sum", 10.0},
		{"avg", 2.5},
		{"min", 1.0},
		{"max", 4.0},
		{"count", 4},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			t.Parallel()

			value, err := engine.executeCoreAction("core.aggregate", map[string]any{
				"items": items,
				"op":    tt.op,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestCoreAggregateRejectsNonNumbers(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()

	_, err := engine.executeCoreAction("core.aggregate", map[string]any{
		"items": []any{"nope"},
		"op":    "sum",
	})

	var validationErr *models.ValidationError

	require.ErrorAs(t, err, &validationErr)
}

func TestCoreCompare(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()

	tests := []struct {
		name  string
		left  any
		right any
		op    string
		want  bool
	}{
		{"eq numbers across types", 3, 3.0, "eq", true},
		{"eq strings", "a", "a", "eq", true},
		{"ne", "a", "b", "ne", true},
		{"gt", 5.0, 2.0, "gt", true},
		{"lte", 2.0, 2.0, "lte", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			value, err := engine.executeCoreAction("core.compare", map[string]any{
				"left":  tt.left,
				"right": tt.right,
				"op":    tt.op,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, value)
		})
	}
}

func TestCoreParse(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()

	value, err := engine.executeCoreAction("core.parse", map[string]any{
		"value": `{"a": 1}`,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, value)

	value, err = engine.executeCoreAction("core.parse", map[string]any{
		"value":  "17",
		"format": "int",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(17), value)

	_, err = engine.executeCoreAction("core.parse", map[string]any{
		"value": "not json",
	})
	require.Error(t, err)
}

func TestCoreCompressRoundTrip(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()
	original := "payload worth compressing, repeated repeated repeated"

	compressed, err := engine.executeCoreAction("core.compress", map[string]any{
		"data": original,
	})
	require.NoError(t, err)
	require.IsType(t, "", compressed)
	assert.NotEqual(t, original, compressed)

	restored, err := engine.executeCoreAction("core.compress", map[string]any{
		"data": compressed,
		"op":   "decompress",
	})
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

func TestCoreDatetimeAdd(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()

	value, err := engine.executeCoreAction("core.datetime", map[string]any{
		"op":       "add",
		"value":    "2026-01-01T00:00:00Z",
		"duration": "48h",
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-03T00:00:00Z", value)
}

func TestCoreTransform(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()
	items := []any{
		map[string]any{"name": "ada", "role": "engineer"},
		map[string]any{"name": "grace", "role": "admiral"},
	}

	value, err := engine.executeCoreAction("core.transform", map[string]any{
		"items": items,
		"op":    "pluck",
		"field": "name",
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"ada", "grace"}, value)

	value, err = engine.executeCoreAction("core.transform", map[string]any{
		"items": items,
		"op":    "filter_eq",
		"field": "role",
		"value": "admiral",
	})
	require.NoError(t, err)
	assert.Equal(t, []any{items[1]}, value)

	value, err = engine.executeCoreAction("core.transform", map[string]any{
		"items": []any{3.0, 1.0, 2.0},
		"op":    "sort",
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, value)
}

func TestUnknownBuiltinsAreValidationErrors(t *testing.T) {
	t.Parallel()

	engine := newBuiltinEngine()

	_, err := engine.executeCoreAction("core.nope", nil)

	var validationErr *models.ValidationError

	require.ErrorAs(t, err, &validationErr)
}

func TestExtractPathRootReturnsData(t *testing.T) {
	t.Parallel()

	value, err := extractPath("whole", "")
	require.NoError(t, err)
	assert.Equal(t, "whole", value)
}
