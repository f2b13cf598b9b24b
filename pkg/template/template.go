// Package template provides the sandboxed expression resolver used for
// dynamic workflow inputs. Expressions are standard text/template syntax
// over the run's variable map plus a fixed set of pure helper functions.
// Resolution is deterministic and side-effect-free: there is no access to
// the environment, the filesystem, or any host execution primitive.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

// Resolver renders template expressions against a data map.
type Resolver struct {
	funcs template.FuncMap
}

// NewResolver builds a resolver with the fixed helper function set.
func NewResolver() *Resolver {
	return &Resolver{funcs: helperFuncs()}
}

// Resolve renders input against data. Non-template strings pass through
// unchanged. Rendered output that parses as JSON, a number, or a boolean is
// coerced to that type, so expressions can produce structured values.
func (r *Resolver) Resolve(input string, data map[string]any) (any, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}

	tmpl, err := template.
		New("expr").
		Option("missingkey=error").
		Funcs(r.funcs).
		Parse(input)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression '%s': %w", input, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve expression '%s': %w", input, err)
	}

	return coerce(strings.TrimSpace(buf.String())), nil
}

// ResolveInputs deep-resolves every string value in inputs, recursing into
// nested maps and slices. The input map is never mutated.
func (r *Resolver) ResolveInputs(inputs map[string]any, data map[string]any) (map[string]any, error) {
	if inputs == nil {
		return nil, nil
	}

	resolved := make(map[string]any, len(inputs))

	for key, value := range inputs {
		out, err := r.resolveValue(value, data)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}

		resolved[key] = out
	}

	return resolved, nil
}

func (r *Resolver) resolveValue(value any, data map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.Resolve(v, data)
	case map[string]any:
		return r.ResolveInputs(v, data)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			resolved, err := r.resolveValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return value, nil
	}
}

// coerce converts rendered text into a structured value when possible.
func coerce(result string) any {
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any
		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult
		}
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b
	}

	return result
}

// Truthy reports the boolean interpretation of a resolved value, used by
// `if` and `while` condition expressions.
func Truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case float64:
		return v != 0
	case int:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// helperFuncs is the fixed filter set. Every function is pure.
func helperFuncs() template.FuncMap {
	return template.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"trim":  strings.TrimSpace,
		"join": func(sep string, items []any) string {
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = fmt.Sprintf("%v", item)
			}

			return strings.Join(parts, sep)
		},
		"json": func(v any) (string, error) {
			data, err := json.Marshal(v)
			if err != nil {
				return "", err
			}

			return string(data), nil
		},
		"default": func(fallback, v any) any {
			if v == nil || v == "" {
				return fallback
			}

			return v
		},
		"add": func(a, b float64) float64 { return a + b },
		"sub": func(a, b float64) float64 { return a - b },
		"mul": func(a, b float64) float64 { return a * b },
		"div": func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("division by zero")
			}

			return a / b, nil
		},
	}
}
