// Package secrets resolves secret references embedded in tool configuration
// before the configuration reaches a client initializer. References use the
// form ${secret:provider://path}, e.g. ${secret:env://API_KEY}.
package secrets

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var referencePattern = regexp.MustCompile(`\$\{secret:([a-z]+)://([^}]+)\}`)

// Provider fetches one secret value by path.
type Provider interface {
	Fetch(path string) (string, error)
}

// Resolver dispatches secret references to named providers.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver builds a resolver with the built-in env and file providers.
func NewResolver() *Resolver {
	return &Resolver{
		providers: map[string]Provider{
			"env":  &envProvider{},
			"file": &fileProvider{},
		},
	}
}

// Register adds or replaces a provider under the given scheme.
func (r *Resolver) Register(scheme string, provider Provider) {
	r.providers[scheme] = provider
}

// ResolveString replaces every secret reference inside value. A string with
// no references passes through unchanged.
func (r *Resolver) ResolveString(value string) (string, error) {
	var resolveErr error

	resolved := referencePattern.ReplaceAllStringFunc(value, func(match string) string {
		groups := referencePattern.FindStringSubmatch(match)

		provider, ok := r.providers[groups[1]]
		if !ok {
			resolveErr = fmt.Errorf("unknown secret provider: %s", groups[1])

			return match
		}

		secret, err := provider.Fetch(groups[2])
		if err != nil {
			resolveErr = fmt.Errorf("failed to fetch secret %s://%s: %w", groups[1], groups[2], err)

			return match
		}

		return secret
	})

	return resolved, resolveErr
}

// ResolveConfig deep-resolves secret references in a tool configuration map.
func (r *Resolver) ResolveConfig(config map[string]any) (map[string]any, error) {
	if config == nil {
		return nil, nil
	}

	resolved := make(map[string]any, len(config))

	for key, value := range config {
		out, err := r.resolveValue(value)
		if err != nil {
			return nil, fmt.Errorf("config key %q: %w", key, err)
		}

		resolved[key] = out
	}

	return resolved, nil
}

func (r *Resolver) resolveValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.ResolveString(v)
	case map[string]any:
		return r.ResolveConfig(v)
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			resolved, err := r.resolveValue(item)
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

type envProvider struct{}

func (p *envProvider) Fetch(path string) (string, error) {
	value, ok := os.LookupEnv(path)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", path)
	}

	return value, nil
}

type fileProvider struct{}

func (p *fileProvider) Fetch(path string) (string, error) {
	data, err := os.ReadFile("/" + strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(data)), nil
}
