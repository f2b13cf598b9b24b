// Package registry resolves tool names to configured tool clients.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmateus/conveyor/pkg/protocol"
	"github.com/dmateus/conveyor/pkg/secrets"
)

// Registry holds tool factories and their configuration. Load resolves any
// embedded secret references before handing the configuration to the
// factory, so clients never see raw ${secret:...} markers.
type Registry struct {
	logger    *slog.Logger
	secrets   *secrets.Resolver
	mu        sync.RWMutex
	factories map[string]protocol.ToolFactory
	configs   map[string]map[string]any
	clients   map[string]protocol.Tool
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		secrets:   secrets.NewResolver(),
		factories: make(map[string]protocol.ToolFactory),
		configs:   make(map[string]map[string]any),
		clients:   make(map[string]protocol.Tool),
	}
}

// RegisterTool registers a factory together with the configuration its
// clients are created from.
func (r *Registry) RegisterTool(factory protocol.ToolFactory, config map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[factory.ID()] = factory
	r.configs[factory.ID()] = config
}

// Load returns the client for a tool name, creating and caching it on first
// use. Secret references in the configuration are resolved at create time.
func (r *Registry) Load(ctx context.Context, name string) (protocol.Tool, error) {
	r.mu.RLock()
	client, ok := r.clients[name]
	r.mu.RUnlock()

	if ok {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[name]; ok {
		return client, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("tool '%s' not registered", name)
	}

	config, err := r.secrets.ResolveConfig(r.configs[name])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve secrets for tool %s: %w", name, err)
	}

	client, err = factory.Create(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool %s: %w", name, err)
	}

	r.logger.Info("Loaded tool client", "tool", name)
	r.clients[name] = client

	return client, nil
}

// InputSchemas returns the registered input schemas for a tool, or nil when
// the tool declares none.
func (r *Registry) InputSchemas(name string) map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil
	}

	return factory.InputSchemas()
}
