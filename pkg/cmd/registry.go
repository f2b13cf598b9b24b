// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dmateus/conveyor/pkg/registry"
	httptool "github.com/dmateus/conveyor/pkg/tools/http"
)

// NewRegistry builds the tool registry with the built-in factories. The
// optional tools file maps factory IDs to their client configuration:
//
//	{"http": {"base_url": "https://api.example.com", "timeout": "10s"}}
func NewRegistry(logger *slog.Logger, toolsPath string) (*registry.Registry, error) {
	configs, err := loadToolConfigs(toolsPath)
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry(logger)
	reg.RegisterTool(httptool.NewFactory(), configs["http"])

	return reg, nil
}

func loadToolConfigs(path string) (map[string]map[string]any, error) {
	if path == "" {
		return map[string]map[string]any{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]map[string]any{}, nil
		}

		return nil, fmt.Errorf("failed to read tools file %s: %w", path, err)
	}

	configs := map[string]map[string]any{}
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse tools file %s: %w", path, err)
	}

	return configs, nil
}
