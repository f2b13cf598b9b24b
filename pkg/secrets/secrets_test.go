package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveString_EnvProvider(t *testing.T) {
	t.Setenv("CONVEYOR_TEST_TOKEN", "s3cret")

	resolver := NewResolver()

	value, err := resolver.ResolveString("Bearer ${secret:env://CONVEYOR_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", value)
}

func TestResolveString_MissingEnvVarFails(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()

	_, err := resolver.ResolveString("${secret:env://CONVEYOR_TEST_MISSING_VAR}")
	require.Error(t, err)
}

func TestResolveString_NoReferencesPassThrough(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()

	value, err := resolver.ResolveString("plain value")
	require.NoError(t, err)
	assert.Equal(t, "plain value", value)
}

func TestResolveString_UnknownProviderFails(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()

	_, err := resolver.ResolveString("${secret:vault://kv/token}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown secret provider")
}

func TestResolveString_FileProvider(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	resolver := NewResolver()

	value, err := resolver.ResolveString(fmt.Sprintf("${secret:file://%s}", path))
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestRegister_CustomProvider(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()
	resolver.Register("mem", providerFunc(func(path string) (string, error) {
		return "mem:" + path, nil
	}))

	value, err := resolver.ResolveString("${secret:mem://api-key}")
	require.NoError(t, err)
	assert.Equal(t, "mem:api-key", value)
}

func TestResolveConfig_DeepResolution(t *testing.T) {
	t.Setenv("CONVEYOR_TEST_KEY", "deep")

	resolver := NewResolver()

	config := map[string]any{
		"timeout": "10s",
		"headers": map[string]any{
			"Authorization": "Bearer ${secret:env://CONVEYOR_TEST_KEY}",
		},
		"fallbacks": []any{"${secret:env://CONVEYOR_TEST_KEY}", 42},
	}

	resolved, err := resolver.ResolveConfig(config)
	require.NoError(t, err)

	assert.Equal(t, "10s", resolved["timeout"])

	headers := resolved["headers"].(map[string]any)
	assert.Equal(t, "Bearer deep", headers["Authorization"])

	fallbacks := resolved["fallbacks"].([]any)
	assert.Equal(t, "deep", fallbacks[0])
	assert.Equal(t, 42, fallbacks[1])

	// The original config is never mutated.
	assert.Contains(t, config["headers"].(map[string]any)["Authorization"], "${secret:")
}

type providerFunc func(path string) (string, error)

func (f providerFunc) Fetch(path string) (string, error) {
	return f(path)
}
