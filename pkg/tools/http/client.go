// Package http provides the HTTP tool client, the reference external tool
// reached through the reliability wrapper.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/protocol"
)

// Client performs HTTP requests against a configured base URL.
type Client struct {
	name    string
	baseURL string
	headers map[string]string
	client  *http.Client
}

// Call supports one operation, "request", with inputs: method, path (or
// absolute url), headers, body, query.
func (c *Client) Call(ctx context.Context, operation string, input map[string]any) (any, error) {
	if operation != "request" {
		return nil, models.NewValidationError("http tool supports only the request operation, got " + operation)
	}

	method, _ := input["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	url, _ := input["url"].(string)
	if url == "" {
		path, _ := input["path"].(string)
		url = strings.TrimSuffix(c.baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	}

	var bodyReader io.Reader

	switch body := input["body"].(type) {
	case nil:
	case string:
		if body != "" {
			bodyReader = strings.NewReader(body)
		}
	default:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, models.NewValidationError("request body is not serializable: " + err.Error())
		}

		bodyReader = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return nil, &models.ToolInvocationError{Tool: c.name, Op: operation, Permanent: true, Err: err}
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	if headers, ok := input["headers"].(map[string]any); ok {
		for key, value := range headers {
			if str, ok := value.(string); ok {
				req.Header.Set(key, str)
			}
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &models.ToolInvocationError{Tool: c.name, Op: operation, Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.ToolInvocationError{Tool: c.name, Op: operation, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	var body any
	if err := json.Unmarshal(bodyBytes, &body); err != nil {
		body = string(bodyBytes)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     flattenHeaders(resp.Header),
	}

	if resp.StatusCode >= 500 {
		return result, &models.ToolInvocationError{
			Tool: c.name,
			Op:   operation,
			Err:  fmt.Errorf("server error (status %d)", resp.StatusCode),
		}
	}

	if resp.StatusCode >= 400 {
		return result, &models.ToolInvocationError{
			Tool:      c.name,
			Op:        operation,
			Permanent: true,
			Err:       fmt.Errorf("client error (status %d)", resp.StatusCode),
		}
	}

	return result, nil
}

func (c *Client) Name() string {
	return c.name
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key := range header {
		flat[key] = header.Get(key)
	}

	return flat
}

// Factory builds HTTP tool clients. Config: name (service name, defaults
// to "http"), base_url, headers, timeout (duration string).
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "http"
}

func (f *Factory) Create(_ context.Context, config map[string]any) (protocol.Tool, error) {
	name, _ := config["name"].(string)
	if name == "" {
		name = f.ID()
	}

	baseURL, _ := config["base_url"].(string)

	headers := make(map[string]string)
	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for key, value := range headersConfig {
			if str, ok := value.(string); ok {
				headers[key] = str
			}
		}
	}

	timeout := 30 * time.Second
	if raw, ok := config["timeout"].(string); ok && raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, models.NewValidationError("invalid http timeout: " + err.Error())
		}

		timeout = parsed
	}

	return &Client{
		name:    name,
		baseURL: baseURL,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (f *Factory) InputSchemas() map[string]map[string]any {
	return map[string]map[string]any{
		"request": {
			"type": "object",
			"properties": map[string]any{
				"method": map[string]any{
					"type": "string",
					"enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
				},
				"url":  map[string]any{"type": "string"},
				"path": map[string]any{"type": "string"},
				"headers": map[string]any{
					"type": "object",
				},
			},
			"anyOf": []map[string]any{
				{"required": []string{"url"}},
				{"required": []string{"path"}},
			},
		},
	}
}
