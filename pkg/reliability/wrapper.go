package reliability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// WrapperConfig tunes the reliability pipeline for one wrapped tool.
type WrapperConfig struct {
	MaxRetries     int
	Timeout        time.Duration
	RetryBaseDelay time.Duration
	// InputSchemas maps operation names to JSON schemas enforced before
	// any IO occurs.
	InputSchemas map[string]map[string]any
}

// DefaultWrapperConfig is applied where no explicit configuration exists.
func DefaultWrapperConfig() WrapperConfig {
	return WrapperConfig{
		MaxRetries:     3,
		Timeout:        30 * time.Second,
		RetryBaseDelay: 250 * time.Millisecond,
	}
}

// Wrapper decorates a tool client so every call passes, in order, through
// input validation, rate limiting, circuit checking, a timeout-guarded call
// and retry with backoff. It implements protocol.Tool.
type Wrapper struct {
	tool    protocol.Tool
	limiter *RateLimiterRegistry
	breaker *CircuitBreakerRegistry
	cfg     WrapperConfig
	logger  *slog.Logger
	schemas map[string]*gojsonschema.Schema
}

// Wrap builds the reliability proxy around a tool client. Input schemas are
// compiled eagerly so malformed schemas surface at wiring time, not on the
// first call.
func Wrap(tool protocol.Tool, limiter *RateLimiterRegistry, breaker *CircuitBreakerRegistry, cfg WrapperConfig, logger *slog.Logger) (*Wrapper, error) {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWrapperConfig().Timeout
	}

	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultWrapperConfig().RetryBaseDelay
	}

	schemas := make(map[string]*gojsonschema.Schema, len(cfg.InputSchemas))

	for operation, raw := range cfg.InputSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid input schema for %s.%s: %w", tool.Name(), operation, err)
		}

		schemas[operation] = schema
	}

	return &Wrapper{
		tool:    tool,
		limiter: limiter,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger.With("module", "reliability", "service", tool.Name()),
		schemas: schemas,
	}, nil
}

// Name returns the wrapped service name.
func (w *Wrapper) Name() string {
	return w.tool.Name()
}

// Call runs one operation through the full pipeline.
func (w *Wrapper) Call(ctx context.Context, operation string, input map[string]any) (any, error) {
	value, _, err := w.CallWithStats(ctx, operation, input)

	return value, err
}

// CallWithStats additionally reports how many retry attempts were consumed,
// for checkpointing.
func (w *Wrapper) CallWithStats(ctx context.Context, operation string, input map[string]any) (any, int, error) {
	if err := w.validate(operation, input); err != nil {
		return nil, 0, err
	}

	service := w.tool.Name()
	retries := 0
	delay := w.cfg.RetryBaseDelay

	for {
		value, err := w.attempt(ctx, operation, input)
		if err == nil {
			return value, retries, nil
		}

		// A circuit-open rejection propagates immediately and never
		// consumes a retry slot.
		var circuitErr *models.CircuitOpenError
		if errors.As(err, &circuitErr) {
			return nil, retries, err
		}

		if !models.IsRetryable(err) || retries >= w.cfg.MaxRetries {
			return nil, retries, err
		}

		retries++

		w.logger.Warn("Retrying tool call",
			"operation", operation,
			"attempt", retries,
			"max_retries", w.cfg.MaxRetries,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, retries, &models.CancellationError{RunID: service}
		}

		delay *= 2
	}
}

// validate checks input against the registered schema for the operation.
// Operations without a schema pass through.
func (w *Wrapper) validate(operation string, input map[string]any) error {
	schema, ok := w.schemas[operation]
	if !ok {
		return nil
	}

	if input == nil {
		input = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return models.NewValidationError(err.Error())
	}

	if !result.Valid() {
		first := result.Errors()[0]

		return &models.ValidationError{Field: first.Field(), Message: first.Description()}
	}

	return nil
}

// attempt performs one pass: rate limit, circuit check, timeout-guarded
// call, outcome recording.
func (w *Wrapper) attempt(ctx context.Context, operation string, input map[string]any) (any, error) {
	service := w.tool.Name()

	if err := w.limiter.Acquire(ctx, service); err != nil {
		if ctx.Err() != nil {
			return nil, &models.CancellationError{RunID: service}
		}

		return nil, err
	}

	if err := w.breaker.Allow(service); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}

	// Buffered so a late settlement after timeout is dropped instead of
	// leaking the goroutine or re-resolving the result.
	done := make(chan outcome, 1)

	go func() {
		value, err := w.tool.Call(callCtx, operation, input)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			w.breaker.RecordFailure(service)

			return nil, w.classify(operation, out.err)
		}

		w.breaker.RecordSuccess(service)

		return out.value, nil

	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, &models.CancellationError{RunID: service}
		}

		w.breaker.RecordFailure(service)

		return nil, &models.TimeoutError{Op: w.tool.Name() + "." + operation, Timeout: w.cfg.Timeout}
	}
}

// classify keeps already-typed errors intact and wraps anything else as a
// transient tool invocation failure.
func (w *Wrapper) classify(operation string, err error) error {
	var (
		validationErr *models.ValidationError
		toolErr       *models.ToolInvocationError
		timeoutErr    *models.TimeoutError
	)

	if errors.As(err, &validationErr) || errors.As(err, &toolErr) || errors.As(err, &timeoutErr) {
		return err
	}

	return &models.ToolInvocationError{Tool: w.tool.Name(), Op: operation, Err: err}
}
