package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmateus/conveyor/pkg/cmd"
	"github.com/dmateus/conveyor/pkg/config"
	"github.com/dmateus/conveyor/pkg/eventsource"
	"github.com/dmateus/conveyor/pkg/log"
	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/otelhelper"
	"github.com/dmateus/conveyor/pkg/reliability"
	"github.com/dmateus/conveyor/pkg/template"
	"github.com/dmateus/conveyor/pkg/workflow"
)

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("conveyor-runner")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	wf, err := workflow.LoadWorkflowFile(command.String("workflow"))
	if err != nil {
		return err
	}

	inputs := map[string]any{}
	if raw := command.String("inputs"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
			return fmt.Errorf("invalid inputs JSON: %w", err)
		}
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	bus, err := cmd.NewEventBus(command.String("event-bus"), "conveyor-runner", logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := bus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	reg, err := cmd.NewRegistry(logger, command.String("tools"))
	if err != nil {
		return err
	}

	profiles, err := config.LoadReliabilityProfiles(command.String("reliability"))
	if err != nil {
		return err
	}

	limiter := reliability.NewRateLimiterRegistry(reliability.DefaultRateLimitConfig())
	breaker := reliability.NewCircuitBreakerRegistry(reliability.DefaultCircuitBreakerConfig())
	profiles.Apply(limiter, breaker)

	invoker := workflow.NewToolInvoker(reg, limiter, breaker, logger)
	for tool, cfg := range profiles.WrapperConfigs() {
		invoker.ConfigureTool(tool, cfg)
	}

	var tracer trace.Tracer

	if command.Bool("tracing") {
		tracer, err = otelhelper.NewTracer(ctx, "conveyor-runner")
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	engine := workflow.NewEngine(workflow.Config{
		Resolver: template.NewResolver(),
		Invoker:  invoker,
		Sources:  eventsource.NewHub(logger),
		Store:    store,
		Bus:      bus,
		Tracer:   tracer,
		Logger:   logger,
	})

	result, err := engine.Execute(ctx, wf, inputs)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Run finished",
		"run_id", result.RunID,
		"status", result.Status,
		"duration", result.Duration,
	)

	if len(result.Outputs) > 0 {
		encoded, err := json.MarshalIndent(result.Outputs, "", "  ")
		if err == nil {
			fmt.Fprintln(os.Stdout, string(encoded))
		}
	}

	if result.Status != models.ExecutionStatusCompleted {
		return fmt.Errorf("run %s finished with status %s: %s", result.RunID, result.Status, result.Err)
	}

	return nil
}
