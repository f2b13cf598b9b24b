package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"

	"github.com/dmateus/conveyor/pkg/cmd"
	"github.com/dmateus/conveyor/pkg/config"
	"github.com/dmateus/conveyor/pkg/log"
	"github.com/dmateus/conveyor/pkg/reliability"
	"github.com/dmateus/conveyor/pkg/web"
)

func main() {
	command := &cli.Command{
		Name:                  "conveyor-api",
		EnableShellCompletion: true,
		Usage:                 "Serve the read API over executions and checkpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "reliability",
				Usage:   "Path to the reliability profiles file (YAML)",
				Value:   "",
				Sources: cli.EnvVars("RELIABILITY_PATH"),
			},
		},
		Action: serve,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("conveyor-api").Error("API failed", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, command *cli.Command) error {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		return err
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithModule("conveyor-api")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	profiles, err := config.LoadReliabilityProfiles(command.String("reliability"))
	if err != nil {
		return err
	}

	limiter := reliability.NewRateLimiterRegistry(reliability.DefaultRateLimitConfig())
	breaker := reliability.NewCircuitBreakerRegistry(reliability.DefaultCircuitBreakerConfig())
	profiles.Apply(limiter, breaker)

	app := fiber.New()
	web.NewAPIHandlers(store, limiter, breaker).Register(app)

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down API server")

		if err := app.Shutdown(); err != nil {
			logger.Error("Failed to shut down API server", "error", err)
		}
	}()

	logger.InfoContext(ctx, "Starting API server", "port", cfg.Port)

	return app.Listen(fmt.Sprintf(":%d", cfg.Port))
}
