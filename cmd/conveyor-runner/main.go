package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dmateus/conveyor/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "conveyor-runner",
		EnableShellCompletion: true,
		Usage:                 "Execute a workflow definition",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "workflow",
				Aliases:  []string{"w"},
				Usage:    "Path to the workflow definition (JSON)",
				Required: true,
				Sources:  cli.EnvVars("WORKFLOW_PATH"),
			},
			&cli.StringFlag{
				Name:    "inputs",
				Usage:   "Run inputs as a JSON object",
				Value:   "{}",
				Sources: cli.EnvVars("WORKFLOW_INPUTS"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (file://, postgres://, redis://)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "tools",
				Usage:   "Path to the tool configuration file (JSON)",
				Value:   "",
				Sources: cli.EnvVars("TOOLS_PATH"),
			},
			&cli.StringFlag{
				Name:    "reliability",
				Usage:   "Path to the reliability profiles file (YAML)",
				Value:   "",
				Sources: cli.EnvVars("RELIABILITY_PATH"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		log.WithModule("conveyor-runner").Error("Runner failed", "error", err)
		os.Exit(1)
	}
}
