package eventsource

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmateus/conveyor/pkg/models"
	"github.com/dmateus/conveyor/pkg/protocol"
)

// CronConnection emits a "tick" event on a cron schedule. Options:
// "expression" — standard five-field cron spec, required.
type CronConnection struct {
	id         string
	expression string
	scheduler  *cron.Cron
}

func NewCronConnection(id string, options map[string]any) (Connection, error) {
	expression, _ := options["expression"].(string)
	if expression == "" {
		return nil, models.NewValidationError("cron source requires an expression")
	}

	return &CronConnection{
		id:         id,
		expression: expression,
	}, nil
}

func (c *CronConnection) Start(_ context.Context, emit func(event protocol.SourceEvent)) error {
	c.scheduler = cron.New()

	_, err := c.scheduler.AddFunc(c.expression, func() {
		emit(protocol.SourceEvent{
			SourceID:  c.id,
			Type:      "tick",
			Data:      map[string]any{"expression": c.expression},
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", c.expression, err)
	}

	c.scheduler.Start()

	return nil
}

func (c *CronConnection) Stop() error {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}

	return nil
}
