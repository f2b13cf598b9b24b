// Package events defines the run-lifecycle events published by the engine.
package events

import "time"

type EventType string

const (
	ExecutionStartedEvent  EventType = "execution.started"
	StepStartedEvent       EventType = "step.started"
	StepFinishedEvent      EventType = "step.finished"
	ExecutionFinishedEvent EventType = "execution.finished"
)

const (
	// Topic is the single stream all run-lifecycle events land on.
	Topic = "conveyor.events"

	EventMetadataKey     = "event_key"
	EventTypeMetadataKey = "event_type"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) GetType() EventType {
	return e.Type
}

// ExecutionStarted is published once when a run begins.
type ExecutionStarted struct {
	BaseEvent

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
}

// StepStarted is published before each step occurrence executes.
type StepStarted struct {
	BaseEvent

	RunID     string `json:"run_id"`
	StepIndex int    `json:"step_index"`
	StepName  string `json:"step_name"`
}

// StepFinished is published after each step occurrence settles.
type StepFinished struct {
	BaseEvent

	RunID      string `json:"run_id"`
	StepIndex  int    `json:"step_index"`
	StepName   string `json:"step_name"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// ExecutionFinished is published once when a run settles, whatever the
// terminal status.
type ExecutionFinished struct {
	BaseEvent

	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}
