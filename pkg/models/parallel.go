package models

import "time"

// ParallelMode selects between spawn (explicit task set) and map
// (one task template applied to a collection).
type ParallelMode string

const (
	ParallelModeSpawn ParallelMode = "spawn"
	ParallelModeMap   ParallelMode = "map"
)

// WaitPolicy governs when a spawn operation is considered settled.
type WaitPolicy string

const (
	WaitAll      WaitPolicy = "all"
	WaitAny      WaitPolicy = "any"
	WaitMajority WaitPolicy = "majority"
)

// ErrorPolicy governs how task failures affect the overall operation.
type ErrorPolicy string

const (
	ErrorPolicyFail     ErrorPolicy = "fail"
	ErrorPolicyContinue ErrorPolicy = "continue"
)

// DefaultMapConcurrency bounds map fan-out when a step leaves it unset.
const DefaultMapConcurrency = 5

// ParallelSpec configures a parallel step.
type ParallelSpec struct {
	Mode ParallelMode `json:"mode" validate:"required,oneof=spawn map"`

	// Mode == spawn
	Tasks []*TaskSpec `json:"tasks,omitempty"`
	Wait  WaitPolicy  `json:"wait,omitempty"`

	// Mode == map. Items is a template expression resolving to an array.
	Items string    `json:"items,omitempty"`
	Task  *TaskSpec `json:"task,omitempty"`

	Concurrency int         `json:"concurrency,omitempty"`
	Timeout     string      `json:"timeout,omitempty"`      // duration string, e.g. "30s"
	TaskTimeout string      `json:"task_timeout,omitempty"` // per-task bound
	OnError     ErrorPolicy `json:"on_error,omitempty"`
}

// TaskSpec describes one unit of parallel work. Inputs may contain template
// expressions resolved against the parent context merged with Bindings.
type TaskSpec struct {
	ID       string         `json:"id"`
	Action   string         `json:"action" validate:"required"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Bindings map[string]any `json:"bindings,omitempty"`
}

// TaskResult records the settlement of one task. Exactly one of Value or
// Error is meaningful, selected by Success. CompletedAt stays nil for tasks
// abandoned at a timeout: they never completed, they were given up on.
type TaskResult struct {
	Success     bool       `json:"success"`
	Value       any        `json:"value,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SpawnResult aggregates a settled spawn operation.
type SpawnResult struct {
	Successful []string               `json:"successful"`
	Failed     []string               `json:"failed"`
	Results    map[string]*TaskResult `json:"results"`
	Duration   time.Duration          `json:"duration"`
}
