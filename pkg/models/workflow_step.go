package models

import "fmt"

// StepKind discriminates the workflow step variants.
type StepKind string

const (
	StepKindAction   StepKind = "action"
	StepKindIf       StepKind = "if"
	StepKindForEach  StepKind = "for_each"
	StepKindWhile    StepKind = "while"
	StepKindSwitch   StepKind = "switch"
	StepKindTry      StepKind = "try"
	StepKindParallel StepKind = "parallel"
)

// DefaultMaxIterations bounds `while` loops that do not set their own limit.
const DefaultMaxIterations = 1000

// WorkflowStep is a tagged variant over the step kinds. Only the fields
// matching Kind are meaningful; the rest stay at their zero value. Inputs
// hold unevaluated template expressions, resolved at execution time.
type WorkflowStep struct {
	Kind StepKind `json:"kind" validate:"required,oneof=action if for_each while switch try parallel"`

	// Kind == action
	ID             string         `json:"id,omitempty"`
	ActionName     string         `json:"action,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	OutputVariable string         `json:"output_variable,omitempty"`

	// Kind == if (Condition is also the while condition expression)
	Condition string          `json:"condition,omitempty"`
	ThenSteps []*WorkflowStep `json:"then,omitempty"`
	ElseSteps []*WorkflowStep `json:"else,omitempty"`

	// Kind == for_each
	Collection string          `json:"collection,omitempty"`
	BodySteps  []*WorkflowStep `json:"body,omitempty"`

	// Kind == while
	MaxIterations int `json:"max_iterations,omitempty"`

	// Kind == switch
	Expression string                     `json:"expression,omitempty"`
	Cases      map[string][]*WorkflowStep `json:"cases,omitempty"`
	Default    []*WorkflowStep            `json:"default,omitempty"`

	// Kind == try
	TrySteps   []*WorkflowStep `json:"try,omitempty"`
	CatchSteps []*WorkflowStep `json:"catch,omitempty"`

	// Kind == parallel
	Parallel *ParallelSpec `json:"parallel,omitempty"`
}

// Name returns the identifier used in checkpoints and logs for this step.
func (s *WorkflowStep) Name() string {
	switch s.Kind {
	case StepKindAction:
		if s.ID != "" {
			return s.ID
		}

		return s.ActionName
	case StepKindParallel:
		if s.Parallel != nil {
			return fmt.Sprintf("parallel.%s", s.Parallel.Mode)
		}

		return string(StepKindParallel)
	default:
		return string(s.Kind)
	}
}
