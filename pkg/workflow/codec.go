package workflow

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/dmateus/conveyor/pkg/models"
)

var validate = validator.New()

// ParseWorkflow decodes and validates a workflow definition.
func ParseWorkflow(data []byte) (*models.Workflow, error) {
	wf := &models.Workflow{}
	if err := json.Unmarshal(data, wf); err != nil {
		return nil, models.NewValidationError("invalid workflow document: " + err.Error())
	}

	if err := validate.Struct(wf); err != nil {
		return nil, models.NewValidationError("invalid workflow: " + err.Error())
	}

	if err := validateSteps(wf.Steps, ""); err != nil {
		return nil, err
	}

	return wf, nil
}

// LoadWorkflowFile reads and parses a workflow definition from disk.
func LoadWorkflowFile(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}

	return ParseWorkflow(data)
}

// validateSteps checks the structural rules json tags cannot express: each
// step kind requires its own fields, recursively.
func validateSteps(steps []*models.WorkflowStep, parent string) error {
	for index, step := range steps {
		location := fmt.Sprintf("%ssteps[%d]", parent, index)

		if err := validateStep(step, location); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(step *models.WorkflowStep, location string) error {
	switch step.Kind {
	case models.StepKindAction:
		if step.ActionName == "" {
			return models.NewValidationError(location + ": action step requires an action name")
		}

		return nil

	case models.StepKindIf:
		if step.Condition == "" {
			return models.NewValidationError(location + ": if step requires a condition")
		}

		if err := validateSteps(step.ThenSteps, location+".then."); err != nil {
			return err
		}

		return validateSteps(step.ElseSteps, location+".else.")

	case models.StepKindForEach:
		if step.Collection == "" {
			return models.NewValidationError(location + ": for_each step requires a collection")
		}

		return validateSteps(step.BodySteps, location+".body.")

	case models.StepKindWhile:
		if step.Condition == "" {
			return models.NewValidationError(location + ": while step requires a condition")
		}

		return validateSteps(step.BodySteps, location+".body.")

	case models.StepKindSwitch:
		if step.Expression == "" {
			return models.NewValidationError(location + ": switch step requires an expression")
		}

		for key, steps := range step.Cases {
			if err := validateSteps(steps, location+".cases."+key+"."); err != nil {
				return err
			}
		}

		return validateSteps(step.Default, location+".default.")

	case models.StepKindTry:
		if len(step.TrySteps) == 0 {
			return models.NewValidationError(location + ": try step requires try steps")
		}

		if err := validateSteps(step.TrySteps, location+".try."); err != nil {
			return err
		}

		return validateSteps(step.CatchSteps, location+".catch.")

	case models.StepKindParallel:
		if step.Parallel == nil {
			return models.NewValidationError(location + ": parallel step requires a parallel spec")
		}

		if err := validate.Struct(step.Parallel); err != nil {
			return models.NewValidationError(location + ": " + err.Error())
		}

		return nil

	default:
		return models.NewValidationError(
			fmt.Sprintf("%s: unknown step kind %q", location, step.Kind))
	}
}
