package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrClassificationAmbiguous = errors.New("classification ambiguous")
	ErrPlanValidation          = errors.New("plan validation failed")
	ErrCapability              = errors.New("capability failed")
	ErrContaminationDetected   = errors.New("contamination detected")
	ErrSessionLockTimeout      = errors.New("session lock timeout")
	ErrToolTimeout             = errors.New("tool timeout")
	ErrTrainingBlocked         = errors.New("training blocked in production mode")
	ErrUnknownCapability       = errors.New("unknown capability")
)

// ErrorKind is the stable, user-visible name of an error class.
type ErrorKind string

const (
	KindClassificationAmbiguous ErrorKind = "CLASSIFICATION_AMBIGUOUS"
	KindPlanValidation          ErrorKind = "PLAN_VALIDATION"
	KindCapability              ErrorKind = "CAPABILITY_ERROR"
	KindContamination           ErrorKind = "CONTAMINATION_DETECTED"
	KindSessionLockTimeout      ErrorKind = "SESSION_LOCK_TIMEOUT"
	KindToolTimeout             ErrorKind = "TOOL_TIMEOUT"
	KindTrainingBlocked         ErrorKind = "TRAINING_BLOCKED"
	KindCanceled                ErrorKind = "CANCELED"
	KindInvalidRequest          ErrorKind = "INVALID_REQUEST"
)

var kindSentinels = map[ErrorKind]error{
	KindClassificationAmbiguous: ErrClassificationAmbiguous,
	KindPlanValidation:          ErrPlanValidation,
	KindCapability:              ErrCapability,
	KindContamination:           ErrContaminationDetected,
	KindSessionLockTimeout:      ErrSessionLockTimeout,
	KindToolTimeout:             ErrToolTimeout,
	KindTrainingBlocked:         ErrTrainingBlocked,
}

// KindOf maps an error chain onto the most specific ErrorKind.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrClassificationAmbiguous):
		return KindClassificationAmbiguous
	case errors.Is(err, ErrPlanValidation):
		return KindPlanValidation
	case errors.Is(err, ErrTrainingBlocked):
		return KindTrainingBlocked
	case errors.Is(err, ErrContaminationDetected):
		return KindContamination
	case errors.Is(err, ErrSessionLockTimeout):
		return KindSessionLockTimeout
	case errors.Is(err, ErrToolTimeout):
		return KindToolTimeout
	case errors.Is(err, ErrValidation):
		return KindInvalidRequest
	case isCanceled(err):
		return KindCanceled
	default:
		return KindCapability
	}
}

// PipelineError is the terminal error of a request. It reports where the request
// stopped: the category assigned, the plan attempted and the first failing step.
type PipelineError struct {
	Kind       ErrorKind
	Category   Category
	Confidence float64
	Scores     map[Category]float64
	Entities   Entities
	Plan       *ExecutionPlan
	StepID     string
	Capability string
	Completed  []ToolResult
	Cause      error
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Category != "" {
		fmt.Fprintf(&b, " category=%s", e.Category)
	}
	if e.StepID != "" {
		fmt.Fprintf(&b, " step=%s capability=%s", e.StepID, e.Capability)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func (e *PipelineError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// StepError attributes err to one step of a plan.
type StepError struct {
	StepID     string
	Capability string
	Err        error
}

func (e *StepError) Error() string {
	return e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func isCanceled(err error) bool {
	return err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
