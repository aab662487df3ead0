package contract

import "context"

// SemanticType is the expected kind of a capability parameter.
type SemanticType string

const (
	TypeIdentifier SemanticType = "identifier"
	TypeNumber     SemanticType = "number"
	TypeTimeIndex  SemanticType = "time_index"
	TypeFreeText   SemanticType = "free_text"
	TypeRowSet     SemanticType = "row_set"
	TypeBoolean    SemanticType = "boolean"
	TypeObject     SemanticType = "object"
)

type Param struct {
	Type     SemanticType
	Desc     string
	Required bool
}

// Capability is one independently invokable function with a fixed contract.
type Capability interface {
	Name() string
	Description() string
	Schema() map[string]Param
	// Idempotent reports whether repeated calls with the same inputs are safe.
	Idempotent() bool
	Invoke(ctx context.Context, inputs map[string]any) (any, error)
}

// Stateful is implemented by capabilities backed by a managed session. Reset
// synchronously replaces the session's underlying resource. TrainingWrite is
// refused with ErrTrainingBlocked outside setup.
type Stateful interface {
	Capability
	Reset(ctx context.Context) error
	TrainingWrite(ctx context.Context, ex TrainingExample) error
}

type Classifier interface {
	Classify(text string, entities Entities) (Classification, error)
}

type Planner interface {
	Plan(category Category, req Request, entities Entities) (ExecutionPlan, error)
}

type Dispatcher interface {
	Execute(ctx context.Context, plan ExecutionPlan) (Answer, error)
}
