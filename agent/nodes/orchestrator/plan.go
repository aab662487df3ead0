package orchestratornode

import (
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

func Plan(in *GraphState, planner contractx.Planner) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	plan, err := planner.Plan(in.Classification.Category, in.Request, in.Entities)
	if err != nil {
		pe := &contractx.PipelineError{
			Kind:       contractx.KindOf(err),
			Category:   in.Classification.Category,
			Confidence: in.Classification.Confidence,
			Scores:     in.Classification.Scores,
			Entities:   in.Entities,
			Cause:      err,
		}
		if len(plan.Steps) > 0 {
			pe.Plan = &plan
		}
		var se *contractx.StepError
		if errors.As(err, &se) {
			pe.StepID = se.StepID
			pe.Capability = se.Capability
		}
		return nil, pe
	}

	in.Plan = plan
	return in, nil
}
