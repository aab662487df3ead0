package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

func Execute(ctx context.Context, in *GraphState, dispatcher contractx.Dispatcher) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	answer, err := dispatcher.Execute(ctx, in.Plan)
	if err != nil {
		var pe *contractx.PipelineError
		if !errors.As(err, &pe) {
			pe = &contractx.PipelineError{
				Kind:     contractx.KindOf(err),
				Category: in.Plan.Category,
				Plan:     &in.Plan,
				Cause:    err,
			}
		}
		pe.Confidence = in.Classification.Confidence
		pe.Scores = in.Classification.Scores
		pe.Entities = in.Entities
		return nil, pe
	}

	in.Answer = answer
	return in, nil
}
