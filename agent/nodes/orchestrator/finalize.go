package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

func FinalizeAnswer(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	answer := in.Answer
	answer.RequestID = in.Request.ID
	answer.Category = in.Classification.Category
	answer.Confidence = in.Classification.Confidence
	answer.Entities = in.Entities
	answer.Plan = in.Plan
	if answer.Trace == nil {
		answer.Trace = []contractx.ToolResult{}
	}
	return GraphOutput{Answer: answer}, nil
}
