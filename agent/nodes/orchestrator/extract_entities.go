package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

// ExtractEntities fills in.Entities from the request text. Caller hints win over
// anything found in the text.
func ExtractEntities(in *GraphState, extract func(string) contractx.Entities) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Entities = extract(in.Request.Text).Merge(in.Request.Hints)
	return in, nil
}
