package orchestratornode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

var (
	ErrInvalidText      = errors.New("request text is empty")
	ErrInvalidRequestID = errors.New("request id is empty")
)

type GraphInput struct {
	RequestID string
	Text      string
	Hints     contractx.Entities
}

type GraphOutput struct {
	Answer contractx.Answer
}

// GraphState accumulates one request's progress through the pipeline. Request is
// never modified after ValidateRequest.
type GraphState struct {
	Request contractx.Request

	Entities       contractx.Entities
	Classification contractx.Classification
	Plan           contractx.ExecutionPlan
	Answer         contractx.Answer
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	id := strings.TrimSpace(in.RequestID)
	if id == "" {
		return nil, ErrInvalidRequestID
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %w", contractx.ErrValidation, ErrInvalidText)
	}

	return &GraphState{
		Request: contractx.Request{
			ID:         id,
			Text:       text,
			Hints:      in.Hints,
			ReceivedAt: nowFn().UTC(),
		},
	}, nil
}
