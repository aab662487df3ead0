package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/rs/zerolog/hlog"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/session"
)

type errorResponse struct {
	Error      string                         `json:"error"`
	Kind       contractx.ErrorKind            `json:"kind"`
	Category   contractx.Category             `json:"category,omitempty"`
	Scores     map[contractx.Category]float64 `json:"scores,omitempty"`
	Entities   *contractx.Entities            `json:"entities,omitempty"`
	Plan       *contractx.ExecutionPlan       `json:"plan,omitempty"`
	StepID     string                         `json:"step_id,omitempty"`
	Capability string                         `json:"capability,omitempty"`
	Completed  []contractx.ToolResult         `json:"completed,omitempty"`
}

func statusFor(err error) int {
	switch contractx.KindOf(err) {
	case contractx.KindInvalidRequest:
		return http.StatusBadRequest
	case contractx.KindClassificationAmbiguous, contractx.KindPlanValidation:
		return http.StatusUnprocessableEntity
	case contractx.KindSessionLockTimeout, contractx.KindContamination:
		return http.StatusServiceUnavailable
	case contractx.KindToolTimeout:
		return http.StatusGatewayTimeout
	case contractx.KindCanceled:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusRequestTimeout
	case contractx.KindTrainingBlocked:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrInvalidKey) {
		err = errors.Join(contractx.ErrValidation, err)
	}
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), Kind: contractx.KindOf(err)}

	var pe *contractx.PipelineError
	if errors.As(err, &pe) {
		resp.Category = pe.Category
		resp.Scores = pe.Scores
		if !pe.Entities.Empty() {
			entities := pe.Entities
			resp.Entities = &entities
		}
		resp.Plan = pe.Plan
		resp.StepID = pe.StepID
		resp.Capability = pe.Capability
		resp.Completed = pe.Completed
	}

	logger := hlog.FromRequest(r)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		logger.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	render.Status(r, status)
	render.JSON(w, r, resp)
}
