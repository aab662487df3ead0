package orchestratornode

import (
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	logx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/metrics"
)

func Classify(in *GraphState, classifier contractx.Classifier) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	c, err := classifier.Classify(in.Request.Text, in.Entities)
	if err != nil {
		return nil, &contractx.PipelineError{
			Kind:       contractx.KindOf(err),
			Confidence: c.Confidence,
			Scores:     c.Scores,
			Entities:   in.Entities,
			Cause:      err,
		}
	}

	metrics.ClassificationConfidence.WithLabelValues(string(c.Category)).Observe(c.Confidence)
	log.Debug().
		Str(logx.RequestIDField, in.Request.ID).
		Str(logx.CategoryField, string(c.Category)).
		Float64("confidence", c.Confidence).
		Msg("request classified")

	in.Classification = c
	return in, nil
}
