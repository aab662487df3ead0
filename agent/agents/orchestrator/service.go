package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	nodex "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/nodes/orchestrator"
	logx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/metrics"
)

var (
	ErrInvalidText = nodex.ErrInvalidText
)

const outcomeOK = "OK"

// Orchestrator runs one request through extraction, classification, planning and
// execution. It holds no per-request state.
type Orchestrator struct {
	classifier contractx.Classifier
	planner    contractx.Planner
	dispatcher contractx.Dispatcher

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	now   func() time.Time
	newID func() string
}

func New(
	classifier contractx.Classifier,
	planner contractx.Planner,
	dispatcher contractx.Dispatcher,
) (*Orchestrator, error) {
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if planner == nil {
		return nil, errors.New("planner is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	o := &Orchestrator{
		classifier: classifier,
		planner:    planner,
		dispatcher: dispatcher,
		now:        time.Now,
		newID:      uuid.NewString,
	}

	graphRunner, err := o.compileHandleRequestGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleRequest answers text. hints override entities found in the text. Pipeline
// failures are returned as *contract.PipelineError.
func (o *Orchestrator) HandleRequest(ctx context.Context, text string, hints contractx.Entities) (contractx.Answer, error) {
	id := o.newID()
	logger := log.With().Str(logx.RequestIDField, id).Logger()

	out, err := o.graphRunner.Invoke(ctx, nodex.GraphInput{
		RequestID: id,
		Text:      text,
		Hints:     hints,
	})
	if err != nil {
		var pe *contractx.PipelineError
		if errors.As(err, &pe) {
			err = pe
		}
		kind := contractx.KindOf(err)
		category := ""
		if pe != nil {
			category = string(pe.Category)
		}
		metrics.RequestsTotal.WithLabelValues(category, string(kind)).Inc()
		logger.Warn().Err(err).Str("kind", string(kind)).Msg("request failed")
		return contractx.Answer{}, err
	}

	metrics.RequestsTotal.WithLabelValues(string(out.Answer.Category), outcomeOK).Inc()
	logger.Info().
		Str(logx.CategoryField, string(out.Answer.Category)).
		Strs("capabilities", out.Answer.Plan.Capabilities()).
		Msg("request answered")
	return out.Answer, nil
}
