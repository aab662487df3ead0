package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/capability"
	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	logx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/metrics"
)

const DefaultToolTimeout = 60 * time.Second

type CapabilityLookup interface {
	Lookup(name string) (contractx.Capability, error)
}

// Config holds per-capability time limits. Timeouts overrides DefaultTimeout by
// capability name; a non-positive value disables the limit.
type Config struct {
	DefaultTimeout time.Duration
	Timeouts       map[string]time.Duration
}

// Dispatcher runs the steps of one plan in order against the registry.
type Dispatcher struct {
	caps CapabilityLookup
	cfg  Config
}

var _ contractx.Dispatcher = (*Dispatcher)(nil)

func New(caps CapabilityLookup, cfg Config) *Dispatcher {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultToolTimeout
	}
	return &Dispatcher{caps: caps, cfg: cfg}
}

type scalarer interface {
	Scalar() (any, bool)
}

type callResult struct {
	payload any
	err     error
}

// Execute runs plan. The first failing step aborts the rest and is reported in a
// PipelineError together with the results completed before it. A contaminated
// stateful capability is reset and its step retried exactly once.
func (d *Dispatcher) Execute(ctx context.Context, plan contractx.ExecutionPlan) (contractx.Answer, error) {
	answer := contractx.Answer{Category: plan.Category, Plan: plan}
	outputs := make(map[string]any, len(plan.Steps))

	fail := func(step contractx.Step, err error) (contractx.Answer, error) {
		return answer, &contractx.PipelineError{
			Kind:       contractx.KindOf(err),
			Category:   plan.Category,
			Plan:       &plan,
			StepID:     step.ID,
			Capability: step.Capability,
			Completed:  append([]contractx.ToolResult(nil), answer.Trace...),
			Cause:      err,
		}
	}

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return fail(step, err)
		}

		c, err := d.caps.Lookup(step.Capability)
		if err != nil {
			return fail(step, err)
		}
		inputs, err := resolve(step, outputs)
		if err != nil {
			return fail(step, err)
		}
		if err := capability.CheckInputs(c, inputs); err != nil {
			return fail(step, err)
		}

		result := d.runStep(ctx, step, c, inputs)
		if result.Status != contractx.ToolStatusOK {
			return fail(step, result.cause)
		}
		answer.Trace = append(answer.Trace, result.ToolResult)
		outputs[step.Output] = result.Payload
	}

	if len(plan.Steps) > 0 && plan.Terminal >= 0 && plan.Terminal < len(plan.Steps) {
		answer.Payload = outputs[plan.Steps[plan.Terminal].Output]
		if s, ok := answer.Payload.(scalarer); ok {
			if v, ok := s.Scalar(); ok {
				answer.Scalar = v
			}
		}
	}
	return answer, nil
}

type stepResult struct {
	contractx.ToolResult
	cause error
}

func (d *Dispatcher) runStep(ctx context.Context, step contractx.Step, c contractx.Capability, inputs map[string]any) stepResult {
	start := time.Now()
	res := stepResult{ToolResult: contractx.ToolResult{StepID: step.ID, Capability: step.Capability}}
	logger := log.With().
		Str(logx.StepField, step.ID).
		Str(logx.CapabilityField, step.Capability).
		Logger()

	payload, err := d.invoke(ctx, c, inputs)
	res.Attempts = 1

	stateful, isStateful := c.(contractx.Stateful)
	if errors.Is(err, contractx.ErrContaminationDetected) && isStateful && c.Idempotent() && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("contamination detected, resetting and retrying step")
		if resetErr := stateful.Reset(ctx); resetErr != nil {
			err = fmt.Errorf("%w (reset failed: %w)", err, resetErr)
		} else {
			payload, err = d.invoke(ctx, c, inputs)
			res.Attempts = 2
		}
	}
	res.Duration = time.Since(start)
	metrics.CapabilityDuration.WithLabelValues(step.Capability).Observe(res.Duration.Seconds())

	if err != nil {
		res.Status = contractx.ToolStatusError
		res.ErrorKind = contractx.KindOf(err)
		res.Error = err.Error()
		res.cause = err
		metrics.CapabilityInvocationsTotal.WithLabelValues(step.Capability, string(res.ErrorKind)).Inc()
		logger.Warn().Err(err).Str("kind", string(res.ErrorKind)).Int("attempts", res.Attempts).Msg("step failed")
		return res
	}

	res.Status = contractx.ToolStatusOK
	res.Payload = payload
	metrics.CapabilityInvocationsTotal.WithLabelValues(step.Capability, string(contractx.ToolStatusOK)).Inc()
	logger.Debug().Dur("duration", res.Duration).Int("attempts", res.Attempts).Msg("step completed")
	return res
}

// invoke runs the call detached from the request's cancellation so shared state
// is never left half-updated; a cancelled or timed out caller stops waiting and
// the late result is dropped.
func (d *Dispatcher) invoke(ctx context.Context, c contractx.Capability, inputs map[string]any) (any, error) {
	timeout := d.timeout(c.Name())
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), timeout)
	} else {
		callCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}

	done := make(chan callResult, 1)
	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("%w: %s panicked: %v", contractx.ErrCapability, c.Name(), r)}
			}
		}()
		payload, err := c.Invoke(callCtx, inputs)
		done <- callResult{payload: payload, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	timeoutErr := fmt.Errorf("%w: %s exceeded %s", contractx.ErrToolTimeout, c.Name(), timeout)

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timeoutErr
		}
		return r.payload, r.err
	case <-expired:
		return nil, timeoutErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) timeout(name string) time.Duration {
	if t, ok := d.cfg.Timeouts[name]; ok {
		return t
	}
	return d.cfg.DefaultTimeout
}

// resolve binds literals and earlier outputs into the capability's inputs.
func resolve(step contractx.Step, outputs map[string]any) (map[string]any, error) {
	inputs := make(map[string]any, len(step.Inputs))
	for _, in := range step.Inputs {
		if !in.IsRef() {
			inputs[in.Name] = in.Literal
			continue
		}
		v, ok := outputs[in.Ref]
		if !ok {
			return nil, fmt.Errorf("%w: step %s input %q references unbound output %q", contractx.ErrPlanValidation, step.ID, in.Name, in.Ref)
		}
		inputs[in.Name] = v
	}
	return inputs, nil
}
