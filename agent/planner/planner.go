package planner

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/tool"
)

// CapabilityLookup is the read side of the capability registry.
type CapabilityLookup interface {
	Lookup(name string) (contractx.Capability, error)
}

// stepSpec is one row of a route. Inputs are bound from, in order: fixed
// literals, request text, entities and earlier step outputs.
type stepSpec struct {
	capability string
	output     string
	literals   map[string]any
	text       string            // input name that receives the request text
	entities   map[string]string // input name -> entity name
	refs       map[string]string // input name -> earlier output
	context    string            // input name that receives every entity as a map
}

var retrieveEntities = map[string]string{
	"dataset":    contractx.EntityDataset,
	"split":      contractx.EntitySplit,
	"unit":       contractx.EntityUnit,
	"time_index": contractx.EntityTimeIndex,
	"sensor":     contractx.EntitySensor,
	"metric":     contractx.EntityMetric,
}

func retrieveStep(purpose string, extra map[string]any) stepSpec {
	literals := map[string]any{"purpose": purpose}
	for k, v := range extra {
		literals[k] = v
	}
	return stepSpec{
		capability: contractx.CapabilityRetrieve,
		output:     "rows",
		literals:   literals,
		text:       "question",
		entities:   retrieveEntities,
	}
}

// routes is the fixed routing table.
var routes = map[contractx.Category][]stepSpec{
	contractx.CategoryLookup: {
		retrieveStep(tool.PurposeLookup, nil),
	},
	contractx.CategoryAggregation: {
		retrieveStep(tool.PurposeAggregate, map[string]any{"aggregate": true}),
	},
	contractx.CategoryPrediction: {
		retrieveStep(tool.PurposePrediction, nil),
		{
			capability: contractx.CapabilityInfer,
			output:     "predictions",
			entities:   map[string]string{"unit": contractx.EntityUnit},
			refs:       map[string]string{"rows": "rows"},
		},
	},
	contractx.CategoryTimeSeriesPlot: {
		retrieveStep(tool.PurposeSeries, nil),
		{
			capability: contractx.CapabilityPlotSeries,
			output:     "plot",
			entities:   map[string]string{"y": contractx.EntityMetric},
			refs:       map[string]string{"rows": "rows"},
		},
	},
	contractx.CategoryDistributionPlot: {
		retrieveStep(tool.PurposeDistribution, nil),
		{
			capability: contractx.CapabilityPlotDistribution,
			output:     "plot",
			entities:   map[string]string{"column": contractx.EntityMetric},
			refs:       map[string]string{"rows": "rows"},
		},
	},
	contractx.CategoryComparisonPlot: {
		retrieveStep(tool.PurposeComparison, nil),
		{
			capability: contractx.CapabilityInfer,
			output:     "predictions",
			refs:       map[string]string{"rows": "rows"},
		},
		{
			capability: contractx.CapabilityPlotComparison,
			output:     "plot",
			entities:   map[string]string{"compare_to": contractx.EntityComparisonTarget},
			refs:       map[string]string{"rows": "rows", "predictions": "predictions"},
		},
	},
	contractx.CategoryCustomAnalysis: {
		{
			capability: contractx.CapabilityCustomCode,
			output:     "result",
			text:       "text",
			context:    "entities",
		},
	},
}

// Planner turns a category and entities into an ExecutionPlan. It is a pure
// function of its inputs.
type Planner struct {
	schemas map[string]map[string]contractx.Param
}

var _ contractx.Planner = (*Planner)(nil)

// New checks the routing table against the registry once: every routed
// capability exists, every bound input is in its schema and every reference
// names an earlier output.
func New(caps CapabilityLookup) (*Planner, error) {
	p := &Planner{schemas: map[string]map[string]contractx.Param{}}

	var errs []error
	for _, category := range contractx.Categories {
		steps, ok := routes[category]
		if !ok {
			errs = append(errs, fmt.Errorf("no route for %s", category))
			continue
		}
		produced := map[string]bool{}
		for i, spec := range steps {
			c, err := caps.Lookup(spec.capability)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s step %d: %w", category, i+1, err))
				continue
			}
			schema := c.Schema()
			p.schemas[spec.capability] = schema
			for _, name := range spec.inputNames() {
				if _, ok := schema[name]; !ok {
					errs = append(errs, fmt.Errorf("%s step %d: %s has no input %q", category, i+1, spec.capability, name))
				}
			}
			for input, ref := range spec.refs {
				if !produced[ref] {
					errs = append(errs, fmt.Errorf("%s step %d: input %q references %q before it is produced", category, i+1, input, ref))
				}
			}
			produced[spec.output] = true
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: routing table: %w", contractx.ErrPlanValidation, err)
	}
	return p, nil
}

// Plan binds the route for category. A required input left unbound is a
// validation error reported before anything runs.
func (p *Planner) Plan(category contractx.Category, req contractx.Request, entities contractx.Entities) (contractx.ExecutionPlan, error) {
	steps, ok := routes[category]
	if !ok {
		return contractx.ExecutionPlan{}, fmt.Errorf("%w: no route for category %q", contractx.ErrPlanValidation, category)
	}

	plan := contractx.ExecutionPlan{Category: category, Steps: make([]contractx.Step, 0, len(steps))}
	for i, spec := range steps {
		step := contractx.Step{
			ID:         fmt.Sprintf("s%d", i+1),
			Capability: spec.capability,
			Output:     spec.output,
		}
		bound := map[string]contractx.Input{}
		for name, v := range spec.literals {
			bound[name] = contractx.Input{Name: name, Literal: v}
		}
		if spec.text != "" && strings.TrimSpace(req.Text) != "" {
			bound[spec.text] = contractx.Input{Name: spec.text, Literal: strings.TrimSpace(req.Text)}
		}
		for name, entity := range spec.entities {
			if v, ok := entities.Lookup(entity); ok {
				bound[name] = contractx.Input{Name: name, Literal: v}
			}
		}
		if spec.context != "" {
			bound[spec.context] = contractx.Input{Name: spec.context, Literal: entities.Map()}
		}
		for name, ref := range spec.refs {
			bound[name] = contractx.Input{Name: name, Ref: ref}
		}

		for _, name := range sortedKeys(bound) {
			step.Inputs = append(step.Inputs, bound[name])
		}
		plan.Steps = append(plan.Steps, step)

		// The attempted plan ends at the step that could not be bound.
		schema := p.schemas[spec.capability]
		for _, name := range sortedKeys(schema) {
			if _, ok := bound[name]; schema[name].Required && !ok {
				plan.Terminal = len(plan.Steps) - 1
				return plan, &contractx.StepError{
					StepID:     step.ID,
					Capability: spec.capability,
					Err: fmt.Errorf("%w: step %s (%s) requires %q but it is absent (entities present: %s)",
						contractx.ErrPlanValidation, step.ID, spec.capability, name, present(entities)),
				}
			}
		}
	}
	plan.Terminal = len(plan.Steps) - 1
	return plan, nil
}

func (s stepSpec) inputNames() []string {
	var names []string
	for name := range s.literals {
		names = append(names, name)
	}
	for name := range s.entities {
		names = append(names, name)
	}
	for name := range s.refs {
		names = append(names, name)
	}
	if s.text != "" {
		names = append(names, s.text)
	}
	if s.context != "" {
		names = append(names, s.context)
	}
	return names
}

func present(e contractx.Entities) string {
	m := e.Map()
	if len(m) == 0 {
		return "none"
	}
	keys := make([]string, 0, len(m))
	for k, v := range m {
		keys = append(keys, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
