package tool

import (
	"errors"

	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/capability"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/session"
)

// Deps are the collaborators behind the default capability set.
type Deps struct {
	Sessions    SQLSession
	Store       QueryRunner
	SQLKey      session.Key
	Predictor   Predictor
	Plots       *PlotWriter
	Expressions ExpressionSource
}

// NewCatalog registers every capability the planner routes to. Predictor and
// Expressions are optional.
func NewCatalog(deps Deps) (*capability.Registry, error) {
	if deps.Sessions == nil || deps.Store == nil {
		return nil, errors.New("catalog: retrieve needs a session manager and a store")
	}
	if err := deps.SQLKey.Validate(); err != nil {
		return nil, err
	}
	plots := deps.Plots
	if plots == nil {
		w, err := NewPlotWriter("")
		if err != nil {
			return nil, err
		}
		plots = w
	}

	return capability.NewRegistry(
		NewRetrieve(deps.Sessions, deps.Store, deps.SQLKey),
		NewInfer(deps.Predictor),
		NewPlotSeries(plots),
		NewPlotDistribution(plots),
		NewPlotComparison(plots),
		NewCustomCode(deps.Expressions),
	)
}
