package contract

import (
	"fmt"
	"strings"
	"time"
)

// AgentType names a model role. Each role can carry its own model and temperature.
type AgentType string

const (
	AgentTypeSQL  AgentType = "sql"
	AgentTypeCode AgentType = "code"
)

// Category is the closed set of request intents.
type Category string

const (
	CategoryLookup           Category = "lookup"
	CategoryAggregation      Category = "aggregation"
	CategoryPrediction       Category = "prediction"
	CategoryTimeSeriesPlot   Category = "time_series_plot"
	CategoryDistributionPlot Category = "distribution_plot"
	CategoryComparisonPlot   Category = "comparison_plot"
	CategoryCustomAnalysis   Category = "custom_analysis"
)

// Categories lists every category in tie-break order: cheaper plans first.
var Categories = []Category{
	CategoryLookup,
	CategoryAggregation,
	CategoryPrediction,
	CategoryTimeSeriesPlot,
	CategoryDistributionPlot,
	CategoryComparisonPlot,
	CategoryCustomAnalysis,
}

// Rank orders categories by how many downstream steps they need. Lower wins ties.
func (c Category) Rank() int {
	switch c {
	case CategoryLookup:
		return 0
	case CategoryAggregation:
		return 1
	case CategoryPrediction:
		return 2
	case CategoryTimeSeriesPlot, CategoryDistributionPlot, CategoryComparisonPlot:
		return 3
	case CategoryCustomAnalysis:
		return 4
	default:
		return 99
	}
}

func (c Category) Valid() bool {
	return c.Rank() != 99
}

func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrValidation, raw)
	}
	return c, nil
}

// Capability names shared by the planner routing table and the default catalog.
const (
	CapabilityRetrieve         = "retrieve"
	CapabilityInfer            = "infer"
	CapabilityPlotSeries       = "plot_series"
	CapabilityPlotDistribution = "plot_distribution"
	CapabilityPlotComparison   = "plot_comparison"
	CapabilityCustomCode       = "custom_code"
)

// Entity names used by planners and capability schemas.
const (
	EntityDataset          = "dataset"
	EntitySplit            = "split"
	EntityUnit             = "unit"
	EntityTimeIndex        = "time_index"
	EntitySensor           = "sensor"
	EntityMetric           = "metric"
	EntityComparisonTarget = "comparison_target"
)

// Entities are surface values extracted from request text. Empty means absent.
type Entities struct {
	Dataset          string `json:"dataset,omitempty"`
	Split            string `json:"split,omitempty"` // "train" | "test"
	Unit             string `json:"unit,omitempty"`
	TimeIndex        string `json:"time_index,omitempty"`
	Sensor           string `json:"sensor,omitempty"`
	Metric           string `json:"metric,omitempty"`
	ComparisonTarget string `json:"comparison_target,omitempty"`
}

func (e Entities) Lookup(name string) (string, bool) {
	var v string
	switch name {
	case EntityDataset:
		v = e.Dataset
	case EntitySplit:
		v = e.Split
	case EntityUnit:
		v = e.Unit
	case EntityTimeIndex:
		v = e.TimeIndex
	case EntitySensor:
		v = e.Sensor
	case EntityMetric:
		v = e.Metric
	case EntityComparisonTarget:
		v = e.ComparisonTarget
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Merge returns e with every non-empty field of hints applied on top.
func (e Entities) Merge(hints Entities) Entities {
	pick := func(base, hint string) string {
		if h := strings.TrimSpace(hint); h != "" {
			return h
		}
		return base
	}
	return Entities{
		Dataset:          pick(e.Dataset, hints.Dataset),
		Split:            pick(e.Split, hints.Split),
		Unit:             pick(e.Unit, hints.Unit),
		TimeIndex:        pick(e.TimeIndex, hints.TimeIndex),
		Sensor:           pick(e.Sensor, hints.Sensor),
		Metric:           pick(e.Metric, hints.Metric),
		ComparisonTarget: pick(e.ComparisonTarget, hints.ComparisonTarget),
	}
}

// Map returns the present entities keyed by entity name.
func (e Entities) Map() map[string]any {
	out := make(map[string]any, 7)
	for _, name := range []string{
		EntityDataset, EntitySplit, EntityUnit, EntityTimeIndex,
		EntitySensor, EntityMetric, EntityComparisonTarget,
	} {
		if v, ok := e.Lookup(name); ok {
			out[name] = v
		}
	}
	return out
}

func (e Entities) Empty() bool {
	return len(e.Map()) == 0
}

// Request is created once per incoming question and never mutated afterwards.
type Request struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Hints      Entities  `json:"hints,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

type Classification struct {
	Category   Category             `json:"category"`
	Confidence float64              `json:"confidence"`
	Scores     map[Category]float64 `json:"scores,omitempty"`
}

// Input binds one capability parameter either to a literal or to the output of an
// earlier step (Ref names that step's Output).
type Input struct {
	Name    string `json:"name"`
	Literal any    `json:"literal,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

func (in Input) IsRef() bool {
	return in.Ref != ""
}

type Step struct {
	ID         string  `json:"id"`
	Capability string  `json:"capability"`
	Inputs     []Input `json:"inputs"`
	Output     string  `json:"output"`
}

type ExecutionPlan struct {
	Category Category `json:"category"`
	Steps    []Step   `json:"steps"`
	Terminal int      `json:"terminal"`
}

func (p ExecutionPlan) Capabilities() []string {
	out := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, s.Capability)
	}
	return out
}

type ToolStatus string

const (
	ToolStatusOK    ToolStatus = "ok"
	ToolStatusError ToolStatus = "error"
)

type ToolResult struct {
	StepID     string        `json:"step_id"`
	Capability string        `json:"capability"`
	Status     ToolStatus    `json:"status"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Payload    any           `json:"payload,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
}

type Answer struct {
	RequestID  string        `json:"request_id"`
	Category   Category      `json:"category"`
	Confidence float64       `json:"confidence"`
	Entities   Entities      `json:"entities"`
	Plan       ExecutionPlan `json:"plan"`
	Trace      []ToolResult  `json:"trace"`
	Payload    any           `json:"payload"`
	Scalar     any           `json:"scalar,omitempty"`
}

// RowSet is the structured output of retrieval.
type RowSet struct {
	SQL     string   `json:"sql,omitempty"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Scalar reports the single value of a one-row, one-column result.
func (r RowSet) Scalar() (any, bool) {
	if len(r.Rows) != 1 || len(r.Columns) != 1 || len(r.Rows[0]) != 1 {
		return nil, false
	}
	return r.Rows[0][0], true
}

func (r RowSet) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

type Prediction struct {
	Unit         string  `json:"unit"`
	PredictedRUL float64 `json:"predicted_rul"`
	LastCycle    float64 `json:"last_cycle,omitempty"`
}

type PredictionSet struct {
	Model       string       `json:"model"`
	Predictions []Prediction `json:"predictions"`
}

// Scalar reports the prediction when exactly one unit was scored.
func (p PredictionSet) Scalar() (any, bool) {
	if len(p.Predictions) != 1 {
		return nil, false
	}
	return p.Predictions[0].PredictedRUL, true
}

type PlotArtifact struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	Path     string         `json:"path"`
	Analysis map[string]any `json:"analysis,omitempty"`
}

type CustomResult struct {
	Expression string         `json:"expression"`
	Result     float64        `json:"result"`
	Context    map[string]any `json:"context,omitempty"`
}

// TrainingExample is one item written into a stateful generative capability.
type TrainingExample struct {
	Question      string `json:"question,omitempty" yaml:"question"`
	SQL           string `json:"sql,omitempty" yaml:"sql"`
	DDL           string `json:"ddl,omitempty" yaml:"ddl"`
	Documentation string `json:"documentation,omitempty" yaml:"documentation"`
}
