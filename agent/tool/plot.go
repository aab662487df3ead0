package tool

import (
	"context"
	"fmt"
	"html/template"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

const (
	PlotKindSeries       = "line"
	PlotKindDistribution = "histogram"
	PlotKindComparison   = "comparison"

	defaultBins = 30
)

var plotTemplate = template.Must(template.New("plot").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="https://cdn.plot.ly/plotly-2.35.2.min.js"></script>
</head>
<body>
<div id="{{.ID}}" style="width:800px;height:500px;"></div>
<script>Plotly.newPlot({{.ID}}, {{.Traces}}, {{.Layout}});</script>
</body>
</html>
`))

type trace struct {
	X      []any     `json:"x,omitempty"`
	Y      []float64 `json:"y,omitempty"`
	Type   string    `json:"type"`
	Mode   string    `json:"mode,omitempty"`
	Name   string    `json:"name,omitempty"`
	NBinsX int       `json:"nbinsx,omitempty"`
}

type axis struct {
	Title string `json:"title"`
}

type layout struct {
	Title      string `json:"title"`
	XAxis      axis   `json:"xaxis"`
	YAxis      axis   `json:"yaxis"`
	ShowLegend bool   `json:"showlegend"`
	Template   string `json:"template"`
}

// PlotWriter renders plotly HTML documents into a directory.
type PlotWriter struct {
	dir string
}

func NewPlotWriter(dir string) (*PlotWriter, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = "plots"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plot dir: %w", err)
	}
	return &PlotWriter{dir: dir}, nil
}

func (w *PlotWriter) write(kind, title string, traces []trace, l layout) (contractx.PlotArtifact, error) {
	id := uuid.NewString()
	path := filepath.Join(w.dir, kind+"_"+id+".html")

	f, err := os.Create(path)
	if err != nil {
		return contractx.PlotArtifact{}, fmt.Errorf("create plot file: %w", err)
	}
	defer f.Close()

	l.Title = title
	l.Template = "plotly_white"
	err = plotTemplate.Execute(f, map[string]any{
		"ID":     id,
		"Title":  title,
		"Traces": traces,
		"Layout": l,
	})
	if err != nil {
		return contractx.PlotArtifact{}, fmt.Errorf("render plot: %w", err)
	}
	return contractx.PlotArtifact{ID: id, Kind: kind, Title: title, Path: path}, nil
}

// PlotSeries draws a column against cycles, one line per unit.
type PlotSeries struct {
	writer *PlotWriter
}

type plotSeriesInput struct {
	Rows  contractx.RowSet `mapstructure:"rows"`
	X     string           `mapstructure:"x"`
	Y     string           `mapstructure:"y"`
	Title string           `mapstructure:"title"`
}

func NewPlotSeries(writer *PlotWriter) *PlotSeries {
	return &PlotSeries{writer: writer}
}

func (p *PlotSeries) Name() string        { return contractx.CapabilityPlotSeries }
func (p *PlotSeries) Description() string { return "Line chart of a column over time." }
func (p *PlotSeries) Idempotent() bool    { return true }

func (p *PlotSeries) Schema() map[string]contractx.Param {
	return map[string]contractx.Param{
		"rows":  {Type: contractx.TypeRowSet, Desc: "Rows to plot", Required: true},
		"x":     {Type: contractx.TypeIdentifier, Desc: "X column, defaults to time_in_cycles"},
		"y":     {Type: contractx.TypeIdentifier, Desc: "Y column, defaults to the first numeric column"},
		"title": {Type: contractx.TypeFreeText, Desc: "Chart title"},
	}
}

func (p *PlotSeries) Invoke(_ context.Context, inputs map[string]any) (any, error) {
	var in plotSeriesInput
	if err := decodeInputs(p.Name(), inputs, &in); err != nil {
		return nil, err
	}
	if len(in.Rows.Rows) == 0 {
		return nil, fmt.Errorf("%w: plot_series received no rows", contractx.ErrValidation)
	}
	if in.X == "" {
		in.X = cycleColumn
	}
	if in.Y == "" || in.Rows.ColumnIndex(in.Y) < 0 {
		in.Y = firstNumericColumn(in.Rows, in.X, unitColumn, "dataset")
	}
	xIdx, yIdx := in.Rows.ColumnIndex(in.X), in.Rows.ColumnIndex(in.Y)
	if xIdx < 0 || yIdx < 0 {
		return nil, fmt.Errorf("%w: plot_series needs columns %q and %q (have %s)", contractx.ErrValidation, in.X, in.Y, strings.Join(in.Rows.Columns, ","))
	}
	if in.Title == "" {
		in.Title = fmt.Sprintf("%s over %s", in.Y, in.X)
	}

	unitIdx := in.Rows.ColumnIndex(unitColumn)
	byUnit := map[string]*trace{}
	var order []string
	var xs, ys []float64
	for _, row := range in.Rows.Rows {
		xv, okX := toFloat(cell(row, xIdx))
		yv, okY := toFloat(cell(row, yIdx))
		if !okX || !okY {
			continue
		}
		unit := ""
		if unitIdx >= 0 {
			unit = fmt.Sprint(cell(row, unitIdx))
		}
		tr, ok := byUnit[unit]
		if !ok {
			tr = &trace{Type: "scatter", Mode: "lines+markers", Name: in.Y}
			if unit != "" {
				tr.Name = "unit " + unit
			}
			byUnit[unit] = tr
			order = append(order, unit)
		}
		tr.X = append(tr.X, xv)
		tr.Y = append(tr.Y, yv)
		xs = append(xs, xv)
		ys = append(ys, yv)
	}
	if len(ys) == 0 {
		return nil, fmt.Errorf("%w: plot_series found no numeric points", contractx.ErrValidation)
	}

	traces := make([]trace, 0, len(order))
	for _, u := range order {
		traces = append(traces, *byUnit[u])
	}
	art, err := p.writer.write(PlotKindSeries, in.Title, traces, layout{
		XAxis:      axis{Title: in.X},
		YAxis:      axis{Title: in.Y},
		ShowLegend: len(traces) > 1,
	})
	if err != nil {
		return nil, err
	}
	art.Analysis = analyzeSeries(xs, ys, in.X, in.Y)
	return art, nil
}

// PlotDistribution draws a histogram of one column.
type PlotDistribution struct {
	writer *PlotWriter
}

type plotDistributionInput struct {
	Rows   contractx.RowSet `mapstructure:"rows"`
	Column string           `mapstructure:"column"`
	Bins   int              `mapstructure:"bins"`
	Title  string           `mapstructure:"title"`
}

func NewPlotDistribution(writer *PlotWriter) *PlotDistribution {
	return &PlotDistribution{writer: writer}
}

func (p *PlotDistribution) Name() string        { return contractx.CapabilityPlotDistribution }
func (p *PlotDistribution) Description() string { return "Histogram of a column's values." }
func (p *PlotDistribution) Idempotent() bool    { return true }

func (p *PlotDistribution) Schema() map[string]contractx.Param {
	return map[string]contractx.Param{
		"rows":   {Type: contractx.TypeRowSet, Desc: "Rows to plot", Required: true},
		"column": {Type: contractx.TypeIdentifier, Desc: "Column to bin, defaults to the first numeric column"},
		"bins":   {Type: contractx.TypeNumber, Desc: "Bin count"},
		"title":  {Type: contractx.TypeFreeText, Desc: "Chart title"},
	}
}

func (p *PlotDistribution) Invoke(_ context.Context, inputs map[string]any) (any, error) {
	var in plotDistributionInput
	if err := decodeInputs(p.Name(), inputs, &in); err != nil {
		return nil, err
	}
	if len(in.Rows.Rows) == 0 {
		return nil, fmt.Errorf("%w: plot_distribution received no rows", contractx.ErrValidation)
	}
	if in.Column == "" || in.Rows.ColumnIndex(in.Column) < 0 {
		in.Column = firstNumericColumn(in.Rows, unitColumn, cycleColumn, "dataset")
		if in.Column == "" {
			in.Column = firstNumericColumn(in.Rows)
		}
	}
	values, err := column(in.Rows, in.Column)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: plot_distribution found no numeric values in %s", contractx.ErrValidation, in.Column)
	}
	if in.Bins <= 0 {
		// One bin per value for small discrete sets.
		in.Bins = defaultBins
		if n := len(valueCounts(values)); n <= 20 {
			in.Bins = n
		}
	}
	if in.Title == "" {
		in.Title = "Distribution of " + in.Column
	}

	x := make([]any, len(values))
	for i, v := range values {
		x[i] = v
	}
	art, err := p.writer.write(PlotKindDistribution, in.Title, []trace{{
		X:      x,
		Type:   "histogram",
		Name:   in.Column,
		NBinsX: in.Bins,
	}}, layout{
		XAxis: axis{Title: in.Column},
		YAxis: axis{Title: "Frequency"},
	})
	if err != nil {
		return nil, err
	}
	art.Analysis = analyzeDistribution(values, in.Column, in.Bins)
	return art, nil
}

// PlotComparison draws actual against predicted remaining life per unit.
type PlotComparison struct {
	writer *PlotWriter
}

type plotComparisonInput struct {
	Rows        contractx.RowSet        `mapstructure:"rows"`
	Predictions contractx.PredictionSet `mapstructure:"predictions"`
	Actual      string                  `mapstructure:"actual"`
	CompareTo   string                  `mapstructure:"compare_to"`
	Title       string                  `mapstructure:"title"`
}

func NewPlotComparison(writer *PlotWriter) *PlotComparison {
	return &PlotComparison{writer: writer}
}

func (p *PlotComparison) Name() string { return contractx.CapabilityPlotComparison }
func (p *PlotComparison) Description() string {
	return "Chart comparing actual and predicted remaining useful life per unit."
}
func (p *PlotComparison) Idempotent() bool { return true }

func (p *PlotComparison) Schema() map[string]contractx.Param {
	return map[string]contractx.Param{
		"rows":        {Type: contractx.TypeRowSet, Desc: "Rows holding the actual values", Required: true},
		"predictions": {Type: contractx.TypeObject, Desc: "Output of infer", Required: true},
		"actual":      {Type: contractx.TypeIdentifier, Desc: "Actual value column, defaults to rul"},
		"compare_to":  {Type: contractx.TypeFreeText, Desc: "What the actual values are compared against, as asked"},
		"title":       {Type: contractx.TypeFreeText, Desc: "Chart title"},
	}
}

func (p *PlotComparison) Invoke(_ context.Context, inputs map[string]any) (any, error) {
	var in plotComparisonInput
	if err := decodeInputs(p.Name(), inputs, &in); err != nil {
		return nil, err
	}
	if len(in.Predictions.Predictions) == 0 {
		return nil, fmt.Errorf("%w: plot_comparison received no predictions", contractx.ErrValidation)
	}
	if in.Actual == "" {
		in.Actual = rulColumn
	}
	actualByUnit, err := lastPerUnit(in.Rows, in.Actual)
	if err != nil {
		return nil, err
	}

	var units []any
	var actual, predicted []float64
	for _, pr := range in.Predictions.Predictions {
		a, ok := actualByUnit[pr.Unit]
		if !ok {
			continue
		}
		units = append(units, pr.Unit)
		actual = append(actual, a)
		predicted = append(predicted, pr.PredictedRUL)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: no predicted unit has an actual %s value", contractx.ErrValidation, in.Actual)
	}
	predictedName := "predicted (" + in.Predictions.Model + ")"
	if target := strings.TrimSpace(in.CompareTo); target != "" {
		predictedName = target + " (" + in.Predictions.Model + ")"
	}
	if in.Title == "" {
		in.Title = "Actual vs predicted RUL"
		if target := strings.TrimSpace(in.CompareTo); target != "" {
			in.Title = "Actual " + in.Actual + " vs " + target
		}
	}

	art, err := p.writer.write(PlotKindComparison, in.Title, []trace{
		{X: units, Y: actual, Type: "scatter", Mode: "lines+markers", Name: "actual " + in.Actual},
		{X: units, Y: predicted, Type: "scatter", Mode: "lines+markers", Name: predictedName},
	}, layout{
		XAxis:      axis{Title: unitColumn},
		YAxis:      axis{Title: "RUL"},
		ShowLegend: true,
	})
	if err != nil {
		return nil, err
	}
	art.Analysis = analyzeComparison(actual, predicted, in.Actual)
	return art, nil
}

// lastPerUnit reads name at each unit's latest cycle.
func lastPerUnit(rows contractx.RowSet, name string) (map[string]float64, error) {
	idx := rows.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("%w: rows have no column %q (have %s)", contractx.ErrValidation, name, strings.Join(rows.Columns, ","))
	}
	unitIdx := rows.ColumnIndex(unitColumn)
	cycleIdx := rows.ColumnIndex(cycleColumn)

	out := map[string]float64{}
	cycles := map[string]float64{}
	for _, row := range rows.Rows {
		v, ok := toFloat(cell(row, idx))
		if !ok {
			continue
		}
		unit := ""
		if unitIdx >= 0 {
			unit = fmt.Sprint(cell(row, unitIdx))
		}
		cycle := math.Inf(-1)
		if c, ok := toFloat(cell(row, cycleIdx)); ok {
			cycle = c
		}
		if prev, seen := cycles[unit]; seen && cycle < prev {
			continue
		}
		cycles[unit] = cycle
		out[unit] = v
	}
	return out, nil
}

func cell(row []any, idx int) any {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	return row[idx]
}
