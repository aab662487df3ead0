package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

const (
	// DefaultMaxLife approximates the mean run-to-failure length of the
	// single-condition turbofan datasets, in cycles.
	DefaultMaxLife = 200.0

	baselineModel = "baseline"

	unitColumn  = "unit_number"
	cycleColumn = "time_in_cycles"
	rulColumn   = "rul"
)

// Predictor scores remaining useful life for the units present in rows.
type Predictor interface {
	Predict(ctx context.Context, rows contractx.RowSet) (contractx.PredictionSet, error)
}

// BaselinePredictor estimates remaining life as MaxLife minus the last observed
// cycle of each unit. It never reads the rul label.
type BaselinePredictor struct {
	MaxLife float64
}

func (b BaselinePredictor) Predict(_ context.Context, rows contractx.RowSet) (contractx.PredictionSet, error) {
	maxLife := b.MaxLife
	if maxLife <= 0 {
		maxLife = DefaultMaxLife
	}

	unitIdx := rows.ColumnIndex(unitColumn)
	cycleIdx := rows.ColumnIndex(cycleColumn)
	if cycleIdx < 0 {
		return contractx.PredictionSet{}, fmt.Errorf("%w: infer needs %s in rows", contractx.ErrValidation, cycleColumn)
	}

	latest := map[string]float64{}
	var order []string
	for _, row := range rows.Rows {
		if cycleIdx >= len(row) {
			continue
		}
		cycle, ok := toFloat(row[cycleIdx])
		if !ok {
			continue
		}
		unit := ""
		if unitIdx >= 0 && unitIdx < len(row) {
			unit = fmt.Sprint(row[unitIdx])
		}
		prev, seen := latest[unit]
		if !seen {
			order = append(order, unit)
		}
		if !seen || cycle > prev {
			latest[unit] = cycle
		}
	}
	if len(order) == 0 {
		return contractx.PredictionSet{}, fmt.Errorf("%w: infer received no cycle values", contractx.ErrValidation)
	}

	out := contractx.PredictionSet{Model: baselineModel}
	for _, unit := range order {
		last := latest[unit]
		out.Predictions = append(out.Predictions, contractx.Prediction{
			Unit:         unit,
			LastCycle:    last,
			PredictedRUL: math.Max(0, maxLife-last),
		})
	}
	sort.SliceStable(out.Predictions, func(i, j int) bool {
		return unitLess(out.Predictions[i].Unit, out.Predictions[j].Unit)
	})
	return out, nil
}

// withoutLabel drops the rul column so no predictor sees the ground truth it
// is later compared against.
func withoutLabel(rows contractx.RowSet) contractx.RowSet {
	idx := rows.ColumnIndex(rulColumn)
	if idx < 0 {
		return rows
	}
	out := contractx.RowSet{SQL: rows.SQL, Columns: make([]string, 0, len(rows.Columns)-1), Rows: make([][]any, 0, len(rows.Rows))}
	out.Columns = append(append(out.Columns, rows.Columns[:idx]...), rows.Columns[idx+1:]...)
	for _, row := range rows.Rows {
		if idx >= len(row) {
			out.Rows = append(out.Rows, row)
			continue
		}
		r := make([]any, 0, len(row)-1)
		r = append(append(r, row[:idx]...), row[idx+1:]...)
		out.Rows = append(out.Rows, r)
	}
	return out
}

func unitLess(a, b string) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa < fb
	}
	return a < b
}

type HTTPPredictorConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// HTTPPredictor posts rows to an external model server.
type HTTPPredictor struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

type predictRequest struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func NewHTTPPredictor(cfg HTTPPredictorConfig) (*HTTPPredictor, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, errors.New("predictor url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid predictor url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPredictor{
		endpoint:   endpoint,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (p *HTTPPredictor) Predict(ctx context.Context, rows contractx.RowSet) (contractx.PredictionSet, error) {
	body, err := json.Marshal(predictRequest{Columns: rows.Columns, Rows: rows.Rows})
	if err != nil {
		return contractx.PredictionSet{}, fmt.Errorf("marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return contractx.PredictionSet{}, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return contractx.PredictionSet{}, fmt.Errorf("execute predict request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return contractx.PredictionSet{}, fmt.Errorf("read predict response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return contractx.PredictionSet{}, fmt.Errorf("predictor http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out contractx.PredictionSet
	if err := json.Unmarshal(raw, &out); err != nil {
		return contractx.PredictionSet{}, fmt.Errorf("decode predict response: %w", err)
	}
	if len(out.Predictions) == 0 {
		return contractx.PredictionSet{}, fmt.Errorf("%w: predictor returned no predictions", contractx.ErrSchemaViolation)
	}
	return out, nil
}

// Infer estimates remaining useful life from retrieved sensor rows.
type Infer struct {
	predictor Predictor
}

type inferInput struct {
	Rows contractx.RowSet `mapstructure:"rows"`
	Unit string           `mapstructure:"unit"`
}

// NewInfer uses the baseline predictor when predictor is nil.
func NewInfer(predictor Predictor) *Infer {
	if predictor == nil {
		predictor = BaselinePredictor{MaxLife: DefaultMaxLife}
	}
	return &Infer{predictor: predictor}
}

func (i *Infer) Name() string {
	return contractx.CapabilityInfer
}

func (i *Infer) Description() string {
	return "Predict remaining useful life per engine unit from sensor rows."
}

func (i *Infer) Schema() map[string]contractx.Param {
	return map[string]contractx.Param{
		"rows": {Type: contractx.TypeRowSet, Desc: "Sensor rows with unit_number and time_in_cycles", Required: true},
		"unit": {Type: contractx.TypeIdentifier, Desc: "Restrict the answer to one unit"},
	}
}

func (i *Infer) Idempotent() bool {
	return true
}

func (i *Infer) Invoke(ctx context.Context, inputs map[string]any) (any, error) {
	var in inferInput
	if err := decodeInputs(i.Name(), inputs, &in); err != nil {
		return nil, err
	}
	if len(in.Rows.Rows) == 0 {
		return nil, fmt.Errorf("%w: infer received no rows", contractx.ErrValidation)
	}

	set, err := i.predictor.Predict(ctx, withoutLabel(in.Rows))
	if err != nil {
		return nil, err
	}
	if unit := strings.TrimSpace(in.Unit); unit != "" && len(set.Predictions) > 1 {
		filtered := set.Predictions[:0:0]
		for _, p := range set.Predictions {
			if p.Unit == unit {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) > 0 {
			set.Predictions = filtered
		}
	}
	return set, nil
}
