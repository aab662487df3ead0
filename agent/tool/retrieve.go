package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/session"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/sqlgen"
	logx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger"
)

// Purposes tell the query generator what the rows will be used for.
const (
	PurposeLookup       = "lookup"
	PurposeAggregate    = "aggregate"
	PurposePrediction   = "prediction"
	PurposeSeries       = "series"
	PurposeDistribution = "distribution"
	PurposeComparison   = "comparison"
)

// SQLSession is the slice of session.Manager that retrieval needs.
type SQLSession interface {
	WithSession(ctx context.Context, key session.Key, fn func(context.Context, *sqlgen.Engine) (string, error)) (string, error)
	Reset(ctx context.Context, key session.Key, reason string) error
}

type QueryRunner interface {
	Query(ctx context.Context, query string) (contractx.RowSet, error)
}

var _ contractx.Stateful = (*Retrieve)(nil)

// Retrieve answers a question with rows from the fleet store. The query is
// written by a managed sqlgen session and must be read-only.
type Retrieve struct {
	sessions SQLSession
	store    QueryRunner
	key      session.Key
}

type retrieveInput struct {
	Question  string `mapstructure:"question"`
	Dataset   string `mapstructure:"dataset"`
	Split     string `mapstructure:"split"`
	Unit      string `mapstructure:"unit"`
	TimeIndex string `mapstructure:"time_index"`
	Sensor    string `mapstructure:"sensor"`
	Metric    string `mapstructure:"metric"`
	Aggregate bool   `mapstructure:"aggregate"`
	Purpose   string `mapstructure:"purpose"`
}

func NewRetrieve(sessions SQLSession, store QueryRunner, key session.Key) *Retrieve {
	return &Retrieve{sessions: sessions, store: store, key: key}
}

func (r *Retrieve) Name() string {
	return contractx.CapabilityRetrieve
}

func (r *Retrieve) Description() string {
	return "Answer a question about engine fleet readings with rows from the database."
}

func (r *Retrieve) Schema() map[string]contractx.Param {
	return map[string]contractx.Param{
		"question":   {Type: contractx.TypeFreeText, Desc: "Natural language question", Required: true},
		"dataset":    {Type: contractx.TypeIdentifier, Desc: "Dataset identifier, e.g. FD001", Required: true},
		"split":      {Type: contractx.TypeIdentifier, Desc: "train or test"},
		"unit":       {Type: contractx.TypeIdentifier, Desc: "Engine unit number"},
		"time_index": {Type: contractx.TypeTimeIndex, Desc: "Cycle number"},
		"sensor":     {Type: contractx.TypeIdentifier, Desc: "Sensor or setting column"},
		"metric":     {Type: contractx.TypeIdentifier, Desc: "Requested metric column"},
		"aggregate":  {Type: contractx.TypeBoolean, Desc: "Summarise into a single value"},
		"purpose":    {Type: contractx.TypeIdentifier, Desc: "How the rows will be used downstream"},
	}
}

func (r *Retrieve) Idempotent() bool {
	return true
}

func (r *Retrieve) Invoke(ctx context.Context, inputs map[string]any) (any, error) {
	var in retrieveInput
	if err := decodeInputs(r.Name(), inputs, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, fmt.Errorf("%w: retrieve requires a question", contractx.ErrValidation)
	}

	question := in.prompt()
	query, err := r.sessions.WithSession(ctx, r.key, func(ctx context.Context, e *sqlgen.Engine) (string, error) {
		return e.GenerateSQL(ctx, question)
	})
	if err != nil {
		return nil, err
	}
	if err := sqlgen.ReadOnly(query); err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	rows.SQL = query

	log.Debug().
		Str(logx.SessionKeyField, r.key.String()).
		Str("sql", query).
		Int("rows", len(rows.Rows)).
		Msg("retrieve completed")
	return rows, nil
}

// Reset replaces the generator behind this capability.
func (r *Retrieve) Reset(ctx context.Context) error {
	return r.sessions.Reset(ctx, r.key, session.ReasonContamination)
}

// TrainingWrite attempts to add an example to the live generator. Outside setup
// the engine refuses it and the session is marked contaminated.
func (r *Retrieve) TrainingWrite(ctx context.Context, ex contractx.TrainingExample) error {
	_, err := r.sessions.WithSession(ctx, r.key, func(ctx context.Context, e *sqlgen.Engine) (string, error) {
		if err := e.Train(ctx, ex); err != nil {
			return "", err
		}
		return ex.SQL, nil
	})
	return err
}

func (in retrieveInput) prompt() string {
	var hints []string
	add := func(format, v string) {
		if v = strings.TrimSpace(v); v != "" {
			hints = append(hints, fmt.Sprintf(format, v))
		}
	}

	switch strings.ToLower(strings.TrimSpace(in.Split)) {
	case "test":
		add("use the test_data table with dataset = '%s'", in.Dataset)
	case "train":
		add("use the training_data table with dataset = '%s'", in.Dataset)
	default:
		add("dataset = '%s'", in.Dataset)
	}
	add("unit_number = %s", in.Unit)
	add("time_in_cycles = %s", in.TimeIndex)
	add("column %s", in.Sensor)
	if !strings.EqualFold(in.Metric, in.Sensor) {
		add("metric %s", in.Metric)
	}

	switch {
	case in.Aggregate || in.Purpose == PurposeAggregate:
		hints = append(hints, "return a single aggregated value")
	case in.Purpose == PurposePrediction:
		hints = append(hints, "return unit_number, time_in_cycles and every sensor column for each cycle")
	case in.Purpose == PurposeSeries:
		hints = append(hints, "return time_in_cycles and the requested column ordered by time_in_cycles")
	case in.Purpose == PurposeDistribution:
		hints = append(hints, "return one row per observation of the requested column")
	case in.Purpose == PurposeComparison:
		hints = append(hints, "return unit_number, time_in_cycles, every sensor column and the actual RUL")
	}

	q := strings.TrimSpace(in.Question)
	if len(hints) == 0 {
		return q
	}
	return q + "\nConstraints: " + strings.Join(hints, "; ")
}
