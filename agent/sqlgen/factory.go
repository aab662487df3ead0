package sqlgen

import (
	"context"
	"errors"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/session"
	logx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger"
)

// SchemaSource reports the DDL of the live database.
type SchemaSource interface {
	SchemaDDL(ctx context.Context) ([]string, error)
}

var _ session.Factory[*Engine] = (*Factory)(nil)

// Factory builds and trains engines for the session manager.
type Factory struct {
	model  einomodel.BaseChatModel
	prompt string
	schema SchemaSource
	seed   Seed
	topK   int
}

type FactoryOption func(*Factory)

func WithSeed(seed Seed) FactoryOption {
	return func(f *Factory) {
		f.seed = seed
	}
}

func WithTopK(k int) FactoryOption {
	return func(f *Factory) {
		if k > 0 {
			f.topK = k
		}
	}
}

func NewFactory(model einomodel.BaseChatModel, systemPrompt string, schema SchemaSource, opts ...FactoryOption) (*Factory, error) {
	if model == nil {
		return nil, errors.New("sqlgen chat model is required")
	}
	if systemPrompt == "" {
		return nil, fmt.Errorf("%w: sqlgen", contractx.ErrPromptMissing)
	}

	f := &Factory{
		model:  model,
		prompt: systemPrompt,
		schema: schema,
		topK:   defaultTopK,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

func (f *Factory) Build(ctx context.Context, key session.Key) (*Engine, error) {
	runner, err := compileGenerateGraph(ctx, f.model, f.prompt)
	if err != nil {
		return nil, err
	}
	return NewEngine(runner, f.topK), nil
}

// Train loads the live schema first, then the seed corpus.
func (f *Factory) Train(ctx context.Context, key session.Key, e *Engine) error {
	if f.schema != nil {
		ddl, err := f.schema.SchemaDDL(ctx)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		for _, stmt := range ddl {
			if err := e.Train(ctx, contractx.TrainingExample{DDL: stmt}); err != nil {
				return err
			}
		}
	}

	for _, item := range f.seed.Items() {
		if err := e.Train(ctx, item); err != nil {
			return err
		}
	}

	nDDL, nDocs, nExamples := e.Corpus()
	log.Debug().
		Str(logx.SessionKeyField, key.String()).
		Int("ddl", nDDL).
		Int("documentation", nDocs).
		Int("examples", nExamples).
		Msg("sqlgen engine trained")
	return nil
}
