package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/agents/orchestrator"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/capability"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/classify"
	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/dispatch"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/llm"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/planner"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/prompt"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/session"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/sqlgen"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/tool"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/database"
	openrouterx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/openrouter"
	qstashx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/qstash"
)

const sqlSessionKind = "sqlgen"

// Config is loaded with the AGENT prefix.
type Config struct {
	session.Config

	MinConfidence        float64                  `split_words:"true" default:"0.35"`
	TieEpsilon           float64                  `split_words:"true" default:"0.05"`
	ToolTimeout          time.Duration            `split_words:"true" default:"60s"`
	ToolTimeouts         map[string]time.Duration `split_words:"true"`
	ContaminationMarkers []string                 `split_words:"true"`
	PlotDir              string                   `split_words:"true" default:"plots"`
	SQLConfigID          string                   `envconfig:"SQL_CONFIG_ID" default:"default"`
	RulesFile            string                   `split_words:"true"`
	SeedFile             string                   `split_words:"true"`
	StatsExportInterval  time.Duration            `split_words:"true" default:"1m"`
}

// Deps are the loaded configuration objects. QStash and Upstash are optional.
type Deps struct {
	Agent     Config
	LLM       llm.Config
	DB        database.Config
	Predictor tool.HTTPPredictorConfig
	QStash    *qstashx.Config
	Upstash   *session.UpstashRedisConfig
}

// App owns every long-lived component of the service.
type App struct {
	Store        *database.Store
	Sessions     *session.Manager[*sqlgen.Engine]
	Registry     *capability.Registry
	Orchestrator *orchestrator.Orchestrator
	SQLKey       session.Key

	exporter *session.Exporter
	notifier *session.Notifier
	wg       sync.WaitGroup
}

func Build(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Agent
	if err := deps.LLM.Validate(); err != nil {
		return nil, err
	}

	store, err := database.Open(deps.DB)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	app, err := build(ctx, deps, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info().
		Str("sql_model", deps.LLM.ModelFor(contractx.AgentTypeSQL)).
		Str("code_model", deps.LLM.ModelFor(contractx.AgentTypeCode)).
		Strs("capabilities", app.Registry.Names()).
		Int("reset_threshold", cfg.ResetThreshold).
		Msg("agent ready")
	return app, nil
}

func build(ctx context.Context, deps Deps, store *database.Store) (*App, error) {
	cfg := deps.Agent
	prompts := prompt.LoadPromptSet()

	sqlModel, err := openrouterx.NewChatModel(ctx, deps.LLM.OpenRouterFor(contractx.AgentTypeSQL))
	if err != nil {
		return nil, err
	}
	seed, err := loadSeed(cfg.SeedFile)
	if err != nil {
		return nil, err
	}
	factory, err := sqlgen.NewFactory(sqlModel, prompts.SQLGen, store, sqlgen.WithSeed(seed))
	if err != nil {
		return nil, err
	}

	app := &App{
		Store:  store,
		SQLKey: session.Key{Kind: sqlSessionKind, ConfigID: strings.TrimSpace(cfg.SQLConfigID)},
	}
	if err := app.SQLKey.Validate(); err != nil {
		return nil, err
	}

	opts := []session.Option[*sqlgen.Engine]{
		session.WithDetector[*sqlgen.Engine](session.NewSignatureDetector(markers(cfg.ContaminationMarkers), sqlgen.ReadOnly)),
	}
	if deps.QStash != nil {
		client, err := qstashx.NewClient(*deps.QStash)
		if err != nil {
			return nil, fmt.Errorf("qstash: %w", err)
		}
		app.notifier = session.NewNotifier(client, 0)
		opts = append(opts, session.WithEventHook[*sqlgen.Engine](app.notifier.Hook))
	}
	app.Sessions = session.NewManager[*sqlgen.Engine](factory, cfg.Config, opts...)

	if deps.Upstash != nil {
		statsStore, err := session.NewUpstashStatsStore(*deps.Upstash)
		if err != nil {
			return nil, fmt.Errorf("upstash: %w", err)
		}
		app.exporter = session.NewExporter(app.Sessions, statsStore, cfg.StatsExportInterval)
	}

	var predictor tool.Predictor
	if strings.TrimSpace(deps.Predictor.URL) != "" {
		p, err := tool.NewHTTPPredictor(deps.Predictor)
		if err != nil {
			return nil, err
		}
		predictor = p
	}

	var expressions tool.ExpressionSource
	if client := openrouterx.NewClient(deps.LLM.OpenRouterFor(contractx.AgentTypeCode)); client != nil {
		src, err := tool.NewOpenAIExpressionSource(client, deps.LLM.ModelFor(contractx.AgentTypeCode), prompts.CustomCode)
		if err != nil {
			return nil, err
		}
		expressions = src
	}

	plots, err := tool.NewPlotWriter(cfg.PlotDir)
	if err != nil {
		return nil, err
	}

	app.Registry, err = tool.NewCatalog(tool.Deps{
		Sessions:    app.Sessions,
		Store:       store,
		SQLKey:      app.SQLKey,
		Predictor:   predictor,
		Plots:       plots,
		Expressions: expressions,
	})
	if err != nil {
		return nil, err
	}

	rules, err := loadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	classifier, err := classify.NewClassifier(rules,
		classify.WithMinConfidence(cfg.MinConfidence),
		classify.WithEpsilon(cfg.TieEpsilon),
	)
	if err != nil {
		return nil, err
	}
	p, err := planner.New(app.Registry)
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.New(app.Registry, dispatch.Config{
		DefaultTimeout: cfg.ToolTimeout,
		Timeouts:       cfg.ToolTimeouts,
	})

	app.Orchestrator, err = orchestrator.New(classifier, p, dispatcher)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Start launches the optional background workers. They stop when ctx is done.
func (a *App) Start(ctx context.Context) {
	if a.notifier != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.notifier.Run(ctx)
		}()
	}
	if a.exporter != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.exporter.Run(ctx)
		}()
	}
}

// Warm sets up the query session ahead of the first request.
func (a *App) Warm(ctx context.Context) error {
	return a.Sessions.Warm(ctx, a.SQLKey)
}

// Close waits for workers started with Start; cancel their context first.
func (a *App) Close(ctx context.Context) error {
	a.wg.Wait()
	var errs []error
	if a.exporter != nil {
		errs = append(errs, a.exporter.ExportOnce(ctx))
	}
	errs = append(errs, a.Sessions.Close(ctx), a.Store.Close())
	return errors.Join(errs...)
}

func markers(configured []string) []string {
	if len(configured) == 0 {
		return nil
	}
	return configured
}

func loadRules(path string) (classify.Rules, error) {
	if strings.TrimSpace(path) == "" {
		return classify.DefaultRules()
	}
	return classify.LoadRules(path)
}

func loadSeed(path string) (sqlgen.Seed, error) {
	if strings.TrimSpace(path) == "" {
		return sqlgen.DefaultSeed()
	}
	return sqlgen.LoadSeed(path)
}
