package main

import (
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/llm"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/session"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/tool"
	configx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/config"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/database"
	qstashx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/qstash"
)

func loadDeps() (agent.Deps, error) {
	agentCfg, err := configx.New[agent.Config]("AGENT")
	if err != nil {
		return agent.Deps{}, err
	}
	llmCfg, err := configx.New[llm.Config]("LLM")
	if err != nil {
		return agent.Deps{}, err
	}
	dbCfg, err := configx.New[database.Config]("DB")
	if err != nil {
		return agent.Deps{}, err
	}
	predictorCfg, err := configx.New[tool.HTTPPredictorConfig]("PREDICTOR")
	if err != nil {
		return agent.Deps{}, err
	}

	deps := agent.Deps{
		Agent:     *agentCfg,
		LLM:       *llmCfg,
		DB:        *dbCfg,
		Predictor: *predictorCfg,
	}

	// Notifications and stats export are enabled only when fully configured.
	if cfg, err := configx.New[qstashx.Config]("QSTASH"); err == nil {
		deps.QStash = cfg
	} else {
		log.Debug().Err(err).Msg("qstash notifier disabled")
	}
	if cfg, err := configx.New[session.UpstashRedisConfig]("UPSTASH"); err == nil {
		deps.Upstash = cfg
	} else {
		log.Debug().Err(err).Msg("session stats export disabled")
	}
	return deps, nil
}
