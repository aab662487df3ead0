package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	openrouterx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/openrouter"
)

// Config is loaded with the LLM prefix. Per-role fields override the defaults
// when set; a negative role temperature means "use Temperature".
type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	MaxRetries         int           `envconfig:"MAX_RETRIES" split_words:"true" default:"2"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	SQLModel        string  `envconfig:"SQL_MODEL" split_words:"true"`
	CodeModel       string  `envconfig:"CODE_MODEL" split_words:"true"`
	SQLTemperature  float32 `envconfig:"SQL_TEMPERATURE" split_words:"true" default:"-1"`
	CodeTemperature float32 `envconfig:"CODE_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// ModelFor reports the model name a role resolves to.
func (c Config) ModelFor(agentType contractx.AgentType) string {
	return c.OpenRouterFor(agentType).Model
}

func (c Config) OpenRouterFor(agentType contractx.AgentType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch agentType {
	case contractx.AgentTypeSQL:
		if v := strings.TrimSpace(c.SQLModel); v != "" {
			modelName = v
		}
		if c.SQLTemperature >= 0 {
			temp = c.SQLTemperature
		}
	case contractx.AgentTypeCode:
		if v := strings.TrimSpace(c.CodeModel); v != "" {
			modelName = v
		}
		if c.CodeTemperature >= 0 {
			temp = c.CodeTemperature
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		MaxRetries:         c.MaxRetries,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
