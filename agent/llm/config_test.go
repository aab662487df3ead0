package llm

import (
	"errors"
	"testing"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

func TestOpenRouterForRoles(t *testing.T) {
	t.Parallel()

	cfg := Config{
		APIKey:             " key ",
		Model:              "default-model",
		Temperature:        0.3,
		MaxCompletionToken: 500,
		CodeModel:          "code-model",
		CodeTemperature:    0.7,
		SQLTemperature:     -1,
	}

	sql := cfg.OpenRouterFor(contractx.AgentTypeSQL)
	if sql.Model != "default-model" || sql.Temperature != 0.3 {
		t.Fatalf("sql role should fall back to defaults: %+v", sql)
	}
	if sql.APIKey != "key" || sql.MaxCompletionToken == nil || *sql.MaxCompletionToken != 500 {
		t.Fatalf("unexpected shared settings: %+v", sql)
	}

	code := cfg.OpenRouterFor(contractx.AgentTypeCode)
	if code.Model != "code-model" || code.Temperature != 0.7 {
		t.Fatalf("code role overrides not applied: %+v", code)
	}
	if got := cfg.ModelFor(contractx.AgentTypeCode); got != "code-model" {
		t.Fatalf("ModelFor() = %q", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := (Config{Model: "m"}).Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error for missing key, got %v", err)
	}
	if err := (Config{APIKey: "k"}).Validate(); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error for missing model, got %v", err)
	}
	if err := (Config{APIKey: "k", Model: "m"}).Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
