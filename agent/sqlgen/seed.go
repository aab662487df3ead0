package sqlgen

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

//go:embed seed.yaml
var defaultSeedRaw []byte

// Seed is the static training corpus applied at every setup.
type Seed struct {
	DDL           []string                    `yaml:"ddl"`
	Documentation []string                    `yaml:"documentation"`
	Examples      []contractx.TrainingExample `yaml:"examples"`
}

func (s Seed) Items() []contractx.TrainingExample {
	out := make([]contractx.TrainingExample, 0, len(s.DDL)+len(s.Documentation)+len(s.Examples))
	for _, ddl := range s.DDL {
		out = append(out, contractx.TrainingExample{DDL: ddl})
	}
	for _, doc := range s.Documentation {
		out = append(out, contractx.TrainingExample{Documentation: doc})
	}
	return append(out, s.Examples...)
}

func DefaultSeed() (Seed, error) {
	return parseSeed(defaultSeedRaw)
}

func LoadSeed(path string) (Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed %s: %w", path, err)
	}
	return parseSeed(raw)
}

func parseSeed(raw []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	return seed, nil
}
