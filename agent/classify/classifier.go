package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

const (
	DefaultMinConfidence = 0.35
	DefaultEpsilon       = 0.05
)

//go:embed rules.yaml
var defaultRulesRaw []byte

type PatternRule struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

type CategoryRules struct {
	Prior        float64            `yaml:"prior"`
	Patterns     []PatternRule      `yaml:"patterns"`
	EntityBoosts map[string]float64 `yaml:"entity_boosts"`
}

// Rules is the declarative evidence table behind a Classifier.
type Rules struct {
	MinConfidence float64                  `yaml:"min_confidence"`
	Epsilon       float64                  `yaml:"epsilon"`
	Categories    map[string]CategoryRules `yaml:"categories"`
}

func DefaultRules() (Rules, error) {
	return parseRules(defaultRulesRaw)
}

func LoadRules(path string) (Rules, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read classifier rules: %w", err)
	}
	return parseRules(raw)
}

func parseRules(raw []byte) (Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return Rules{}, fmt.Errorf("decode classifier rules: %w", err)
	}
	return r, nil
}

type compiledPattern struct {
	re     *regexp.Regexp
	weight float64
}

type compiledCategory struct {
	category contractx.Category
	prior    float64
	patterns []compiledPattern
	boosts   map[string]float64
}

type Option func(*Classifier)

// WithMinConfidence overrides the rule file threshold when v > 0.
func WithMinConfidence(v float64) Option {
	return func(c *Classifier) {
		if v > 0 {
			c.minConfidence = v
		}
	}
}

// WithEpsilon overrides the rule file tie band when v >= 0.
func WithEpsilon(v float64) Option {
	return func(c *Classifier) {
		if v >= 0 {
			c.epsilon = v
		}
	}
}

// Classifier scores request text against every category. It holds no mutable
// state and is safe for concurrent use.
type Classifier struct {
	categories    []compiledCategory
	minConfidence float64
	epsilon       float64
}

var _ contractx.Classifier = (*Classifier)(nil)

func NewClassifier(rules Rules, opts ...Option) (*Classifier, error) {
	c := &Classifier{
		minConfidence: rules.MinConfidence,
		epsilon:       rules.Epsilon,
	}
	if c.minConfidence <= 0 {
		c.minConfidence = DefaultMinConfidence
	}
	if c.epsilon < 0 {
		c.epsilon = DefaultEpsilon
	}

	var errs []error
	for name, cr := range rules.Categories {
		category, err := contractx.ParseCategory(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cc := compiledCategory{category: category, prior: cr.Prior, boosts: map[string]float64{}}
		if !validWeight(cr.Prior) {
			errs = append(errs, fmt.Errorf("%s: prior %v outside [0,1)", name, cr.Prior))
		}
		for i, p := range cr.Patterns {
			re, err := regexp.Compile("(?i)" + p.Pattern)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s pattern %d: %w", name, i, err))
				continue
			}
			if !validWeight(p.Weight) {
				errs = append(errs, fmt.Errorf("%s pattern %d: weight %v outside [0,1)", name, i, p.Weight))
				continue
			}
			cc.patterns = append(cc.patterns, compiledPattern{re: re, weight: p.Weight})
		}
		for entity, w := range cr.EntityBoosts {
			if !knownEntity(entity) {
				errs = append(errs, fmt.Errorf("%s: unknown entity %q", name, entity))
				continue
			}
			if !validWeight(w) {
				errs = append(errs, fmt.Errorf("%s: boost %s weight %v outside [0,1)", name, entity, w))
				continue
			}
			cc.boosts[entity] = w
		}
		c.categories = append(c.categories, cc)
	}
	if len(c.categories) == 0 {
		errs = append(errs, errors.New("no categories"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: classifier rules: %w", contractx.ErrValidation, err)
	}

	sort.Slice(c.categories, func(i, j int) bool {
		return categoryOrder(c.categories[i].category) < categoryOrder(c.categories[j].category)
	})
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Classify returns the winning category. Categories within epsilon of the top
// score resolve to the one needing the fewest downstream steps. When the top
// score is below the minimum confidence the scores are still returned together
// with ErrClassificationAmbiguous.
func (c *Classifier) Classify(text string, entities contractx.Entities) (contractx.Classification, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return contractx.Classification{}, fmt.Errorf("%w: request text is empty", contractx.ErrValidation)
	}

	scores := make(map[contractx.Category]float64, len(c.categories))
	top := 0.0
	for _, cc := range c.categories {
		s := cc.score(text, entities)
		scores[cc.category] = s
		if s > top {
			top = s
		}
	}

	out := contractx.Classification{Scores: scores, Confidence: top}
	if top < c.minConfidence {
		return out, fmt.Errorf("%w: top score %.2f below %.2f (%s)",
			contractx.ErrClassificationAmbiguous, top, c.minConfidence, formatScores(scores))
	}

	// c.categories is in rank order, so the first in-band entry wins.
	for _, cc := range c.categories {
		if s := scores[cc.category]; s >= c.minConfidence && top-s <= c.epsilon {
			out.Category = cc.category
			out.Confidence = s
			break
		}
	}
	return out, nil
}

func (cc compiledCategory) score(text string, entities contractx.Entities) float64 {
	miss := 1 - cc.prior
	for _, p := range cc.patterns {
		if p.re.MatchString(text) {
			miss *= 1 - p.weight
		}
	}
	for entity, w := range cc.boosts {
		if _, ok := entities.Lookup(entity); ok {
			miss *= 1 - w
		}
	}
	return 1 - miss
}

func validWeight(w float64) bool {
	return w >= 0 && w < 1
}

func knownEntity(name string) bool {
	switch name {
	case contractx.EntityDataset, contractx.EntitySplit, contractx.EntityUnit, contractx.EntityTimeIndex,
		contractx.EntitySensor, contractx.EntityMetric, contractx.EntityComparisonTarget:
		return true
	}
	return false
}

func categoryOrder(c contractx.Category) int {
	for i, known := range contractx.Categories {
		if known == c {
			return i
		}
	}
	return len(contractx.Categories)
}

func formatScores(scores map[contractx.Category]float64) string {
	parts := make([]string, 0, len(scores))
	for _, c := range contractx.Categories {
		if s, ok := scores[c]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.2f", c, s))
		}
	}
	return strings.Join(parts, " ")
}
