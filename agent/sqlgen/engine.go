package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/session"
)

const defaultTopK = 5

var ErrEngineClosed = errors.New("sqlgen engine is closed")

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

// Engine is a trained text-to-SQL corpus plus the model graph that turns a
// question into a query. It is a session resource: training is only accepted
// while the session manager has enabled it.
type Engine struct {
	generate compose.Runnable[map[string]any, string]
	topK     int

	mu       sync.RWMutex
	training bool
	blocked  int
	closed   bool
	ddl      []string
	docs     []string
	examples []contractx.TrainingExample
}

func NewEngine(generate compose.Runnable[map[string]any, string], topK int) *Engine {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Engine{generate: generate, topK: topK}
}

func (e *Engine) EnableTraining() {
	e.mu.Lock()
	e.training = true
	e.mu.Unlock()
}

func (e *Engine) DisableTraining() {
	e.mu.Lock()
	e.training = false
	e.mu.Unlock()
}

func (e *Engine) BlockedTrainingWrites() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.blocked
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Train adds one item to the corpus. Outside training mode the write is refused,
// counted and attributed to the session call running on ctx.
func (e *Engine) Train(ctx context.Context, ex contractx.TrainingExample) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.training {
		e.blocked++
		session.NoteBlockedWrite(ctx)
		return fmt.Errorf("%w: question=%q", contractx.ErrTrainingBlocked, truncate(ex.Question, 60))
	}

	var added bool
	if ddl := strings.TrimSpace(ex.DDL); ddl != "" {
		e.ddl = append(e.ddl, ddl)
		added = true
	}
	if doc := strings.TrimSpace(ex.Documentation); doc != "" {
		e.docs = append(e.docs, doc)
		added = true
	}
	if sql := strings.TrimSpace(ex.SQL); sql != "" {
		e.examples = append(e.examples, contractx.TrainingExample{
			Question: strings.TrimSpace(ex.Question),
			SQL:      sql,
		})
		added = true
	}
	if !added {
		return fmt.Errorf("%w: empty training example", contractx.ErrValidation)
	}
	return nil
}

// Corpus reports the trained item counts: ddl, documentation, examples.
func (e *Engine) Corpus() (int, int, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ddl), len(e.docs), len(e.examples)
}

func (e *Engine) GenerateSQL(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: question is empty", contractx.ErrValidation)
	}

	vars, err := e.promptVars(question)
	if err != nil {
		return "", err
	}

	out, err := e.generate.Invoke(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("%w: sqlgen: %w", contractx.ErrModelInvoke, err)
	}
	return out, nil
}

func (e *Engine) promptVars(question string) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	var examples strings.Builder
	for _, ex := range e.related(question) {
		if ex.Question != "" {
			fmt.Fprintf(&examples, "Question: %s\n", ex.Question)
		}
		fmt.Fprintf(&examples, "SQL: %s\n\n", ex.SQL)
	}

	return map[string]any{
		"ddl":           strings.Join(e.ddl, "\n\n"),
		"documentation": strings.Join(e.docs, "\n"),
		"examples":      strings.TrimSpace(examples.String()),
		"question":      question,
	}, nil
}

// related ranks examples by shared tokens with the question. Ties keep training
// order. With no overlap at all the first topK examples are used.
func (e *Engine) related(question string) []contractx.TrainingExample {
	want := tokenSet(question)

	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, 0, len(e.examples))
	for i, ex := range e.examples {
		n := 0
		for tok := range tokenSet(ex.Question + " " + ex.SQL) {
			if want[tok] {
				n++
			}
		}
		if n > 0 {
			ranked = append(ranked, scored{idx: i, score: n})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]contractx.TrainingExample, 0, e.topK)
	for _, r := range ranked {
		if len(out) == e.topK {
			break
		}
		out = append(out, e.examples[r.idx])
	}
	if len(out) == 0 {
		for i := 0; i < len(e.examples) && i < e.topK; i++ {
			out = append(out, e.examples[i])
		}
	}
	return out
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(s), -1) {
		out[tok] = true
	}
	return out
}
