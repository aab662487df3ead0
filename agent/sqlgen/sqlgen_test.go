package sqlgen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent/session"
)

type fakeChatModel struct {
	mu     sync.Mutex
	reply  string
	err    error
	inputs [][]*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeChatModel) lastSystem() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 || len(f.inputs[len(f.inputs)-1]) == 0 {
		return ""
	}
	return f.inputs[len(f.inputs)-1][0].Content
}

type fakeSchema []string

func (f fakeSchema) SchemaDDL(ctx context.Context) ([]string, error) {
	return f, nil
}

const testPrompt = "Schema:\n{ddl}\nNotes:\n{documentation}\nExamples:\n{examples}"

func newTestFactory(t *testing.T, model *fakeChatModel) *Factory {
	t.Helper()
	seed, err := DefaultSeed()
	if err != nil {
		t.Fatalf("DefaultSeed() error = %v", err)
	}
	f, err := NewFactory(model, testPrompt, fakeSchema{"CREATE TABLE live_table (id INTEGER)"}, WithSeed(seed), WithTopK(3))
	if err != nil {
		t.Fatalf("NewFactory() error = %v", err)
	}
	return f
}

func TestCleanSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "SELECT 1", want: "SELECT 1"},
		{name: "fenced", in: "```sql\nSELECT RUL FROM rul_data;\n```", want: "SELECT RUL FROM rul_data"},
		{name: "prefix", in: "Here is the SQL query: SELECT COUNT(*) FROM test_data", want: "SELECT COUNT(*) FROM test_data"},
		{
			name: "prose around",
			in:   "Based on the schema you gave:\nSELECT unit_number\nFROM rul_data\nWHERE RUL = 10\nThis returns every unit.",
			want: "SELECT unit_number\nFROM rul_data\nWHERE RUL = 10",
		},
		{name: "no sql", in: "I cannot answer that", want: "I cannot answer that"},
	}
	for _, tt := range tests {
		if got := CleanSQL(tt.in); got != tt.want {
			t.Fatalf("%s: CleanSQL() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestReadOnly(t *testing.T) {
	t.Parallel()

	for _, q := range []string{"SELECT 1", "with x as (select 1) select * from x", "SELECT 1;"} {
		if err := ReadOnly(q); err != nil {
			t.Fatalf("ReadOnly(%q) error = %v", q, err)
		}
	}
	for _, q := range []string{"DROP TABLE rul_data", "SELECT 1; DELETE FROM rul_data", "", "SELECTED"} {
		if err := ReadOnly(q); !errors.Is(err, ErrNotReadOnly) {
			t.Fatalf("ReadOnly(%q) error = %v, want ErrNotReadOnly", q, err)
		}
	}
}

func TestEngineTrainOutsideTrainingModeIsBlocked(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil, 0)
	err := e.Train(context.Background(), contractx.TrainingExample{Question: "q", SQL: "SELECT 1"})
	if !errors.Is(err, contractx.ErrTrainingBlocked) {
		t.Fatalf("Train() error = %v, want ErrTrainingBlocked", err)
	}
	if e.BlockedTrainingWrites() != 1 {
		t.Fatalf("BlockedTrainingWrites() = %d, want 1", e.BlockedTrainingWrites())
	}

	e.EnableTraining()
	if err := e.Train(context.Background(), contractx.TrainingExample{Question: "q", SQL: "SELECT 1"}); err != nil {
		t.Fatalf("Train() in training mode error = %v", err)
	}
	if err := e.Train(context.Background(), contractx.TrainingExample{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("Train(empty) error = %v, want ErrValidation", err)
	}
	if _, _, n := e.Corpus(); n != 1 {
		t.Fatalf("examples = %d, want 1", n)
	}
}

func TestDefaultSeed(t *testing.T) {
	t.Parallel()

	seed, err := DefaultSeed()
	if err != nil {
		t.Fatalf("DefaultSeed() error = %v", err)
	}
	if len(seed.DDL) != 3 {
		t.Fatalf("seed ddl = %d, want 3", len(seed.DDL))
	}
	if !strings.Contains(seed.DDL[2], "rul_data") {
		t.Fatalf("third ddl = %q", seed.DDL[2])
	}
	if len(seed.Examples) < 10 {
		t.Fatalf("seed examples = %d", len(seed.Examples))
	}
	for _, ex := range seed.Examples {
		if err := ReadOnly(ex.SQL); err != nil {
			t.Fatalf("seed example is not read-only: %v", err)
		}
	}
}

func TestFactoryBuildTrainGenerate(t *testing.T) {
	t.Parallel()

	model := &fakeChatModel{reply: "```sql\nSELECT RUL FROM rul_data WHERE unit_number = 60 AND dataset = 'FD004';\n```"}
	f := newTestFactory(t, model)
	ctx := context.Background()
	key := session.Key{Kind: "sqlgen", ConfigID: "test"}

	e, err := f.Build(ctx, key)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	e.EnableTraining()
	if err := f.Train(ctx, key, e); err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	e.DisableTraining()

	got, err := e.GenerateSQL(ctx, "What is the remaining useful life of unit 60 in test_FD004?")
	if err != nil {
		t.Fatalf("GenerateSQL() error = %v", err)
	}
	if got != "SELECT RUL FROM rul_data WHERE unit_number = 60 AND dataset = 'FD004'" {
		t.Fatalf("GenerateSQL() = %q", got)
	}

	system := model.lastSystem()
	if !strings.Contains(system, "live_table") {
		t.Fatalf("system prompt missing live schema: %s", system)
	}
	if !strings.Contains(system, "remaining useful life of unit 60") {
		t.Fatalf("system prompt missing the closest example: %s", system)
	}
}

func TestEngineGenerateModelError(t *testing.T) {
	t.Parallel()

	model := &fakeChatModel{err: errors.New("upstream 500")}
	f := newTestFactory(t, model)
	e, err := f.Build(context.Background(), session.Key{Kind: "sqlgen", ConfigID: "test"})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, err := e.GenerateSQL(context.Background(), "count units"); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("GenerateSQL() error = %v, want ErrModelInvoke", err)
	}
	if _, err := e.GenerateSQL(context.Background(), "  "); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("GenerateSQL(empty) error = %v, want ErrValidation", err)
	}

	_ = e.Close()
	if _, err := e.GenerateSQL(context.Background(), "count units"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("GenerateSQL() after close error = %v, want ErrEngineClosed", err)
	}
}

func TestEngineUnderSessionManager(t *testing.T) {
	t.Parallel()

	model := &fakeChatModel{reply: "SELECT COUNT(*) FROM rul_data WHERE dataset = 'FD002' AND RUL <= 50"}
	m := session.NewManager[*Engine](newTestFactory(t, model), session.Config{ResetThreshold: 50},
		session.WithDetector[*Engine](session.NewSignatureDetector(nil, ReadOnly)))
	key := session.Key{Kind: "sqlgen", ConfigID: "test"}
	ctx := context.Background()

	out, err := m.WithSession(ctx, key, func(ctx context.Context, e *Engine) (string, error) {
		return e.GenerateSQL(ctx, "How many units have RUL of 50 or less in dataset FD002?")
	})
	if err != nil {
		t.Fatalf("WithSession() error = %v", err)
	}
	if !strings.HasPrefix(out, "SELECT COUNT(*)") {
		t.Fatalf("WithSession() = %q", out)
	}

	_, err = m.WithSession(ctx, key, func(ctx context.Context, e *Engine) (string, error) {
		if err := e.Train(ctx, contractx.TrainingExample{Question: "q", SQL: out}); err != nil {
			return "", err
		}
		return out, nil
	})
	if !errors.Is(err, contractx.ErrContaminationDetected) {
		t.Fatalf("training write in production error = %v, want ErrContaminationDetected", err)
	}

	model.mu.Lock()
	model.reply = "Sure! Here you go"
	model.mu.Unlock()
	_, err = m.WithSession(ctx, key, func(ctx context.Context, e *Engine) (string, error) {
		return e.GenerateSQL(ctx, "count units")
	})
	if !errors.Is(err, contractx.ErrContaminationDetected) {
		t.Fatalf("prose reply error = %v, want ErrContaminationDetected", err)
	}

	st, _ := m.Stat(key)
	if st.Resets != 1 || st.Setups != 2 {
		t.Fatalf("stats = %+v", st)
	}
}
