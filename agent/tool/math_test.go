package tool

import (
	"math"
	"testing"
)

func TestEvaluateMathExpression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
		vars map[string]float64
		want float64
	}{
		{name: "precedence", expr: "2 + 3 * (4 - 1)", want: 11},
		{name: "power right assoc", expr: "2 ^ 3 ^ 2", want: 512},
		{name: "modulo", expr: "10 % 4", want: 2},
		{name: "unary", expr: "-(3 - 5)", want: 2},
		{name: "functions", expr: "sqrt(16) + max(1, 7, 3) - abs(-2)", want: 9},
		{name: "nested call", expr: "round(pow(2, 0.5) * 100)", want: 141},
		{name: "variables", expr: "200 - time_index", vars: map[string]float64{"time_index": 128}, want: 72},
		{name: "constants", expr: "floor(pi)", want: 3},
	}
	for _, tt := range tests {
		got, err := evaluateMathExpression(tt.expr, tt.vars)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestEvaluateMathExpressionErrors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		"1 / 0",
		"5 % 0",
		"2 +",
		"(1 + 2",
		"unknown(3)",
		"speed * 2",
		"sqrt(1, 2)",
		"1.2.3",
		"sqrt(-1)",
	} {
		if _, err := evaluateMathExpression(expr, nil); err == nil {
			t.Fatalf("expected error for %q", expr)
		}
	}
}

func TestValidateMathExpression(t *testing.T) {
	t.Parallel()

	if err := validateMathExpression("max(1, 2) * 3"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, expr := range []string{"", "os.exit(1); 2", "1 + 2)", "import('x')"} {
		if err := validateMathExpression(expr); err == nil {
			t.Fatalf("expected validation error for %q", expr)
		}
	}
}
