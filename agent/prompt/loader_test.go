package prompt

import (
	"strings"
	"testing"
)

func TestLoadPromptSet(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	for _, placeholder := range []string{"{ddl}", "{documentation}", "{examples}"} {
		if !strings.Contains(set.SQLGen, placeholder) {
			t.Fatalf("sqlgen prompt missing %s", placeholder)
		}
	}
	if set.CustomCode == "" {
		t.Fatalf("custom code prompt is empty")
	}
	if strings.Contains(set.CustomCode, "{") {
		t.Fatalf("custom code prompt must not carry template placeholders")
	}
}
