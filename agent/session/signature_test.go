package session

import (
	"errors"
	"strings"
	"testing"
)

func TestSignatureDetector(t *testing.T) {
	t.Parallel()

	selectOnly := func(out string) error {
		if !strings.HasPrefix(strings.ToUpper(out), "SELECT") {
			return errors.New("not a query")
		}
		return nil
	}
	d := NewSignatureDetector(nil, selectOnly)

	tests := []struct {
		name   string
		output string
		want   string
		dirty  bool
	}{
		{name: "clean", output: "SELECT COUNT(*) FROM training_data"},
		{name: "null inside query", output: "SELECT * FROM rul_data WHERE RUL IS NOT null"},
		{name: "exact null", output: " null ", want: "exact:null", dirty: true},
		{name: "exact undefined", output: "undefined", want: "exact:undefined", dirty: true},
		{name: "refusal", output: "I am not allowed to see the data", want: "not allowed to see the data", dirty: true},
		{name: "object dump", output: "SELECT {'a': 1}", want: "{'", dirty: true},
		{name: "empty", output: "  ", want: SignatureEmptyOutput, dirty: true},
		{name: "prose", output: "Here is the answer", want: SignatureMalformed, dirty: true},
	}

	for _, tt := range tests {
		got, dirty := d.Detect(tt.output)
		if dirty != tt.dirty || got != tt.want {
			t.Fatalf("%s: Detect(%q) = (%q, %v), want (%q, %v)", tt.name, tt.output, got, dirty, tt.want, tt.dirty)
		}
	}
}

func TestSignatureDetectorCustomMarkers(t *testing.T) {
	t.Parallel()

	d := NewSignatureDetector([]string{" ", "DROP TABLE"}, nil)
	if sig, dirty := d.Detect("SELECT 1; DROP TABLE x"); !dirty || sig != "DROP TABLE" {
		t.Fatalf("Detect() = (%q, %v)", sig, dirty)
	}
	if _, dirty := d.Detect("Error: default markers replaced"); dirty {
		t.Fatalf("default markers should not apply when markers are configured")
	}
}
