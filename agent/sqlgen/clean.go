package sqlgen

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrNotReadOnly = errors.New("query is not a single read-only statement")

var (
	fencePattern  = regexp.MustCompile("```(?:sql|SQL)?\\n?")
	prosePrefix   = regexp.MustCompile(`(?i)^(here is the sql query:?|the sql query is:?|sql query:)\s*`)
	leadInPhrase  = regexp.MustCompile(`(?i)^(it seems like|based on|the query)`)
	statementHead = regexp.MustCompile(`(?i)^(SELECT|INSERT|UPDATE|DELETE|WITH|CREATE|ALTER|DROP)\s+`)
	proseLine     = regexp.MustCompile(`(?i)^(here|the|this|based|it|query)\b`)
	readOnlyHead  = regexp.MustCompile(`(?i)^(SELECT|WITH)\s`)
)

// CleanSQL strips markdown fences and surrounding prose from a model reply and
// keeps the first run of statement lines.
func CleanSQL(raw string) string {
	s := strings.TrimSpace(raw)
	s = fencePattern.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = prosePrefix.ReplaceAllString(s, "")
	s = leadInPhrase.ReplaceAllString(s, "")

	var (
		kept  []string
		found bool
	)
lines:
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case statementHead.MatchString(line):
			found = true
			kept = append(kept, line)
		case found && !proseLine.MatchString(line):
			kept = append(kept, line)
		case found:
			break lines
		}
	}
	if len(kept) > 0 {
		s = strings.Join(kept, "\n")
	}
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), ";"))
}

// ReadOnly accepts a single SELECT or WITH statement.
func ReadOnly(query string) error {
	q := strings.TrimRight(strings.TrimSpace(query), "; \n\t")
	if !readOnlyHead.MatchString(q + " ") {
		return fmt.Errorf("%w: %q", ErrNotReadOnly, truncate(q, 80))
	}
	if strings.Contains(q, ";") {
		return fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
