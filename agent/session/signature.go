package session

import (
	"strings"
)

const (
	SignatureTrainingWrite = "training_write"
	SignatureEmptyOutput   = "empty_output"
	SignatureMalformed     = "malformed_output"
)

// DefaultMarkers are substrings that only appear in output from a resource whose
// state has drifted (refusals, introspection errors, leaked object dumps).
var DefaultMarkers = []string{
	"not allowed to see the data",
	"database introspection",
	"Error:",
	"Cannot generate",
	"Unable to process",
	"Invalid request",
	"{'",
	"[object Object]",
}

// DefaultExact are outputs that are contaminated only when they are the whole output.
var DefaultExact = []string{"null", "undefined", "None", "NaN"}

// Detector classifies a production output as clean or contaminated.
type Detector interface {
	Detect(output string) (signature string, contaminated bool)
}

type SignatureDetector struct {
	markers  []string
	exact    []string
	validate func(string) error
}

// NewSignatureDetector builds a detector from substring markers and an optional
// structural validator. Nil markers mean DefaultMarkers.
func NewSignatureDetector(markers []string, validate func(string) error) *SignatureDetector {
	if markers == nil {
		markers = DefaultMarkers
	}
	cleaned := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	return &SignatureDetector{
		markers:  cleaned,
		exact:    DefaultExact,
		validate: validate,
	}
}

func (d *SignatureDetector) Detect(output string) (string, bool) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return SignatureEmptyOutput, true
	}
	for _, e := range d.exact {
		if strings.EqualFold(trimmed, e) {
			return "exact:" + e, true
		}
	}
	for _, m := range d.markers {
		if strings.Contains(output, m) {
			return m, true
		}
	}
	if d.validate != nil {
		if err := d.validate(trimmed); err != nil {
			return SignatureMalformed, true
		}
	}
	return "", false
}
