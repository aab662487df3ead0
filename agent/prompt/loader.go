package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/sqlgen.txt
	sqlgenRaw string

	//go:embed template/customcode.txt
	customCodeRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	SQLGen     string
	CustomCode string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		SQLGen:     strings.TrimSpace(sqlgenRaw),
		CustomCode: strings.TrimSpace(customCodeRaw),
	}
}
