package tool

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

const noExpression = "NONE"

var (
	// Candidate arithmetic spans in free text: at least one operator between numbers.
	inlineExpressionPattern = regexp.MustCompile(`[\d\(][\d\s\.\+\-\*/%\^\(\)]*[\+\-\*/%\^][\d\s\.\+\-\*/%\^\(\)]*[\d\)]`)
	fencedPattern           = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
)

// ExpressionSource turns an analysis request into one arithmetic expression.
type ExpressionSource interface {
	Expression(ctx context.Context, text string, vars map[string]float64) (string, error)
}

// OpenAIExpressionSource asks a chat model for the expression.
type OpenAIExpressionSource struct {
	client *openai.Client
	model  string
	prompt string
}

func NewOpenAIExpressionSource(client *openai.Client, model, systemPrompt string) (*OpenAIExpressionSource, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is nil", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, contractx.ErrPromptMissing
	}
	return &OpenAIExpressionSource{client: client, model: strings.TrimSpace(model), prompt: systemPrompt}, nil
}

func (s *OpenAIExpressionSource) Expression(ctx context.Context, text string, vars map[string]float64) (string, error) {
	user := text
	if len(vars) > 0 {
		user += "\nContext values: " + formatVars(vars)
	}

	completion, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(s.prompt),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", contractx.ErrSchemaViolation)
	}
	return cleanExpression(completion.Choices[0].Message.Content), nil
}

// TextExpressionSource takes the longest arithmetic span written in the request.
type TextExpressionSource struct{}

func (TextExpressionSource) Expression(_ context.Context, text string, _ map[string]float64) (string, error) {
	best := ""
	for _, m := range inlineExpressionPattern.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		if len(m) > len(best) && validateMathExpression(m) == nil {
			best = m
		}
	}
	if best == "" {
		return noExpression, nil
	}
	return best, nil
}

// CustomCode evaluates free-form analysis requests as a sandboxed arithmetic
// expression. Each call may consult a model, so it is not idempotent.
type CustomCode struct {
	source ExpressionSource
}

type customCodeInput struct {
	Text     string         `mapstructure:"text"`
	Entities map[string]any `mapstructure:"entities"`
}

// NewCustomCode falls back to reading the expression out of the text when
// source is nil.
func NewCustomCode(source ExpressionSource) *CustomCode {
	if source == nil {
		source = TextExpressionSource{}
	}
	return &CustomCode{source: source}
}

func (c *CustomCode) Name() string {
	return contractx.CapabilityCustomCode
}

func (c *CustomCode) Description() string {
	return "Evaluate a free-form numeric analysis request as a safe arithmetic expression."
}

func (c *CustomCode) Schema() map[string]contractx.Param {
	return map[string]contractx.Param{
		"text":     {Type: contractx.TypeFreeText, Desc: "Original request text", Required: true},
		"entities": {Type: contractx.TypeObject, Desc: "Entities extracted from the request"},
	}
}

func (c *CustomCode) Idempotent() bool {
	return false
}

func (c *CustomCode) Invoke(ctx context.Context, inputs map[string]any) (any, error) {
	var in customCodeInput
	if err := decodeInputs(c.Name(), inputs, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%w: custom_code requires text", contractx.ErrValidation)
	}

	vars := numericVars(in.Entities)
	expression, err := c.source.Expression(ctx, in.Text, vars)
	if err != nil {
		return nil, err
	}
	expression = strings.TrimSpace(expression)
	if expression == "" || strings.EqualFold(expression, noExpression) {
		return nil, fmt.Errorf("%w: request cannot be expressed as a computation", contractx.ErrValidation)
	}
	if err := validateMathExpression(expression); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	result, err := evaluateMathExpression(expression, vars)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrValidation, err)
	}

	log.Debug().Str("expression", expression).Float64("result", result).Msg("custom_code evaluated")
	return contractx.CustomResult{
		Expression: expression,
		Result:     result,
		Context:    in.Entities,
	}, nil
}

// numericVars binds every entity that parses as a number, e.g. unit and
// time_index, as a lowercase variable.
func numericVars(entities map[string]any) map[string]float64 {
	vars := map[string]float64{}
	for k, v := range entities {
		if f, ok := toFloat(v); ok {
			vars[strings.ToLower(k)] = f
		}
	}
	return vars
}

func formatVars(vars map[string]float64) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatNumber(vars[k]))
	}
	return strings.Join(parts, ", ")
}

func cleanExpression(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencedPattern.FindStringSubmatch(s); len(m) == 2 {
		s = strings.TrimSpace(m[1])
	}
	s = strings.Trim(s, "`")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "="))
	return s
}
