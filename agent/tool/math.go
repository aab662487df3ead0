package tool

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Accepts digits, identifiers, whitespace, decimal points, commas, operators and
// parentheses.
var mathExpressionPattern = regexp.MustCompile(`^[\w\s\+\-\*/%\^\(\)\.,]+$`)

var mathFunctions = map[string]func(args []float64) (float64, error){
	"sqrt":  unary(math.Sqrt),
	"abs":   unary(math.Abs),
	"log":   unary(math.Log10),
	"ln":    unary(math.Log),
	"exp":   unary(math.Exp),
	"sin":   unary(math.Sin),
	"cos":   unary(math.Cos),
	"tan":   unary(math.Tan),
	"floor": unary(math.Floor),
	"ceil":  unary(math.Ceil),
	"round": unary(math.Round),
	"min":   fold(math.Min),
	"max":   fold(math.Max),
	"pow": func(args []float64) (float64, error) {
		if len(args) != 2 {
			return 0, fmt.Errorf("pow takes 2 arguments, got %d", len(args))
		}
		return math.Pow(args[0], args[1]), nil
	},
}

func unary(fn func(float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("function takes 1 argument, got %d", len(args))
		}
		return fn(args[0]), nil
	}
}

func fold(fn func(a, b float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("function needs at least 1 argument")
		}
		acc := args[0]
		for _, v := range args[1:] {
			acc = fn(acc, v)
		}
		return acc, nil
	}
}

func validateMathExpression(expression string) error {
	if expression == "" {
		return fmt.Errorf("expression is empty")
	}
	if !mathExpressionPattern.MatchString(expression) {
		return fmt.Errorf("expression contains invalid characters")
	}

	balance := 0
	for _, ch := range expression {
		switch ch {
		case '(':
			balance++
		case ')':
			balance--
			if balance < 0 {
				return fmt.Errorf("expression has unbalanced parentheses")
			}
		}
	}
	if balance != 0 {
		return fmt.Errorf("expression has unbalanced parentheses")
	}
	return nil
}

// evaluateMathExpression evaluates expression with the given variables bound.
// pi and e are always available.
func evaluateMathExpression(expression string, vars map[string]float64) (float64, error) {
	p := &mathParser{input: expression, vars: vars}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.hasNext() {
		return 0, fmt.Errorf("unexpected token at position %d", p.pos)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("expression is not a finite number")
	}
	return value, nil
}

type mathParser struct {
	input string
	pos   int
	vars  map[string]float64
}

func (p *mathParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}

	for {
		p.skipSpaces()
		switch {
		case p.match('+'):
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case p.match('-'):
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *mathParser) parseTerm() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}

	for {
		p.skipSpaces()
		switch {
		case p.match('*'):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			left *= right
		case p.match('/'):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case p.match('%'):
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

func (p *mathParser) parsePower() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}

	p.skipSpaces()
	if p.match('^') {
		right, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return math.Pow(left, right), nil
	}
	return left, nil
}

func (p *mathParser) parseUnary() (float64, error) {
	p.skipSpaces()
	if p.match('+') {
		return p.parseUnary()
	}
	if p.match('-') {
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}
	return p.parsePrimary()
}

func (p *mathParser) parsePrimary() (float64, error) {
	p.skipSpaces()
	if p.match('(') {
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if !p.match(')') {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		return value, nil
	}
	if p.hasNext() && isIdentStart(p.peek()) {
		return p.parseIdentifier()
	}
	return p.parseNumber()
}

// parseIdentifier resolves a variable or calls a function.
func (p *mathParser) parseIdentifier() (float64, error) {
	start := p.pos
	for p.hasNext() && (isIdentStart(p.peek()) || isDigit(p.peek())) {
		p.pos++
	}
	name := strings.ToLower(p.input[start:p.pos])

	p.skipSpaces()
	if p.match('(') {
		fn, ok := mathFunctions[name]
		if !ok {
			return 0, fmt.Errorf("unknown function %q at position %d", name, start)
		}
		args, err := p.parseArgs()
		if err != nil {
			return 0, err
		}
		value, err := fn(args)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return value, nil
	}

	if v, ok := p.vars[name]; ok {
		return v, nil
	}
	switch name {
	case "pi":
		return math.Pi, nil
	case "e":
		return math.E, nil
	}
	return 0, fmt.Errorf("unknown variable %q at position %d", name, start)
}

func (p *mathParser) parseArgs() ([]float64, error) {
	var args []float64
	p.skipSpaces()
	if p.match(')') {
		return args, nil
	}
	for {
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, value)
		p.skipSpaces()
		if p.match(',') {
			continue
		}
		if p.match(')') {
			return args, nil
		}
		return nil, fmt.Errorf("expected , or ) at position %d", p.pos)
	}
}

func (p *mathParser) parseNumber() (float64, error) {
	p.skipSpaces()
	start := p.pos
	hasDigit := false
	hasDot := false

scan:
	for p.hasNext() {
		ch := p.peek()
		switch {
		case isDigit(ch):
			hasDigit = true
			p.pos++
		case ch == '.':
			if hasDot {
				return 0, fmt.Errorf("invalid number format at position %d", p.pos)
			}
			hasDot = true
			p.pos++
		default:
			break scan
		}
	}

	if !hasDigit {
		return 0, fmt.Errorf("expected number at position %d", start)
	}

	raw := p.input[start:p.pos]
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", raw, err)
	}
	return value, nil
}

func (p *mathParser) skipSpaces() {
	for p.hasNext() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n') {
		p.pos++
	}
}

func (p *mathParser) hasNext() bool {
	return p.pos < len(p.input)
}

func (p *mathParser) peek() byte {
	return p.input[p.pos]
}

func (p *mathParser) match(expected byte) bool {
	if p.hasNext() && p.peek() == expected {
		p.pos++
		return true
	}
	return false
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
