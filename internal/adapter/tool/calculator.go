package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"stackpilot/internal/domain"
	"stackpilot/internal/infra/tracer"
)

// CalculatorTool evaluates arithmetic expressions. Useful for capacity
// and cost estimates mid-conversation (requests/sec, storage sizing,
// monthly spend) without trusting the model's mental arithmetic.
type CalculatorTool struct {
	logger *slog.Logger
}

// NewCalculatorTool creates the calculator tool.
func NewCalculatorTool(logger *slog.Logger) *CalculatorTool {
	return &CalculatorTool{logger: logger}
}

func (t *CalculatorTool) Name() string { return "calculator" }
func (t *CalculatorTool) Description() string {
	return "Evaluate an arithmetic expression (+, -, *, /, %, ^, parentheses)"
}

func (t *CalculatorTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"expression": {"type": "string", "description": "Expression to evaluate, e.g. \"(500 * 86400) / 1e9\""}
			},
			"required": ["expression"]
		}`),
	}
}

type calculatorParams struct {
	Expression string `json:"expression"`
}

func (t *CalculatorTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.calculator", t.logger, params,
		func(ctx context.Context, span trace.Span, p calculatorParams) (any, error) {
			expr := strings.TrimSpace(p.Expression)
			if expr == "" {
				return nil, fmt.Errorf("expression must not be empty")
			}
			span.SetAttributes(tracer.StringAttr("tool.expression", expr))

			val, err := evalExpression(expr)
			if err != nil {
				return nil, err
			}
			if math.IsInf(val, 0) || math.IsNaN(val) {
				return nil, fmt.Errorf("expression result is not a finite number")
			}
			return strconv.FormatFloat(val, 'g', -1, 64), nil
		},
	)
}

// --- recursive descent parser ---
//
// grammar:
//   expr   = term   { ("+" | "-") term }
//   term   = power  { ("*" | "/" | "%") power }
//   power  = unary  [ "^" power ]
//   unary  = [ "-" | "+" ] atom
//   atom   = number | "(" expr ")"

type exprParser struct {
	input string
	pos   int
}

func evalExpression(input string) (float64, error) {
	p := &exprParser{input: input}
	val, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return val, nil
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peekOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peekOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case "%":
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if _, ok := p.peekOp("^"); ok {
		exp, err := p.parsePower() // right-associative
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	p.skipSpace()
	if p.pos < len(p.input) {
		switch p.input[p.pos] {
		case '-':
			p.pos++
			v, err := p.parseUnary()
			return -v, err
		case '+':
			p.pos++
			return p.parseUnary()
		}
	}
	return p.parseAtom()
}

func (p *exprParser) parseAtom() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	if p.input[p.pos] == '(' {
		p.pos++
		val, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return val, nil
	}

	start := p.pos
	for p.pos < len(p.input) && isNumberChar(p.input, p.pos, start) {
		p.pos++
	}
	if p.pos == start {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	val, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return val, nil
}

func isNumberChar(s string, pos, start int) bool {
	c := s[pos]
	if c >= '0' && c <= '9' || c == '.' {
		return true
	}
	// scientific notation: 1e9, 2.5e-3
	if c == 'e' || c == 'E' {
		return pos > start
	}
	if (c == '+' || c == '-') && pos > start {
		prev := s[pos-1]
		return prev == 'e' || prev == 'E'
	}
	return false
}

func (p *exprParser) peekOp(ops ...string) (string, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return "", false
	}
	for _, op := range ops {
		if strings.HasPrefix(p.input[p.pos:], op) {
			p.pos += len(op)
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}
