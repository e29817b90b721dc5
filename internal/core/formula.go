package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Formula is a parsed posting-template line expression. The language is a
// single bound variable {total}, decimal literals, + - * /, unary minus and
// parentheses. Parsing up front makes formula validity checkable when a
// template is saved, and evaluation is a pure AST walk with no string
// substitution.
type Formula struct {
	src  string
	root exprNode
}

// ParseFormula validates and compiles a formula. Errors are ValidationError
// with the offending position spelled out.
func ParseFormula(src string) (*Formula, error) {
	tokens, err := lexFormula(src)
	if err != nil {
		return nil, err
	}
	p := &formulaParser{src: src, tokens: tokens}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, validationErrf("invalid formula %q: unexpected %q", src, p.tokens[p.pos].text)
	}
	return &Formula{src: src, root: root}, nil
}

// Eval substitutes total for {total} and evaluates.
func (f *Formula) Eval(total decimal.Decimal) (decimal.Decimal, error) {
	return f.root.eval(total)
}

func (f *Formula) String() string { return f.src }

// ── AST ──────────────────────────────────────────────────────────────────────

type exprNode interface {
	eval(total decimal.Decimal) (decimal.Decimal, error)
}

type numberNode struct {
	value decimal.Decimal
}

func (n numberNode) eval(decimal.Decimal) (decimal.Decimal, error) { return n.value, nil }

type totalNode struct{}

func (totalNode) eval(total decimal.Decimal) (decimal.Decimal, error) { return total, nil }

type negateNode struct {
	operand exprNode
}

func (n negateNode) eval(total decimal.Decimal) (decimal.Decimal, error) {
	v, err := n.operand.eval(total)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}

type binaryNode struct {
	op          byte // '+', '-', '*', '/'
	left, right exprNode
}

func (n binaryNode) eval(total decimal.Decimal) (decimal.Decimal, error) {
	l, err := n.left.eval(total)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval(total)
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case '+':
		return l.Add(r), nil
	case '-':
		return l.Sub(r), nil
	case '*':
		return l.Mul(r), nil
	default:
		if r.IsZero() {
			return decimal.Zero, validationErrf("formula divides by zero")
		}
		return l.Div(r), nil
	}
}

// ── Lexer ────────────────────────────────────────────────────────────────────

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokTotal
	tokOp      // + - * /
	tokLParen
	tokRParen
)

type formulaToken struct {
	kind tokenKind
	text string
}

func lexFormula(src string) ([]formulaToken, error) {
	var tokens []formulaToken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, formulaToken{kind: tokOp, text: string(c)})
			i++
		case c == '(':
			tokens = append(tokens, formulaToken{kind: tokLParen, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, formulaToken{kind: tokRParen, text: ")"})
			i++
		case c == '{':
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return nil, validationErrf("invalid formula %q: unterminated variable", src)
			}
			name := strings.TrimSpace(src[i+1 : i+end])
			if name != "total" {
				return nil, validationErrf("invalid formula %q: unknown variable {%s}", src, name)
			}
			tokens = append(tokens, formulaToken{kind: tokTotal, text: "{total}"})
			i += end + 1
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			text := src[start:i]
			if _, err := decimal.NewFromString(text); err != nil {
				return nil, validationErrf("invalid formula %q: bad number %q", src, text)
			}
			tokens = append(tokens, formulaToken{kind: tokNumber, text: text})
		default:
			return nil, validationErrf("invalid formula %q: unexpected character %q", src, string(c))
		}
	}
	if len(tokens) == 0 {
		return nil, validationErrf("formula is empty")
	}
	return tokens, nil
}

// ── Parser ───────────────────────────────────────────────────────────────────

type formulaParser struct {
	src    string
	tokens []formulaToken
	pos    int
}

func (p *formulaParser) peek() *formulaToken {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *formulaParser) parseExpr() (exprNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok == nil || tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text[0], left: left, right: right}
	}
}

func (p *formulaParser) parseTerm() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok == nil || tok.kind != tokOp || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text[0], left: left, right: right}
	}
}

func (p *formulaParser) parseUnary() (exprNode, error) {
	tok := p.peek()
	if tok != nil && tok.kind == tokOp && tok.text == "-" {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negateNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *formulaParser) parsePrimary() (exprNode, error) {
	tok := p.peek()
	if tok == nil {
		return nil, validationErrf("invalid formula %q: unexpected end of input", p.src)
	}
	switch tok.kind {
	case tokNumber:
		p.pos++
		value, _ := decimal.NewFromString(tok.text)
		return numberNode{value: value}, nil
	case tokTotal:
		p.pos++
		return totalNode{}, nil
	case tokLParen:
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closing := p.peek()
		if closing == nil || closing.kind != tokRParen {
			return nil, validationErrf("invalid formula %q: missing closing parenthesis", p.src)
		}
		p.pos++
		return inner, nil
	default:
		return nil, validationErrf("invalid formula %q: unexpected %q", p.src, tok.text)
	}
}
