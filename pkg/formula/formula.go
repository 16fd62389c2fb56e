// Package formula compiles and evaluates scalar arithmetic expressions in the
// single variable x (the measured voltage).
//
// Grammar:
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/") unary }
//	unary  = ("+" | "-") unary | power
//	power  = atom [ ("^" | "**") unary ]
//	atom   = number | "x" | "(" expr ")"
//
// Power is right-associative and binds tighter than unary minus.
package formula

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Variable is the name of the free variable.
const Variable = "x"

// ErrInvalidFormula is returned for expressions that do not parse.
var ErrInvalidFormula = errors.New("invalid formula")

// Expr is a compiled expression.
type Expr struct {
	source string
	root   node
}

// Compile parses expression. An empty expression compiles to x.
func Compile(expression string) (*Expr, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		src = Variable
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormula, err)
	}

	p := &parser{tokens: tokens}
	root, err := p.expr()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormula, err)
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidFormula, tok.text, tok.pos)
	}

	return &Expr{source: src, root: root}, nil
}

// MustCompile is like Compile but panics on error. For constants and tests.
func MustCompile(expression string) *Expr {
	e, err := Compile(expression)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the expression source.
func (e *Expr) String() string {
	return e.source
}

// Eval evaluates the expression at x. ok is false when the result is
// undefined (division by zero, domain errors, overflow to infinity).
func (e *Expr) Eval(x float64) (value float64, ok bool) {
	v, ok := e.root.eval(x)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN(), false
	}
	return v, true
}

type node interface {
	eval(x float64) (float64, bool)
}

type number float64

func (n number) eval(float64) (float64, bool) { return float64(n), true }

type variable struct{}

func (variable) eval(x float64) (float64, bool) { return x, true }

type negate struct{ operand node }

func (n negate) eval(x float64) (float64, bool) {
	v, ok := n.operand.eval(x)
	return -v, ok
}

type binary struct {
	op          byte
	left, right node
}

func (b binary) eval(x float64) (float64, bool) {
	l, ok := b.left.eval(x)
	if !ok {
		return 0, false
	}
	r, ok := b.right.eval(x)
	if !ok {
		return 0, false
	}

	var v float64
	switch b.op {
	case '+':
		v = l + r
	case '-':
		v = l - r
	case '*':
		v = l * r
	case '/':
		if r == 0 {
			return 0, false
		}
		v = l / r
	case '^':
		v = math.Pow(l, r)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokVariable
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	text  string
	value float64
	pos   int
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '*' && i+1 < len(src) && src[i+1] == '*':
			tokens = append(tokens, token{kind: tokOp, text: "^", pos: i})
			i += 2
		case strings.IndexByte("+-*/^", c) >= 0:
			tokens = append(tokens, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == 'x' || c == 'X':
			tokens = append(tokens, token{kind: tokVariable, text: Variable, pos: i})
			i++
		case isDigit(c) || c == '.':
			j := scanNumber(src, i)
			v, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q at offset %d", src[i:j], i)
			}
			tokens = append(tokens, token{kind: tokNumber, text: src[i:j], value: v, pos: i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return append(tokens, token{kind: tokEOF, text: "end of input", pos: len(src)}), nil
}

// scanNumber returns the end offset of the number literal starting at i.
func scanNumber(src string, i int) int {
	j := i
	for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
		j++
	}
	if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
		k := j + 1
		if k < len(src) && (src[k] == '+' || src[k] == '-') {
			k++
		}
		if k < len(src) && isDigit(src[k]) {
			for k < len(src) && isDigit(src[k]) {
				k++
			}
			j = k
		}
	}
	return j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isOp(ops string) bool {
	tok := p.peek()
	return tok.kind == tokOp && strings.Contains(ops, tok.text)
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.isOp("+-") {
		op := p.next().text[0]
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*/") {
		op := p.next().text[0]
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) unary() (node, error) {
	if p.isOp("+-") {
		op := p.next().text
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		if op == "-" {
			return negate{operand: operand}, nil
		}
		return operand, nil
	}
	return p.power()
}

func (p *parser) power() (node, error) {
	base, err := p.atom()
	if err != nil {
		return nil, err
	}
	if p.isOp("^") {
		p.next()
		exp, err := p.unary()
		if err != nil {
			return nil, err
		}
		return binary{op: '^', left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) atom() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return number(tok.value), nil
	case tokVariable:
		return variable{}, nil
	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at offset %d, got %q", closing.pos, closing.text)
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d", tok.text, tok.pos)
	}
}
