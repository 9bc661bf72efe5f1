package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// The rule expression language is deliberately tiny: comparisons,
// boolean connectives, member access into a fixed environment and
// literals. There is no call syntax, no assignment and no way to reach
// anything outside the environment, so rule text can never execute
// arbitrary code.

// Env is the evaluation environment of a compiled rule expression.
type Env struct {
	// Auth is nil for anonymous requests.
	Auth *AuthContext
	// NowMillis is the evaluation wall-clock time in Unix milliseconds.
	NowMillis float64
	// Vars holds path segments captured by $var and * wildcards.
	Vars map[string]string
}

// AuthContext is the requesting identity as visible to rule expressions.
type AuthContext struct {
	UID string
}

// Expr is a compiled rule predicate.
type Expr struct {
	source string
	root   node
}

// Source returns the original rule text.
func (e *Expr) Source() string { return e.source }

// Eval evaluates the predicate. A non-boolean result is an error so a
// buggy rule can never be mistaken for an allow. A panic during
// evaluation surfaces as an error for the same reason: rule text must
// never be able to take down the process.
func (e *Expr) Eval(env *Env) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = fmt.Errorf("rule %q: %v", e.source, r)
		}
	}()
	v, err := e.root.eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("rule %q did not evaluate to a boolean", e.source)
	}
	return b, nil
}

// forbiddenIdents are rejected at compile time even though the grammar
// has no way to invoke them; rule text mentioning them is suspect.
var forbiddenIdents = map[string]bool{
	"import": true, "require": true, "eval": true, "Function": true,
	"constructor": true, "prototype": true, "__proto__": true,
	"globalThis": true, "process": true,
}

// Compile parses rule text into an evaluable predicate.
func Compile(source string) (*Expr, error) {
	p := &parser{toks: nil, pos: 0}
	toks, err := lex(source)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", source, err)
	}
	p.toks = toks
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", source, err)
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("rule %q: unexpected %q", source, p.toks[p.pos].text)
	}
	return &Expr{source: source, root: root}, nil
}

type node interface {
	eval(env *Env) (any, error)
}

type literalNode struct{ val any }

func (n literalNode) eval(*Env) (any, error) { return n.val, nil }

type varNode struct{ name string }

func (n varNode) eval(env *Env) (any, error) {
	if env.Vars != nil {
		if v, ok := env.Vars[n.name]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("unbound path variable $%s", n.name)
}

type memberNode struct{ path []string }

func (n memberNode) eval(env *Env) (any, error) {
	switch n.path[0] {
	case "auth":
		if len(n.path) == 1 {
			if env.Auth == nil {
				return nil, nil
			}
			return map[string]any{"uid": env.Auth.UID}, nil
		}
		if len(n.path) == 2 && n.path[1] == "uid" {
			if env.Auth == nil {
				return nil, nil
			}
			return env.Auth.UID, nil
		}
	case "now":
		if len(n.path) == 1 {
			return env.NowMillis, nil
		}
	}
	return nil, fmt.Errorf("unknown identifier %q", strings.Join(n.path, "."))
}

type unaryNode struct{ operand node }

func (n unaryNode) eval(env *Env) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("operand of ! is not a boolean")
	}
	return !b, nil
}

type binaryNode struct {
	op          string
	left, right node
}

func (n binaryNode) eval(env *Env) (any, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}

	// Short-circuit boolean connectives.
	if n.op == "&&" || n.op == "||" {
		lb, ok := left.(bool)
		if !ok {
			return nil, fmt.Errorf("operand of %s is not a boolean", n.op)
		}
		if (n.op == "&&" && !lb) || (n.op == "||" && lb) {
			return lb, nil
		}
		right, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(bool)
		if !ok {
			return nil, fmt.Errorf("operand of %s is not a boolean", n.op)
		}
		return rb, nil
	}

	right, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return looseEqual(left, right)
	case "!=":
		eq, err := looseEqual(left, right)
		if err != nil {
			return nil, err
		}
		return !eq, nil
	}

	lf, lok := asNumber(left)
	rf, rok := asNumber(right)
	if lok && rok {
		switch n.op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch n.op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("cannot compare %T and %T with %s", left, right, n.op)
}

// looseEqual compares the value kinds that can flow out of the
// evaluator: nil, numbers, strings and booleans. Anything else (the
// bare auth object, for one) is not comparable and is an error rather
// than a runtime panic from interface ==.
func looseEqual(a, b any) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	if af, ok := asNumber(a); ok {
		bf, bok := asNumber(b)
		return bok && af == bf, nil
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv, nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv, nil
	}
	return false, fmt.Errorf("cannot compare %T and %T", a, b)
}

func asNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

type token struct {
	kind string // "ident", "var", "number", "string", "op"
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(' || c == ')' || c == '.':
			toks = append(toks, token{kind: "op", text: string(c)})
			i++
		case c == '$':
			j := i + 1
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("bare $ at offset %d", i)
			}
			toks = append(toks, token{kind: "var", text: src[i+1 : j]})
			i = j
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(src) && src[j] != quote {
				j++
			}
			if j == len(src) {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{kind: "string", text: src[i+1 : j]})
			i = j + 1
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: "number", text: src[i:j]})
			i = j
		case isIdentChar(c):
			j := i
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			toks = append(toks, token{kind: "ident", text: src[i:j]})
			i = j
		default:
			op, n := lexOperator(src[i:])
			if n == 0 {
				return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
			}
			toks = append(toks, token{kind: "op", text: op})
			i += n
		}
	}
	return toks, nil
}

// lexOperator matches the longest operator prefix. "===" and "!==" are
// accepted as aliases for "==" and "!=".
func lexOperator(s string) (string, int) {
	for _, op := range []string{"===", "!==", "==", "!=", "<=", ">=", "&&", "||", "<", ">", "!"} {
		if strings.HasPrefix(s, op) {
			canonical := op
			switch op {
			case "===":
				canonical = "=="
			case "!==":
				canonical = "!="
			}
			return canonical, len(op)
		}
	}
	return "", 0
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() *token {
	if p.pos < len(p.toks) {
		return &p.toks[p.pos]
	}
	return nil
}

func (p *parser) acceptOp(text string) bool {
	t := p.peek()
	if t != nil && t.kind == "op" && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptOp("&&") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.acceptOp("!") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t != nil && t.kind == "op" {
		switch t.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.pos++
			right, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			return binaryNode{op: t.text, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.kind {
	case "number":
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		p.pos++
		return literalNode{val: f}, nil
	case "string":
		p.pos++
		return literalNode{val: t.text}, nil
	case "var":
		p.pos++
		return varNode{name: t.text}, nil
	case "ident":
		switch t.text {
		case "true":
			p.pos++
			return literalNode{val: true}, nil
		case "false":
			p.pos++
			return literalNode{val: false}, nil
		case "null":
			p.pos++
			return literalNode{val: nil}, nil
		}
		if forbiddenIdents[t.text] {
			return nil, fmt.Errorf("identifier %q is not allowed", t.text)
		}
		path := []string{t.text}
		p.pos++
		for p.acceptOp(".") {
			m := p.peek()
			if m == nil || m.kind != "ident" {
				return nil, fmt.Errorf("expected member name after .")
			}
			if forbiddenIdents[m.text] {
				return nil, fmt.Errorf("identifier %q is not allowed", m.text)
			}
			path = append(path, m.text)
			p.pos++
		}
		if path[0] != "auth" && path[0] != "now" {
			return nil, fmt.Errorf("unknown identifier %q", path[0])
		}
		return memberNode{path: path}, nil
	case "op":
		if t.text == "(" {
			p.pos++
			inner, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.acceptOp(")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return inner, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}
