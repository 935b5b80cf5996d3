// Package expr evaluates the small condition language accepted by job and
// step `if:` fields: the status functions success(), failure(), always(),
// and cancelled(), equality comparisons against context variables, and the
// boolean operators !, && and ||.
package expr

import (
	"fmt"
	"strings"
	"unicode"
)

// Status is the aggregate state a condition is evaluated against: the
// combined result of a job's needs, or of the steps run so far.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// Context carries the evaluation state for one condition.
type Context struct {
	Status Status
	// Vars exposes named context values (branch, event, workflow).
	Vars map[string]string
}

// Evaluate parses and evaluates a condition. The empty condition behaves as
// success(): the subject runs only while everything before it succeeded.
func Evaluate(condition string, ctx Context) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return ctx.Status == StatusSuccess, nil
	}
	p := &parser{input: condition, ctx: ctx}
	result, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", condition, err)
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return false, fmt.Errorf("condition %q: unexpected trailing input at offset %d", condition, p.pos)
	}
	return result, nil
}

type parser struct {
	input string
	pos   int
	ctx   Context
}

func (p *parser) parseOr() (bool, error) {
	left, err := p.parseAnd()
	if err != nil {
		return false, err
	}
	for p.consume("||") {
		right, err := p.parseAnd()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) parseAnd() (bool, error) {
	left, err := p.parseUnary()
	if err != nil {
		return false, err
	}
	for p.consume("&&") {
		right, err := p.parseUnary()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) parseUnary() (bool, error) {
	if p.consume("!") {
		value, err := p.parseUnary()
		if err != nil {
			return false, err
		}
		return !value, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (bool, error) {
	p.skipSpace()
	if p.consume("(") {
		value, err := p.parseOr()
		if err != nil {
			return false, err
		}
		if !p.consume(")") {
			return false, fmt.Errorf("missing closing parenthesis at offset %d", p.pos)
		}
		return value, nil
	}

	ident := p.readIdent()
	if ident == "" {
		return false, fmt.Errorf("expected expression at offset %d", p.pos)
	}

	if p.consume("()") {
		switch ident {
		case "success":
			return p.ctx.Status == StatusSuccess, nil
		case "failure":
			return p.ctx.Status == StatusFailure, nil
		case "cancelled":
			return p.ctx.Status == StatusCancelled, nil
		case "always":
			return true, nil
		default:
			return false, fmt.Errorf("unknown function %q", ident)
		}
	}

	value, ok := p.ctx.Vars[ident]
	if !ok {
		return false, fmt.Errorf("unknown context value %q", ident)
	}

	p.skipSpace()
	negate := false
	switch {
	case p.consume("=="):
	case p.consume("!="):
		negate = true
	default:
		return false, fmt.Errorf("expected comparison after %q", ident)
	}

	literal, err := p.readString()
	if err != nil {
		return false, err
	}
	if negate {
		return value != literal, nil
	}
	return value == literal, nil
}

func (p *parser) readIdent() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		r := rune(p.input[p.pos])
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}

func (p *parser) readString() (string, error) {
	p.skipSpace()
	if p.pos >= len(p.input) || p.input[p.pos] != '\'' {
		return "", fmt.Errorf("expected quoted string at offset %d", p.pos)
	}
	p.pos++
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != '\'' {
		p.pos++
	}
	if p.pos >= len(p.input) {
		return "", fmt.Errorf("unterminated string starting at offset %d", start-1)
	}
	value := p.input[start:p.pos]
	p.pos++
	return value, nil
}

func (p *parser) consume(token string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.input[p.pos:], token) {
		p.pos += len(token)
		return true
	}
	return false
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}
