// Package rql implements the RQL filter expressions usable on target topic
// subscriptions, e.g.
//
//	and(eq(attributes/location,"kitchen"),gt(features/temperature/properties/value,20))
//
// Expressions are parsed once per connection and evaluated against a
// signal's field tree. Evaluation is pure and side-effect free.
package rql

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a parsed RQL expression node.
type Node struct {
	Op    string
	Field string
	Value any
	Args  []*Node
}

// Logical and comparison operators.
const (
	OpAnd    = "and"
	OpOr     = "or"
	OpNot    = "not"
	OpEq     = "eq"
	OpNe     = "ne"
	OpGt     = "gt"
	OpGe     = "ge"
	OpLt     = "lt"
	OpLe     = "le"
	OpIn     = "in"
	OpLike   = "like"
	OpExists = "exists"
)

// Parse parses an RQL expression.
func Parse(input string) (*Node, error) {
	p := &parser{input: input}
	node, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("rql: unexpected trailing input at %d in %q", p.pos, input)
	}
	return node, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) parseExpression() (*Node, error) {
	op, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	if err := p.expect('('); err != nil {
		return nil, err
	}

	node := &Node{Op: op}
	switch op {
	case OpAnd, OpOr:
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			node.Args = append(node.Args, arg)
			if !p.consume(',') {
				break
			}
		}
		if len(node.Args) < 2 {
			return nil, fmt.Errorf("rql: %s needs at least two arguments", op)
		}
	case OpNot:
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		node.Args = []*Node{arg}
	case OpExists:
		field, err := p.parseField()
		if err != nil {
			return nil, err
		}
		node.Field = field
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpLike:
		field, err := p.parseField()
		if err != nil {
			return nil, err
		}
		node.Field = field
		if err := p.expect(','); err != nil {
			return nil, err
		}
		value, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		node.Value = value
	case OpIn:
		field, err := p.parseField()
		if err != nil {
			return nil, err
		}
		node.Field = field
		var values []any
		for p.consume(',') {
			value, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			values = append(values, value)
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("rql: in needs at least one value")
		}
		node.Value = values
	default:
		return nil, fmt.Errorf("rql: unknown operator %q", op)
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) parseIdentifier() (string, error) {
	p.skipSpaces()
	start := p.pos
	for p.pos < len(p.input) && isIdentChar(p.input[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("rql: expected operator at %d in %q", start, p.input)
	}
	return p.input[start:p.pos], nil
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z'
}

func (p *parser) parseField() (string, error) {
	p.skipSpaces()
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == ',' || c == ')' || c == ' ' {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("rql: expected field at %d in %q", start, p.input)
	}
	return strings.TrimPrefix(p.input[start:p.pos], "/"), nil
}

func (p *parser) parseLiteral() (any, error) {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("rql: expected value at end of %q", p.input)
	}

	if c := p.input[p.pos]; c == '"' || c == '\'' {
		return p.parseQuoted(c)
	}

	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == ',' || c == ')' || c == ' ' {
			break
		}
		p.pos++
	}
	raw := p.input[start:p.pos]
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	number, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("rql: invalid value %q", raw)
	}
	return number, nil
}

func (p *parser) parseQuoted(quote byte) (string, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '\\' && p.pos+1 < len(p.input) {
			sb.WriteByte(p.input[p.pos+1])
			p.pos += 2
			continue
		}
		if c == quote {
			p.pos++
			return sb.String(), nil
		}
		sb.WriteByte(c)
		p.pos++
	}
	return "", fmt.Errorf("rql: unterminated string in %q", p.input)
}

func (p *parser) expect(c byte) error {
	p.skipSpaces()
	if p.pos >= len(p.input) || p.input[p.pos] != c {
		return fmt.Errorf("rql: expected %q at %d in %q", string(c), p.pos, p.input)
	}
	p.pos++
	return nil
}

func (p *parser) consume(c byte) bool {
	p.skipSpaces()
	if p.pos < len(p.input) && p.input[p.pos] == c {
		p.pos++
		return true
	}
	return false
}
