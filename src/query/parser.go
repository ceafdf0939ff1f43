package query

import (
	"fmt"
	"strconv"
	"strings"

	"dictstore/src/helpers"
	"dictstore/src/models"
)

// Parse turns a textual filter expression into the engine-neutral tree.
// Blank input yields Empty. Malformed input fails with a query-syntax
// error and no partial tree. Parsing is deterministic: the same string
// always produces a structurally equal tree.
func Parse(input string) (Expression, error) {
	if strings.TrimSpace(input) == "" {
		return Empty{}, nil
	}
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, p.errorf("unexpected %q after expression", p.peek().text)
	}
	return expr, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at position %d", models.ErrQuerySyntax, fmt.Sprintf(format, args...), p.peek().pos)
}

func (p *parser) isKeyword(t token, kw string) bool {
	return t.kind == tokenIdent && strings.EqualFold(t.text, kw)
}

// or has the lowest precedence.
func (p *parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	operands := []Expression{left}
	for p.isKeyword(p.peek(), "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return Logic{Op: LogicOr, Operands: operands}, nil
}

func (p *parser) parseAnd() (Expression, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	operands := []Expression{left}
	for p.isKeyword(p.peek(), "and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return Logic{Op: LogicAnd, Operands: operands}, nil
}

func (p *parser) parseNot() (Expression, error) {
	if p.isKeyword(p.peek(), "not") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return Logic{Op: LogicNot, Operands: []Expression{inner}}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expression, error) {
	if p.peek().kind == tokenLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokenRParen {
			return nil, p.errorf("expected ')'")
		}
		p.next()
		return inner, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (Expression, error) {
	t := p.peek()
	if t.kind != tokenIdent {
		return nil, p.errorf("expected a field name, found %q", t.text)
	}
	for _, kw := range []string{"and", "or", "not", "in", "any", "all", "like", "null", "true", "false"} {
		if strings.EqualFold(t.text, kw) {
			return nil, p.errorf("expected a field name, found keyword %q", t.text)
		}
	}
	field := p.next().text

	op := p.peek()
	switch {
	case op.kind == tokenOperator:
		p.next()
		c, err := p.parseConstant()
		if err != nil {
			return nil, err
		}
		return Comparison{Field: field, Op: CompareOp(op.text), Value: c}, nil

	case p.isKeyword(op, "like"):
		p.next()
		c, err := p.parseConstant()
		if err != nil {
			return nil, err
		}
		if c.Null || c.Type != ConstString {
			return nil, p.errorf("like requires a string literal")
		}
		return Comparison{Field: field, Op: OpLike, Value: c}, nil

	case p.isKeyword(op, "in"):
		p.next()
		values, err := p.parseConstantList()
		if err != nil {
			return nil, err
		}
		return In{Field: field, Values: values}, nil

	case p.isKeyword(op, "any"), p.isKeyword(op, "all"):
		p.next()
		if p.peek().kind != tokenLBracket {
			return nil, p.errorf("%s requires an array literal", strings.ToLower(op.text))
		}
		values, err := p.parseConstantList()
		if err != nil {
			return nil, err
		}
		arrayOp := ArrayAny
		if strings.EqualFold(op.text, "all") {
			arrayOp = ArrayAll
		}
		return Array{Field: field, Op: arrayOp, Values: values}, nil

	default:
		return nil, p.errorf("expected an operator after field '%s'", field)
	}
}

// parseConstantList reads a parenthesized or bracketed comma-separated
// list of constants. Nulls are not allowed inside lists.
func (p *parser) parseConstantList() ([]Constant, error) {
	open := p.peek().kind
	var closing tokenKind
	switch open {
	case tokenLParen:
		closing = tokenRParen
	case tokenLBracket:
		closing = tokenRBracket
	default:
		return nil, p.errorf("expected a value list")
	}
	p.next()

	var values []Constant
	if p.peek().kind == closing {
		p.next()
		return values, nil
	}
	for {
		c, err := p.parseConstant()
		if err != nil {
			return nil, err
		}
		if c.Null {
			return nil, p.errorf("null is not allowed inside a value list")
		}
		values = append(values, c)
		if p.peek().kind == tokenComma {
			p.next()
			continue
		}
		if p.peek().kind == closing {
			p.next()
			return values, nil
		}
		return nil, p.errorf("expected ',' or closing bracket in value list")
	}
}

func (p *parser) parseConstant() (Constant, error) {
	t := p.peek()

	var c Constant
	switch {
	case t.kind == tokenString:
		p.next()
		c = Constant{Type: ConstString, Value: t.text}

	case t.kind == tokenNumber:
		p.next()
		if strings.Contains(t.text, ".") {
			canonical, err := helpers.CanonicalDecimalString(t.text)
			if err != nil {
				return Constant{}, p.errorf("invalid number %q", t.text)
			}
			c = Constant{Type: ConstDecimal, Value: canonical}
		} else {
			n, err := strconv.ParseInt(t.text, 10, 64)
			if err != nil {
				return Constant{}, p.errorf("invalid number %q", t.text)
			}
			c = Constant{Type: ConstInteger, Value: n}
		}

	case p.isKeyword(t, "null"):
		p.next()
		return Constant{Null: true}, nil

	case p.isKeyword(t, "true"), p.isKeyword(t, "false"):
		p.next()
		c = Constant{Type: ConstBoolean, Value: strings.EqualFold(t.text, "true")}

	default:
		return Constant{}, p.errorf("expected a literal, found %q", t.text)
	}

	if p.peek().kind == tokenCast {
		cast := p.next()
		typed, err := applyCast(c, cast.text)
		if err != nil {
			return Constant{}, fmt.Errorf("%w: %v at position %d", models.ErrQuerySyntax, err, cast.pos)
		}
		return typed, nil
	}
	return c, nil
}

// applyCast converts a literal to the explicitly requested constant type.
func applyCast(c Constant, typeName string) (Constant, error) {
	switch strings.ToLower(typeName) {
	case "date":
		s, ok := c.Value.(string)
		if !ok {
			return Constant{}, fmt.Errorf("::date requires a string literal")
		}
		t, err := helpers.ParseDate(s)
		if err != nil {
			return Constant{}, err
		}
		return Constant{Type: ConstDate, Value: t}, nil
	case "timestamp":
		s, ok := c.Value.(string)
		if !ok {
			return Constant{}, fmt.Errorf("::timestamp requires a string literal")
		}
		t, err := helpers.ParseTimestamp(s)
		if err != nil {
			return Constant{}, err
		}
		return Constant{Type: ConstTimestamp, Value: t}, nil
	case "decimal":
		switch v := c.Value.(type) {
		case string:
			canonical, err := helpers.CanonicalDecimalString(v)
			if err != nil {
				return Constant{}, err
			}
			return Constant{Type: ConstDecimal, Value: canonical}, nil
		case int64:
			return Constant{Type: ConstDecimal, Value: strconv.FormatInt(v, 10)}, nil
		default:
			return Constant{}, fmt.Errorf("::decimal requires a numeric or string literal")
		}
	case "integer":
		switch v := c.Value.(type) {
		case int64:
			return c, nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Constant{}, fmt.Errorf("invalid integer literal %q", v)
			}
			return Constant{Type: ConstInteger, Value: n}, nil
		default:
			return Constant{}, fmt.Errorf("::integer requires an integral literal")
		}
	case "string":
		return Constant{Type: ConstString, Value: fmt.Sprintf("%v", c.Value)}, nil
	case "boolean":
		switch v := c.Value.(type) {
		case bool:
			return c, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Constant{}, fmt.Errorf("invalid boolean literal %q", v)
			}
			return Constant{Type: ConstBoolean, Value: b}, nil
		default:
			return Constant{}, fmt.Errorf("::boolean requires a boolean literal")
		}
	default:
		return Constant{}, fmt.Errorf("unknown cast type %q", typeName)
	}
}
