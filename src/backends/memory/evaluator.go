package memory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dictstore/src/helpers"
	"dictstore/src/models"
	"dictstore/src/query"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// matches evaluates the expression tree directly against an item.
// Dotted reference paths are resolved through the local schemes map;
// the memory engine only joins dictionaries living in itself.
func (b *Backend) matches(dict *models.Dict, expr query.Expression, item *models.DictItem) (bool, error) {
	switch e := expr.(type) {
	case nil, query.Empty:
		return true, nil

	case query.Logic:
		switch e.Op {
		case query.LogicAnd:
			for _, op := range e.Operands {
				ok, err := b.matches(dict, op, item)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		case query.LogicOr:
			for _, op := range e.Operands {
				ok, err := b.matches(dict, op, item)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		case query.LogicNot:
			ok, err := b.matches(dict, e.Operands[0], item)
			if err != nil {
				return false, err
			}
			return !ok, nil
		default:
			return false, fmt.Errorf("unknown logic operator %q: %w", e.Op, models.ErrQuerySyntax)
		}

	case query.Comparison:
		v, f, err := b.resolveField(dict, e.Field, item)
		if err != nil {
			return false, err
		}
		return matchComparison(v, e.Op, e.Value, f)

	case query.In:
		v, f, err := b.resolveField(dict, e.Field, item)
		if err != nil {
			return false, err
		}
		for _, c := range e.Values {
			cv, err := constantValue(c, f)
			if err != nil {
				return false, err
			}
			if compareValues(v, cv) == 0 {
				return true, nil
			}
		}
		return false, nil

	case query.Array:
		v, f, err := b.resolveField(dict, e.Field, item)
		if err != nil {
			return false, err
		}
		elems, _ := v.([]any)
		contains := func(c query.Constant) (bool, error) {
			cv, err := constantValue(c, f)
			if err != nil {
				return false, err
			}
			for _, el := range elems {
				if compareValues(el, cv) == 0 {
					return true, nil
				}
			}
			return false, nil
		}
		if e.Op == query.ArrayAll {
			for _, c := range e.Values {
				ok, err := contains(c)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		}
		for _, c := range e.Values {
			ok, err := contains(c)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("unknown expression %T: %w", expr, models.ErrQuerySyntax)
	}
}

// resolveField reads a local field value, or follows one dotted hop
// into a referenced dictionary. The declared field comes back with the
// value so literals can be coerced against it.
func (b *Backend) resolveField(dict *models.Dict, field string, item *models.DictItem) (any, models.DictField, error) {
	if !strings.Contains(field, ".") {
		f, ok := dict.FieldByID(field)
		if !ok && !models.IsServiceField(field) {
			return nil, models.DictField{}, fmt.Errorf("unknown field '%s' in '%s': %w", field, dict.ID, models.ErrQuerySyntax)
		}
		return fieldValue(item, field), f, nil
	}

	parts := strings.SplitN(field, ".", 2)
	refField, ok := dict.FieldByRefDict(parts[0])
	if !ok {
		return nil, models.DictField{}, fmt.Errorf("no reference to dictionary '%s' in '%s': %w", parts[0], dict.ID, models.ErrQuerySyntax)
	}
	refID, _ := item.Data[refField.ID].(string)
	if nested, ok := item.Data[refField.ID].(*models.DictItem); ok {
		refID = nested.ID
	}
	if refID == "" {
		return nil, models.DictField{}, nil
	}
	refScheme, exists := b.schemes[parts[0]]
	if !exists {
		return nil, models.DictField{}, fmt.Errorf("referenced scheme '%s': %w", parts[0], models.ErrNotFound)
	}
	refItem, exists := refScheme.items[refID]
	if !exists {
		return nil, models.DictField{}, nil
	}
	return b.resolveField(refScheme.dict, parts[1], refItem)
}

func matchComparison(v any, op query.CompareOp, c query.Constant, f models.DictField) (bool, error) {
	if c.Null {
		switch op {
		case query.OpEq:
			return v == nil, nil
		case query.OpNe:
			return v != nil, nil
		default:
			return false, nil
		}
	}
	if v == nil {
		return false, nil
	}

	if op == query.OpLike {
		s, ok := v.(string)
		pattern, pok := c.Value.(string)
		if !ok || !pok {
			return false, nil
		}
		return matchLike(s, pattern), nil
	}

	cv, err := constantValue(c, f)
	if err != nil {
		return false, err
	}
	cmp := compareValues(v, cv)
	switch op {
	case query.OpEq:
		return cmp == 0, nil
	case query.OpNe:
		return cmp != 0, nil
	case query.OpLt:
		return cmp < 0, nil
	case query.OpLe:
		return cmp <= 0, nil
	case query.OpGt:
		return cmp > 0, nil
	case query.OpGe:
		return cmp >= 0, nil
	default:
		return false, nil
	}
}

// matchLike supports % wildcards; a pattern without wildcards matches
// as a substring.
func matchLike(s, pattern string) bool {
	if !strings.Contains(pattern, "%") {
		return strings.Contains(s, pattern)
	}
	parts := strings.Split(pattern, "%")
	idx := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		pos := strings.Index(s[idx:], part)
		if pos < 0 {
			return false
		}
		if i == 0 && pos != 0 {
			return false
		}
		idx += pos + len(part)
	}
	if last := parts[len(parts)-1]; last != "" && !strings.HasSuffix(s, last) {
		return false
	}
	return true
}

// constantValue resolves a literal against the field it is compared
// with. Untyped string literals aimed at date and timestamp fields are
// parsed to native times; the other engines' translators do the same
// conversion before handing the value to their drivers.
func constantValue(c query.Constant, f models.DictField) (any, error) {
	if c.Type != query.ConstString {
		return c.Value, nil
	}
	switch f.Type {
	case models.FieldTypeDate:
		t, err := helpers.ParseDate(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrQuerySyntax, err)
		}
		return t, nil
	case models.FieldTypeTimestamp:
		t, err := helpers.ParseTimestamp(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrQuerySyntax, err)
		}
		return t, nil
	default:
		return c.Value, nil
	}
}

// compareValues orders two canonical field values, converting numerics
// to a common representation first. Unrelated types compare unequal.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0
		}
		return -1
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			if ab == bb {
				return 0
			}
			if !ab {
				return -1
			}
			return 1
		}
	}
	if at, ok := asTime(a); ok {
		if bt, ok := asTime(b); ok {
			switch {
			case at.Equal(bt):
				return 0
			case at.Before(bt):
				return -1
			default:
				return 1
			}
		}
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		switch {
		case af == bf:
			return 0
		case af < bf:
			return -1
		default:
			return 1
		}
	}
	// Incomparable types never match equality.
	return -1
}

func asTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(x.String(), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
