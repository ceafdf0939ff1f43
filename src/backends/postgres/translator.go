package postgres

import (
	"fmt"
	"strings"

	"dictstore/src/models"
	"dictstore/src/query"
)

// baseAlias is the alias of the dictionary's own table in every
// generated statement.
const baseAlias = "t"

// Join describes one required JOIN produced by a dotted reference path.
type Join struct {
	Table         string
	Alias         string
	LocalColumn   string
	ForeignColumn string
}

// Translation is the SQL fragment a query expression lowers to:
// a WHERE clause with positional args and the joins it depends on.
type Translation struct {
	Where string
	Args  []any
	Joins []Join
}

// JoinSQL renders the LEFT JOIN clauses in registration order.
func (t *Translation) JoinSQL() string {
	var sb strings.Builder
	for _, j := range t.Joins {
		fmt.Fprintf(&sb, " LEFT JOIN %s %s ON %s.%s = %s.%s",
			quoteIdent(j.Table), j.Alias,
			j.Alias, quoteIdent(j.ForeignColumn),
			baseAlias, quoteIdent(j.LocalColumn))
	}
	return sb.String()
}

type translator struct {
	dict    *models.Dict
	args    []any
	joins   []Join
	aliases map[string]string // local field id -> join alias
	quoted  map[string]string // field id -> rendered column name
}

// Translate walks the expression tree and produces the SQL fragment for
// the dictionary's table. The reserved-word quoting map is computed once
// per pass, not per node.
func Translate(dict *models.Dict, expr query.Expression) (*Translation, error) {
	tr := &translator{dict: dict, aliases: make(map[string]string), quoted: make(map[string]string)}
	for _, f := range dict.Fields {
		if IsReservedWord(f.ID) || strings.ToLower(f.ID) != f.ID {
			tr.quoted[f.ID] = quoteIdent(f.ID)
		} else {
			tr.quoted[f.ID] = f.ID
		}
	}
	where, err := tr.walk(expr)
	if err != nil {
		return nil, err
	}
	return &Translation{Where: where, Args: tr.args, Joins: tr.joins}, nil
}

func (tr *translator) walk(expr query.Expression) (string, error) {
	switch e := expr.(type) {
	case nil, query.Empty:
		return "", nil

	case query.Logic:
		if e.Op == query.LogicNot {
			inner, err := tr.walk(e.Operands[0])
			if err != nil {
				return "", err
			}
			return "NOT (" + inner + ")", nil
		}
		conn := " AND "
		if e.Op == query.LogicOr {
			conn = " OR "
		}
		parts := make([]string, 0, len(e.Operands))
		for _, op := range e.Operands {
			sql, err := tr.walk(op)
			if err != nil {
				return "", err
			}
			parts = append(parts, sql)
		}
		return "(" + strings.Join(parts, conn) + ")", nil

	case query.Comparison:
		col, field, err := tr.column(e.Field)
		if err != nil {
			return "", err
		}
		if e.Value.Null {
			switch e.Op {
			case query.OpEq:
				return col + " IS NULL", nil
			case query.OpNe:
				return col + " IS NOT NULL", nil
			default:
				return "", fmt.Errorf("operator %s does not apply to null: %w", e.Op, models.ErrQuerySyntax)
			}
		}
		if e.Op == query.OpLike {
			pattern, _ := e.Value.Value.(string)
			if !strings.Contains(pattern, "%") {
				pattern = "%" + pattern + "%"
			}
			return col + " LIKE " + tr.arg(pattern), nil
		}
		return fmt.Sprintf("%s %s %s", col, sqlOperator(e.Op), tr.typedArg(e.Value, field)), nil

	case query.In:
		col, field, err := tr.column(e.Field)
		if err != nil {
			return "", err
		}
		values, err := constantSlice(e.Values, field)
		if err != nil {
			return "", err
		}
		return col + " = ANY(" + tr.arg(values) + ")", nil

	case query.Array:
		col, field, err := tr.column(e.Field)
		if err != nil {
			return "", err
		}
		values, err := constantSlice(e.Values, field)
		if err != nil {
			return "", err
		}
		if e.Op == query.ArrayAll {
			return col + " @> " + tr.arg(values), nil
		}
		return col + " && " + tr.arg(values), nil

	default:
		return "", fmt.Errorf("unknown expression %T: %w", expr, models.ErrQuerySyntax)
	}
}

// column resolves a field reference to a qualified, quoted column,
// registering a join for dotted paths. The same referenced dictionary
// joined through two different local fields gets two aliases.
func (tr *translator) column(field string) (string, models.DictField, error) {
	if !strings.Contains(field, ".") {
		f, ok := tr.dict.FieldByID(field)
		if !ok {
			return "", models.DictField{}, fmt.Errorf("unknown field '%s' in '%s': %w", field, tr.dict.ID, models.ErrQuerySyntax)
		}
		return baseAlias + "." + tr.quoted[field], f, nil
	}

	parts := strings.SplitN(field, ".", 2)
	if strings.Contains(parts[1], ".") {
		return "", models.DictField{}, fmt.Errorf("reference path '%s' nests deeper than one hop: %w", field, models.ErrQuerySyntax)
	}
	local, ok := tr.dict.FieldByRefDict(parts[0])
	if !ok {
		return "", models.DictField{}, fmt.Errorf("no reference to dictionary '%s' in '%s': %w", parts[0], tr.dict.ID, models.ErrQuerySyntax)
	}
	alias, ok := tr.aliases[local.ID]
	if !ok {
		alias = fmt.Sprintf("j%d", len(tr.joins)+1)
		tr.aliases[local.ID] = alias
		foreign := local.DictRef.FieldID
		if foreign == "" {
			foreign = models.ServiceFieldID
		}
		tr.joins = append(tr.joins, Join{
			Table:         local.DictRef.DictID,
			Alias:         alias,
			LocalColumn:   local.ID,
			ForeignColumn: foreign,
		})
	}
	// The referenced column's declared type is unknown here; literal
	// typing falls back to the constant's own tag.
	return alias + "." + quoteIdent(parts[1]), models.DictField{ID: parts[1]}, nil
}

func (tr *translator) arg(v any) string {
	tr.args = append(tr.args, v)
	return fmt.Sprintf("$%d", len(tr.args))
}

// typedArg renders one positional parameter with the cast the constant
// type calls for, so DATE/TIMESTAMP literals compare as native dates.
func (tr *translator) typedArg(c query.Constant, field models.DictField) string {
	switch c.Type {
	case query.ConstDate:
		return tr.arg(c.Value) + "::date"
	case query.ConstTimestamp:
		return tr.arg(c.Value) + "::timestamp"
	case query.ConstDecimal:
		return tr.arg(c.Value) + "::numeric"
	case query.ConstString:
		// An untyped string literal aimed at a date field still has to
		// compare natively.
		switch field.Type {
		case models.FieldTypeDate:
			return tr.arg(c.Value) + "::date"
		case models.FieldTypeTimestamp:
			return tr.arg(c.Value) + "::timestamp"
		}
		return tr.arg(c.Value)
	default:
		return tr.arg(c.Value)
	}
}

// constantSlice builds the typed array parameter for IN/ANY/ALL.
func constantSlice(values []query.Constant, field models.DictField) (any, error) {
	if len(values) == 0 {
		return []string{}, nil
	}
	t := values[0].Type
	if field.Type == models.FieldTypeDate {
		t = query.ConstDate
	}
	if field.Type == models.FieldTypeTimestamp {
		t = query.ConstTimestamp
	}
	switch t {
	case query.ConstInteger:
		out := make([]int64, 0, len(values))
		for _, c := range values {
			n, ok := c.Value.(int64)
			if !ok {
				return nil, fmt.Errorf("mixed literal types in value list: %w", models.ErrQuerySyntax)
			}
			out = append(out, n)
		}
		return out, nil
	case query.ConstBoolean:
		out := make([]bool, 0, len(values))
		for _, c := range values {
			b, ok := c.Value.(bool)
			if !ok {
				return nil, fmt.Errorf("mixed literal types in value list: %w", models.ErrQuerySyntax)
			}
			out = append(out, b)
		}
		return out, nil
	case query.ConstDate, query.ConstTimestamp:
		out := make([]any, 0, len(values))
		for _, c := range values {
			out = append(out, c.Value)
		}
		return out, nil
	default:
		out := make([]string, 0, len(values))
		for _, c := range values {
			out = append(out, fmt.Sprintf("%v", c.Value))
		}
		return out, nil
	}
}

func sqlOperator(op query.CompareOp) string {
	if op == query.OpNe {
		return "<>"
	}
	return string(op)
}

// Reserved words that must be quoted when used as column names.
var reservedWords = map[string]bool{
	"all": true, "analyse": true, "analyze": true, "and": true, "any": true,
	"array": true, "as": true, "asc": true, "asymmetric": true, "both": true,
	"case": true, "cast": true, "check": true, "collate": true, "column": true,
	"constraint": true, "create": true, "current_date": true, "current_time": true,
	"current_timestamp": true, "current_user": true, "default": true,
	"deferrable": true, "desc": true, "distinct": true, "do": true, "else": true,
	"end": true, "except": true, "false": true, "fetch": true, "for": true,
	"foreign": true, "from": true, "grant": true, "group": true, "having": true,
	"in": true, "initially": true, "intersect": true, "into": true, "leading": true,
	"limit": true, "localtime": true, "localtimestamp": true, "not": true,
	"null": true, "offset": true, "on": true, "only": true, "or": true,
	"order": true, "placing": true, "primary": true, "references": true,
	"returning": true, "select": true, "session_user": true, "some": true,
	"symmetric": true, "table": true, "then": true, "to": true, "trailing": true,
	"true": true, "union": true, "unique": true, "user": true, "using": true,
	"variadic": true, "when": true, "where": true, "window": true, "with": true,
}

// quoteIdent quotes any identifier; quoting unconditionally also covers
// mixed-case ids without a second code path.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// IsReservedWord reports whether a field id collides with a SQL keyword.
func IsReservedWord(name string) bool {
	return reservedWords[strings.ToLower(name)]
}
