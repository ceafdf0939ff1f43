package mongodb

import (
	"fmt"
	"regexp"
	"strings"

	"dictstore/src/helpers"
	"dictstore/src/models"
	"dictstore/src/query"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Lookup describes one $lookup stage a dotted reference path requires.
type Lookup struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
}

// Translation is the document-engine form of a query expression: the
// match criteria plus the lookup stages it depends on.
type Translation struct {
	Criteria bson.M
	Lookups  []Lookup
}

// Pipeline renders the aggregation prefix: lookups, their unwinds, and
// the match stage. Callers append sort/skip/limit stages.
func (t *Translation) Pipeline() []bson.D {
	var stages []bson.D
	for _, l := range t.Lookups {
		stages = append(stages, bson.D{{Key: "$lookup", Value: bson.M{
			"from":         l.From,
			"localField":   l.LocalField,
			"foreignField": l.ForeignField,
			"as":           l.As,
		}}})
		stages = append(stages, bson.D{{Key: "$unwind", Value: bson.M{
			"path":                       "$" + l.As,
			"preserveNullAndEmptyArrays": true,
		}}})
	}
	if len(t.Criteria) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: t.Criteria}})
	}
	return stages
}

type translator struct {
	dict    *models.Dict
	lookups []Lookup
	aliases map[string]string // local field id -> lookup alias
}

// Translate walks the expression tree into match criteria for the
// dictionary's collection, registering lookups for dotted paths.
func Translate(dict *models.Dict, expr query.Expression) (*Translation, error) {
	tr := &translator{dict: dict, aliases: make(map[string]string)}
	criteria, err := tr.walk(expr)
	if err != nil {
		return nil, err
	}
	return &Translation{Criteria: criteria, Lookups: tr.lookups}, nil
}

func (tr *translator) walk(expr query.Expression) (bson.M, error) {
	switch e := expr.(type) {
	case nil, query.Empty:
		return bson.M{}, nil

	case query.Logic:
		if e.Op == query.LogicNot {
			inner, err := tr.walk(e.Operands[0])
			if err != nil {
				return nil, err
			}
			return bson.M{"$nor": bson.A{inner}}, nil
		}
		conn := "$and"
		if e.Op == query.LogicOr {
			conn = "$or"
		}
		parts := make(bson.A, 0, len(e.Operands))
		for _, op := range e.Operands {
			criteria, err := tr.walk(op)
			if err != nil {
				return nil, err
			}
			parts = append(parts, criteria)
		}
		return bson.M{conn: parts}, nil

	case query.Comparison:
		path, field, err := tr.path(e.Field)
		if err != nil {
			return nil, err
		}
		if e.Value.Null {
			switch e.Op {
			case query.OpEq:
				return bson.M{path: bson.M{"$eq": nil}}, nil
			case query.OpNe:
				return bson.M{path: bson.M{"$ne": nil}}, nil
			default:
				return nil, fmt.Errorf("operator %s does not apply to null: %w", e.Op, models.ErrQuerySyntax)
			}
		}
		if e.Op == query.OpLike {
			pattern, _ := e.Value.Value.(string)
			return bson.M{path: likeRegex(pattern)}, nil
		}
		v, err := constantValue(e.Value, field)
		if err != nil {
			return nil, err
		}
		return bson.M{path: bson.M{mongoOperator(e.Op): v}}, nil

	case query.In:
		path, field, err := tr.path(e.Field)
		if err != nil {
			return nil, err
		}
		values, err := constantList(e.Values, field)
		if err != nil {
			return nil, err
		}
		return bson.M{path: bson.M{"$in": values}}, nil

	case query.Array:
		path, field, err := tr.path(e.Field)
		if err != nil {
			return nil, err
		}
		values, err := constantList(e.Values, field)
		if err != nil {
			return nil, err
		}
		// For an array field $in matches on any shared element; $all
		// requires every listed value to be present.
		if e.Op == query.ArrayAll {
			return bson.M{path: bson.M{"$all": values}}, nil
		}
		return bson.M{path: bson.M{"$in": values}}, nil

	default:
		return nil, fmt.Errorf("unknown expression %T: %w", expr, models.ErrQuerySyntax)
	}
}

// path resolves a field reference to a document path, registering a
// lookup for dotted reference paths. The same referenced dictionary
// reached through two different local fields gets two aliases.
func (tr *translator) path(field string) (string, models.DictField, error) {
	if !strings.Contains(field, ".") {
		f, ok := tr.dict.FieldByID(field)
		if !ok {
			return "", models.DictField{}, fmt.Errorf("unknown field '%s' in '%s': %w", field, tr.dict.ID, models.ErrQuerySyntax)
		}
		return documentField(field), f, nil
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
		alias = fmt.Sprintf("j%d", len(tr.lookups)+1)
		tr.aliases[local.ID] = alias
		foreign := local.DictRef.FieldID
		if foreign == "" {
			foreign = models.ServiceFieldID
		}
		tr.lookups = append(tr.lookups, Lookup{
			From:         local.DictRef.DictID,
			LocalField:   documentField(local.ID),
			ForeignField: documentField(foreign),
			As:           alias,
		})
	}
	return alias + "." + documentField(parts[1]), models.DictField{ID: parts[1]}, nil
}

// documentField maps the logical identifier field onto Mongo's _id.
func documentField(id string) string {
	if id == models.ServiceFieldID {
		return "_id"
	}
	return id
}

// likeRegex lowers a LIKE pattern to an anchored regular expression.
// A pattern without wildcards matches as a substring.
func likeRegex(pattern string) primitive.Regex {
	if !strings.Contains(pattern, "%") {
		return primitive.Regex{Pattern: regexp.QuoteMeta(pattern)}
	}
	segments := strings.Split(pattern, "%")
	for i, s := range segments {
		segments[i] = regexp.QuoteMeta(s)
	}
	return primitive.Regex{Pattern: "^" + strings.Join(segments, ".*") + "$"}
}

// constantValue formats one literal natively, letting the declared field
// type pull untyped strings into native dates.
func constantValue(c query.Constant, field models.DictField) (any, error) {
	switch c.Type {
	case query.ConstDate, query.ConstTimestamp:
		t, err := helpers.ParseTimestamp(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrQuerySyntax, err)
		}
		return primitive.NewDateTimeFromTime(t), nil
	case query.ConstDecimal:
		dec, err := helpers.NormalizeDecimal(c.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrQuerySyntax, err)
		}
		return dec, nil
	case query.ConstString:
		switch field.Type {
		case models.FieldTypeDate:
			t, err := helpers.ParseDate(c.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrQuerySyntax, err)
			}
			return primitive.NewDateTimeFromTime(t), nil
		case models.FieldTypeTimestamp:
			t, err := helpers.ParseTimestamp(c.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrQuerySyntax, err)
			}
			return primitive.NewDateTimeFromTime(t), nil
		}
		return c.Value, nil
	default:
		return c.Value, nil
	}
}

func constantList(values []query.Constant, field models.DictField) (bson.A, error) {
	out := make(bson.A, 0, len(values))
	for _, c := range values {
		v, err := constantValue(c, field)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func mongoOperator(op query.CompareOp) string {
	switch op {
	case query.OpEq:
		return "$eq"
	case query.OpNe:
		return "$ne"
	case query.OpLt:
		return "$lt"
	case query.OpLe:
		return "$lte"
	case query.OpGt:
		return "$gt"
	case query.OpGe:
		return "$gte"
	}
	return "$eq"
}
