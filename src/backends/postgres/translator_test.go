package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictstore/src/models"
	"dictstore/src/query"
)

func testDict() *models.Dict {
	dict := &models.Dict{
		ID:   "city",
		Name: "City",
		Fields: []models.DictField{
			{ID: "name", Name: "Name", Type: models.FieldTypeString, Required: true},
			{ID: "population", Name: "Population", Type: models.FieldTypeInteger},
			{ID: "area", Name: "Area", Type: models.FieldTypeDecimal},
			{ID: "capital", Name: "Capital", Type: models.FieldTypeBoolean},
			{ID: "founded", Name: "Founded", Type: models.FieldTypeDate},
			{ID: "tags", Name: "Tags", Type: models.FieldTypeString, Multivalued: true},
			{ID: "order", Name: "Order", Type: models.FieldTypeInteger},
			{ID: "displayName", Name: "Display name", Type: models.FieldTypeString},
			{ID: "country", Name: "Country", Type: models.FieldTypeDict,
				DictRef: &models.DictRef{DictID: "country"}},
			{ID: "region", Name: "Region", Type: models.FieldTypeDict,
				DictRef: &models.DictRef{DictID: "region", FieldID: "code"}},
		},
		Engine: models.EnginePostgres,
	}
	dict.Fields = append(dict.Fields, models.ServiceFields()...)
	return dict
}

func mustParse(t *testing.T, input string) query.Expression {
	t.Helper()
	expr, err := query.Parse(input)
	require.NoError(t, err)
	return expr
}

func TestTranslateEmpty(t *testing.T) {
	tr, err := Translate(testDict(), query.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "", tr.Where)
	assert.Empty(t, tr.Args)
	assert.Empty(t, tr.Joins)
}

func TestTranslateComparison(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "population > 100000"))
	require.NoError(t, err)
	assert.Equal(t, "t.population > $1", tr.Where)
	assert.Equal(t, []any{int64(100000)}, tr.Args)
}

func TestTranslateQuotesReservedAndMixedCase(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "order = 1 and displayName = 'x'"))
	require.NoError(t, err)
	assert.Equal(t, `(t."order" = $1 AND t."displayName" = $2)`, tr.Where)
}

func TestTranslateTypedCasts(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "founded > '2000-01-01'::date"))
	require.NoError(t, err)
	assert.Equal(t, "t.founded > $1::date", tr.Where)

	// An untyped string aimed at a date column still casts.
	tr, err = Translate(testDict(), mustParse(t, "founded > '2000-01-01'"))
	require.NoError(t, err)
	assert.Equal(t, "t.founded > $1::date", tr.Where)

	tr, err = Translate(testDict(), mustParse(t, "area >= 12.5"))
	require.NoError(t, err)
	assert.Equal(t, "t.area >= $1::numeric", tr.Where)
	assert.Equal(t, []any{"12.5"}, tr.Args)
}

func TestTranslateNull(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "deleted = null"))
	require.NoError(t, err)
	assert.Equal(t, "t.deleted IS NULL", tr.Where)
	assert.Empty(t, tr.Args)

	tr, err = Translate(testDict(), mustParse(t, "deleted != null"))
	require.NoError(t, err)
	assert.Equal(t, "t.deleted IS NOT NULL", tr.Where)

	_, err = Translate(testDict(), mustParse(t, "deleted > null"))
	require.ErrorIs(t, err, models.ErrQuerySyntax)
}

func TestTranslateLike(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "name like 'San%'"))
	require.NoError(t, err)
	assert.Equal(t, "t.name LIKE $1", tr.Where)
	assert.Equal(t, []any{"San%"}, tr.Args)

	// A pattern without wildcards matches as substring.
	tr, err = Translate(testDict(), mustParse(t, "name like 'San'"))
	require.NoError(t, err)
	assert.Equal(t, []any{"%San%"}, tr.Args)
}

func TestTranslateIn(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "population in (1, 2, 3)"))
	require.NoError(t, err)
	assert.Equal(t, "t.population = ANY($1)", tr.Where)
	assert.Equal(t, []any{[]int64{1, 2, 3}}, tr.Args)
}

func TestTranslateArrayPredicates(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "tags any ['a', 'b']"))
	require.NoError(t, err)
	assert.Equal(t, "t.tags && $1", tr.Where)
	assert.Equal(t, []any{[]string{"a", "b"}}, tr.Args)

	tr, err = Translate(testDict(), mustParse(t, "tags all ['a', 'b']"))
	require.NoError(t, err)
	assert.Equal(t, "t.tags @> $1", tr.Where)
}

func TestTranslateNot(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "not capital = true"))
	require.NoError(t, err)
	assert.Equal(t, "NOT (t.capital = $1)", tr.Where)
	assert.Equal(t, []any{true}, tr.Args)
}

func TestTranslateReferenceJoin(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "country.name = 'Chile'"))
	require.NoError(t, err)
	assert.Equal(t, `j1."name" = $1`, tr.Where)
	require.Len(t, tr.Joins, 1)
	assert.Equal(t, Join{Table: "country", Alias: "j1", LocalColumn: "country", ForeignColumn: "id"}, tr.Joins[0])
	assert.Equal(t, ` LEFT JOIN "country" j1 ON j1."id" = t."country"`, tr.JoinSQL())
}

func TestTranslateTwoReferencesGetTwoAliases(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "country.name = 'Chile' and region.name = 'Sur'"))
	require.NoError(t, err)
	require.Len(t, tr.Joins, 2)
	assert.Equal(t, "j1", tr.Joins[0].Alias)
	assert.Equal(t, "j2", tr.Joins[1].Alias)
	// The declared target field of the reference drives the join column.
	assert.Equal(t, "code", tr.Joins[1].ForeignColumn)
}

func TestTranslateSameReferenceSharesAlias(t *testing.T) {
	tr, err := Translate(testDict(), mustParse(t, "country.name = 'Chile' or country.code = 'CL'"))
	require.NoError(t, err)
	require.Len(t, tr.Joins, 1)
	assert.Equal(t, `(j1."name" = $1 OR j1."code" = $2)`, tr.Where)
}

func TestTranslateUnknownField(t *testing.T) {
	_, err := Translate(testDict(), mustParse(t, "nosuch = 1"))
	require.ErrorIs(t, err, models.ErrQuerySyntax)

	_, err = Translate(testDict(), mustParse(t, "nosuch.name = 'x'"))
	require.ErrorIs(t, err, models.ErrQuerySyntax)

	_, err = Translate(testDict(), mustParse(t, "country.region.name = 'x'"))
	require.ErrorIs(t, err, models.ErrQuerySyntax)
}

func TestColumnTypeMapping(t *testing.T) {
	cases := []struct {
		field models.DictField
		want  string
	}{
		{models.DictField{ID: "a", Type: models.FieldTypeString}, "text"},
		{models.DictField{ID: "a", Type: models.FieldTypeInteger}, "bigint"},
		{models.DictField{ID: "a", Type: models.FieldTypeDecimal}, "numeric"},
		{models.DictField{ID: "a", Type: models.FieldTypeBoolean}, "boolean"},
		{models.DictField{ID: "a", Type: models.FieldTypeDate}, "date"},
		{models.DictField{ID: "a", Type: models.FieldTypeTimestamp}, "timestamp"},
		{models.DictField{ID: "a", Type: models.FieldTypeJSON}, "jsonb DEFAULT '{}'::jsonb"},
		{models.DictField{ID: "a", Type: models.FieldTypeJSON, Multivalued: true}, "jsonb DEFAULT '[]'::jsonb"},
		{models.DictField{ID: "a", Type: models.FieldTypeGeoJSON}, "text"},
		{models.DictField{ID: "a", Type: models.FieldTypeEnum}, "text"},
		{models.DictField{ID: "a", Type: models.FieldTypeDict}, "text"},
		{models.DictField{ID: "a", Type: models.FieldTypeAttachment}, "text"},
		{models.DictField{ID: "a", Type: models.FieldTypeInteger, Multivalued: true}, "bigint[]"},
		{models.DictField{ID: "a", Type: models.FieldTypeString, Multivalued: true}, "text[]"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, columnType(c.field), "type %s multivalued=%v", c.field.Type, c.field.Multivalued)
	}
}

func TestBuildCreateTableSQL(t *testing.T) {
	dict := &models.Dict{
		ID: "sample",
		Fields: []models.DictField{
			{ID: "name", Type: models.FieldTypeString, Required: true},
			{ID: "order", Type: models.FieldTypeInteger},
		},
	}
	dict.Fields = append(dict.Fields, models.ServiceFields()...)

	sql := BuildCreateTableSQL(dict)
	assert.Contains(t, sql, `CREATE TABLE "sample" (`)
	assert.Contains(t, sql, `"name" text NOT NULL`)
	assert.Contains(t, sql, `"order" bigint`)
	assert.Contains(t, sql, `"id" text PRIMARY KEY`)
	assert.Contains(t, sql, `"created" timestamp NOT NULL`)
	assert.Contains(t, sql, `"history" jsonb DEFAULT '[]'::jsonb`)
	assert.Contains(t, sql, `"version" bigint NOT NULL`)
	// The id column never repeats NOT NULL next to PRIMARY KEY.
	assert.NotContains(t, sql, "PRIMARY KEY NOT NULL")
}

func TestIsReservedWord(t *testing.T) {
	assert.True(t, IsReservedWord("order"))
	assert.True(t, IsReservedWord("SELECT"))
	assert.False(t, IsReservedWord("population"))
}
