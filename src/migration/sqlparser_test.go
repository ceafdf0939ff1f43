package migration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictstore/src/models"
)

func TestParseCreateTable(t *testing.T) {
	stmts, err := ParseScript(`
		CREATE TABLE country['Country'] (
			name['Name'] string NOT NULL,
			code string NOT NULL,
			population integer,
			area decimal,
			head_of_state string REFERENCES person
		) ENGINE='memory';
	`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	ct, ok := stmts[0].(CreateTable)
	require.True(t, ok)
	assert.Equal(t, "country", ct.ID)
	assert.Equal(t, "Country", ct.Name)
	assert.Equal(t, "memory", ct.Engine)
	require.Len(t, ct.Columns, 5)

	assert.Equal(t, ColumnDef{ID: "name", Name: "Name", Type: "string", NotNull: true}, ct.Columns[0])
	assert.Equal(t, ColumnDef{ID: "code", Name: "code", Type: "string", NotNull: true}, ct.Columns[1])
	assert.Equal(t, ColumnDef{ID: "population", Name: "population", Type: "integer"}, ct.Columns[2])
	assert.Equal(t, ColumnDef{ID: "area", Name: "area", Type: "decimal"}, ct.Columns[3])
	assert.Equal(t, ColumnDef{ID: "head_of_state", Name: "head_of_state", Type: "string", References: "person"}, ct.Columns[4])
}

func TestParseCreateTableWithoutEngine(t *testing.T) {
	stmts, err := ParseScript(`CREATE TABLE note (body string);`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, "", stmts[0].(CreateTable).Engine)
}

func TestParseAlterTable(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   Statement
	}{
		{
			name:   "add column",
			script: `ALTER TABLE city ADD COLUMN mayor['Mayor'] string NOT NULL;`,
			want: AddColumn{
				Table:  "city",
				Column: ColumnDef{ID: "mayor", Name: "Mayor", Type: "string", NotNull: true},
			},
		},
		{
			name:   "drop column",
			script: `ALTER TABLE city DROP COLUMN mayor;`,
			want:   DropColumn{Table: "city", Column: "mayor"},
		},
		{
			name:   "add constraint",
			script: `ALTER TABLE city ADD CONSTRAINT uq_name_country UNIQUE (name, country);`,
			want:   AddConstraint{Table: "city", ID: "uq_name_country", Fields: []string{"name", "country"}},
		},
		{
			name:   "drop constraint",
			script: `ALTER TABLE city DROP CONSTRAINT uq_name_country;`,
			want:   DropConstraint{Table: "city", ID: "uq_name_country"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stmts, err := ParseScript(tc.script)
			require.NoError(t, err)
			require.Len(t, stmts, 1)
			assert.Equal(t, tc.want, stmts[0])
		})
	}
}

func TestParseIndexStatements(t *testing.T) {
	stmts, err := ParseScript(`
		CREATE INDEX ix_city_pop ON city (population desc, name);
		DROP INDEX ix_city_pop ON city;
	`)
	require.NoError(t, err)
	require.Len(t, stmts, 2)

	assert.Equal(t, CreateIndex{
		ID:    "ix_city_pop",
		Table: "city",
		Fields: []IndexFieldDef{
			{Field: "population", Desc: true},
			{Field: "name"},
		},
	}, stmts[0])
	assert.Equal(t, DropIndex{ID: "ix_city_pop", Table: "city"}, stmts[1])
}

func TestParseInsert(t *testing.T) {
	stmts, err := ParseScript(`
		INSERT INTO city (id, name, population, area, capital, founded) VALUES
			('scl', 'Santiago', 6000000, 641.4, true, null),
			('ohg', 'O''Higgins', -5, 0.5, false, null);
	`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	ins, ok := stmts[0].(Insert)
	require.True(t, ok)
	assert.Equal(t, "city", ins.Table)
	assert.Equal(t, []string{"id", "name", "population", "area", "capital", "founded"}, ins.Columns)
	require.Len(t, ins.Rows, 2)

	assert.Equal(t, []Literal{
		{Value: "scl"},
		{Value: "Santiago"},
		{Value: int64(6000000)},
		{Value: "641.4"},
		{Value: true},
		{Null: true},
	}, ins.Rows[0])
	// Doubled quotes escape, negative integers, decimals stay textual.
	assert.Equal(t, "O'Higgins", ins.Rows[1][1].Value)
	assert.Equal(t, int64(-5), ins.Rows[1][2].Value)
	assert.Equal(t, "0.5", ins.Rows[1][3].Value)
	assert.Equal(t, false, ins.Rows[1][4].Value)
}

func TestParseUpdate(t *testing.T) {
	stmts, err := ParseScript(
		`UPDATE city SET population = 0, area = null, alias = name WHERE name like 'San%' and population > 100;`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)

	up, ok := stmts[0].(Update)
	require.True(t, ok)
	assert.Equal(t, "city", up.Table)
	assert.Equal(t, []SetClause{
		{Column: "population", Value: Literal{Value: int64(0)}},
		{Column: "area", Value: Literal{Null: true}},
		{Column: "alias", Value: Literal{Column: "name"}},
	}, up.Sets)
	// The filter survives verbatim for the query parser.
	assert.Equal(t, "name like 'San%' and population > 100", up.Where)
}

func TestParseUpdateWithoutWhere(t *testing.T) {
	stmts, err := ParseScript(`UPDATE city SET population = 1;`)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	assert.Equal(t, "", stmts[0].(Update).Where)
}

func TestParseDelete(t *testing.T) {
	stmts, err := ParseScript(`
		DELETE FROM city WHERE founded::date < '2000-01-01'::date;
		DELETE FROM city;
	`)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, Delete{Table: "city", Where: "founded::date < '2000-01-01'::date"}, stmts[0])
	assert.Equal(t, Delete{Table: "city", Where: ""}, stmts[1])
}

func TestParseCommentsAndBlankInput(t *testing.T) {
	stmts, err := ParseScript(`
		-- nothing but commentary
		/* spanning
		   several lines */
	`)
	require.NoError(t, err)
	assert.Empty(t, stmts)

	stmts, err = ParseScript(`
		-- seed row
		INSERT INTO city (id, name) VALUES ('scl', 'Santiago'); -- trailing note
		/* the filter below is dsl text */
		DELETE FROM city WHERE name = 'Santiago' -- not part of the filter
		;
	`)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Equal(t, "name = 'Santiago'", stmts[1].(Delete).Where)
}

func TestParseScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"not a statement", `SELECT * FROM city;`},
		{"create of unknown object", `CREATE VIEW v;`},
		{"column without type", `CREATE TABLE t (name);`},
		{"row and column count differ", `INSERT INTO t (id) VALUES ('a', 'b');`},
		{"empty set list", `UPDATE t SET;`},
		{"empty where", `DELETE FROM t WHERE ;`},
		{"unterminated string", `INSERT INTO t (id) VALUES ('abc);`},
		{"unknown alter action", `ALTER TABLE t MODIFY COLUMN x;`},
		{"stray character", `CREATE TABLE t (name string) @;`},
		{"missing terminator", `DROP INDEX ix ON t DROP INDEX iy ON t;`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScript(tc.script)
			require.ErrorIs(t, err, models.ErrMigration)
		})
	}
}
