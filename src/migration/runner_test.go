package migration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictstore/src/helpers"
	"dictstore/src/models"
)

func writeScript(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const initScript = `
-- base city scheme
CREATE TABLE city['Cities'] (
	name['Name'] string NOT NULL,
	population integer,
	country string
);
INSERT INTO city (id, name, population) VALUES
	('scl', 'Santiago', 6000000),
	('valpo', 'Valparaiso', 300000);
`

const growScript = `
ALTER TABLE city ADD COLUMN area decimal;
UPDATE city SET area = 641.4, country = name WHERE name = 'Santiago';
DELETE FROM city WHERE population < 400000;
`

func TestRunnerAppliesScriptsInOrder(t *testing.T) {
	env := newMigEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeScript(t, dir, "V1__init.sql", initScript)
	writeScript(t, dir, "V2__grow.sql", growScript)
	writeScript(t, dir, "README.txt", "not a migration")

	applied, err := env.runner.Run(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.False(t, env.tx.Active())

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, "Cities", dict.Name)
	name, ok := dict.FieldByID("name")
	require.True(t, ok)
	assert.Equal(t, "Name", name.Name)
	assert.True(t, name.Required)
	_, ok = dict.FieldByID("area")
	assert.True(t, ok)

	// The per-row column copy gave Santiago its own name as country.
	scl, err := env.data.GetByID(ctx, "city", "scl", nil)
	require.NoError(t, err)
	assert.Equal(t, "Santiago", scl.Data["country"])
	assert.Equal(t, int64(2), scl.Version)
	wantArea, err := helpers.NormalizeDecimal("641.4")
	require.NoError(t, err)
	assert.True(t, helpers.ValuesEqual(scl.Data["area"], wantArea))

	valpo, err := env.data.GetByID(ctx, "city", "valpo", nil)
	require.NoError(t, err)
	assert.NotNil(t, valpo.Deleted)
	assert.Equal(t, int64(2), valpo.Version)

	records, err := env.versions.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Version)
	assert.Equal(t, "V1__init.sql", records[0].Script)
	assert.Equal(t, 2, records[1].Version)
	assert.NotEmpty(t, records[1].Checksum)
}

func TestRunnerSkipsAlreadyAppliedScripts(t *testing.T) {
	env := newMigEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeScript(t, dir, "V1__init.sql", initScript)

	applied, err := env.runner.Run(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// A second pass finds the checksum in the log and does nothing.
	applied, err = env.runner.Run(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	writeScript(t, dir, "V2__grow.sql", growScript)
	applied, err = env.runner.Run(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
}

func TestRunnerRejectsDuplicateOrdinals(t *testing.T) {
	env := newMigEnv(t)
	dir := t.TempDir()
	writeScript(t, dir, "V1__first.sql", initScript)
	writeScript(t, dir, "V1__second.sql", growScript)

	_, err := env.runner.Run(context.Background(), dir)
	require.ErrorIs(t, err, models.ErrMigration)
}

func TestRunnerRollsBackFailedScript(t *testing.T) {
	env := newMigEnv(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeScript(t, dir, "V1__init.sql", initScript)
	writeScript(t, dir, "V2__bad.sql", `
		CREATE TABLE temp (note string);
		INSERT INTO missing (id) VALUES ('x');
	`)

	applied, err := env.runner.Run(ctx, dir)
	require.ErrorIs(t, err, models.ErrMigration)
	assert.Equal(t, 1, applied)
	assert.False(t, env.tx.Active())

	// The failed script left nothing behind, the earlier one stands.
	_, err = env.dicts.GetDict(ctx, "temp")
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)

	records, err := env.versions.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRunnerMissingDirectory(t *testing.T) {
	env := newMigEnv(t)
	_, err := env.runner.Run(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestInterpreterConstraintAndIndexStatements(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	stmts, err := ParseScript(`
		ALTER TABLE city ADD CONSTRAINT uq_city_name UNIQUE (name);
		CREATE INDEX ix_city_pop ON city (population desc);
	`)
	require.NoError(t, err)
	require.NoError(t, env.interp.Execute(ctx, stmts))

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	require.Len(t, dict.Constraints, 1)
	assert.Equal(t, []string{"name"}, dict.Constraints[0].Fields)
	require.Len(t, dict.Indexes, 1)
	require.Len(t, dict.Indexes[0].Fields, 1)
	assert.Equal(t, "population", dict.Indexes[0].Fields[0].FieldID)
	assert.True(t, dict.Indexes[0].Fields[0].Desc)

	stmts, err = ParseScript(`
		DROP INDEX ix_city_pop ON city;
		ALTER TABLE city DROP CONSTRAINT uq_city_name;
	`)
	require.NoError(t, err)
	require.NoError(t, env.interp.Execute(ctx, stmts))

	dict, err = env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	assert.Empty(t, dict.Constraints)
	assert.Empty(t, dict.Indexes)
}

func TestInterpreterDropColumn(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	stmts, err := ParseScript(`ALTER TABLE city DROP COLUMN population;`)
	require.NoError(t, err)
	require.NoError(t, env.interp.Execute(ctx, stmts))

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	_, ok := dict.FieldByID("population")
	assert.False(t, ok)

	scl, err := env.data.GetByID(ctx, "city", "scl", nil)
	require.NoError(t, err)
	assert.NotContains(t, scl.Data, "population")

	stmts, err = ParseScript(`ALTER TABLE city DROP COLUMN population;`)
	require.NoError(t, err)
	require.ErrorIs(t, env.interp.Execute(ctx, stmts), models.ErrNotFound)
}

func TestInterpreterRejectsNonStringIdentifiers(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	stmts, err := ParseScript(`INSERT INTO city (id, name) VALUES (42, 'Answerville');`)
	require.NoError(t, err)
	require.ErrorIs(t, env.interp.Execute(ctx, stmts), models.ErrMigration)
}

func TestInterpreterRejectsUnknownColumnType(t *testing.T) {
	env := newMigEnv(t)
	ctx := context.Background()

	stmts, err := ParseScript(`CREATE TABLE widget (blob bytea);`)
	require.NoError(t, err)
	require.ErrorIs(t, env.interp.Execute(ctx, stmts), models.ErrMigration)
}
