package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictstore/src/backends"
	"dictstore/src/models"
)

func TestMigrateMovesDictionaryAcrossEngines(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	before, err := env.data.GetByID(ctx, "city", "scl", nil)
	require.NoError(t, err)

	// The engine change on the scheme drives the migration.
	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	next := dict.Clone()
	next.Engine = "memory2"
	_, err = env.dicts.UpdateDict(ctx, next)
	require.NoError(t, err)

	dict, err = env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, "memory2", dict.Engine)

	// Rows kept their identity, payload, version and history.
	after, err := env.data.GetByID(ctx, "city", "scl", nil)
	require.NoError(t, err)
	assert.Equal(t, before.Data, after.Data)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.History, after.History)

	page, err := env.data.GetByFilter(ctx, "city", "", nil, backends.Unpaged())
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	// The source engine no longer holds the scheme.
	source, err := env.provider.GetBackendByEngineName(models.EngineMemory)
	require.NoError(t, err)
	exists, err := source.SchemaBackend().ExistsDictSchemeByID(ctx, "city")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.False(t, env.tx.Active())
}

func TestMigrateSameEngineRejected(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	err = env.migrator.Migrate(ctx, dict, models.EngineMemory, models.EngineMemory)
	require.ErrorIs(t, err, models.ErrStorageMigration)
}

func TestMigrateUnknownTargetLeavesSourceIntact(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	err = env.migrator.Migrate(ctx, dict, models.EngineMemory, "etched-in-stone")
	require.ErrorIs(t, err, models.ErrStorageMigration)
	assert.False(t, env.tx.Active())

	dict, err = env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, models.EngineMemory, dict.Engine)

	page, err := env.data.GetByFilter(ctx, "city", "", nil, backends.Unpaged())
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestMigrateFailureRollsBackSource(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)

	// A scheme under the same identifier already lives on the target,
	// so the migration fails after the source snapshot was taken.
	target, err := env.provider.GetBackendByEngineName("memory2")
	require.NoError(t, err)
	blocker := dict.Clone()
	blocker.Engine = "memory2"
	_, err = target.SchemaBackend().CreateDictScheme(ctx, blocker)
	require.NoError(t, err)

	err = env.migrator.Migrate(ctx, dict, models.EngineMemory, "memory2")
	require.ErrorIs(t, err, models.ErrStorageMigration)
	assert.False(t, env.tx.Active())

	dict, err = env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, models.EngineMemory, dict.Engine)

	scl, err := env.data.GetByID(ctx, "city", "scl", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6000000), scl.Data["population"])
}

func TestMigrateReusesSurroundingTransaction(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	tx, err := env.tx.BeginDDL(ctx)
	require.NoError(t, err)

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	require.NoError(t, env.migrator.Migrate(ctx, dict, models.EngineMemory, "memory2"))

	// Still the caller's transaction; rolling it back undoes the move.
	assert.True(t, env.tx.Active())
	require.NoError(t, tx.Rollback(ctx))

	dict, err = env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	assert.Equal(t, models.EngineMemory, dict.Engine)

	page, err := env.data.GetByFilter(ctx, "city", "", nil, backends.Unpaged())
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}
