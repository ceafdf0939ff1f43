package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dictstore/src/backends"
	"dictstore/src/backends/memory"
	"dictstore/src/directors"
	"dictstore/src/models"
	"dictstore/src/settings"
)

// migEnv wires the full stack onto two in-memory engines so DDL
// transactions, storage migrations and script runs exercise the real
// service paths.
type migEnv struct {
	provider *backends.Provider
	store    *memory.DictStore
	tx       *TransactionProvider
	migrator *StorageMigrationService
	dicts    *directors.DictService
	data     *directors.DictDataService
	interp   *Interpreter
	versions *memory.VersionStore
	runner   *Runner
}

func newMigEnv(t *testing.T) *migEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()
	provider := backends.NewProvider()
	store := memory.NewDictStore()
	tx := NewTransactionProvider(provider, store, logger)
	require.NoError(t, provider.Register(memory.NewBackend(models.EngineMemory, tx, logger)))
	require.NoError(t, provider.Register(memory.NewBackend("memory2", tx, logger)))

	args := &settings.Arguments{DefaultEngine: models.EngineMemory, MetaEngine: models.EngineMemory}
	migrator := NewStorageMigrationService(provider, store, tx, logger)
	dicts := directors.NewDictService(store, provider, migrator, logger, args)
	data := directors.NewDictDataService(dicts, provider,
		directors.StaticUserProvider{}, directors.StaticPermissionLookup{}, nil, logger, args)
	interp := NewInterpreter(dicts, data, logger)
	versions := memory.NewVersionStore()
	runner := NewRunner(interp, versions, tx, logger)

	return &migEnv{
		provider: provider,
		store:    store,
		tx:       tx,
		migrator: migrator,
		dicts:    dicts,
		data:     data,
		interp:   interp,
		versions: versions,
		runner:   runner,
	}
}

// seedCity creates a city dictionary with two rows, outside any
// transaction.
func (env *migEnv) seedCity(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := env.dicts.CreateDict(ctx, &models.Dict{
		ID:   "city",
		Name: "City",
		Fields: []models.DictField{
			{ID: "name", Name: "Name", Type: models.FieldTypeString, Required: true},
			{ID: "population", Name: "Population", Type: models.FieldTypeInteger},
		},
	})
	require.NoError(t, err)

	for _, row := range []struct {
		id   string
		name string
		pop  int64
	}{
		{"scl", "Santiago", 6000000},
		{"valpo", "Valparaiso", 300000},
	} {
		_, err := env.data.Create(ctx, "city", &models.DictItem{
			ID:   row.id,
			Data: map[string]any{"name": row.name, "population": row.pop},
		})
		require.NoError(t, err)
	}
}

func TestBeginDDLRejectsNesting(t *testing.T) {
	env := newMigEnv(t)
	ctx := context.Background()

	tx, err := env.tx.BeginDDL(ctx)
	require.NoError(t, err)
	assert.True(t, env.tx.Active())

	_, err = env.tx.BeginDDL(ctx)
	require.ErrorIs(t, err, models.ErrTransaction)

	require.NoError(t, tx.Commit(ctx))
	assert.False(t, env.tx.Active())

	// A fresh transaction opens once the previous one is closed.
	tx, err = env.tx.BeginDDL(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
}

func TestClosedTransactionRejectsReuse(t *testing.T) {
	env := newMigEnv(t)
	ctx := context.Background()

	tx, err := env.tx.BeginDDL(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.ErrorIs(t, tx.Commit(ctx), models.ErrTransaction)
	require.ErrorIs(t, tx.Rollback(ctx), models.ErrTransaction)
}

func TestRegisterAffectedWithoutTransaction(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	require.NoError(t, env.tx.RegisterAffected(ctx, dict, true))
}

func TestCommitKeepsTransactionChanges(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	tx, err := env.tx.BeginDDL(ctx)
	require.NoError(t, err)

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	next := dict.Clone()
	next.Fields = append(next.DataFields(), models.DictField{
		ID: "area", Name: "Area", Type: models.FieldTypeDecimal,
	})
	_, err = env.dicts.UpdateDict(ctx, next)
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))

	dict, err = env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	_, ok := dict.FieldByID("area")
	assert.True(t, ok)

	page, err := env.data.GetByFilter(ctx, "city", "", nil, backends.Unpaged())
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestRollbackRestoresSchemaAndData(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	tx, err := env.tx.BeginDDL(ctx)
	require.NoError(t, err)

	// Drop a column, then add a row, all inside the transaction.
	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	next := dict.Clone()
	var kept []models.DictField
	for _, f := range next.DataFields() {
		if f.ID != "population" {
			kept = append(kept, f)
		}
	}
	next.Fields = kept
	_, err = env.dicts.UpdateDict(ctx, next)
	require.NoError(t, err)

	_, err = env.data.Create(ctx, "city", &models.DictItem{
		ID:   "conce",
		Data: map[string]any{"name": "Concepcion"},
	})
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(ctx))

	// Metadata carries the pre-transaction shape again.
	dict, err = env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	_, ok := dict.FieldByID("population")
	assert.True(t, ok)

	// The row added inside the transaction is gone, the originals are
	// back with their data and versions.
	page, err := env.data.GetByFilter(ctx, "city", "", nil, backends.Unpaged())
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	scl, err := env.data.GetByID(ctx, "city", "scl", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6000000), scl.Data["population"])
	assert.Equal(t, int64(1), scl.Version)

	_, err = env.data.GetByID(ctx, "city", "conce", nil)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestRollbackReappliesIndexesAndConstraints(t *testing.T) {
	env := newMigEnv(t)
	env.seedCity(t)
	ctx := context.Background()

	_, err := env.dicts.CreateIndex(ctx, "city", models.DictIndex{
		ID:     "ix_city_name",
		Fields: []models.IndexField{{FieldID: "name"}},
	})
	require.NoError(t, err)
	_, err = env.dicts.CreateConstraint(ctx, "city", models.DictConstraint{
		ID:     "uq_city_name",
		Fields: []string{"name"},
	})
	require.NoError(t, err)

	tx, err := env.tx.BeginDDL(ctx)
	require.NoError(t, err)
	_, err = env.dicts.DeleteIndex(ctx, "city", "ix_city_name")
	require.NoError(t, err)
	_, err = env.dicts.DeleteConstraint(ctx, "city", "uq_city_name")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	require.Len(t, dict.Indexes, 1)
	assert.Equal(t, "ix_city_name", dict.Indexes[0].ID)
	require.Len(t, dict.Constraints, 1)
	assert.Equal(t, "uq_city_name", dict.Constraints[0].ID)
}

func TestRollbackRemovesDictCreatedInTransaction(t *testing.T) {
	env := newMigEnv(t)
	ctx := context.Background()

	tx, err := env.tx.BeginDDL(ctx)
	require.NoError(t, err)

	_, err = env.dicts.CreateDict(ctx, &models.Dict{
		ID:     "scratch",
		Name:   "Scratch",
		Fields: []models.DictField{{ID: "note", Name: "Note", Type: models.FieldTypeString}},
	})
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(ctx))

	_, err = env.dicts.GetDict(ctx, "scratch")
	require.ErrorIs(t, err, models.ErrNotFound)

	backend, err := env.provider.GetBackendByEngineName(models.EngineMemory)
	require.NoError(t, err)
	exists, err := backend.SchemaBackend().ExistsDictSchemeByID(ctx, "scratch")
	require.NoError(t, err)
	assert.False(t, exists)
}
