package directors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dictstore/src/backends"
	"dictstore/src/backends/memory"
	"dictstore/src/models"
	"dictstore/src/settings"
)

// stubMigrator records engine moves and creates the target scheme so
// the subsequent schema update finds it.
type stubMigrator struct {
	provider *backends.Provider
	calls    []string
}

func (m *stubMigrator) Migrate(ctx context.Context, dict *models.Dict, sourceEngine, targetEngine string) error {
	m.calls = append(m.calls, sourceEngine+"->"+targetEngine)
	target, err := m.provider.GetBackendByEngineName(targetEngine)
	if err != nil {
		return err
	}
	moved := dict.Clone()
	moved.Engine = targetEngine
	_, err = target.SchemaBackend().CreateDictScheme(ctx, moved)
	return err
}

type testEnv struct {
	provider *backends.Provider
	store    *memory.DictStore
	migrator *stubMigrator
	dicts    *DictService
	data     *DictDataService
	users    *StaticUserProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop().Sugar()
	provider := backends.NewProvider()
	require.NoError(t, provider.Register(memory.NewBackend(models.EngineMemory, backends.NoopRegistrar{}, logger)))
	require.NoError(t, provider.Register(memory.NewBackend("memory2", backends.NoopRegistrar{}, logger)))

	store := memory.NewDictStore()
	args := &settings.Arguments{DefaultEngine: models.EngineMemory, MetaEngine: models.EngineMemory}
	migrator := &stubMigrator{provider: provider}
	dicts := NewDictService(store, provider, migrator, logger, args)
	users := &StaticUserProvider{}
	perms := StaticPermissionLookup{
		"alice": {"cities.view"},
		"bob":   {"cities.view", "cities.edit"},
	}
	data := NewDictDataService(dicts, provider, users, perms, nil, logger, args)
	return &testEnv{provider: provider, store: store, migrator: migrator, dicts: dicts, data: data, users: users}
}

func cityScheme() *models.Dict {
	return &models.Dict{
		ID:   "city",
		Name: "City",
		Fields: []models.DictField{
			{ID: "name", Name: "Name", Type: models.FieldTypeString, Required: true},
			{ID: "population", Name: "Population", Type: models.FieldTypeInteger},
			{ID: "tags", Name: "Tags", Type: models.FieldTypeString, Multivalued: true},
		},
	}
}

func TestCreateDictAppendsServiceFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.dicts.CreateDict(ctx, cityScheme())
	require.NoError(t, err)
	assert.Equal(t, models.EngineMemory, created.Engine)

	// Data fields first, then the fixed service field block in order.
	ids := make([]string, 0, len(created.Fields))
	for _, f := range created.Fields {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{
		"name", "population", "tags",
		"id", "created", "updated", "deleted", "deletionReason", "history", "version",
	}, ids)

	// The metadata record carries the same shape.
	stored, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	assert.Len(t, stored.Fields, len(ids))
}

func TestCreateDictRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.dicts.CreateDict(ctx, cityScheme())
	require.NoError(t, err)
	_, err = env.dicts.CreateDict(ctx, cityScheme())
	require.ErrorIs(t, err, models.ErrAlreadyExists)
}

func TestCreateDictSchemeValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fp := func(v float64) *float64 { return &v }

	cases := []struct {
		name string
		dict *models.Dict
	}{
		{"empty id", &models.Dict{ID: "  "}},
		{"reserved id", &models.Dict{ID: "dict"}},
		{"reserved version id", &models.Dict{ID: "version_scheme"}},
		{"empty field id", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "", Type: models.FieldTypeString}}}},
		{"service field name", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "version", Type: models.FieldTypeInteger}}}},
		{"duplicate field", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "a", Type: models.FieldTypeString}, {ID: "a", Type: models.FieldTypeString}}}},
		{"unknown type", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "a", Type: "FANCY"}}}},
		{"fractional string bound", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "a", Type: models.FieldTypeString, MaxSize: fp(2.5)}}}},
		{"fractional integer bound", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "a", Type: models.FieldTypeInteger, MinSize: fp(1.5)}}}},
		{"bounds on boolean", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "a", Type: models.FieldTypeBoolean, MaxSize: fp(1)}}}},
		{"inverted bounds", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "a", Type: models.FieldTypeInteger, MinSize: fp(10), MaxSize: fp(5)}}}},
		{"dict without reference", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "a", Type: models.FieldTypeDict}}}},
		{"enum without reference", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "a", Type: models.FieldTypeEnum}}}},
		{"enum reference unknown", &models.Dict{ID: "d", Fields: []models.DictField{
			{ID: "a", Type: models.FieldTypeEnum, EnumID: "nope"}}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := env.dicts.CreateDict(ctx, c.dict)
			require.ErrorIs(t, err, models.ErrValidation)
		})
	}

	// Fractional bounds are fine on DECIMAL.
	ok := &models.Dict{ID: "d", Fields: []models.DictField{
		{ID: "a", Type: models.FieldTypeDecimal, MinSize: fp(0.5), MaxSize: fp(9.5)}}}
	_, err := env.dicts.CreateDict(ctx, ok)
	require.NoError(t, err)
}

func TestDeleteDictIsSoft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.dicts.CreateDict(ctx, cityScheme())
	require.NoError(t, err)
	require.NoError(t, env.dicts.DeleteDict(ctx, "city"))

	// Metadata reads still see it, mutations do not.
	stored, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	require.NotNil(t, stored.Deleted)

	all, err := env.dicts.GetAllDicts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	_, err = env.dicts.UpdateDict(ctx, cityScheme())
	require.ErrorIs(t, err, models.ErrDeleted)
	err = env.dicts.DeleteDict(ctx, "city")
	require.ErrorIs(t, err, models.ErrDeleted)

	// Purge drops the physical scheme and the record.
	require.NoError(t, env.dicts.PurgeDict(ctx, "city"))
	_, err = env.dicts.GetDict(ctx, "city")
	require.ErrorIs(t, err, models.ErrNotFound)

	backend, err := env.provider.GetBackendByEngineName(models.EngineMemory)
	require.NoError(t, err)
	exists, err := backend.SchemaBackend().ExistsDictSchemeByID(ctx, "city")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRenameDict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.dicts.CreateDict(ctx, cityScheme())
	require.NoError(t, err)
	item, err := env.data.Create(ctx, "city", &models.DictItem{Data: map[string]any{"name": "Santiago"}})
	require.NoError(t, err)

	_, err = env.dicts.RenameDict(ctx, "city", "dict")
	require.ErrorIs(t, err, models.ErrValidation)

	renamed, err := env.dicts.RenameDict(ctx, "city", "town")
	require.NoError(t, err)
	assert.Equal(t, "town", renamed.ID)

	_, err = env.dicts.GetDict(ctx, "city")
	require.ErrorIs(t, err, models.ErrNotFound)

	// Data survives under the new identifier.
	got, err := env.data.GetByID(ctx, "town", item.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Santiago", got.Data["name"])
}

func TestRenameField(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dict := cityScheme()
	dict.Indexes = []models.DictIndex{{ID: "ixName", Fields: []models.IndexField{{FieldID: "name"}}}}
	dict.Constraints = []models.DictConstraint{{ID: "uqName", Fields: []string{"name"}}}
	_, err := env.dicts.CreateDict(ctx, dict)
	require.NoError(t, err)

	item, err := env.data.Create(ctx, "city", &models.DictItem{Data: map[string]any{"name": "Santiago"}})
	require.NoError(t, err)

	_, err = env.dicts.RenameField(ctx, "city", "version", "v2")
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = env.dicts.RenameField(ctx, "city", "nosuch", "other")
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = env.dicts.RenameField(ctx, "city", "name", "population")
	require.ErrorIs(t, err, models.ErrAlreadyExists)

	updated, err := env.dicts.RenameField(ctx, "city", "name", "title")
	require.NoError(t, err)
	_, ok := updated.FieldByID("title")
	assert.True(t, ok)
	_, ok = updated.FieldByID("name")
	assert.False(t, ok)
	// Indexes and constraints follow the rename.
	assert.Equal(t, "title", updated.Indexes[0].Fields[0].FieldID)
	assert.Equal(t, "title", updated.Constraints[0].Fields[0])

	got, err := env.data.GetByID(ctx, "city", item.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "Santiago", got.Data["title"])
	assert.NotContains(t, got.Data, "name")
}

func TestConstraintAndIndexShareNamespace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.dicts.CreateDict(ctx, cityScheme())
	require.NoError(t, err)

	_, err = env.dicts.CreateIndex(ctx, "city", models.DictIndex{
		ID: "byName", Fields: []models.IndexField{{FieldID: "name"}}})
	require.NoError(t, err)

	// A constraint may not reuse an index id and vice versa.
	_, err = env.dicts.CreateConstraint(ctx, "city", models.DictConstraint{ID: "byName", Fields: []string{"name"}})
	require.ErrorIs(t, err, models.ErrAlreadyExists)
	_, err = env.dicts.CreateIndex(ctx, "city", models.DictIndex{
		ID: "byName", Fields: []models.IndexField{{FieldID: "population"}}})
	require.ErrorIs(t, err, models.ErrAlreadyExists)

	_, err = env.dicts.CreateConstraint(ctx, "city", models.DictConstraint{ID: "uqName", Fields: []string{"name"}})
	require.NoError(t, err)
	_, err = env.dicts.CreateConstraint(ctx, "city", models.DictConstraint{ID: "bad", Fields: []string{"nosuch"}})
	require.ErrorIs(t, err, models.ErrNotFound)

	dict, err := env.dicts.GetDict(ctx, "city")
	require.NoError(t, err)
	require.Len(t, dict.Indexes, 1)
	require.Len(t, dict.Constraints, 1)

	_, err = env.dicts.DeleteIndex(ctx, "city", "byName")
	require.NoError(t, err)
	_, err = env.dicts.DeleteConstraint(ctx, "city", "uqName")
	require.NoError(t, err)
	_, err = env.dicts.DeleteIndex(ctx, "city", "byName")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestEnumLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dict := cityScheme()
	dict.Enums = []models.DictEnum{{ID: "status", Values: []string{"new", "old"}}}
	dict.Fields = append(dict.Fields, models.DictField{
		ID: "state", Type: models.FieldTypeEnum, EnumID: "status"})
	_, err := env.dicts.CreateDict(ctx, dict)
	require.NoError(t, err)

	_, err = env.dicts.CreateEnum(ctx, "city", models.DictEnum{ID: "status"})
	require.ErrorIs(t, err, models.ErrAlreadyExists)
	_, err = env.dicts.CreateEnum(ctx, "city", models.DictEnum{ID: "size", Values: []string{"s", "m", "l"}})
	require.NoError(t, err)

	updated, err := env.dicts.UpdateEnum(ctx, "city", models.DictEnum{ID: "size", Values: []string{"s", "l"}})
	require.NoError(t, err)
	e, ok := updated.EnumByID("size")
	require.True(t, ok)
	assert.Equal(t, []string{"s", "l"}, e.Values)

	_, err = env.dicts.UpdateEnum(ctx, "city", models.DictEnum{ID: "nosuch"})
	require.ErrorIs(t, err, models.ErrNotFound)

	// An enum referenced by a field cannot be deleted.
	_, err = env.dicts.DeleteEnum(ctx, "city", "status")
	require.ErrorIs(t, err, models.ErrValidation)
	_, err = env.dicts.DeleteEnum(ctx, "city", "size")
	require.NoError(t, err)
}

func TestUpdateDictEngineChangeTriggersMigration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.dicts.CreateDict(ctx, cityScheme())
	require.NoError(t, err)

	moved := cityScheme()
	moved.Engine = "memory2"
	updated, err := env.dicts.UpdateDict(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, "memory2", updated.Engine)
	assert.Equal(t, []string{"memory->memory2"}, env.migrator.calls)

	// Same-engine updates skip the migrator.
	again := cityScheme()
	again.Engine = "memory2"
	_, err = env.dicts.UpdateDict(ctx, again)
	require.NoError(t, err)
	assert.Len(t, env.migrator.calls, 1)
}

func TestUpdateDictPrunesStaleMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dict := cityScheme()
	dict.Indexes = []models.DictIndex{{ID: "byPop", Fields: []models.IndexField{{FieldID: "population"}}}}
	dict.Constraints = []models.DictConstraint{{ID: "uqPop", Fields: []string{"population"}}}
	_, err := env.dicts.CreateDict(ctx, dict)
	require.NoError(t, err)

	// Drop the population field; its index and constraint metadata go too.
	shrunk := cityScheme()
	shrunk.Fields = []models.DictField{
		{ID: "name", Name: "Name", Type: models.FieldTypeString, Required: true},
	}
	shrunk.Indexes = dict.Indexes
	shrunk.Constraints = dict.Constraints
	updated, err := env.dicts.UpdateDict(ctx, shrunk)
	require.NoError(t, err)
	assert.Empty(t, updated.Indexes)
	assert.Empty(t, updated.Constraints)
}
