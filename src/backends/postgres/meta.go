package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dictstore/src/models"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	dictTable    = "dict"
	versionTable = "version_scheme"
)

// MetaStore persists Dict metadata and applied-migration records in
// two fixed tables. The variable-shape parts of a Dict live in jsonb
// columns so metadata survives schema evolution without ALTERs.
type MetaStore struct {
	pool   *pgxpool.Pool
	logger *zap.SugaredLogger
}

func NewMetaStore(pool *pgxpool.Pool, logger *zap.SugaredLogger) *MetaStore {
	return &MetaStore{pool: pool, logger: logger}
}

// EnsureSchema creates the metadata tables when missing.
func (m *MetaStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "dict" (
			"id" text PRIMARY KEY,
			"name" text NOT NULL,
			"fields" jsonb NOT NULL DEFAULT '[]',
			"indexes" jsonb NOT NULL DEFAULT '[]',
			"constraints" jsonb NOT NULL DEFAULT '[]',
			"enums" jsonb NOT NULL DEFAULT '[]',
			"view_permission" text,
			"edit_permission" text,
			"deleted" timestamp,
			"engine" text NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS "version_scheme" (
			"id" text PRIMARY KEY,
			"version" bigint NOT NULL,
			"script" text NOT NULL,
			"checksum" text NOT NULL,
			"installed" timestamp NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := m.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare metadata tables: %w", err)
		}
	}
	return nil
}

const dictColumns = `"id", "name", "fields", "indexes", "constraints", "enums", "view_permission", "edit_permission", "deleted", "engine"`

func (m *MetaStore) Get(ctx context.Context, id string) (*models.Dict, error) {
	row := m.pool.QueryRow(ctx, `SELECT `+dictColumns+` FROM "dict" WHERE "id" = $1`, id)
	dict, err := scanDict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dictionary '%s': %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary '%s': %w", id, err)
	}
	return dict, nil
}

func (m *MetaStore) GetAll(ctx context.Context) ([]*models.Dict, error) {
	rows, err := m.pool.Query(ctx, `SELECT `+dictColumns+` FROM "dict" ORDER BY "id"`)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionaries: %w", err)
	}
	defer rows.Close()
	var dicts []*models.Dict
	for rows.Next() {
		dict, err := scanDict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read dictionaries: %w", err)
		}
		dicts = append(dicts, dict)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dictionaries: %w", err)
	}
	return dicts, nil
}

func (m *MetaStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := m.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM "dict" WHERE "id" = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check dictionary '%s': %w", id, err)
	}
	return exists, nil
}

func (m *MetaStore) Create(ctx context.Context, dict *models.Dict) error {
	exists, err := m.Exists(ctx, dict.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("dictionary '%s': %w", dict.ID, models.ErrAlreadyExists)
	}
	args, err := dictArgs(dict)
	if err != nil {
		return err
	}
	_, err = m.pool.Exec(ctx, `INSERT INTO "dict" (`+dictColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, args...)
	if err != nil {
		return fmt.Errorf("failed to store dictionary '%s': %w", dict.ID, err)
	}
	return nil
}

func (m *MetaStore) Update(ctx context.Context, dict *models.Dict) error {
	args, err := dictArgs(dict)
	if err != nil {
		return err
	}
	tag, err := m.pool.Exec(ctx, `UPDATE "dict" SET
		"name" = $2, "fields" = $3, "indexes" = $4, "constraints" = $5, "enums" = $6,
		"view_permission" = $7, "edit_permission" = $8, "deleted" = $9, "engine" = $10
		WHERE "id" = $1`, args...)
	if err != nil {
		return fmt.Errorf("failed to store dictionary '%s': %w", dict.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dictionary '%s': %w", dict.ID, models.ErrNotFound)
	}
	return nil
}

func (m *MetaStore) Delete(ctx context.Context, id string) error {
	tag, err := m.pool.Exec(ctx, `DELETE FROM "dict" WHERE "id" = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dictionary '%s': %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dictionary '%s': %w", id, models.ErrNotFound)
	}
	return nil
}

func dictArgs(dict *models.Dict) ([]any, error) {
	fields, err := json.Marshal(dict.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields of '%s': %w", dict.ID, err)
	}
	indexes, err := json.Marshal(dict.Indexes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode indexes of '%s': %w", dict.ID, err)
	}
	constraints, err := json.Marshal(dict.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to encode constraints of '%s': %w", dict.ID, err)
	}
	enums, err := json.Marshal(dict.Enums)
	if err != nil {
		return nil, fmt.Errorf("failed to encode enums of '%s': %w", dict.ID, err)
	}
	return []any{dict.ID, dict.Name, fields, indexes, constraints, enums,
		dict.ViewPermission, dict.EditPermission, dict.Deleted, dict.Engine}, nil
}

func scanDict(row pgx.Row) (*models.Dict, error) {
	var (
		dict        models.Dict
		fields      []byte
		indexes     []byte
		constraints []byte
		enums       []byte
	)
	err := row.Scan(&dict.ID, &dict.Name, &fields, &indexes, &constraints, &enums,
		&dict.ViewPermission, &dict.EditPermission, &dict.Deleted, &dict.Engine)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &dict.Fields); err != nil {
		return nil, fmt.Errorf("corrupt fields of '%s': %w", dict.ID, err)
	}
	if err := json.Unmarshal(indexes, &dict.Indexes); err != nil {
		return nil, fmt.Errorf("corrupt indexes of '%s': %w", dict.ID, err)
	}
	if err := json.Unmarshal(constraints, &dict.Constraints); err != nil {
		return nil, fmt.Errorf("corrupt constraints of '%s': %w", dict.ID, err)
	}
	if err := json.Unmarshal(enums, &dict.Enums); err != nil {
		return nil, fmt.Errorf("corrupt enums of '%s': %w", dict.ID, err)
	}
	if dict.Deleted != nil {
		u := dict.Deleted.UTC()
		dict.Deleted = &u
	}
	return &dict, nil
}

func (m *MetaStore) GetAllVersions(ctx context.Context) ([]*models.VersionScheme, error) {
	rows, err := m.pool.Query(ctx, `SELECT "id", "version", "script", "checksum", "installed" FROM "version_scheme" ORDER BY "version"`)
	if err != nil {
		return nil, fmt.Errorf("failed to read version log: %w", err)
	}
	defer rows.Close()
	var schemes []*models.VersionScheme
	for rows.Next() {
		var vs models.VersionScheme
		var installed time.Time
		if err := rows.Scan(&vs.ID, &vs.Version, &vs.Script, &vs.Checksum, &installed); err != nil {
			return nil, fmt.Errorf("failed to read version log: %w", err)
		}
		vs.Installed = installed.UTC()
		schemes = append(schemes, &vs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read version log: %w", err)
	}
	return schemes, nil
}

func (m *MetaStore) ExistsChecksum(ctx context.Context, checksum string) (bool, error) {
	var exists bool
	err := m.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM "version_scheme" WHERE "checksum" = $1)`, checksum).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check version log: %w", err)
	}
	return exists, nil
}

func (m *MetaStore) CreateVersion(ctx context.Context, scheme *models.VersionScheme) error {
	var exists bool
	err := m.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM "version_scheme" WHERE "checksum" = $1 OR "version" = $2)`,
		scheme.Checksum, scheme.Version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check version log: %w", err)
	}
	if exists {
		return fmt.Errorf("version %d already applied: %w", scheme.Version, models.ErrAlreadyExists)
	}
	_, err = m.pool.Exec(ctx, `INSERT INTO "version_scheme" ("id", "version", "script", "checksum", "installed") VALUES ($1, $2, $3, $4, $5)`,
		scheme.ID, scheme.Version, scheme.Script, scheme.Checksum, scheme.Installed)
	if err != nil {
		return fmt.Errorf("failed to append to version log: %w", err)
	}
	return nil
}

// DictStore adapts the metastore to the DictStore contract.
func (m *MetaStore) DictStore() DictStoreAdapter { return DictStoreAdapter{m} }

// VersionStore adapts the metastore to the VersionStore contract.
func (m *MetaStore) VersionStore() VersionStoreAdapter { return VersionStoreAdapter{m} }

type DictStoreAdapter struct{ m *MetaStore }

func (a DictStoreAdapter) Get(ctx context.Context, id string) (*models.Dict, error) {
	return a.m.Get(ctx, id)
}
func (a DictStoreAdapter) GetAll(ctx context.Context) ([]*models.Dict, error) {
	return a.m.GetAll(ctx)
}
func (a DictStoreAdapter) Exists(ctx context.Context, id string) (bool, error) {
	return a.m.Exists(ctx, id)
}
func (a DictStoreAdapter) Create(ctx context.Context, dict *models.Dict) error {
	return a.m.Create(ctx, dict)
}
func (a DictStoreAdapter) Update(ctx context.Context, dict *models.Dict) error {
	return a.m.Update(ctx, dict)
}
func (a DictStoreAdapter) Delete(ctx context.Context, id string) error {
	return a.m.Delete(ctx, id)
}

type VersionStoreAdapter struct{ m *MetaStore }

func (a VersionStoreAdapter) GetAll(ctx context.Context) ([]*models.VersionScheme, error) {
	return a.m.GetAllVersions(ctx)
}
func (a VersionStoreAdapter) ExistsChecksum(ctx context.Context, checksum string) (bool, error) {
	return a.m.ExistsChecksum(ctx, checksum)
}
func (a VersionStoreAdapter) Create(ctx context.Context, scheme *models.VersionScheme) error {
	return a.m.CreateVersion(ctx, scheme)
}
