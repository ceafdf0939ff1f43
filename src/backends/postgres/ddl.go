package postgres

import (
	"context"
	"fmt"
	"strings"

	"dictstore/src/models"
)

// columnType maps a declared field type onto its physical column type.
func columnType(f models.DictField) string {
	var base string
	switch f.Type {
	case models.FieldTypeInteger:
		base = "bigint"
	case models.FieldTypeDecimal:
		base = "numeric"
	case models.FieldTypeBoolean:
		base = "boolean"
	case models.FieldTypeDate:
		base = "date"
	case models.FieldTypeTimestamp:
		base = "timestamp"
	case models.FieldTypeJSON:
		base = "jsonb"
	default:
		// STRING, DICT, ENUM, ATTACHMENT and GEO_JSON all land in text.
		base = "text"
	}
	if f.Type == models.FieldTypeJSON {
		// JSON keeps its own list-ness inside the document.
		if f.Multivalued {
			return base + " DEFAULT '[]'::jsonb"
		}
		return base + " DEFAULT '{}'::jsonb"
	}
	if f.Multivalued {
		return base + "[]"
	}
	return base
}

// columnDef renders one column definition of a CREATE TABLE.
func columnDef(f models.DictField) string {
	def := quoteIdent(f.ID) + " " + columnType(f)
	if f.ID == models.ServiceFieldID {
		def += " PRIMARY KEY"
	} else if f.Required {
		def += " NOT NULL"
	}
	return def
}

// BuildCreateTableSQL renders the full CREATE TABLE for a dictionary.
func BuildCreateTableSQL(dict *models.Dict) string {
	cols := make([]string, 0, len(dict.Fields))
	for _, f := range dict.Fields {
		cols = append(cols, columnDef(f))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(dict.ID), strings.Join(cols, ", "))
}

func (b *Backend) CreateDictScheme(ctx context.Context, dict *models.Dict) (*models.Dict, error) {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return nil, err
	}
	exists, err := b.ExistsDictSchemeByID(ctx, dict.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("table '%s': %w", dict.ID, models.ErrAlreadyExists)
	}
	sql := BuildCreateTableSQL(dict)
	if b.settings.Debug {
		b.logger.Debugf("creating table: %s", sql)
	}
	if _, err := b.pool.Exec(ctx, sql); err != nil {
		return nil, fmt.Errorf("failed to create table '%s': %w", dict.ID, err)
	}
	return dict, nil
}

// UpdateDictScheme diffs declared fields against the live columns and
// issues ADD/DROP COLUMN statements. A surviving column whose declared
// type changed is left untouched; type changes go through
// delete-and-recreate, never ALTER COLUMN TYPE.
func (b *Backend) UpdateDictScheme(ctx context.Context, dict *models.Dict) (*models.Dict, error) {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return nil, err
	}
	current, err := b.tableColumns(ctx, dict.ID)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]models.DictField, len(dict.Fields))
	for _, f := range dict.Fields {
		declared[f.ID] = f
	}

	var stmts []string
	for _, f := range dict.Fields {
		if !current[f.ID] {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(dict.ID), columnDef(f)))
		}
	}
	for col := range current {
		if _, keep := declared[col]; !keep {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(dict.ID), quoteIdent(col)))
		}
	}

	for _, sql := range stmts {
		if b.settings.Debug {
			b.logger.Debugf("altering table: %s", sql)
		}
		if _, err := b.pool.Exec(ctx, sql); err != nil {
			return nil, fmt.Errorf("failed to alter table '%s': %w", dict.ID, err)
		}
	}
	return dict, nil
}

func (b *Backend) RenameDictSchemeByID(ctx context.Context, dict *models.Dict, newID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return err
	}
	sql := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(dict.ID), quoteIdent(newID))
	if _, err := b.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to rename table '%s' to '%s': %w", dict.ID, newID, err)
	}
	return nil
}

func (b *Backend) DeleteDictSchemeByID(ctx context.Context, dict *models.Dict) error {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return err
	}
	sql := fmt.Sprintf("DROP TABLE %s", quoteIdent(dict.ID))
	if _, err := b.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to drop table '%s': %w", dict.ID, err)
	}
	return nil
}

func (b *Backend) ExistsDictSchemeByID(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := b.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1)",
		id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table '%s': %w", id, err)
	}
	return exists, nil
}

func (b *Backend) RenameDictField(ctx context.Context, dict *models.Dict, oldFieldID, newFieldID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, true); err != nil {
		return err
	}
	sql := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		quoteIdent(dict.ID), quoteIdent(oldFieldID), quoteIdent(newFieldID))
	if _, err := b.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to rename column '%s' on '%s': %w", oldFieldID, dict.ID, err)
	}
	return nil
}

func (b *Backend) CreateConstraint(ctx context.Context, dict *models.Dict, constraint models.DictConstraint) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	cols := make([]string, 0, len(constraint.Fields))
	for _, fieldID := range constraint.Fields {
		cols = append(cols, quoteIdent(fieldID))
	}
	sql := fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		quoteIdent(constraint.ID), quoteIdent(dict.ID), strings.Join(cols, ", "))
	if _, err := b.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create constraint '%s' on '%s': %w", constraint.ID, dict.ID, err)
	}
	return nil
}

func (b *Backend) DeleteConstraint(ctx context.Context, dict *models.Dict, constraintID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, "DROP INDEX "+quoteIdent(constraintID)); err != nil {
		return fmt.Errorf("failed to drop constraint '%s': %w", constraintID, err)
	}
	return nil
}

func (b *Backend) CreateIndex(ctx context.Context, dict *models.Dict, index models.DictIndex) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	cols := make([]string, 0, len(index.Fields))
	for _, f := range index.Fields {
		dir := "ASC"
		if f.Desc {
			dir = "DESC"
		}
		cols = append(cols, quoteIdent(f.FieldID)+" "+dir)
	}
	sql := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
		quoteIdent(index.ID), quoteIdent(dict.ID), strings.Join(cols, ", "))
	if _, err := b.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to create index '%s' on '%s': %w", index.ID, dict.ID, err)
	}
	return nil
}

func (b *Backend) DeleteIndex(ctx context.Context, dict *models.Dict, indexID string) error {
	if err := b.registrar.RegisterAffected(ctx, dict, false); err != nil {
		return err
	}
	if _, err := b.pool.Exec(ctx, "DROP INDEX "+quoteIdent(indexID)); err != nil {
		return fmt.Errorf("failed to drop index '%s': %w", indexID, err)
	}
	return nil
}

// tableColumns returns the live column set of a table.
func (b *Backend) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := b.pool.Query(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1",
		table)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of '%s': %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
