package migration

import (
	"context"
	"fmt"

	"dictstore/src/backends"
	"dictstore/src/directors"
	"dictstore/src/models"

	"go.uber.org/zap"
)

// Interpreter replays parsed migration statements against the services,
// never against a physical engine directly. That keeps scripts
// engine-agnostic: the same script runs whether the dictionary lives on
// Mongo, Postgres or anything registered with the provider.
type Interpreter struct {
	dicts  *directors.DictService
	data   *directors.DictDataService
	logger *zap.SugaredLogger
}

func NewInterpreter(dicts *directors.DictService, data *directors.DictDataService,
	logger *zap.SugaredLogger) *Interpreter {
	return &Interpreter{dicts: dicts, data: data, logger: logger}
}

// Execute runs the statements in order, stopping at the first failure.
func (in *Interpreter) Execute(ctx context.Context, stmts []Statement) error {
	for _, stmt := range stmts {
		if err := in.execute(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) execute(ctx context.Context, stmt Statement) error {
	switch s := stmt.(type) {
	case CreateTable:
		return in.createTable(ctx, s)
	case AddColumn:
		return in.addColumn(ctx, s)
	case DropColumn:
		return in.dropColumn(ctx, s)
	case AddConstraint:
		_, err := in.dicts.CreateConstraint(ctx, s.Table, models.DictConstraint{ID: s.ID, Fields: s.Fields})
		return err
	case DropConstraint:
		_, err := in.dicts.DeleteConstraint(ctx, s.Table, s.ID)
		return err
	case CreateIndex:
		fields := make([]models.IndexField, 0, len(s.Fields))
		for _, f := range s.Fields {
			fields = append(fields, models.IndexField{FieldID: f.Field, Desc: f.Desc})
		}
		_, err := in.dicts.CreateIndex(ctx, s.Table, models.DictIndex{ID: s.ID, Fields: fields})
		return err
	case DropIndex:
		_, err := in.dicts.DeleteIndex(ctx, s.Table, s.ID)
		return err
	case Insert:
		return in.insert(ctx, s)
	case Update:
		return in.update(ctx, s)
	case Delete:
		return in.delete(ctx, s)
	default:
		return fmt.Errorf("unknown statement %T: %w", stmt, models.ErrMigration)
	}
}

// columnFieldType maps a script column type onto a field type.
func columnFieldType(col ColumnDef) (models.DictFieldType, error) {
	if col.References != "" {
		return models.FieldTypeDict, nil
	}
	switch col.Type {
	case "string", "text", "varchar":
		return models.FieldTypeString, nil
	case "integer", "int", "bigint":
		return models.FieldTypeInteger, nil
	case "decimal", "numeric":
		return models.FieldTypeDecimal, nil
	case "boolean", "bool":
		return models.FieldTypeBoolean, nil
	case "date":
		return models.FieldTypeDate, nil
	case "timestamp":
		return models.FieldTypeTimestamp, nil
	case "json", "jsonb":
		return models.FieldTypeJSON, nil
	case "geo_json":
		return models.FieldTypeGeoJSON, nil
	case "attachment":
		return models.FieldTypeAttachment, nil
	default:
		return "", fmt.Errorf("unknown column type %q: %w", col.Type, models.ErrMigration)
	}
}

func columnField(col ColumnDef) (models.DictField, error) {
	t, err := columnFieldType(col)
	if err != nil {
		return models.DictField{}, err
	}
	f := models.DictField{
		ID:       col.ID,
		Name:     col.Name,
		Type:     t,
		Required: col.NotNull,
	}
	if col.References != "" {
		f.DictRef = &models.DictRef{DictID: col.References}
	}
	return f, nil
}

func (in *Interpreter) createTable(ctx context.Context, s CreateTable) error {
	dict := &models.Dict{ID: s.ID, Name: s.Name, Engine: s.Engine}
	for _, col := range s.Columns {
		f, err := columnField(col)
		if err != nil {
			return err
		}
		dict.Fields = append(dict.Fields, f)
	}
	_, err := in.dicts.CreateDict(ctx, dict)
	return err
}

func (in *Interpreter) addColumn(ctx context.Context, s AddColumn) error {
	dict, err := in.dicts.GetDict(ctx, s.Table)
	if err != nil {
		return err
	}
	f, err := columnField(s.Column)
	if err != nil {
		return err
	}
	next := dict.Clone()
	next.Fields = append(next.DataFields(), f)
	_, err = in.dicts.UpdateDict(ctx, next)
	return err
}

func (in *Interpreter) dropColumn(ctx context.Context, s DropColumn) error {
	dict, err := in.dicts.GetDict(ctx, s.Table)
	if err != nil {
		return err
	}
	if _, ok := dict.FieldByID(s.Column); !ok {
		return fmt.Errorf("column '%s' in '%s': %w", s.Column, s.Table, models.ErrNotFound)
	}
	next := dict.Clone()
	var kept []models.DictField
	for _, f := range next.DataFields() {
		if f.ID != s.Column {
			kept = append(kept, f)
		}
	}
	next.Fields = kept
	_, err = in.dicts.UpdateDict(ctx, next)
	return err
}

func (in *Interpreter) insert(ctx context.Context, s Insert) error {
	items := make([]*models.DictItem, 0, len(s.Rows))
	for _, row := range s.Rows {
		item := &models.DictItem{Data: make(map[string]any, len(row))}
		for i, col := range s.Columns {
			lit := row[i]
			if lit.Null {
				continue
			}
			if lit.Column != "" {
				return fmt.Errorf("column reference %q is not valid in INSERT: %w", lit.Column, models.ErrMigration)
			}
			if col == models.ServiceFieldID {
				id, ok := lit.Value.(string)
				if !ok {
					return fmt.Errorf("identifier values must be strings: %w", models.ErrMigration)
				}
				item.ID = id
				continue
			}
			item.Data[col] = lit.Value
		}
		items = append(items, item)
	}
	_, err := in.data.CreateMany(ctx, s.Table, items)
	return err
}

// update evaluates set clauses per row: a column-reference right-hand
// side copies the row's own current value, so every row can receive a
// different result.
func (in *Interpreter) update(ctx context.Context, s Update) error {
	page, err := in.data.GetByFilter(ctx, s.Table, s.Where, []string{"*"}, backends.Unpaged())
	if err != nil {
		return err
	}
	for _, item := range page.Items {
		next := item.Clone()
		for _, set := range s.Sets {
			switch {
			case set.Value.Null:
				next.Data[set.Column] = nil
			case set.Value.Column != "":
				next.Data[set.Column] = item.Data[set.Value.Column]
			default:
				next.Data[set.Column] = set.Value.Value
			}
		}
		if _, err := in.data.Update(ctx, s.Table, item.ID, next, item.Version); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) delete(ctx context.Context, s Delete) error {
	page, err := in.data.GetByFilter(ctx, s.Table, s.Where, []string{"*"}, backends.Unpaged())
	if err != nil {
		return err
	}
	for _, item := range page.Items {
		if err := in.data.Delete(ctx, s.Table, item.ID, item.Version, nil); err != nil {
			return err
		}
	}
	return nil
}
