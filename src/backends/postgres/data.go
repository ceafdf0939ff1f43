package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dictstore/src/backends"
	"dictstore/src/helpers"
	"dictstore/src/models"
	"dictstore/src/query"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// selectColumns renders the full qualified column list in field order.
func selectColumns(dict *models.Dict) string {
	cols := make([]string, 0, len(dict.Fields))
	for _, f := range dict.Fields {
		cols = append(cols, baseAlias+"."+quoteIdent(f.ID))
	}
	return strings.Join(cols, ", ")
}

func (b *Backend) GetByID(ctx context.Context, dict *models.Dict, id string) (*models.DictItem, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s.%s = $1",
		selectColumns(dict), quoteIdent(dict.ID), baseAlias, baseAlias, quoteIdent(models.ServiceFieldID))
	rows, err := b.pool.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read item '%s' from '%s': %w", id, dict.ID, err)
	}
	items, err := b.collectItems(dict, rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("item '%s' in '%s': %w", id, dict.ID, models.ErrNotFound)
	}
	return items[0], nil
}

func (b *Backend) GetByIDs(ctx context.Context, dict *models.Dict, ids []string) ([]*models.DictItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sql := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s.%s = ANY($1)",
		selectColumns(dict), quoteIdent(dict.ID), baseAlias, baseAlias, quoteIdent(models.ServiceFieldID))
	rows, err := b.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to read items from '%s': %w", dict.ID, err)
	}
	items, err := b.collectItems(dict, rows)
	if err != nil {
		return nil, err
	}
	// Reorder to the input id list.
	byID := make(map[string]*models.DictItem, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]*models.DictItem, 0, len(ids))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (b *Backend) GetByFilter(ctx context.Context, dict *models.Dict, expr query.Expression, pageable backends.Pageable) (*backends.Page, error) {
	tr, err := Translate(dict, expr)
	if err != nil {
		return nil, err
	}

	// The count runs in parallel logical form to the data query, without
	// pagination. Zero matches skip the data round trip entirely.
	total, err := b.countTranslated(ctx, dict, tr)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &backends.Page{Items: nil, TotalElements: 0, Page: pageable.Page, Size: pageable.Size}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s %s", selectColumns(dict), quoteIdent(dict.ID), baseAlias)
	sb.WriteString(tr.JoinSQL())
	if tr.Where != "" {
		sb.WriteString(" WHERE " + tr.Where)
	}
	sb.WriteString(orderBySQL(pageable.Sort))
	if pageable.Size > 0 {
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", pageable.Size, pageable.Page*pageable.Size)
	}

	if b.settings.Debug {
		b.logger.Debugf("filter query on '%s': %s", dict.ID, sb.String())
	}
	rows, err := b.pool.Query(ctx, sb.String(), tr.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to filter '%s': %w", dict.ID, err)
	}
	items, err := b.collectItems(dict, rows)
	if err != nil {
		return nil, err
	}
	return &backends.Page{Items: items, TotalElements: total, Page: pageable.Page, Size: pageable.Size}, nil
}

func (b *Backend) ExistsByID(ctx context.Context, dict *models.Dict, id string) (bool, error) {
	var exists bool
	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)",
		quoteIdent(dict.ID), quoteIdent(models.ServiceFieldID))
	if err := b.pool.QueryRow(ctx, sql, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check item '%s' in '%s': %w", id, dict.ID, err)
	}
	return exists, nil
}

func (b *Backend) ExistsByFilter(ctx context.Context, dict *models.Dict, expr query.Expression) (bool, error) {
	n, err := b.CountByFilter(ctx, dict, expr)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *Backend) CountByFilter(ctx context.Context, dict *models.Dict, expr query.Expression) (int64, error) {
	tr, err := Translate(dict, expr)
	if err != nil {
		return 0, err
	}
	return b.countTranslated(ctx, dict, tr)
}

func (b *Backend) countTranslated(ctx context.Context, dict *models.Dict, tr *Translation) (int64, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT COUNT(*) FROM %s %s", quoteIdent(dict.ID), baseAlias)
	sb.WriteString(tr.JoinSQL())
	if tr.Where != "" {
		sb.WriteString(" WHERE " + tr.Where)
	}
	var total int64
	if err := b.pool.QueryRow(ctx, sb.String(), tr.Args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count '%s': %w", dict.ID, err)
	}
	return total, nil
}

func (b *Backend) Create(ctx context.Context, dict *models.Dict, item *models.DictItem) (*models.DictItem, error) {
	created, err := b.CreateMany(ctx, dict, []*models.DictItem{item})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

func (b *Backend) CreateMany(ctx context.Context, dict *models.Dict, items []*models.DictItem) ([]*models.DictItem, error) {
	now := time.Now().UTC()
	stamped := make([]*models.DictItem, 0, len(items))
	for _, item := range items {
		stamped = append(stamped, backends.StampNew(dict, item, now))
	}
	if err := b.insertAll(ctx, dict, stamped); err != nil {
		return nil, err
	}
	return stamped, nil
}

func (b *Backend) ImportMany(ctx context.Context, dict *models.Dict, items []*models.DictItem) error {
	return b.insertAll(ctx, dict, items)
}

func (b *Backend) insertAll(ctx context.Context, dict *models.Dict, items []*models.DictItem) error {
	if len(items) == 0 {
		return nil
	}
	cols := make([]string, 0, len(dict.Fields))
	placeholders := make([]string, 0, len(dict.Fields))
	for i, f := range dict.Fields {
		cols = append(cols, quoteIdent(f.ID))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(dict.ID), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin insert on '%s': %w", dict.ID, err)
	}
	defer tx.Rollback(ctx)

	for _, item := range items {
		args, err := insertArgs(dict, item)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("failed to insert item '%s' into '%s': %w", item.ID, dict.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (b *Backend) Update(ctx context.Context, dict *models.Dict, itemID string, item *models.DictItem, version int64) (*models.DictItem, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update on '%s': %w", dict.ID, err)
	}
	defer tx.Rollback(ctx)

	sql := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s.%s = $1 FOR UPDATE",
		selectColumns(dict), quoteIdent(dict.ID), baseAlias, baseAlias, quoteIdent(models.ServiceFieldID))
	rows, err := tx.Query(ctx, sql, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to read item '%s' from '%s': %w", itemID, dict.ID, err)
	}
	priorItems, err := b.collectItems(dict, rows)
	if err != nil {
		return nil, err
	}
	if len(priorItems) == 0 {
		return nil, fmt.Errorf("item '%s' in '%s': %w", itemID, dict.ID, models.ErrNotFound)
	}
	prior := priorItems[0]

	updated, changed, err := backends.ApplyUpdate(dict, prior, item, version, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return prior, tx.Commit(ctx)
	}

	sets := make([]string, 0, len(dict.Fields))
	args := make([]any, 0, len(dict.Fields)+1)
	for _, f := range dict.Fields {
		if f.ID == models.ServiceFieldID || f.ID == models.ServiceFieldCreated {
			continue
		}
		v, err := encodeColumn(f, itemColumnValue(updated, f.ID))
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(f.ID), len(args)))
	}
	args = append(args, itemID, prior.Version)
	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d AND %s = $%d",
		quoteIdent(dict.ID), strings.Join(sets, ", "),
		quoteIdent(models.ServiceFieldID), len(args)-1,
		quoteIdent(models.ServiceFieldVersion), len(args))

	tag, err := tx.Exec(ctx, updateSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update item '%s' in '%s': %w", itemID, dict.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Someone slipped in between the read and the write.
		return nil, fmt.Errorf("item '%s' in '%s' changed concurrently: %w", itemID, dict.ID, models.ErrConcurrency)
	}
	return updated, tx.Commit(ctx)
}

func (b *Backend) Delete(ctx context.Context, dict *models.Dict, itemID string, version int64, reason *string) error {
	prior, err := b.GetByID(ctx, dict, itemID)
	if err != nil {
		return err
	}
	next := prior.Clone()
	now := time.Now().UTC()
	next.Deleted = &now
	next.DeletionReason = reason
	_, err = b.Update(ctx, dict, itemID, next, version)
	return err
}

func (b *Backend) DeleteAll(ctx context.Context, dict *models.Dict) error {
	if _, err := b.pool.Exec(ctx, "DELETE FROM "+quoteIdent(dict.ID)); err != nil {
		return fmt.Errorf("failed to clear '%s': %w", dict.ID, err)
	}
	return nil
}

func orderBySQL(orders []backends.SortOrder) string {
	if len(orders) == 0 {
		// Stable default ordering keeps pagination deterministic.
		return fmt.Sprintf(" ORDER BY %s.%s, %s.%s", baseAlias, quoteIdent(models.ServiceFieldCreated),
			baseAlias, quoteIdent(models.ServiceFieldID))
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s.%s %s", baseAlias, quoteIdent(o.FieldID), dir))
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// collectItems drains the rows into items, closing them.
func (b *Backend) collectItems(dict *models.Dict, rows pgx.Rows) ([]*models.DictItem, error) {
	defer rows.Close()
	var items []*models.DictItem
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row from '%s': %w", dict.ID, err)
		}
		item, err := rowToItem(dict, values)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rows from '%s': %w", dict.ID, err)
	}
	return items, nil
}

// rowToItem maps one row, in dict field order, back onto an item.
func rowToItem(dict *models.Dict, values []any) (*models.DictItem, error) {
	if len(values) != len(dict.Fields) {
		return nil, fmt.Errorf("row of '%s' has %d columns, scheme declares %d", dict.ID, len(values), len(dict.Fields))
	}
	item := &models.DictItem{Data: make(map[string]any)}
	for i, f := range dict.Fields {
		v := values[i]
		switch f.ID {
		case models.ServiceFieldID:
			item.ID, _ = v.(string)
		case models.ServiceFieldCreated:
			if t, ok := v.(time.Time); ok {
				item.Created = t.UTC()
			}
		case models.ServiceFieldUpdated:
			if t, ok := v.(time.Time); ok {
				item.Updated = t.UTC()
			}
		case models.ServiceFieldDeleted:
			if t, ok := v.(time.Time); ok {
				u := t.UTC()
				item.Deleted = &u
			}
		case models.ServiceFieldDeletionReason:
			if s, ok := v.(string); ok {
				item.DeletionReason = &s
			}
		case models.ServiceFieldVersion:
			if n, ok := v.(int64); ok {
				item.Version = n
			}
		case models.ServiceFieldHistory:
			history, err := decodeHistory(v)
			if err != nil {
				return nil, fmt.Errorf("item history in '%s': %w", dict.ID, err)
			}
			item.History = history
		default:
			decoded, err := decodeColumn(f, v)
			if err != nil {
				return nil, err
			}
			if decoded != nil {
				item.Data[f.ID] = decoded
			}
		}
	}
	return item, nil
}

func decodeHistory(v any) ([]map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	var history []map[string]any
	switch x := v.(type) {
	case []byte:
		if err := json.Unmarshal(x, &history); err != nil {
			return nil, err
		}
	case []any:
		for _, el := range x {
			if m, ok := el.(map[string]any); ok {
				history = append(history, m)
			}
		}
	case string:
		if err := json.Unmarshal([]byte(x), &history); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unexpected history representation %T", v)
	}
	return history, nil
}

// decodeColumn converts a scanned column value into the canonical
// in-memory form for the declared field type.
func decodeColumn(f models.DictField, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Multivalued && f.Type != models.FieldTypeJSON {
		elems, err := anySlice(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.ID, err)
		}
		single := f
		single.Multivalued = false
		out := make([]any, 0, len(elems))
		for _, el := range elems {
			decoded, err := decodeColumn(single, el)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded)
		}
		return out, nil
	}

	switch f.Type {
	case models.FieldTypeDecimal:
		s, err := numericString(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.ID, err)
		}
		return helpers.NormalizeDecimal(s)
	case models.FieldTypeJSON:
		return helpers.ToJSONValue(v)
	default:
		// The remaining types share the generic coercion path; the
		// declared-vs-stored granularity check for DATE happens there.
		return helpers.CoerceFieldValue(f, v)
	}
}

func numericString(v any) (string, error) {
	switch x := v.(type) {
	case pgtype.Numeric:
		dv, err := x.Value()
		if err != nil {
			return "", err
		}
		s, ok := dv.(string)
		if !ok {
			return "", fmt.Errorf("unexpected numeric representation %T", dv)
		}
		return s, nil
	case string:
		return x, nil
	case int64:
		return fmt.Sprintf("%d", x), nil
	case float64:
		return fmt.Sprintf("%v", x), nil
	default:
		return "", fmt.Errorf("unexpected numeric representation %T", v)
	}
}

func anySlice(v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case []string:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = el
		}
		return out, nil
	case []int64:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = el
		}
		return out, nil
	case []bool:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = el
		}
		return out, nil
	case []time.Time:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = el
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected array representation %T", v)
	}
}

func itemColumnValue(item *models.DictItem, fieldID string) any {
	switch fieldID {
	case models.ServiceFieldID:
		return item.ID
	case models.ServiceFieldCreated:
		return item.Created
	case models.ServiceFieldUpdated:
		return item.Updated
	case models.ServiceFieldDeleted:
		if item.Deleted == nil {
			return nil
		}
		return *item.Deleted
	case models.ServiceFieldDeletionReason:
		if item.DeletionReason == nil {
			return nil
		}
		return *item.DeletionReason
	case models.ServiceFieldVersion:
		return item.Version
	case models.ServiceFieldHistory:
		return item.History
	default:
		return item.Data[fieldID]
	}
}

func insertArgs(dict *models.Dict, item *models.DictItem) ([]any, error) {
	args := make([]any, 0, len(dict.Fields))
	for _, f := range dict.Fields {
		v, err := encodeColumn(f, itemColumnValue(item, f.ID))
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// encodeColumn converts a canonical value into the parameter pgx sends
// for the declared column type.
func encodeColumn(f models.DictField, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.ID == models.ServiceFieldHistory {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode history: %w", err)
		}
		return raw, nil
	}
	if f.Multivalued && f.Type != models.FieldTypeJSON {
		elems, err := anySlice(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.ID, err)
		}
		single := f
		single.Multivalued = false
		return encodeSlice(single, elems)
	}

	switch f.Type {
	case models.FieldTypeDecimal:
		return toNumeric(v)
	case models.FieldTypeJSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': failed to encode json: %w", f.ID, err)
		}
		return raw, nil
	case models.FieldTypeGeoJSON:
		g, err := helpers.ParseGeoJSON(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.ID, err)
		}
		return helpers.MarshalGeoJSON(g)
	case models.FieldTypeDict:
		if nested, ok := v.(*models.DictItem); ok {
			return nested.ID, nil
		}
		return v, nil
	default:
		return v, nil
	}
}

func encodeSlice(f models.DictField, elems []any) (any, error) {
	switch f.Type {
	case models.FieldTypeInteger:
		out := make([]int64, 0, len(elems))
		for _, el := range elems {
			n, ok := el.(int64)
			if !ok {
				return nil, fmt.Errorf("field '%s': %T in integer array", f.ID, el)
			}
			out = append(out, n)
		}
		return out, nil
	case models.FieldTypeBoolean:
		out := make([]bool, 0, len(elems))
		for _, el := range elems {
			b, ok := el.(bool)
			if !ok {
				return nil, fmt.Errorf("field '%s': %T in boolean array", f.ID, el)
			}
			out = append(out, b)
		}
		return out, nil
	case models.FieldTypeDate, models.FieldTypeTimestamp:
		out := make([]time.Time, 0, len(elems))
		for _, el := range elems {
			t, ok := el.(time.Time)
			if !ok {
				return nil, fmt.Errorf("field '%s': %T in time array", f.ID, el)
			}
			out = append(out, t)
		}
		return out, nil
	case models.FieldTypeDecimal:
		out := make([]pgtype.Numeric, 0, len(elems))
		for _, el := range elems {
			n, err := toNumeric(el)
			if err != nil {
				return nil, fmt.Errorf("field '%s': %w", f.ID, err)
			}
			out = append(out, n)
		}
		return out, nil
	default:
		out := make([]string, 0, len(elems))
		for _, el := range elems {
			encoded, err := encodeColumn(f, el)
			if err != nil {
				return nil, err
			}
			s, ok := encoded.(string)
			if !ok {
				return nil, fmt.Errorf("field '%s': %T in text array", f.ID, el)
			}
			out = append(out, s)
		}
		return out, nil
	}
}

func toNumeric(v any) (pgtype.Numeric, error) {
	dec, ok := v.(primitive.Decimal128)
	if !ok {
		normalized, err := helpers.NormalizeDecimal(v)
		if err != nil {
			return pgtype.Numeric{}, err
		}
		dec = normalized
	}
	var n pgtype.Numeric
	if err := n.Scan(dec.String()); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("invalid numeric %q: %w", dec.String(), err)
	}
	return n, nil
}
