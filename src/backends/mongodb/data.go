package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dictstore/src/backends"
	"dictstore/src/helpers"
	"dictstore/src/models"
	"dictstore/src/query"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (b *Backend) collection(dict *models.Dict) *mongo.Collection {
	return b.db.Collection(dict.ID)
}

func (b *Backend) GetByID(ctx context.Context, dict *models.Dict, id string) (*models.DictItem, error) {
	var doc bson.M
	err := b.collection(dict).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("item '%s' in '%s': %w", id, dict.ID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read item '%s' from '%s': %w", id, dict.ID, err)
	}
	return docToItem(dict, doc)
}

func (b *Backend) GetByIDs(ctx context.Context, dict *models.Dict, ids []string) ([]*models.DictItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cursor, err := b.collection(dict).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to read items from '%s': %w", dict.ID, err)
	}
	items, err := b.collectItems(ctx, dict, cursor)
	if err != nil {
		return nil, err
	}
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
	total, err := b.countTranslated(ctx, dict, tr)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &backends.Page{Items: nil, TotalElements: 0, Page: pageable.Page, Size: pageable.Size}, nil
	}

	var items []*models.DictItem
	if len(tr.Lookups) == 0 {
		opts := options.Find().SetSort(sortDocument(pageable.Sort))
		if pageable.Size > 0 {
			opts = opts.SetSkip(int64(pageable.Page * pageable.Size)).SetLimit(int64(pageable.Size))
		}
		cursor, err := b.collection(dict).Find(ctx, tr.Criteria, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to filter '%s': %w", dict.ID, err)
		}
		items, err = b.collectItems(ctx, dict, cursor)
		if err != nil {
			return nil, err
		}
	} else {
		stages := tr.Pipeline()
		stages = append(stages, bson.D{{Key: "$sort", Value: sortDocument(pageable.Sort)}})
		if pageable.Size > 0 {
			stages = append(stages, bson.D{{Key: "$skip", Value: pageable.Page * pageable.Size}})
			stages = append(stages, bson.D{{Key: "$limit", Value: pageable.Size}})
		}
		// The joined documents only exist to be matched against.
		aliases := make(bson.A, 0, len(tr.Lookups))
		for _, l := range tr.Lookups {
			aliases = append(aliases, l.As)
		}
		stages = append(stages, bson.D{{Key: "$unset", Value: aliases}})

		cursor, err := b.collection(dict).Aggregate(ctx, stages)
		if err != nil {
			return nil, fmt.Errorf("failed to filter '%s': %w", dict.ID, err)
		}
		items, err = b.collectItems(ctx, dict, cursor)
		if err != nil {
			return nil, err
		}
	}
	return &backends.Page{Items: items, TotalElements: total, Page: pageable.Page, Size: pageable.Size}, nil
}

func (b *Backend) ExistsByID(ctx context.Context, dict *models.Dict, id string) (bool, error) {
	n, err := b.collection(dict).CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check item '%s' in '%s': %w", id, dict.ID, err)
	}
	return n > 0, nil
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
	if len(tr.Lookups) == 0 {
		criteria := tr.Criteria
		if criteria == nil {
			criteria = bson.M{}
		}
		n, err := b.collection(dict).CountDocuments(ctx, criteria)
		if err != nil {
			return 0, fmt.Errorf("failed to count '%s': %w", dict.ID, err)
		}
		return n, nil
	}
	stages := append(tr.Pipeline(), bson.D{{Key: "$count", Value: "total"}})
	cursor, err := b.collection(dict).Aggregate(ctx, stages)
	if err != nil {
		return 0, fmt.Errorf("failed to count '%s': %w", dict.ID, err)
	}
	defer cursor.Close(ctx)
	if !cursor.Next(ctx) {
		return 0, cursor.Err()
	}
	var result struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to count '%s': %w", dict.ID, err)
	}
	return result.Total, nil
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
	docs := make([]any, 0, len(items))
	for _, item := range items {
		doc, err := itemToDoc(dict, item)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if _, err := b.collection(dict).InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert into '%s': %w", dict.ID, err)
	}
	return nil
}

func (b *Backend) Update(ctx context.Context, dict *models.Dict, itemID string, item *models.DictItem, version int64) (*models.DictItem, error) {
	prior, err := b.GetByID(ctx, dict, itemID)
	if err != nil {
		return nil, err
	}
	updated, changed, err := backends.ApplyUpdate(dict, prior, item, version, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !changed {
		return prior, nil
	}
	doc, err := itemToDoc(dict, updated)
	if err != nil {
		return nil, err
	}
	// The version in the filter re-checks the optimistic lock at write
	// time; a lost race between read and replace surfaces here.
	result, err := b.collection(dict).ReplaceOne(ctx,
		bson.M{"_id": itemID, models.ServiceFieldVersion: prior.Version}, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to update item '%s' in '%s': %w", itemID, dict.ID, err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("item '%s' in '%s' changed concurrently: %w", itemID, dict.ID, models.ErrConcurrency)
	}
	return updated, nil
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
	if _, err := b.collection(dict).DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("failed to clear '%s': %w", dict.ID, err)
	}
	return nil
}

func sortDocument(orders []backends.SortOrder) bson.D {
	if len(orders) == 0 {
		return bson.D{{Key: models.ServiceFieldCreated, Value: 1}, {Key: "_id", Value: 1}}
	}
	doc := bson.D{}
	for _, o := range orders {
		dir := 1
		if o.Desc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: documentField(o.FieldID), Value: dir})
	}
	return doc
}

func (b *Backend) collectItems(ctx context.Context, dict *models.Dict, cursor *mongo.Cursor) ([]*models.DictItem, error) {
	defer cursor.Close(ctx)
	var items []*models.DictItem
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed read document from '%s': %w", dict.ID, err)
		}
		item, err := docToItem(dict, doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents from '%s': %w", dict.ID, err)
	}
	return items, nil
}

// docToItem maps a raw document back onto an item, converting stored
// representations to the declared field granularity.
func docToItem(dict *models.Dict, doc bson.M) (*models.DictItem, error) {
	item := &models.DictItem{Data: make(map[string]any)}
	for _, f := range dict.Fields {
		v, ok := doc[documentField(f.ID)]
		if !ok || v == nil {
			continue
		}
		switch f.ID {
		case models.ServiceFieldID:
			item.ID, _ = v.(string)
		case models.ServiceFieldCreated:
			t, err := helpers.ParseTimestamp(v)
			if err != nil {
				return nil, fmt.Errorf("created stamp in '%s': %w", dict.ID, err)
			}
			item.Created = t
		case models.ServiceFieldUpdated:
			t, err := helpers.ParseTimestamp(v)
			if err != nil {
				return nil, fmt.Errorf("updated stamp in '%s': %w", dict.ID, err)
			}
			item.Updated = t
		case models.ServiceFieldDeleted:
			t, err := helpers.ParseTimestamp(v)
			if err != nil {
				return nil, fmt.Errorf("deleted stamp in '%s': %w", dict.ID, err)
			}
			item.Deleted = &t
		case models.ServiceFieldDeletionReason:
			if s, ok := v.(string); ok {
				item.DeletionReason = &s
			}
		case models.ServiceFieldVersion:
			item.Version = asInt64(v)
		case models.ServiceFieldHistory:
			entries, ok := v.(primitive.A)
			if !ok {
				return nil, fmt.Errorf("unexpected history representation %T in '%s'", v, dict.ID)
			}
			for _, el := range entries {
				switch m := el.(type) {
				case bson.M:
					item.History = append(item.History, map[string]any(m))
				case map[string]any:
					item.History = append(item.History, m)
				}
			}
		default:
			decoded, err := decodeValue(f, v)
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

func decodeValue(f models.DictField, v any) (any, error) {
	if f.Multivalued && f.Type != models.FieldTypeJSON {
		elems, ok := v.(primitive.A)
		if !ok {
			return nil, fmt.Errorf("field '%s': unexpected array representation %T", f.ID, v)
		}
		single := f
		single.Multivalued = false
		out := make([]any, 0, len(elems))
		for _, el := range elems {
			decoded, err := decodeValue(single, el)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded)
		}
		return out, nil
	}

	switch f.Type {
	case models.FieldTypeInteger:
		return asInt64(v), nil
	case models.FieldTypeJSON:
		out, err := helpers.ToJSONValue(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.ID, err)
		}
		return out, nil
	default:
		out, err := helpers.CoerceFieldValue(f, v)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// itemToDoc renders an item as the stored document, in canonical field
// order with native date and decimal types.
func itemToDoc(dict *models.Dict, item *models.DictItem) (bson.D, error) {
	doc := bson.D{}
	for _, f := range dict.Fields {
		var v any
		switch f.ID {
		case models.ServiceFieldID:
			v = item.ID
		case models.ServiceFieldCreated:
			v = primitive.NewDateTimeFromTime(item.Created)
		case models.ServiceFieldUpdated:
			v = primitive.NewDateTimeFromTime(item.Updated)
		case models.ServiceFieldDeleted:
			if item.Deleted == nil {
				v = nil
			} else {
				v = primitive.NewDateTimeFromTime(*item.Deleted)
			}
		case models.ServiceFieldDeletionReason:
			if item.DeletionReason == nil {
				v = nil
			} else {
				v = *item.DeletionReason
			}
		case models.ServiceFieldVersion:
			v = item.Version
		case models.ServiceFieldHistory:
			entries := make(bson.A, 0, len(item.History))
			for _, h := range item.History {
				entries = append(entries, bson.M(h))
			}
			v = entries
		default:
			encoded, err := encodeValue(f, item.Data[f.ID])
			if err != nil {
				return nil, err
			}
			v = encoded
		}
		doc = append(doc, bson.E{Key: documentField(f.ID), Value: v})
	}
	return doc, nil
}

func encodeValue(f models.DictField, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Multivalued && f.Type != models.FieldTypeJSON {
		elems, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("field '%s': unexpected array representation %T", f.ID, v)
		}
		single := f
		single.Multivalued = false
		out := make(bson.A, 0, len(elems))
		for _, el := range elems {
			encoded, err := encodeValue(single, el)
			if err != nil {
				return nil, err
			}
			out = append(out, encoded)
		}
		return out, nil
	}

	switch f.Type {
	case models.FieldTypeDate, models.FieldTypeTimestamp:
		t, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("field '%s': unexpected time representation %T", f.ID, v)
		}
		return primitive.NewDateTimeFromTime(t), nil
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

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}
