package backends

import (
	"fmt"
	"time"

	"dictstore/src/helpers"
	"dictstore/src/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// The create/update bookkeeping is identical in every engine, so the
// engine backends share it: they call StampNew / ApplyUpdate on the
// in-memory item and only differ in how the result is persisted.

// StampNew prepares a fresh item: assigns an id when none was supplied,
// sets version 1, created/updated timestamps, and seeds the history
// with one snapshot of all initial field values (identifier excluded).
func StampNew(dict *models.Dict, item *models.DictItem, now time.Time) *models.DictItem {
	stamped := item.Clone()
	if stamped.ID == "" {
		stamped.ID = helpers.GenerateUUID()
	}
	stamped.Version = 1
	stamped.Created = now
	stamped.Updated = now
	stamped.Deleted = nil
	stamped.DeletionReason = nil

	snapshot := make(map[string]any)
	for _, f := range dict.DataFields() {
		if v, ok := stamped.Data[f.ID]; ok && v != nil {
			snapshot[f.ID] = HistoryValue(v)
		}
	}
	snapshot[models.ServiceFieldVersion] = int64(1)
	snapshot[models.ServiceFieldUpdated] = now.UTC().Format(time.RFC3339Nano)
	stamped.History = []map[string]any{snapshot}
	return stamped
}

// ComputeDiff returns the field-level changes between the stored item
// and the incoming payload, restricted to declared data fields.
func ComputeDiff(dict *models.Dict, prior, next *models.DictItem) map[string]any {
	diff := make(map[string]any)
	for _, f := range dict.DataFields() {
		nv, nok := next.Data[f.ID]
		if !nok {
			// Absent fields keep their stored value.
			continue
		}
		pv := prior.Data[f.ID]
		if !helpers.ValuesEqual(pv, nv) {
			diff[f.ID] = nv
		}
	}
	return diff
}

// ApplyUpdate runs the shared update algorithm: optimistic lock first,
// then diff; an empty diff changes nothing. On a real change it returns
// the new item value with version+1, a fresh updated stamp and exactly
// one appended history entry holding the changed fields.
func ApplyUpdate(dict *models.Dict, prior, next *models.DictItem, version int64, now time.Time) (*models.DictItem, bool, error) {
	if version != prior.Version {
		return nil, false, fmt.Errorf("item '%s' version %d does not match stored version %d: %w",
			prior.ID, version, prior.Version, models.ErrConcurrency)
	}

	diff := ComputeDiff(dict, prior, next)
	deletedChanged := !timePtrEqual(prior.Deleted, next.Deleted)
	reasonChanged := !strPtrEqual(prior.DeletionReason, next.DeletionReason)
	if len(diff) == 0 && !deletedChanged && !reasonChanged {
		return prior, false, nil
	}

	updated := prior.Clone()
	for fieldID, v := range diff {
		updated.Data[fieldID] = v
	}
	updated.Deleted = next.Deleted
	updated.DeletionReason = next.DeletionReason
	updated.Version = prior.Version + 1
	updated.Updated = now

	entry := make(map[string]any, len(diff)+4)
	for fieldID, v := range diff {
		entry[fieldID] = HistoryValue(v)
	}
	entry[models.ServiceFieldVersion] = updated.Version
	entry[models.ServiceFieldUpdated] = now.UTC().Format(time.RFC3339Nano)
	if deletedChanged {
		if next.Deleted == nil {
			entry[models.ServiceFieldDeleted] = nil
		} else {
			entry[models.ServiceFieldDeleted] = next.Deleted.UTC().Format(time.RFC3339Nano)
		}
	}
	if reasonChanged {
		if next.DeletionReason == nil {
			entry[models.ServiceFieldDeletionReason] = nil
		} else {
			entry[models.ServiceFieldDeletionReason] = *next.DeletionReason
		}
	}
	updated.History = append(updated.History, entry)
	return updated, true, nil
}

// HistoryValue renders a canonical field value in the JSON-safe form
// history snapshots are stored in, identical across engines.
func HistoryValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return x.String()
	case *helpers.GeoJSON:
		raw, err := helpers.MarshalGeoJSON(x)
		if err != nil {
			return nil
		}
		return raw
	case *models.DictItem:
		return x.ID
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = HistoryValue(el)
		}
		return out
	default:
		return x
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
