package helpers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"dictstore/src/models"

	"github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02 15:04:05"
)

// CoerceFieldValue funnels every value written to or read from a backend
// through one conversion point keyed by the declared field type. The
// result is the canonical in-memory form: int64, Decimal128, bool,
// time.Time, string, structured JSON/GeoJSON, or a slice of those for
// multivalued fields.
func CoerceFieldValue(field models.DictField, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if field.Multivalued {
		items, ok := asSlice(v)
		if !ok {
			return nil, fmt.Errorf("field '%s': %w: expected a list value", field.ID, models.ErrValidation)
		}
		out := make([]any, 0, len(items))
		for _, el := range items {
			cv, err := coerceSingle(field, el)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	}
	if _, ok := asSlice(v); ok && field.Type != models.FieldTypeJSON {
		return nil, fmt.Errorf("field '%s': %w: list value for a single-valued field", field.ID, models.ErrValidation)
	}
	return coerceSingle(field, v)
}

func coerceSingle(field models.DictField, v any) (any, error) {
	switch field.Type {
	case models.FieldTypeString, models.FieldTypeEnum, models.FieldTypeAttachment:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(field, v)
		}
		return s, nil

	case models.FieldTypeDict:
		switch x := v.(type) {
		case string:
			return x, nil
		case *models.DictItem:
			return x, nil
		case map[string]any:
			// A reference written back from a resolved read carries the
			// nested item map; only the identifier matters for storage.
			if id, ok := x[models.ServiceFieldID].(string); ok {
				return id, nil
			}
			return nil, typeError(field, v)
		default:
			return nil, typeError(field, v)
		}

	case models.FieldTypeInteger:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			if x != float64(int64(x)) {
				return nil, typeError(field, v)
			}
			return int64(x), nil
		case json.Number:
			n, err := x.Int64()
			if err != nil {
				return nil, typeError(field, v)
			}
			return n, nil
		case string:
			n, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return nil, typeError(field, v)
			}
			return n, nil
		default:
			return nil, typeError(field, v)
		}

	case models.FieldTypeDecimal:
		dec, err := NormalizeDecimal(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w: %v", field.ID, models.ErrValidation, err)
		}
		return dec, nil

	case models.FieldTypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, typeError(field, v)
			}
			return b, nil
		default:
			return nil, typeError(field, v)
		}

	case models.FieldTypeDate:
		t, err := ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w: %v", field.ID, models.ErrValidation, err)
		}
		return t, nil

	case models.FieldTypeTimestamp:
		t, err := ParseTimestamp(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w: %v", field.ID, models.ErrValidation, err)
		}
		return t, nil

	case models.FieldTypeJSON:
		j, err := ToJSONValue(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w: %v", field.ID, models.ErrValidation, err)
		}
		return j, nil

	case models.FieldTypeGeoJSON:
		g, err := ParseGeoJSON(v)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w: %v", field.ID, models.ErrValidation, err)
		}
		return g, nil

	default:
		return nil, fmt.Errorf("field '%s': %w: unknown field type %q", field.ID, models.ErrValidation, field.Type)
	}
}

func typeError(field models.DictField, v any) error {
	return fmt.Errorf("field '%s': %w: %T value does not fit type %s", field.ID, models.ErrValidation, v, field.Type)
}

func asSlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case primitive.A:
		return []any(x), true
	default:
		return nil, false
	}
}

// ParseDate accepts a date literal and returns midnight UTC of that day.
// A timestamp with a non-zero clock part does not fit DATE granularity
// and is a validation failure, not silently truncated.
func ParseDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		t := x.UTC()
		if t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
			return time.Time{}, fmt.Errorf("timestamp value %s does not fit DATE granularity", t.Format(time.RFC3339))
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case primitive.DateTime:
		return ParseDate(x.Time())
	case string:
		t, err := time.Parse(DateLayout, strings.TrimSpace(x))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date literal %q", x)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot interpret %T as date", v)
	}
}

// ParseTimestamp accepts a timestamp literal in the DSL layout, RFC3339,
// a bare date, or a native time value. Result is UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case primitive.DateTime:
		return x.Time().UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range []string{TimestampLayout, time.RFC3339, DateLayout} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid timestamp literal %q", x)
	default:
		return time.Time{}, fmt.Errorf("cannot interpret %T as timestamp", v)
	}
}

// ToJSONValue normalizes a JSON field value to plain maps and lists.
func ToJSONValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any, []any:
		return x, nil
	case string:
		var out any
		if err := json.Unmarshal([]byte(x), &out); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		switch out.(type) {
		case map[string]any, []any:
			return out, nil
		default:
			return nil, fmt.Errorf("json value must be an object or array")
		}
	case []byte:
		return ToJSONValue(string(x))
	case primitive.M:
		return map[string]any(x), nil
	case primitive.A:
		return []any(x), nil
	default:
		return nil, fmt.Errorf("cannot interpret %T as json", v)
	}
}

// ValuesEqual compares two canonical field values for the diff pass.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
		return false
	}
	if as, ok := asSlice(a); ok {
		bs, ok := asSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !ValuesEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	if ag, ok := a.(*GeoJSON); ok {
		bg, ok := b.(*GeoJSON)
		if !ok {
			return false
		}
		ra, errA := MarshalGeoJSON(ag)
		rb, errB := MarshalGeoJSON(bg)
		return errA == nil && errB == nil && ra == rb
	}
	switch a.(type) {
	case map[string]any, []any:
		ra, errA := json.Marshal(a)
		rb, errB := json.Marshal(b)
		return errA == nil && errB == nil && string(ra) == string(rb)
	}
	if an, ok := a.(*models.DictItem); ok {
		if bn, ok := b.(*models.DictItem); ok {
			return an.ID == bn.ID
		}
		if bs, ok := b.(string); ok {
			return an.ID == bs
		}
		return false
	}
	if bn, ok := b.(*models.DictItem); ok {
		if as, ok := a.(string); ok {
			return bn.ID == as
		}
		return false
	}
	return a == b
}
