package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"dictstore/src/models"
)

func TestCanonicalDecimalString(t *testing.T) {
	cases := map[string]string{
		"2":      "2",
		"2.0":    "2",
		"02.50":  "2.5",
		"+3.14":  "3.14",
		"-0.10":  "-0.1",
		"-0.0":   "0",
		".5":     "0.5",
		"10.":    "10",
		"0":      "0",
		"000":    "0",
		"123.45": "123.45",
	}
	for in, want := range cases {
		got, err := CanonicalDecimalString(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	for _, in := range []string{"", ".", "1.2.3", "abc", "1,5"} {
		_, err := CanonicalDecimalString(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestNormalizeDecimalLiteralForms(t *testing.T) {
	// 2, 2.0 and "2.0" normalize to the same stored value.
	a, err := NormalizeDecimal(2)
	require.NoError(t, err)
	b, err := NormalizeDecimal(2.0)
	require.NoError(t, err)
	c, err := NormalizeDecimal("2.0")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, b, c)
	assert.Equal(t, "2", a.String())

	// Already-normalized values pass through.
	d, err := NormalizeDecimal(a)
	require.NoError(t, err)
	assert.Equal(t, a, d)
}

func TestCoerceFieldValue(t *testing.T) {
	intField := models.DictField{ID: "n", Type: models.FieldTypeInteger}
	v, err := CoerceFieldValue(intField, float64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = CoerceFieldValue(intField, "7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = CoerceFieldValue(intField, 5.5)
	require.ErrorIs(t, err, models.ErrValidation)

	boolField := models.DictField{ID: "b", Type: models.FieldTypeBoolean}
	v, err = CoerceFieldValue(boolField, "true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	strField := models.DictField{ID: "s", Type: models.FieldTypeString}
	_, err = CoerceFieldValue(strField, 5)
	require.ErrorIs(t, err, models.ErrValidation)

	// nil passes through untouched.
	v, err = CoerceFieldValue(strField, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCoerceFieldValueMultivalued(t *testing.T) {
	tags := models.DictField{ID: "tags", Type: models.FieldTypeString, Multivalued: true}

	v, err := CoerceFieldValue(tags, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, v)

	v, err = CoerceFieldValue(tags, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, v)

	_, err = CoerceFieldValue(tags, "a")
	require.ErrorIs(t, err, models.ErrValidation)

	single := models.DictField{ID: "s", Type: models.FieldTypeString}
	_, err = CoerceFieldValue(single, []any{"a"})
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	got, err := ParseDate("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ParseDate(want)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A non-zero clock part is rejected, never truncated.
	_, err = ParseDate(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC))
	require.Error(t, err)

	_, err = ParseDate("2024-03-01 10:30:00")
	require.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

	got, err := ParseTimestamp("2024-03-01 12:30:45")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ParseTimestamp("2024-03-01T12:30:45Z")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A bare date reads as midnight.
	got, err = ParseTimestamp("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTimestamp(primitive.NewDateTimeFromTime(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = ParseTimestamp("not a time")
	require.Error(t, err)
}

func TestGeoJSONRoundTrip(t *testing.T) {
	const raw = `{"type":"Point","coordinates":[-70.6,-33.4]}`

	g, err := ParseGeoJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "Point", g.Type)

	out, err := MarshalGeoJSON(g)
	require.NoError(t, err)
	assert.Equal(t, raw, out)

	// Feature nesting survives the round-trip.
	const feature = `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"name":"x"}}`
	f, err := ParseGeoJSON(feature)
	require.NoError(t, err)
	require.NotNil(t, f.Geometry)
	assert.Equal(t, "Point", f.Geometry.Type)

	_, err = ParseGeoJSON(`{"type":"Circle"}`)
	require.Error(t, err)

	_, err = ParseGeoJSON("not json")
	require.Error(t, err)
}

func TestToJSONValue(t *testing.T) {
	v, err := ToJSONValue(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, v)

	v, err = ToJSONValue(`[1,2]`)
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, v)

	_, err = ToJSONValue(`"scalar"`)
	require.Error(t, err)
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(nil, nil))
	assert.False(t, ValuesEqual(nil, "x"))
	assert.True(t, ValuesEqual("a", "a"))
	assert.True(t, ValuesEqual(int64(1), int64(1)))
	assert.False(t, ValuesEqual(int64(1), int64(2)))

	// Times compare by instant, not location.
	utc := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, ValuesEqual(utc, utc.In(time.FixedZone("X", 3600))))

	// Slices compare elementwise across representations.
	assert.True(t, ValuesEqual([]any{"a", "b"}, []string{"a", "b"}))
	assert.False(t, ValuesEqual([]any{"a"}, []any{"a", "b"}))

	// Maps compare structurally.
	assert.True(t, ValuesEqual(map[string]any{"a": 1}, map[string]any{"a": 1}))
	assert.False(t, ValuesEqual(map[string]any{"a": 1}, map[string]any{"a": 2}))

	// A resolved reference equals its stored identifier.
	item := &models.DictItem{ID: "abc"}
	assert.True(t, ValuesEqual(item, "abc"))
	assert.True(t, ValuesEqual("abc", item))
	assert.False(t, ValuesEqual(item, "def"))
}
