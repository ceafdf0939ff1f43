package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dictstore/src/backends"
	"dictstore/src/models"
	"dictstore/src/query"
)

func newEventBackend(t *testing.T) (*Backend, *models.Dict) {
	t.Helper()
	b := NewBackend(models.EngineMemory, backends.NoopRegistrar{}, zap.NewNop().Sugar())
	dict := &models.Dict{
		ID:     "event",
		Name:   "Event",
		Engine: models.EngineMemory,
		Fields: append([]models.DictField{
			{ID: "name", Name: "Name", Type: models.FieldTypeString},
			{ID: "eventDate", Name: "Event date", Type: models.FieldTypeDate},
			{ID: "startedAt", Name: "Started at", Type: models.FieldTypeTimestamp},
		}, models.ServiceFields()...),
	}
	ctx := context.Background()
	_, err := b.CreateDictScheme(ctx, dict)
	require.NoError(t, err)

	rows := []struct {
		id      string
		name    string
		date    time.Time
		started time.Time
	}{
		{"opening", "Opening", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2020, 1, 1, 9, 30, 0, 0, time.UTC)},
		{"closing", "Closing", time.Date(2021, 6, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2021, 6, 15, 18, 0, 0, 0, time.UTC)},
	}
	for _, row := range rows {
		_, err := b.Create(ctx, dict, &models.DictItem{
			ID: row.id,
			Data: map[string]any{
				"name":      row.name,
				"eventDate": row.date,
				"startedAt": row.started,
			},
		})
		require.NoError(t, err)
	}
	return b, dict
}

func countFor(t *testing.T, b *Backend, dict *models.Dict, filter string) int64 {
	t.Helper()
	expr, err := query.Parse(filter)
	require.NoError(t, err)
	n, err := b.CountByFilter(context.Background(), dict, expr)
	require.NoError(t, err)
	return n
}

// An untyped string literal aimed at a date or timestamp field has to
// match the same rows as the explicitly cast form, like the other
// engines' translators guarantee.
func TestEvaluatorCoercesStringLiteralsByFieldType(t *testing.T) {
	b, dict := newEventBackend(t)

	tests := []struct {
		name   string
		filter string
		want   int64
	}{
		{"date equals untyped string", "eventDate = '2020-01-01'", 1},
		{"date equals cast literal", "eventDate = '2020-01-01'::date", 1},
		{"date range untyped string", "eventDate > '2020-06-01'", 1},
		{"date no match", "eventDate = '1999-12-31'", 0},
		{"timestamp equals untyped string", "startedAt = '2020-01-01 09:30:00'", 1},
		{"timestamp equals cast literal", "startedAt = '2020-01-01 09:30:00'::timestamp", 1},
		{"timestamp before untyped string", "startedAt < '2021-01-01 00:00:00'", 1},
		{"date in list of untyped strings", "eventDate in ('2020-01-01', '1999-01-01')", 1},
		{"string field stays a string", "name = 'Opening'", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, countFor(t, b, dict, tc.filter))
		})
	}
}

func TestEvaluatorRejectsUnparsableDateLiteral(t *testing.T) {
	b, dict := newEventBackend(t)

	expr, err := query.Parse("eventDate = 'not-a-date'")
	require.NoError(t, err)
	_, err = b.CountByFilter(context.Background(), dict, expr)
	require.ErrorIs(t, err, models.ErrQuerySyntax)
}
