package keel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/keel/schema"
)

func TestEqualValue(t *testing.T) {
	t.Parallel()

	date := schema.Date("birthday")
	tod := schema.TimeOfDay("opens_at")
	ts := schema.DateTime("seen_at")
	js := schema.JSON("payload")
	arr := schema.Strings("tags")
	boolean := schema.Bool("active")
	num := schema.Int("count")

	berlin := time.FixedZone("CEST", 2*60*60)

	tests := []struct {
		name  string
		col   *schema.Column
		a, b  any
		equal bool
	}{
		{
			name:  "date time.Time vs string",
			col:   date,
			a:     time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC),
			b:     "2024-05-17",
			equal: true,
		},
		{
			name:  "date differs",
			col:   date,
			a:     "2024-05-17",
			b:     "2024-05-18",
			equal: false,
		},
		{
			name:  "time of day drops fraction",
			col:   tod,
			a:     "13:37:00.000",
			b:     "13:37:00",
			equal: true,
		},
		{
			name:  "datetime timezone drift",
			col:   ts,
			a:     time.Date(2024, 5, 17, 12, 0, 0, 0, berlin),
			b:     time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC),
			equal: true,
		},
		{
			name:  "datetime string vs time.Time",
			col:   ts,
			a:     "2024-05-17T10:00:00Z",
			b:     time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC),
			equal: true,
		},
		{
			name:  "json key order is irrelevant",
			col:   js,
			a:     `{"b":2,"a":1}`,
			b:     map[string]any{"a": 1, "b": 2},
			equal: true,
		},
		{
			name:  "json content differs",
			col:   js,
			a:     `{"a":1}`,
			b:     `{"a":2}`,
			equal: false,
		},
		{
			name:  "array slice vs joined string",
			col:   arr,
			a:     []string{"go", "sql"},
			b:     "go,sql",
			equal: true,
		},
		{
			name:  "array order matters",
			col:   arr,
			a:     []string{"sql", "go"},
			b:     "go,sql",
			equal: false,
		},
		{
			name:  "bool vs driver integer",
			col:   boolean,
			a:     true,
			b:     int64(1),
			equal: true,
		},
		{
			name:  "int width is irrelevant",
			col:   num,
			a:     42,
			b:     int64(42),
			equal: true,
		},
		{
			name:  "nil equals nil",
			col:   num,
			a:     nil,
			b:     nil,
			equal: true,
		},
		{
			name:  "nil is not zero",
			col:   num,
			a:     nil,
			b:     0,
			equal: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.equal, equalValue(tt.col, tt.a, tt.b))
		})
	}
}

func TestStorageValue(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2024-05-17", storageValue(schema.Date("d"), time.Date(2024, 5, 17, 23, 0, 0, 0, time.UTC)))
	assert.Equal(t, "go;sql", storageValue(schema.Strings("tags").Delimited(";"), []string{"go", "sql"}))
	assert.Equal(t, `{"a":1}`, storageValue(schema.JSON("p"), map[string]any{"a": 1}))
	assert.Equal(t, true, storageValue(schema.Bool("b"), "1"))
	assert.Nil(t, storageValue(schema.Int("n"), nil))

	berlin := time.FixedZone("CEST", 2*60*60)
	v := storageValue(schema.DateTime("ts"), time.Date(2024, 5, 17, 12, 0, 0, 0, berlin))
	ts, ok := v.(time.Time)
	assert.True(t, ok)
	assert.Equal(t, time.UTC, ts.Location())
}
