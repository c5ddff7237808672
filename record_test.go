package keel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordProvidedVsNil(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	rec := NewRecord(user).Set("name", "mashiro")
	assert.True(t, rec.Has("name"))
	assert.False(t, rec.Has("email"))
	assert.Nil(t, rec.Value("email"))

	// Explicit nil is provided; it means null, not "leave untouched".
	rec.Set("email", nil)
	v, ok := rec.Get("email")
	assert.True(t, ok)
	assert.Nil(t, v)

	rec.Unset("email")
	assert.False(t, rec.Has("email"))
}

func TestRecordFieldsCopy(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	rec := NewRecord(user).Set("name", "a")
	fields := rec.Fields()
	fields["name"] = "mutated"
	assert.Equal(t, "a", rec.Value("name"))
}

func TestRecordPrimaryKey(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	_, ok := NewRecord(user).Set("name", "a").pk()
	assert.False(t, ok)

	_, ok = NewRecord(user).Set("id", nil).pk()
	assert.False(t, ok)

	pk, ok := NewRecord(user).Set("id", 7).pk()
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": 7}, pk)
}

func TestSnapshotKey(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	assert.Equal(t, "users:7", snapshotKey(user, map[string]any{"id": 7}))
	assert.Equal(t, "users:7", snapshotKey(user, map[string]any{"id": int64(7)}))
}
