package keel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/keel/dialect"
	dsql "github.com/syssam/keel/dialect/sql"
	"github.com/syssam/keel/schema"
)

func newMockClient(t *testing.T, opts ...Option) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	drv := dsql.OpenDB(dialect.SQLite, db)
	return NewClient(append([]Option{Driver(drv)}, opts...)...), mock
}

func TestSaveInsertsReferencedRowFirst(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)
	post := newPostMeta(t, user)

	author := NewRecord(user).Set("name", "mashiro")
	entry := NewRecord(post).Set("title", "hello").Set("author", author)

	c, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users" ("name") VALUES (?)`).
		WithArgs("mashiro").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO "posts" ("title", "author_id") VALUES (?, ?)`).
		WithArgs("hello", 1).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	// The post is submitted first; the engine still inserts its author
	// first and resolves the generated key into the join column.
	require.NoError(t, c.Save(context.Background(), entry, author))
	assert.Equal(t, int64(1), author.Value("id"))
	assert.Equal(t, int64(7), entry.Value("id"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUsesReturningOnPostgres(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	c := NewClient(Driver(dsql.OpenDB(dialect.Postgres, db)))

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "users" ("name") VALUES ($1) RETURNING "id"`).
		WithArgs("mashiro").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectCommit()

	rec := NewRecord(user).Set("name", "mashiro")
	require.NoError(t, c.Save(context.Background(), rec))
	assert.Equal(t, int64(5), rec.Value("id"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUnchangedIssuesNoStatements(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	loader := LoaderFunc(func(context.Context, *schema.Entity, map[string]any) (map[string]any, error) {
		return map[string]any{"id": int64(1), "name": "mashiro", "email": nil}, nil
	})
	c, mock := newMockClient(t, SnapshotLoader(loader))

	// No Begin, no statements, not even an empty transaction.
	rec := NewRecord(user).Set("id", 1).Set("name", "mashiro")
	require.NoError(t, c.Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveUpdatesOnlyChangedColumns(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	loader := LoaderFunc(func(context.Context, *schema.Entity, map[string]any) (map[string]any, error) {
		return map[string]any{"id": int64(1), "name": "old", "email": "m@example.com"}, nil
	})
	c, mock := newMockClient(t, SnapshotLoader(loader))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET "name" = ? WHERE "id" = ?`).
		WithArgs("new", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := NewRecord(user).Set("id", 1).Set("name", "new").Set("email", "m@example.com")
	require.NoError(t, c.Save(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveVersionedUpdatePredicatesOnVersion(t *testing.T) {
	t.Parallel()
	doc := newDocumentMeta(t)

	loader := LoaderFunc(func(context.Context, *schema.Entity, map[string]any) (map[string]any, error) {
		return map[string]any{"id": int64(1), "body": "stored", "version": int64(3)}, nil
	})
	c, mock := newMockClient(t, SnapshotLoader(loader))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "documents" SET "body" = ?, "version" = ? WHERE "id" = ? AND "version" = ?`).
		WithArgs("edit", 4, 1, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := NewRecord(doc).Set("id", 1).Set("body", "edit").Set("version", 3)
	require.NoError(t, c.Save(context.Background(), rec))
	// The bumped version is merged back.
	assert.Equal(t, int64(4), rec.Value("version"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveConcurrentUpdateFailsWithOptimisticLock(t *testing.T) {
	t.Parallel()
	doc := newDocumentMeta(t)

	loader := LoaderFunc(func(context.Context, *schema.Entity, map[string]any) (map[string]any, error) {
		return map[string]any{"id": int64(1), "body": "stored", "version": int64(3)}, nil
	})
	c, mock := newMockClient(t, SnapshotLoader(loader))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "documents" SET "body" = ?, "version" = ? WHERE "id" = ? AND "version" = ?`).
		WithArgs("edit", 4, 1, 3).
		WillReturnResult(sqlmock.NewResult(0, 0)) // someone else won the race
	mock.ExpectRollback()

	rec := NewRecord(doc).Set("id", 1).Set("body", "edit").Set("version", 3)
	err := c.Save(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, IsOptimisticLockError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	c, mock := newMockClient(t)
	boom := errors.New("UNIQUE constraint failed: users.name")
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users" ("name") VALUES (?)`).
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO "users" ("name") VALUES (?)`).
		WithArgs("b").
		WillReturnError(boom)
	mock.ExpectRollback()

	err := c.Save(context.Background(),
		NewRecord(user).Set("name", "a"),
		NewRecord(user).Set("name", "b"),
		NewRecord(user).Set("name", "c"),
	)
	require.Error(t, err)
	assert.True(t, IsQueryFailedError(err))
	var qe *QueryFailedError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "User", qe.Entity)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBreaksNullableCycle(t *testing.T) {
	t.Parallel()
	xMeta, yMeta := newPairMeta(t)

	x := NewRecord(xMeta)
	y := NewRecord(yMeta)
	x.Set("other", y)
	y.Set("other", x)

	c, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "lefts" DEFAULT VALUES`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO "rights" ("other_id") VALUES (?)`).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec(`UPDATE "lefts" SET "other_id" = ? WHERE "id" = ?`).
		WithArgs(2, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, c.Save(context.Background(), x, y))
	assert.Equal(t, int64(1), x.Value("id"))
	assert.Equal(t, int64(2), y.Value("id"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveDeletesDependentsFirst(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)
	post := newPostMeta(t, user)

	author := NewRecord(user).Set("id", 1).Set("name", "m")
	entry := NewRecord(post).Set("id", 2).Set("title", "t").Set("author", author)

	c, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "posts" WHERE "id" = ?`).
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "users" WHERE "id" = ?`).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, c.Remove(context.Background(), author, entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListenersObserveEveryWrite(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	var (
		mu     sync.Mutex
		events []string
	)
	listen := func(_ context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev.Phase.String()+" "+ev.Op.String())
		return nil
	}
	c, mock := newMockClient(t, Listen(listen))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users" ("name") VALUES (?)`).
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, c.Save(context.Background(), NewRecord(user).Set("name", "a")))
	assert.Equal(t, []string{"before insert", "after insert"}, events)
}

func TestListenerErrorAbortsBatch(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	boom := errors.New("veto")
	c, mock := newMockClient(t, Listen(func(context.Context, Event) error {
		return boom
	}))
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := c.Save(context.Background(), NewRecord(user).Set("name", "a"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxLeavesCommitToCaller(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	drv := dsql.OpenDB(dialect.SQLite, db)
	c := NewClient(Driver(drv))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "users" ("name") VALUES (?)`).
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	tc, err := c.WithTx(tx)
	require.NoError(t, err)

	require.NoError(t, tc.Save(context.Background(), NewRecord(user).Set("name", "a")))

	// The engine issued no Commit; the transaction is still open.
	if _, err := tc.WithTx(tx); assert.Error(t, err) {
		assert.ErrorIs(t, err, ErrTxStarted)
	}
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateForcesIntent(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	c, mock := newMockClient(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET "name" = ? WHERE "id" = ?`).
		WithArgs("new", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Without a loader every provided value counts as changed.
	require.NoError(t, c.Update(context.Background(), NewRecord(user).Set("id", 1).Set("name", "new")))
	assert.NoError(t, mock.ExpectationsWereMet())

	// A forced update without a primary key fails before any statement.
	err := c.Update(context.Background(), NewRecord(user).Set("name", "x"))
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWithoutDriver(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	c := NewClient()
	assert.NoError(t, c.Save(context.Background()))
	assert.ErrorIs(t, c.Save(context.Background(), NewRecord(user).Set("name", "a")), ErrNoDriver)
}

func TestSaveFillsInsertDefaults(t *testing.T) {
	t.Parallel()
	task := schema.New("Task").
		Columns(
			schema.UUID("id").AutoUUID(),
			schema.String("title"),
			schema.String("state").WithDefault("open"),
			schema.DateTime("createdAt").AsCreateTime(),
			schema.DateTime("updatedAt").AsUpdateTime(),
		).
		PrimaryKey("id")
	require.NoError(t, task.Validate())

	frozen := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c, mock := newMockClient(t)
	c.cfg.now = func() time.Time { return frozen }

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "tasks" ("title", "id", "state", "created_at", "updated_at") VALUES (?, ?, ?, ?, ?)`).
		WithArgs("write tests", sqlmock.AnyArg(), "open", frozen, frozen).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := NewRecord(task).Set("title", "write tests")
	require.NoError(t, c.Save(context.Background(), rec))
	// Defaults are merged back so the caller sees what was written.
	assert.Equal(t, "open", rec.Value("state"))
	assert.Equal(t, frozen, rec.Value("createdAt"))
	assert.NotNil(t, rec.Value("id"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.deleted = append(c.deleted, key)
	return nil
}

func TestSnapshotCacheInvalidatedOnWrite(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	var loads int
	loader := LoaderFunc(func(context.Context, *schema.Entity, map[string]any) (map[string]any, error) {
		loads++
		return map[string]any{"id": int64(1), "name": "old", "email": nil}, nil
	})
	cache := newMemoryCache()
	c, mock := newMockClient(t, SnapshotLoader(loader), SnapshotCache(cache, time.Minute))

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "users" SET "name" = ? WHERE "id" = ?`).
		WithArgs("new", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := NewRecord(user).Set("id", 1).Set("name", "new")
	require.NoError(t, c.Save(context.Background(), rec))
	assert.Equal(t, 1, loads)
	// The write dropped the freshly cached snapshot.
	assert.Equal(t, []string{"users:1"}, cache.deleted)
	assert.Empty(t, cache.entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCacheServesRepeatReads(t *testing.T) {
	t.Parallel()
	user := newUserMeta(t)

	var loads int
	loader := LoaderFunc(func(context.Context, *schema.Entity, map[string]any) (map[string]any, error) {
		loads++
		return map[string]any{"id": int64(1), "name": "stored", "email": nil}, nil
	})
	cached := NewCachedLoader(loader, newMemoryCache(), time.Minute)

	for range 3 {
		snap, err := cached.Snapshot(context.Background(), user, map[string]any{"id": 1})
		require.NoError(t, err)
		assert.Equal(t, "stored", snap["name"])
	}
	assert.Equal(t, 1, loads)
}
