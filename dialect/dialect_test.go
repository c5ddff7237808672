package dialect

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type conn struct {
	ExecQuerier
}

func (conn) Exec(context.Context, string, any, any) error  { return nil }
func (conn) Query(context.Context, string, any, any) error { return nil }

type driver struct {
	conn
	dialect string
}

func (d driver) Dialect() string                { return d.dialect }
func (d driver) Tx(context.Context) (Tx, error) { return NopTx(d), nil }
func (driver) Close() error                     { return nil }

func TestNopTx(t *testing.T) {
	t.Parallel()
	tx := NopTx(driver{dialect: SQLite})
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())
	assert.NoError(t, tx.Exec(context.Background(), "INSERT", nil, nil))
}

func TestDebugDriverLogs(t *testing.T) {
	t.Parallel()
	var logged []string
	drv := Debug(driver{dialect: SQLite}, func(v ...any) {
		for _, e := range v {
			logged = append(logged, e.(string))
		}
	})

	ctx := context.Background()
	require.NoError(t, drv.Exec(ctx, "INSERT INTO users DEFAULT VALUES", []any{}, nil))
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "DELETE FROM users", []any{1}, nil))
	require.NoError(t, tx.Commit())

	require.Len(t, logged, 4)
	assert.Contains(t, logged[0], "driver.Exec")
	assert.Contains(t, logged[0], "INSERT INTO users")
	assert.Contains(t, logged[1], "driver.Tx: started")
	assert.Contains(t, logged[2], "Tx.Exec")
	assert.Equal(t, "Tx.Commit", logged[3])
}

func TestDebugTxRollback(t *testing.T) {
	t.Parallel()
	var b strings.Builder
	drv := Debug(driver{dialect: SQLite}, func(v ...any) {
		for _, e := range v {
			b.WriteString(e.(string) + "\n")
		}
	})
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Contains(t, b.String(), "Tx.Rollback")
}
