package ledger

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	assert.Equal(t,
		"SELECT id FROM trades WHERE trader_id = ? AND symbol_side = ? AND status = ?",
		rebind("SELECT id FROM trades WHERE trader_id = $1 AND symbol_side = $2 AND status = $3"))
	assert.Equal(t, "SELECT 1", rebind("SELECT 1"))
}

func TestPostgresStore_Exec(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreFromPool(mock)

	mock.ExpectExec("UPDATE trades SET status").
		WithArgs("closed", "abc").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.Exec(context.Background(), "UPDATE trades SET status = $1 WHERE id = $2", "closed", "abc")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Query(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreFromPool(mock)

	mock.ExpectQuery("SELECT symbol FROM trades").
		WithArgs("trader-test").
		WillReturnRows(pgxmock.NewRows([]string{"symbol"}).AddRow("BTCUSDT"))

	rows, err := store.Query(context.Background(), "SELECT symbol FROM trades WHERE trader_id = $1", "trader-test")
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var symbol string
	require.NoError(t, rows.Scan(&symbol))
	assert.Equal(t, "BTCUSDT", symbol)
	assert.False(t, rows.Next())
	assert.NoError(t, mock.ExpectationsWereMet())
}
