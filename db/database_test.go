package db

import (
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/Apillon/blockchain-service/dbtypes"
	"github.com/Apillon/blockchain-service/types"
)

// newTestDatabase opens an in-memory sqlite database with the full schema
// applied. A single connection keeps the memory database alive and shared.
func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	cfg := &types.Config{}
	cfg.Database.Engine = "sqlite"
	cfg.Database.Sqlite.File = ":memory:"
	cfg.Database.Sqlite.MaxOpenConns = 1
	cfg.Database.Sqlite.MaxIdleConns = 1

	database, err := NewDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(database.Close)

	err = database.ApplyEmbeddedDbSchema(-2)
	require.NoError(t, err)

	return database
}

func insertTestWallet(t *testing.T, database *Database, wallet *dbtypes.Wallet) uint64 {
	t.Helper()

	if wallet.Status == 0 {
		wallet.Status = dbtypes.RowStatusActive
	}
	var id uint64
	err := database.RunDBTransaction(func(tx *sqlx.Tx) error {
		var err error
		id, err = database.InsertWallet(tx, wallet)
		return err
	})
	require.NoError(t, err)
	return id
}

func TestEngineQuery(t *testing.T) {
	database := newTestDatabase(t)

	query := database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEnginePgsql:  "SELECT 1 FOR UPDATE",
		dbtypes.DBEngineSqlite: "SELECT 1",
	})
	require.Equal(t, "SELECT 1", query)

	query = database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEngineAny: "SELECT 2",
	})
	require.Equal(t, "SELECT 2", query)
}

func TestRunDBTransactionRollback(t *testing.T) {
	database := newTestDatabase(t)

	insertErr := database.RunDBTransaction(func(tx *sqlx.Tx) error {
		_, err := database.InsertWallet(tx, &dbtypes.Wallet{
			Address:   "0xaaa",
			Chain:     "MOONBEAM",
			ChainType: dbtypes.ChainTypeEvm,
			Status:    dbtypes.RowStatusActive,
		})
		require.NoError(t, err)
		return errRollback
	})
	require.ErrorIs(t, insertErr, errRollback)

	require.Nil(t, database.GetWallet("MOONBEAM", dbtypes.ChainTypeEvm, "0xaaa"))
}

var errRollback = errors.New("rollback")

func TestSchemaIsIdempotent(t *testing.T) {
	database := newTestDatabase(t)

	// applying the embedded migrations again must be a no-op
	err := database.ApplyEmbeddedDbSchema(-2)
	require.NoError(t, err)
}

func oldTimestamp(age time.Duration) int64 {
	return time.Now().Add(-age).Unix()
}
