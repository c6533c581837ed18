package services

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/Apillon/blockchain-service/alert"
	"github.com/Apillon/blockchain-service/chains"
	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
	"github.com/Apillon/blockchain-service/types"
)

// newTestDatabase opens an in-memory sqlite database with the schema
// applied. One connection keeps the memory database shared and alive.
func newTestDatabase(t *testing.T) *db.Database {
	t.Helper()

	cfg := &types.Config{}
	cfg.Database.Engine = "sqlite"
	cfg.Database.Sqlite.File = ":memory:"
	cfg.Database.Sqlite.MaxOpenConns = 1
	cfg.Database.Sqlite.MaxIdleConns = 1

	database, err := db.NewDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(database.Close)

	err = database.ApplyEmbeddedDbSchema(-2)
	require.NoError(t, err)

	return database
}

// newTestRegistry wires a registry whose EVM and Substrate factories hand
// out the given stub client for every endpoint.
func newTestRegistry(t *testing.T, database *db.Database, chain string, chainType dbtypes.ChainType, client chains.ChainClient) *chains.Registry {
	t.Helper()

	err := database.RunDBTransaction(func(tx *sqlx.Tx) error {
		_, err := database.InsertEndpoint(tx, &dbtypes.Endpoint{
			Url:       "stub://" + chain,
			Chain:     chain,
			ChainType: chainType,
			Priority:  1,
			Status:    dbtypes.RowStatusActive,
		})
		return err
	})
	require.NoError(t, err)

	registry := chains.NewRegistry(database)
	registry.RegisterFactory(chainType, func(endpointUrl string) (chains.ChainClient, error) {
		return client, nil
	})
	return registry
}

func insertTestWallet(t *testing.T, database *db.Database, wallet *dbtypes.Wallet) uint64 {
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

func insertTestQueueItem(t *testing.T, database *db.Database, item *dbtypes.TransactionQueueItem) uint64 {
	t.Helper()

	if item.Status == 0 {
		item.Status = dbtypes.TxStatusPending
	}
	var id uint64
	err := database.RunDBTransaction(func(tx *sqlx.Tx) error {
		var err error
		id, err = database.InsertQueueItem(tx, item)
		return err
	})
	require.NoError(t, err)
	return id
}

// stubChainClient is a scriptable ChainClient for service tests.
type stubChainClient struct {
	mutex sync.Mutex

	nextNonce uint64
	nonceErr  error

	submitFn     func(rawTx string) (string, error)
	submittedRaw []string

	receiptFn func(hash string) (*chains.TxReceipt, error)

	balance    *big.Int
	balanceErr error
}

func (sc *stubChainClient) NextOnChainNonce(ctx context.Context, address string) (uint64, error) {
	if sc.nonceErr != nil {
		return 0, sc.nonceErr
	}
	return sc.nextNonce, nil
}

func (sc *stubChainClient) SubmitRawTransaction(ctx context.Context, rawTx string) (string, error) {
	sc.mutex.Lock()
	sc.submittedRaw = append(sc.submittedRaw, rawTx)
	sc.mutex.Unlock()
	if sc.submitFn != nil {
		return sc.submitFn(rawTx)
	}
	return "0xhash-" + rawTx, nil
}

func (sc *stubChainClient) QueryReceipt(ctx context.Context, hash string) (*chains.TxReceipt, error) {
	if sc.receiptFn != nil {
		return sc.receiptFn(hash)
	}
	return nil, chains.ErrReceiptUnsupported
}

func (sc *stubChainClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	if sc.balanceErr != nil {
		return nil, sc.balanceErr
	}
	if sc.balance == nil {
		return big.NewInt(0), nil
	}
	return sc.balance, nil
}

// captureAlerter records alerts for assertions.
type captureAlerter struct {
	mutex  sync.Mutex
	alerts []alert.Alert
}

func (ca *captureAlerter) Send(a alert.Alert) error {
	ca.mutex.Lock()
	defer ca.mutex.Unlock()
	ca.alerts = append(ca.alerts, a)
	return nil
}

func (ca *captureAlerter) Alerts() []alert.Alert {
	ca.mutex.Lock()
	defer ca.mutex.Unlock()
	return append([]alert.Alert{}, ca.alerts...)
}
