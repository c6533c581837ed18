package services

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apillon/blockchain-service/alert"
	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
)

func insertStalledState(t *testing.T, database *db.Database, lastProcessedNonce *int64, stuckNonces []int64) {
	t.Helper()

	insertTestWallet(t, database, &dbtypes.Wallet{
		Address:            "0xcrust1",
		Chain:              "CRUST",
		ChainType:          dbtypes.ChainTypeSubstrate,
		NextNonce:          10,
		LastProcessedNonce: lastProcessedNonce,
	})
	for _, nonce := range stuckNonces {
		insertTestQueueItem(t, database, &dbtypes.TransactionQueueItem{
			Address:        "0xcrust1",
			Chain:          "CRUST",
			ChainType:      dbtypes.ChainTypeSubstrate,
			Nonce:          nonce,
			RawTransaction: substrateRawTx(int(nonce)),
			CreateTime:     time.Now().Add(-30 * time.Minute).Unix(),
		})
	}
}

func TestNonceMonitorDriftResetsWithoutAlert(t *testing.T) {
	database := newTestDatabase(t)
	// chain already included nonce 5, internal bookkeeping still thinks 4
	client := &stubChainClient{nextNonce: 6}
	registry := newTestRegistry(t, database, "CRUST", dbtypes.ChainTypeSubstrate, client)
	alerter := &captureAlerter{}
	monitor := NewNonceMonitor(database, registry, alerter, 15*time.Minute, 0)

	lastProcessed := int64(4)
	insertStalledState(t, database, &lastProcessed, []int64{5, 6})

	err := monitor.Run("CRUST")
	require.NoError(t, err)

	wallet := database.GetWallet("CRUST", dbtypes.ChainTypeSubstrate, "0xcrust1")
	require.NotNil(t, wallet.LastProcessedNonce)
	require.NotNil(t, wallet.LastResetNonce)
	assert.Equal(t, int64(5), *wallet.LastProcessedNonce)
	assert.Equal(t, int64(5), *wallet.LastResetNonce)
	assert.Empty(t, alerter.Alerts(), "bookkeeping drift must not alert")
}

func TestNonceMonitorStuckTransactionAlerts(t *testing.T) {
	database := newTestDatabase(t)
	// chain truth agrees with internal state, the transaction is wedged
	client := &stubChainClient{nextNonce: 5}
	registry := newTestRegistry(t, database, "CRUST", dbtypes.ChainTypeSubstrate, client)
	alerter := &captureAlerter{}
	monitor := NewNonceMonitor(database, registry, alerter, 15*time.Minute, 0)

	lastProcessed := int64(4)
	insertStalledState(t, database, &lastProcessed, []int64{5, 6})

	err := monitor.Run("CRUST")
	require.NoError(t, err)

	alerts := alerter.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.AlertTypeStuckTransaction, alerts[0].Type)
	assert.Equal(t, "CRUST", alerts[0].Chain)
	assert.Equal(t, "0xcrust1", alerts[0].Wallet)

	wallet := database.GetWallet("CRUST", dbtypes.ChainTypeSubstrate, "0xcrust1")
	assert.Equal(t, int64(4), *wallet.LastProcessedNonce, "nonce state must stay untouched")
	require.NotNil(t, wallet.LastResetNonce)
	assert.Equal(t, int64(5), *wallet.LastResetNonce, "guard must be armed at the minimum stuck nonce")

	// the same stall must not re-alert on the next run
	err = monitor.Run("CRUST")
	require.NoError(t, err)
	assert.Len(t, alerter.Alerts(), 1)
}

func TestNonceMonitorGuardReengagesOnNewStall(t *testing.T) {
	database := newTestDatabase(t)
	client := &stubChainClient{nextNonce: 5}
	registry := newTestRegistry(t, database, "CRUST", dbtypes.ChainTypeSubstrate, client)
	alerter := &captureAlerter{}
	monitor := NewNonceMonitor(database, registry, alerter, 15*time.Minute, 0)

	lastProcessed := int64(4)
	insertStalledState(t, database, &lastProcessed, []int64{5})

	require.NoError(t, monitor.Run("CRUST"))
	require.Len(t, alerter.Alerts(), 1)

	// nonce 5 resolves, nonce 6 gets stuck later: the guard re-engages
	items := database.GetPendingQueueItems("CRUST", dbtypes.ChainTypeSubstrate, "0xcrust1", 10)
	err := database.RunDBTransaction(func(tx *sqlx.Tx) error {
		return database.SetQueueItemStatus(tx, items[0].Id, dbtypes.TxStatusConfirmed)
	})
	require.NoError(t, err)
	insertTestQueueItem(t, database, &dbtypes.TransactionQueueItem{
		Address:        "0xcrust1",
		Chain:          "CRUST",
		ChainType:      dbtypes.ChainTypeSubstrate,
		Nonce:          6,
		RawTransaction: substrateRawTx(6),
		CreateTime:     time.Now().Add(-30 * time.Minute).Unix(),
	})
	client.nextNonce = 6

	wallet := database.GetWallet("CRUST", dbtypes.ChainTypeSubstrate, "0xcrust1")
	err = database.RunDBTransaction(func(tx *sqlx.Tx) error {
		return database.UpdateWalletLastProcessedNonce(tx, wallet.Id, 5)
	})
	require.NoError(t, err)

	require.NoError(t, monitor.Run("CRUST"))
	assert.Len(t, alerter.Alerts(), 2)
}

func TestNonceMonitorFreshWalletDrift(t *testing.T) {
	database := newTestDatabase(t)
	// wallet never processed anything internally but the chain has included
	// transactions before
	client := &stubChainClient{nextNonce: 3}
	registry := newTestRegistry(t, database, "CRUST", dbtypes.ChainTypeSubstrate, client)
	alerter := &captureAlerter{}
	monitor := NewNonceMonitor(database, registry, alerter, 15*time.Minute, 0)

	insertStalledState(t, database, nil, []int64{3})

	err := monitor.Run("CRUST")
	require.NoError(t, err)

	wallet := database.GetWallet("CRUST", dbtypes.ChainTypeSubstrate, "0xcrust1")
	require.NotNil(t, wallet.LastProcessedNonce)
	assert.Equal(t, int64(2), *wallet.LastProcessedNonce)
	assert.Empty(t, alerter.Alerts())
}

func TestNonceMonitorIgnoresFreshPendingRows(t *testing.T) {
	database := newTestDatabase(t)
	client := &stubChainClient{nextNonce: 5}
	registry := newTestRegistry(t, database, "CRUST", dbtypes.ChainTypeSubstrate, client)
	alerter := &captureAlerter{}
	monitor := NewNonceMonitor(database, registry, alerter, 15*time.Minute, 0)

	lastProcessed := int64(4)
	insertTestWallet(t, database, &dbtypes.Wallet{
		Address:            "0xcrust1",
		Chain:              "CRUST",
		ChainType:          dbtypes.ChainTypeSubstrate,
		NextNonce:          6,
		LastProcessedNonce: &lastProcessed,
	})
	insertTestQueueItem(t, database, &dbtypes.TransactionQueueItem{
		Address:        "0xcrust1",
		Chain:          "CRUST",
		ChainType:      dbtypes.ChainTypeSubstrate,
		Nonce:          5,
		RawTransaction: substrateRawTx(5),
	})

	err := monitor.Run("CRUST")
	require.NoError(t, err)
	assert.Empty(t, alerter.Alerts(), "rows inside the stall threshold must be left alone")
}
