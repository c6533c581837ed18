package db

import (
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apillon/blockchain-service/dbtypes"
)

func TestWalletNonceLifecycle(t *testing.T) {
	database := newTestDatabase(t)

	walletId := insertTestWallet(t, database, &dbtypes.Wallet{
		Address:   "0x1111111111111111111111111111111111111111",
		Chain:     "MOONBEAM",
		ChainType: dbtypes.ChainTypeEvm,
		NextNonce: 5,
		Token:     "GLMR",
		Decimals:  18,
	})
	require.NotZero(t, walletId)

	wallet := database.GetWallet("MOONBEAM", dbtypes.ChainTypeEvm, "0x1111111111111111111111111111111111111111")
	require.NotNil(t, wallet)
	assert.Equal(t, int64(5), wallet.NextNonce)
	assert.Nil(t, wallet.LastProcessedNonce)
	assert.Nil(t, wallet.LastResetNonce)

	err := database.RunDBTransaction(func(tx *sqlx.Tx) error {
		locked, err := database.GetWalletForUpdate(tx, "MOONBEAM", dbtypes.ChainTypeEvm, wallet.Address)
		if err != nil {
			return err
		}
		return database.UpdateWalletNextNonce(tx, locked.Id, locked.NextNonce+1)
	})
	require.NoError(t, err)

	wallet = database.GetWallet("MOONBEAM", dbtypes.ChainTypeEvm, wallet.Address)
	assert.Equal(t, int64(6), wallet.NextNonce)

	err = database.RunDBTransaction(func(tx *sqlx.Tx) error {
		return database.ResetWalletNonces(tx, walletId, 4, 4)
	})
	require.NoError(t, err)

	wallet = database.GetWallet("MOONBEAM", dbtypes.ChainTypeEvm, wallet.Address)
	require.NotNil(t, wallet.LastProcessedNonce)
	require.NotNil(t, wallet.LastResetNonce)
	assert.Equal(t, int64(4), *wallet.LastProcessedNonce)
	assert.Equal(t, int64(4), *wallet.LastResetNonce)

	err = database.RunDBTransaction(func(tx *sqlx.Tx) error {
		return database.SetWalletLastResetNonce(tx, walletId, 7)
	})
	require.NoError(t, err)

	wallet = database.GetWallet("MOONBEAM", dbtypes.ChainTypeEvm, wallet.Address)
	assert.Equal(t, int64(4), *wallet.LastProcessedNonce, "last_processed_nonce must stay untouched")
	assert.Equal(t, int64(7), *wallet.LastResetNonce)

	err = database.RunDBTransaction(func(tx *sqlx.Tx) error {
		return database.UpdateWalletLastProcessedNonce(tx, walletId, 5)
	})
	require.NoError(t, err)

	wallet = database.GetWallet("MOONBEAM", dbtypes.ChainTypeEvm, wallet.Address)
	assert.Equal(t, int64(5), *wallet.LastProcessedNonce)
}

func TestWalletUniqueKey(t *testing.T) {
	database := newTestDatabase(t)

	insertTestWallet(t, database, &dbtypes.Wallet{
		Address:   "0x2222",
		Chain:     "MOONBEAM",
		ChainType: dbtypes.ChainTypeEvm,
	})

	err := database.RunDBTransaction(func(tx *sqlx.Tx) error {
		_, err := database.InsertWallet(tx, &dbtypes.Wallet{
			Address:   "0x2222",
			Chain:     "MOONBEAM",
			ChainType: dbtypes.ChainTypeEvm,
			Status:    dbtypes.RowStatusActive,
		})
		return err
	})
	assert.Error(t, err, "duplicate (chain, chain_type, address) must be rejected")

	// same address on another chain is a separate wallet
	insertTestWallet(t, database, &dbtypes.Wallet{
		Address:   "0x2222",
		Chain:     "ASTAR",
		ChainType: dbtypes.ChainTypeEvm,
	})
}

func TestGetActiveWallets(t *testing.T) {
	database := newTestDatabase(t)

	insertTestWallet(t, database, &dbtypes.Wallet{
		Address:   "0xaaaa",
		Chain:     "MOONBEAM",
		ChainType: dbtypes.ChainTypeEvm,
	})
	insertTestWallet(t, database, &dbtypes.Wallet{
		Address:   "0xbbbb",
		Chain:     "ASTAR",
		ChainType: dbtypes.ChainTypeEvm,
	})
	insertTestWallet(t, database, &dbtypes.Wallet{
		Address:   "0xcccc",
		Chain:     "MOONBEAM",
		ChainType: dbtypes.ChainTypeEvm,
		Status:    dbtypes.RowStatusDisabled,
	})

	wallets := database.GetActiveWallets("")
	assert.Len(t, wallets, 2)

	wallets = database.GetActiveWallets("MOONBEAM")
	require.Len(t, wallets, 1)
	assert.Equal(t, "0xaaaa", wallets[0].Address)
}
