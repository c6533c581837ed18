package db

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Apillon/blockchain-service/dbtypes"
)

const walletFields = `
	id, address, chain, chain_type, next_nonce, last_processed_nonce, last_reset_nonce,
	min_balance, min_tx_balance, token, decimals, status, create_time, update_time`

// GetWallet loads a wallet without locking it. Returns nil when no wallet
// row exists for the given key.
func (database *Database) GetWallet(chain string, chainType dbtypes.ChainType, address string) *dbtypes.Wallet {
	wallet := dbtypes.Wallet{}
	err := database.ReaderDb.Get(&wallet, `
	SELECT`+walletFields+`
	FROM wallets
	WHERE chain = $1 AND chain_type = $2 AND address = $3
	`, chain, chainType, address)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Errorf("Error while fetching wallet %v/%v: %v", chain, address, err)
		}
		return nil
	}
	return &wallet
}

// GetWalletForUpdate loads a wallet inside tx and locks the row until the
// transaction ends. This is the mandatory lock point for every
// nonce-affecting read or write.
func (database *Database) GetWalletForUpdate(tx *sqlx.Tx, chain string, chainType dbtypes.ChainType, address string) (*dbtypes.Wallet, error) {
	wallet := dbtypes.Wallet{}
	err := tx.Get(&wallet, database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEnginePgsql: `
			SELECT` + walletFields + `
			FROM wallets
			WHERE chain = $1 AND chain_type = $2 AND address = $3
			FOR UPDATE`,
		dbtypes.DBEngineSqlite: `
			SELECT` + walletFields + `
			FROM wallets
			WHERE chain = $1 AND chain_type = $2 AND address = $3`,
	}), chain, chainType, address)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// UpdateWalletNextNonce persists an advanced next_nonce. Must only be
// called while the wallet row is locked via GetWalletForUpdate.
func (database *Database) UpdateWalletNextNonce(tx *sqlx.Tx, walletId uint64, nextNonce int64) error {
	_, err := tx.Exec(`
	UPDATE wallets SET next_nonce = $1, update_time = $2 WHERE id = $3
	`, nextNonce, time.Now().Unix(), walletId)
	return err
}

// ResetWalletNonces sets last_processed_nonce and last_reset_nonce after
// the reconciliation monitor detected bookkeeping drift.
func (database *Database) ResetWalletNonces(tx *sqlx.Tx, walletId uint64, lastProcessedNonce int64, lastResetNonce int64) error {
	_, err := tx.Exec(`
	UPDATE wallets SET last_processed_nonce = $1, last_reset_nonce = $2, update_time = $3 WHERE id = $4
	`, lastProcessedNonce, lastResetNonce, time.Now().Unix(), walletId)
	return err
}

// SetWalletLastResetNonce arms the reconciliation guard without touching
// the processed nonce state.
func (database *Database) SetWalletLastResetNonce(tx *sqlx.Tx, walletId uint64, lastResetNonce int64) error {
	_, err := tx.Exec(`
	UPDATE wallets SET last_reset_nonce = $1, update_time = $2 WHERE id = $3
	`, lastResetNonce, time.Now().Unix(), walletId)
	return err
}

// UpdateWalletLastProcessedNonce advances last_processed_nonce when queued
// transactions are confirmed on chain.
func (database *Database) UpdateWalletLastProcessedNonce(tx *sqlx.Tx, walletId uint64, lastProcessedNonce int64) error {
	_, err := tx.Exec(`
	UPDATE wallets SET last_processed_nonce = $1, update_time = $2 WHERE id = $3
	`, lastProcessedNonce, time.Now().Unix(), walletId)
	return err
}

// InsertWallet creates a new wallet row and returns its id.
func (database *Database) InsertWallet(tx *sqlx.Tx, wallet *dbtypes.Wallet) (uint64, error) {
	now := time.Now().Unix()
	var id uint64
	err := tx.Get(&id, database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEngineAny: `
			INSERT INTO wallets (
				address, chain, chain_type, next_nonce, last_processed_nonce, last_reset_nonce,
				min_balance, min_tx_balance, token, decimals, status, create_time, update_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			RETURNING id`,
	}),
		wallet.Address, wallet.Chain, wallet.ChainType, wallet.NextNonce, wallet.LastProcessedNonce, wallet.LastResetNonce,
		wallet.MinBalance, wallet.MinTxBalance, wallet.Token, wallet.Decimals, wallet.Status, now, now)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetActiveWallets lists active wallets, optionally restricted to a chain.
func (database *Database) GetActiveWallets(chain string) []*dbtypes.Wallet {
	wallets := []*dbtypes.Wallet{}
	chainFilter := ""
	args := []any{dbtypes.RowStatusActive}
	if chain != "" {
		chainFilter = "AND chain = $2"
		args = append(args, chain)
	}
	err := database.ReaderDb.Select(&wallets, `
	SELECT`+walletFields+`
	FROM wallets
	WHERE status = $1 `+chainFilter+`
	ORDER BY chain ASC, address ASC
	`, args...)
	if err != nil {
		logger.Errorf("Error while fetching active wallets: %v", err)
		return nil
	}
	return wallets
}
