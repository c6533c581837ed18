package db

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Apillon/blockchain-service/dbtypes"
)

// GetLeastUsedMultisigWallet selects the least recently used multisig
// wallet matching the address pattern and locks it for the duration of tx.
// Two concurrent callers land on different wallets when the pool holds
// more than one candidate, which spreads nonce pressure across the pool.
func (database *Database) GetLeastUsedMultisigWallet(tx *sqlx.Tx, chain string, chainType dbtypes.ChainType, addressPattern string) (*dbtypes.MultisigWallet, error) {
	if addressPattern == "" {
		addressPattern = "%"
	}
	wallet := dbtypes.MultisigWallet{}
	err := tx.Get(&wallet, database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEnginePgsql: `
			SELECT
				id, address, chain, chain_type, signers, threshold, usage_timestamp, status
			FROM multisig_wallets
			WHERE chain = $1 AND chain_type = $2 AND address LIKE $3 AND status = $4
			ORDER BY usage_timestamp ASC
			LIMIT 1
			FOR UPDATE`,
		dbtypes.DBEngineSqlite: `
			SELECT
				id, address, chain, chain_type, signers, threshold, usage_timestamp, status
			FROM multisig_wallets
			WHERE chain = $1 AND chain_type = $2 AND address LIKE $3 AND status = $4
			ORDER BY usage_timestamp ASC
			LIMIT 1`,
	}), chain, chainType, addressPattern, dbtypes.RowStatusActive)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// BumpMultisigWalletUsage moves a selected wallet to the back of the LRU
// order. Must be called within the same transaction that selected it.
func (database *Database) BumpMultisigWalletUsage(tx *sqlx.Tx, walletId uint64) error {
	_, err := tx.Exec(`
	UPDATE multisig_wallets SET usage_timestamp = $1 WHERE id = $2
	`, time.Now().Unix(), walletId)
	return err
}

// InsertMultisigWallet creates a pool entry and returns its id.
func (database *Database) InsertMultisigWallet(tx *sqlx.Tx, wallet *dbtypes.MultisigWallet) (uint64, error) {
	var id uint64
	err := tx.Get(&id, database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEngineAny: `
			INSERT INTO multisig_wallets (
				address, chain, chain_type, signers, threshold, usage_timestamp, status
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
	}),
		wallet.Address, wallet.Chain, wallet.ChainType, wallet.Signers, wallet.Threshold, wallet.UsageTimestamp, wallet.Status)
	if err != nil {
		return 0, err
	}
	return id, nil
}
