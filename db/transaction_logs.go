package db

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/Apillon/blockchain-service/dbtypes"
)

// InsertTransactionLog appends a settlement ledger entry. The ledger is
// append-only and written only after chain confirmation; the unique hash
// index makes re-running a confirmation sweep idempotent.
func (database *Database) InsertTransactionLog(tx *sqlx.Tx, txLog *dbtypes.TransactionLog) error {
	if txLog.CreateTime == 0 {
		txLog.CreateTime = time.Now().Unix()
	}
	_, err := tx.Exec(database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEnginePgsql: `
			INSERT INTO transaction_logs (
				block_id, chain, chain_type, wallet, hash, token, amount, fee, total_price,
				direction, action, value, status, create_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (chain, chain_type, hash) DO NOTHING`,
		dbtypes.DBEngineSqlite: `
			INSERT OR IGNORE INTO transaction_logs (
				block_id, chain, chain_type, wallet, hash, token, amount, fee, total_price,
				direction, action, value, status, create_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
	}),
		txLog.BlockId, txLog.Chain, txLog.ChainType, txLog.Wallet, txLog.Hash, txLog.Token, txLog.Amount, txLog.Fee, txLog.TotalPrice,
		txLog.Direction, txLog.Action, txLog.Value, txLog.Status, txLog.CreateTime)
	return err
}

// GetTransactionLogs lists settlement entries for a wallet, newest first.
func (database *Database) GetTransactionLogs(chain string, chainType dbtypes.ChainType, wallet string, limit uint32) []*dbtypes.TransactionLog {
	logs := []*dbtypes.TransactionLog{}
	err := database.ReaderDb.Select(&logs, `
	SELECT
		id, block_id, chain, chain_type, wallet, hash, token, amount, fee, total_price,
		direction, action, value, status, create_time
	FROM transaction_logs
	WHERE chain = $1 AND chain_type = $2 AND wallet = $3
	ORDER BY id DESC
	LIMIT $4
	`, chain, chainType, wallet, limit)
	if err != nil {
		logger.Errorf("Error while fetching transaction logs for %v/%v: %v", chain, wallet, err)
		return nil
	}
	return logs
}
