package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mitchellh/mapstructure"

	"github.com/Apillon/blockchain-service/dbtypes"
)

const queueFields = `
	id, address, to_address, chain, chain_type, nonce, transaction_hash, raw_transaction,
	transaction_status, reference_table, reference_id, data, webhook_triggered, create_time, update_time`

// InsertQueueItem adds a new row to the transaction ledger and returns its
// id. The unique (chain, chain_type, address, nonce, transaction_status)
// index is the safety net against duplicate nonce use, the caller is
// expected to hold the wallet row lock.
func (database *Database) InsertQueueItem(tx *sqlx.Tx, item *dbtypes.TransactionQueueItem) (uint64, error) {
	now := time.Now().Unix()
	if item.CreateTime == 0 {
		item.CreateTime = now
	}
	var id uint64
	err := tx.Get(&id, database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEngineAny: `
			INSERT INTO transaction_queue (
				address, to_address, chain, chain_type, nonce, transaction_hash, raw_transaction,
				transaction_status, reference_table, reference_id, data, webhook_triggered, create_time, update_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`,
	}),
		item.Address, item.ToAddress, item.Chain, item.ChainType, item.Nonce, item.TransactionHash, item.RawTransaction,
		item.Status, item.ReferenceTable, item.ReferenceId, item.Data, item.WebhookTriggered, item.CreateTime, now)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetQueueItem loads a single ledger row by id.
func (database *Database) GetQueueItem(id uint64) *dbtypes.TransactionQueueItem {
	item := dbtypes.TransactionQueueItem{}
	err := database.ReaderDb.Get(&item, `
	SELECT`+queueFields+`
	FROM transaction_queue
	WHERE id = $1
	`, id)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Errorf("Error while fetching queue item %v: %v", id, err)
		}
		return nil
	}
	return &item
}

// GetPendingQueueItems returns the PENDING rows of one wallet in nonce
// order, which is the only order chains accept.
func (database *Database) GetPendingQueueItems(chain string, chainType dbtypes.ChainType, address string, limit uint32) []*dbtypes.TransactionQueueItem {
	items := []*dbtypes.TransactionQueueItem{}
	err := database.ReaderDb.Select(&items, `
	SELECT`+queueFields+`
	FROM transaction_queue
	WHERE chain = $1 AND chain_type = $2 AND address = $3 AND transaction_status = $4
	ORDER BY nonce ASC
	LIMIT $5
	`, chain, chainType, address, dbtypes.TxStatusPending, limit)
	if err != nil {
		logger.Errorf("Error while fetching pending queue items for %v/%v: %v", chain, address, err)
		return nil
	}
	return items
}

// GetPendingWalletAddresses lists the wallet addresses that currently have
// PENDING rows on a chain.
func (database *Database) GetPendingWalletAddresses(chain string, chainType dbtypes.ChainType) []string {
	addresses := []string{}
	err := database.ReaderDb.Select(&addresses, `
	SELECT DISTINCT address
	FROM transaction_queue
	WHERE chain = $1 AND chain_type = $2 AND transaction_status = $3
	ORDER BY address ASC
	`, chain, chainType, dbtypes.TxStatusPending)
	if err != nil {
		logger.Errorf("Error while fetching pending wallet addresses for %v: %v", chain, err)
		return nil
	}
	return addresses
}

// GetSubmittedPendingItems returns PENDING rows that already carry a
// transaction hash, i.e. broadcast transactions awaiting inclusion.
func (database *Database) GetSubmittedPendingItems(chain string, chainType dbtypes.ChainType, limit uint32) []*dbtypes.TransactionQueueItem {
	items := []*dbtypes.TransactionQueueItem{}
	err := database.ReaderDb.Select(&items, `
	SELECT`+queueFields+`
	FROM transaction_queue
	WHERE chain = $1 AND chain_type = $2 AND transaction_status = $3 AND transaction_hash IS NOT NULL
	ORDER BY id ASC
	LIMIT $4
	`, chain, chainType, dbtypes.TxStatusPending, limit)
	if err != nil {
		logger.Errorf("Error while fetching submitted pending items for %v: %v", chain, err)
		return nil
	}
	return items
}

// SetQueueItemSubmitted stores the broadcast hash on a row.
func (database *Database) SetQueueItemSubmitted(tx *sqlx.Tx, id uint64, transactionHash string) error {
	_, err := tx.Exec(`
	UPDATE transaction_queue SET transaction_hash = $1, update_time = $2 WHERE id = $3
	`, transactionHash, time.Now().Unix(), id)
	return err
}

// SetQueueItemStatus moves a row to a new lifecycle status.
func (database *Database) SetQueueItemStatus(tx *sqlx.Tx, id uint64, status dbtypes.TxStatus) error {
	_, err := tx.Exec(`
	UPDATE transaction_queue SET transaction_status = $1, update_time = $2 WHERE id = $3
	`, status, time.Now().Unix(), id)
	return err
}

// ConfirmQueueItemsUpToNonce marks every PENDING row of a wallet with
// nonce <= maxNonce as status. Used when chain truth proves inclusion but
// no per-transaction receipt is available.
func (database *Database) ConfirmQueueItemsUpToNonce(tx *sqlx.Tx, chain string, chainType dbtypes.ChainType, address string, maxNonce int64, status dbtypes.TxStatus) error {
	_, err := tx.Exec(`
	UPDATE transaction_queue SET transaction_status = $1, update_time = $2
	WHERE chain = $3 AND chain_type = $4 AND address = $5 AND transaction_status = $6 AND nonce <= $7
	`, status, time.Now().Unix(), chain, chainType, address, dbtypes.TxStatusPending, maxNonce)
	return err
}

// GetWebhookPendingItems selects terminal rows that have not been notified
// yet and locks them for the duration of tx. SKIP LOCKED lets concurrent
// dispatcher instances work disjoint batches.
func (database *Database) GetWebhookPendingItems(tx *sqlx.Tx, limit uint32) ([]*dbtypes.TransactionQueueItem, error) {
	items := []*dbtypes.TransactionQueueItem{}
	err := tx.Select(&items, database.EngineQuery(map[dbtypes.DBEngineType]string{
		dbtypes.DBEnginePgsql: `
			SELECT` + queueFields + `
			FROM transaction_queue
			WHERE transaction_status != $1 AND webhook_triggered IS NULL
			ORDER BY id ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED`,
		dbtypes.DBEngineSqlite: `
			SELECT` + queueFields + `
			FROM transaction_queue
			WHERE transaction_status != $1 AND webhook_triggered IS NULL
			ORDER BY id ASC
			LIMIT $2`,
	}), dbtypes.TxStatusPending, limit)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// SetWebhookTriggered stamps the dispatch gate on the given rows. Must be
// committed in the same transaction that selected and delivered them.
func (database *Database) SetWebhookTriggered(tx *sqlx.Tx, ids []uint64, triggerTime int64) error {
	if len(ids) == 0 {
		return nil
	}
	var sqlStr strings.Builder
	args := make([]any, 0, len(ids)+1)
	args = append(args, triggerTime)
	fmt.Fprintf(&sqlStr, `UPDATE transaction_queue SET webhook_triggered = $1 WHERE id IN (`)
	for i, id := range ids {
		if i > 0 {
			fmt.Fprintf(&sqlStr, ", ")
		}
		fmt.Fprintf(&sqlStr, "$%v", i+2)
		args = append(args, id)
	}
	fmt.Fprintf(&sqlStr, ")")
	_, err := tx.Exec(sqlStr.String(), args...)
	return err
}

// GetStalledWallets returns every wallet that has PENDING rows created
// before cutoffTime, joined with the smallest stuck nonce and the oldest
// create time of those rows.
func (database *Database) GetStalledWallets(cutoffTime int64, chain string) []*dbtypes.StalledWallet {
	walletFieldNames := []string{
		"id", "address", "chain", "chain_type", "next_nonce", "last_processed_nonce", "last_reset_nonce",
		"min_balance", "min_tx_balance", "token", "decimals", "status", "create_time", "update_time",
	}

	var sqlStr strings.Builder
	fmt.Fprintf(&sqlStr, `SELECT q.min_nonce, q.min_create_time, q.pending_count`)
	for _, fieldName := range walletFieldNames {
		fmt.Fprintf(&sqlStr, ", wallets.%v AS \"wallet.%v\"", fieldName, fieldName)
	}
	fmt.Fprintf(&sqlStr, `
	FROM (
		SELECT
			chain, chain_type, address, MIN(nonce) AS min_nonce, MIN(create_time) AS min_create_time, COUNT(*) AS pending_count
		FROM transaction_queue
		WHERE transaction_status = $1 AND create_time <= $2
		GROUP BY chain, chain_type, address
	) q
	INNER JOIN wallets ON wallets.chain = q.chain AND wallets.chain_type = q.chain_type AND wallets.address = q.address
	`)
	args := []any{dbtypes.TxStatusPending, cutoffTime}
	if chain != "" {
		fmt.Fprintf(&sqlStr, `WHERE q.chain = $3
	`)
		args = append(args, chain)
	}
	fmt.Fprintf(&sqlStr, `ORDER BY q.min_create_time ASC`)

	rows, err := database.ReaderDb.Query(sqlStr.String(), args...)
	if err != nil {
		logger.Errorf("Error while fetching stalled wallets: %v", err)
		return nil
	}
	defer rows.Close()

	stalledWallets := []*dbtypes.StalledWallet{}
	scanArgs := make([]interface{}, len(walletFieldNames)+3)
	for rows.Next() {
		scanVals := make([]interface{}, len(walletFieldNames)+3)
		for i := range scanArgs {
			scanArgs[i] = &scanVals[i]
		}
		err := rows.Scan(scanArgs...)
		if err != nil {
			logger.Errorf("Error while parsing stalled wallet: %v", err)
			continue
		}

		stalled := dbtypes.StalledWallet{}
		stalled.MinNonce = scanVals[0].(int64)
		stalled.MinCreateTime = scanVals[1].(int64)
		stalled.PendingCount = uint64(scanVals[2].(int64))

		walletValMap := map[string]interface{}{}
		for idx, fieldName := range walletFieldNames {
			walletValMap[fieldName] = scanVals[idx+3]
		}
		var wallet dbtypes.Wallet
		cfg := &mapstructure.DecoderConfig{
			Metadata:         nil,
			Result:           &wallet,
			TagName:          "db",
			WeaklyTypedInput: true,
		}
		decoder, _ := mapstructure.NewDecoder(cfg)
		decoder.Decode(walletValMap)
		stalled.Wallet = wallet

		stalledWallets = append(stalledWallets, &stalled)
	}

	return stalledWallets
}
