package dbtypes

// Wallet is the per (address, chain) account record. It is the single
// serialization point for nonce-affecting operations: next_nonce may only
// be read and advanced under a wallet row lock.
type Wallet struct {
	Id                 uint64    `db:"id"`
	Address            string    `db:"address"`
	Chain              string    `db:"chain"`
	ChainType          ChainType `db:"chain_type"`
	NextNonce          int64     `db:"next_nonce"`
	LastProcessedNonce *int64    `db:"last_processed_nonce"`
	LastResetNonce     *int64    `db:"last_reset_nonce"`
	MinBalance         *string   `db:"min_balance"`
	MinTxBalance       *string   `db:"min_tx_balance"`
	Token              string    `db:"token"`
	Decimals           uint8     `db:"decimals"`
	Status             RowStatus `db:"status"`
	CreateTime         int64     `db:"create_time"`
	UpdateTime         int64     `db:"update_time"`
}

// Endpoint is immutable reference data, no locking required.
type Endpoint struct {
	Id        uint64    `db:"id"`
	Url       string    `db:"url"`
	Chain     string    `db:"chain"`
	ChainType ChainType `db:"chain_type"`
	Priority  int       `db:"priority"`
	Status    RowStatus `db:"status"`
}

// MultisigWallet is a pooled multi-signer account. Selection bumps
// usage_timestamp so concurrent callers spread across the pool.
type MultisigWallet struct {
	Id             uint64    `db:"id"`
	Address        string    `db:"address"`
	Chain          string    `db:"chain"`
	ChainType      ChainType `db:"chain_type"`
	Signers        string    `db:"signers"`
	Threshold      uint8     `db:"threshold"`
	UsageTimestamp int64     `db:"usage_timestamp"`
	Status         RowStatus `db:"status"`
}

// TransactionQueueItem is one row of the central transaction ledger.
// Rows are never deleted; webhook_triggered is stamped exactly once.
type TransactionQueueItem struct {
	Id               uint64    `db:"id"`
	Address          string    `db:"address"`
	ToAddress        *string   `db:"to_address"`
	Chain            string    `db:"chain"`
	ChainType        ChainType `db:"chain_type"`
	Nonce            int64     `db:"nonce"`
	TransactionHash  *string   `db:"transaction_hash"`
	RawTransaction   string    `db:"raw_transaction"`
	Status           TxStatus  `db:"transaction_status"`
	ReferenceTable   *string   `db:"reference_table"`
	ReferenceId      *string   `db:"reference_id"`
	Data             *string   `db:"data"`
	WebhookTriggered *int64    `db:"webhook_triggered"`
	CreateTime       int64     `db:"create_time"`
	UpdateTime       int64     `db:"update_time"`
}

// TransactionLog is one append-only settlement ledger entry, written only
// after chain confirmation.
type TransactionLog struct {
	Id         uint64       `db:"id"`
	BlockId    int64        `db:"block_id"`
	Chain      string       `db:"chain"`
	ChainType  ChainType    `db:"chain_type"`
	Wallet     string       `db:"wallet"`
	Hash       string       `db:"hash"`
	Token      string       `db:"token"`
	Amount     string       `db:"amount"`
	Fee        string       `db:"fee"`
	TotalPrice string       `db:"total_price"`
	Direction  LogDirection `db:"direction"`
	Action     LogAction    `db:"action"`
	Value      *string      `db:"value"`
	Status     TxStatus     `db:"status"`
	CreateTime int64        `db:"create_time"`
}

// StalledWallet is the aggregate row produced by the reconciliation
// monitor's stall query: a wallet joined with the smallest stuck nonce
// and the oldest create time among its overdue PENDING transactions.
type StalledWallet struct {
	Wallet        Wallet
	MinNonce      int64
	MinCreateTime int64
	PendingCount  uint64
}
