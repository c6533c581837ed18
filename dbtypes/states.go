package dbtypes

// TxStatus is the lifecycle state of a queued transaction.
// PENDING rows are waiting for broadcast or inclusion, all other states
// are terminal and eligible for webhook dispatch.
type TxStatus uint8

const (
	TxStatusPending   TxStatus = 1
	TxStatusConfirmed TxStatus = 2
	TxStatusFailed    TxStatus = 3
	TxStatusError     TxStatus = 4
)

func (s TxStatus) Terminal() bool {
	return s != TxStatusPending
}

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "PENDING"
	case TxStatusConfirmed:
		return "CONFIRMED"
	case TxStatusFailed:
		return "FAILED"
	case TxStatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ChainType selects the chain adapter family for a chain.
type ChainType uint8

const (
	ChainTypeEvm       ChainType = 1
	ChainTypeSubstrate ChainType = 2
)

func (t ChainType) String() string {
	switch t {
	case ChainTypeEvm:
		return "EVM"
	case ChainTypeSubstrate:
		return "SUBSTRATE"
	default:
		return "UNKNOWN"
	}
}

// RowStatus is the generic active/disabled state used by reference data
// rows (wallets, endpoints, multisig wallets).
type RowStatus uint8

const (
	RowStatusActive   RowStatus = 5
	RowStatusDisabled RowStatus = 9
)

// LogDirection marks a settlement ledger entry as incoming or outgoing.
type LogDirection uint8

const (
	LogDirectionIncome LogDirection = 1
	LogDirectionCost   LogDirection = 2
)

// LogAction classifies a settlement ledger entry.
type LogAction string

const (
	LogActionDeposit     LogAction = "DEPOSIT"
	LogActionWithdrawal  LogAction = "WITHDRAWAL"
	LogActionTransaction LogAction = "TRANSACTION"
)
