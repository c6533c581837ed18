package services

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/Apillon/blockchain-service/chains"
	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
)

var logger_qs = logrus.StandardLogger().WithField("module", "queue_service")

// QueueService accepts transaction requests from other internal services
// and places them on the transaction queue with a strictly ordered
// per-wallet nonce.
type QueueService struct {
	database *db.Database
}

func NewQueueService(database *db.Database) *QueueService {
	return &QueueService{
		database: database,
	}
}

// EnqueueRequest is the inbound enqueue call payload.
type EnqueueRequest struct {
	Chain          string            `json:"chain"`
	ChainType      dbtypes.ChainType `json:"chainType"`
	RawTransaction string            `json:"rawTransaction"`
	FromAddress    string            `json:"fromAddress"`
	ToAddress      string            `json:"toAddress,omitempty"`
	ReferenceTable string            `json:"referenceTable,omitempty"`
	ReferenceId    string            `json:"referenceId,omitempty"`
	Data           string            `json:"data,omitempty"`
}

// EnqueueResult is returned synchronously; everything past it is
// asynchronous and surfaces via webhook or status polling.
type EnqueueResult struct {
	QueueId         uint64 `json:"queueId"`
	TransactionHash string `json:"transactionHash"`
	Nonce           int64  `json:"nonce"`
}

func (req *EnqueueRequest) validate() error {
	if req.Chain == "" {
		return &ValidationError{Field: "chain", Message: "must not be empty"}
	}
	if req.ChainType != dbtypes.ChainTypeEvm && req.ChainType != dbtypes.ChainTypeSubstrate {
		return &ValidationError{Field: "chainType", Message: "unknown chain type"}
	}
	if req.FromAddress == "" {
		return &ValidationError{Field: "fromAddress", Message: "must not be empty"}
	}
	if req.RawTransaction == "" {
		return &ValidationError{Field: "rawTransaction", Message: "must not be empty"}
	}
	return nil
}

// Enqueue validates the request, assigns the next nonce under the wallet
// row lock and records the PENDING queue row in the same transaction.
// No two concurrent callers for the same wallet ever receive the same
// nonce: the wallet row is the serialization point, and the unique
// (chain, chain_type, address, nonce, status) index backs the guarantee
// even if locking were bypassed.
func (qs *QueueService) Enqueue(req *EnqueueRequest) (*EnqueueResult, error) {
	err := req.validate()
	if err != nil {
		return nil, err
	}

	transactionHash, err := chains.LocalTransactionHash(req.ChainType, req.RawTransaction)
	if err != nil {
		return nil, &ValidationError{Field: "rawTransaction", Message: err.Error()}
	}

	result := &EnqueueResult{
		TransactionHash: transactionHash,
	}
	err = qs.database.RunDBTransaction(func(tx *sqlx.Tx) error {
		wallet, err := qs.database.GetWalletForUpdate(tx, req.Chain, req.ChainType, req.FromAddress)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrWalletNotFound
			}
			return err
		}

		assignedNonce := wallet.NextNonce
		err = qs.database.UpdateWalletNextNonce(tx, wallet.Id, assignedNonce+1)
		if err != nil {
			return err
		}

		queueItem := &dbtypes.TransactionQueueItem{
			Address:         wallet.Address,
			Chain:           wallet.Chain,
			ChainType:       wallet.ChainType,
			Nonce:           assignedNonce,
			TransactionHash: &transactionHash,
			RawTransaction:  req.RawTransaction,
			Status:          dbtypes.TxStatusPending,
		}
		if req.ToAddress != "" {
			queueItem.ToAddress = &req.ToAddress
		}
		if req.ReferenceTable != "" {
			queueItem.ReferenceTable = &req.ReferenceTable
		}
		if req.ReferenceId != "" {
			queueItem.ReferenceId = &req.ReferenceId
		}
		if req.Data != "" {
			queueItem.Data = &req.Data
		}

		queueId, err := qs.database.InsertQueueItem(tx, queueItem)
		if err != nil {
			return err
		}

		result.QueueId = queueId
		result.Nonce = assignedNonce
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger_qs.WithFields(logrus.Fields{
		"chain":   req.Chain,
		"address": req.FromAddress,
		"nonce":   result.Nonce,
		"queueId": result.QueueId,
	}).Infof("enqueued transaction %v", result.TransactionHash)

	return result, nil
}

// GetQueueItem returns a single ledger row for status polling.
func (qs *QueueService) GetQueueItem(id uint64) *dbtypes.TransactionQueueItem {
	return qs.database.GetQueueItem(id)
}

// SelectMultisigWallet picks the least recently used multisig wallet
// matching the address pattern and bumps its usage timestamp, both inside
// one transaction so concurrent callers spread across the pool.
func (qs *QueueService) SelectMultisigWallet(chain string, chainType dbtypes.ChainType, addressPattern string) (*dbtypes.MultisigWallet, error) {
	var selected *dbtypes.MultisigWallet
	err := qs.database.RunDBTransaction(func(tx *sqlx.Tx) error {
		wallet, err := qs.database.GetLeastUsedMultisigWallet(tx, chain, chainType, addressPattern)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrWalletNotFound
			}
			return err
		}
		err = qs.database.BumpMultisigWalletUsage(tx, wallet.Id)
		if err != nil {
			return err
		}
		selected = wallet
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger_qs.WithFields(logrus.Fields{
		"chain":   chain,
		"address": selected.Address,
	}).Debugf("selected multisig wallet %v", maskAddress(selected.Address))

	return selected, nil
}

func maskAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:8] + ".." + address[len(address)-4:]
}
