package services

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/Apillon/blockchain-service/chains"
	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
)

var logger_cf = logrus.StandardLogger().WithField("module", "confirmer")

// Confirmer sweeps broadcast transactions for chain inclusion. Included
// transactions move to CONFIRMED/FAILED and confirmed ones are appended to
// the settlement ledger. For chain families without receipt lookup the
// sweep falls back to the authoritative account nonce: every nonce below
// the chain's next nonce is included by definition.
type Confirmer struct {
	database   *db.Database
	registry   *chains.Registry
	rpcTimeout time.Duration
}

func NewConfirmer(database *db.Database, registry *chains.Registry, rpcTimeout time.Duration) *Confirmer {
	return &Confirmer{
		database:   database,
		registry:   registry,
		rpcTimeout: rpcTimeout,
	}
}

// Run checks every broadcast PENDING transaction on the given chain.
// Per-item RPC failures leave the item PENDING for the next run.
func (cf *Confirmer) Run(chain string, chainType dbtypes.ChainType) error {
	client, err := cf.registry.GetClient(chain, chainType)
	if err != nil {
		return err
	}

	items := cf.database.GetSubmittedPendingItems(chain, chainType, 200)
	if len(items) == 0 {
		return nil
	}

	// per-wallet cache of the chain's next nonce for the receipt-less path
	onChainNonces := map[string]uint64{}

	for _, item := range items {
		ctx, cancel := chains.CallTimeout(cf.rpcTimeout)
		receipt, err := client.QueryReceipt(ctx, *item.TransactionHash)
		cancel()

		if err != nil {
			if errors.Is(err, chains.ErrReceiptUnsupported) {
				err = cf.confirmByNonce(client, item, onChainNonces)
				if err != nil {
					logger_cf.WithFields(logrus.Fields{
						"chain": chain,
						"hash":  *item.TransactionHash,
					}).Warnf("error confirming by nonce: %v", err)
				}
				continue
			}
			logger_cf.WithFields(logrus.Fields{
				"chain": chain,
				"hash":  *item.TransactionHash,
			}).Warnf("error querying receipt: %v", err)
			continue
		}
		if receipt == nil {
			// not included yet
			continue
		}

		err = cf.finalizeItem(item, receipt)
		if err != nil {
			logger_cf.WithFields(logrus.Fields{
				"chain": chain,
				"hash":  *item.TransactionHash,
			}).Warnf("error finalizing transaction: %v", err)
		}
	}
	return nil
}

func (cf *Confirmer) confirmByNonce(client chains.ChainClient, item *dbtypes.TransactionQueueItem, onChainNonces map[string]uint64) error {
	nextNonce, cached := onChainNonces[item.Address]
	if !cached {
		ctx, cancel := chains.CallTimeout(cf.rpcTimeout)
		var err error
		nextNonce, err = client.NextOnChainNonce(ctx, item.Address)
		cancel()
		if err != nil {
			return err
		}
		onChainNonces[item.Address] = nextNonce
	}

	if item.Nonce >= int64(nextNonce) {
		// not included yet
		return nil
	}
	return cf.finalizeItem(item, &chains.TxReceipt{Success: true})
}

// finalizeItem moves the row to its terminal status, appends the
// settlement ledger entry on success and advances the wallet's processed
// nonce, all in one transaction.
func (cf *Confirmer) finalizeItem(item *dbtypes.TransactionQueueItem, receipt *chains.TxReceipt) error {
	status := dbtypes.TxStatusConfirmed
	if !receipt.Success {
		status = dbtypes.TxStatusFailed
	}

	err := cf.database.RunDBTransaction(func(tx *sqlx.Tx) error {
		err := cf.database.SetQueueItemStatus(tx, item.Id, status)
		if err != nil {
			return err
		}

		wallet, err := cf.database.GetWalletForUpdate(tx, item.Chain, item.ChainType, item.Address)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if wallet != nil && (wallet.LastProcessedNonce == nil || item.Nonce > *wallet.LastProcessedNonce) {
			err = cf.database.UpdateWalletLastProcessedNonce(tx, wallet.Id, item.Nonce)
			if err != nil {
				return err
			}
		}

		if status != dbtypes.TxStatusConfirmed {
			return nil
		}

		fee := "0"
		if receipt.Fee != nil {
			fee = receipt.Fee.String()
		}
		token := ""
		if wallet != nil {
			token = wallet.Token
		}
		return cf.database.InsertTransactionLog(tx, &dbtypes.TransactionLog{
			BlockId:    receipt.BlockNumber,
			Chain:      item.Chain,
			ChainType:  item.ChainType,
			Wallet:     item.Address,
			Hash:       *item.TransactionHash,
			Token:      token,
			Amount:     "0",
			Fee:        fee,
			TotalPrice: fee,
			Direction:  dbtypes.LogDirectionCost,
			Action:     dbtypes.LogActionTransaction,
			Status:     status,
		})
	})
	if err != nil {
		return err
	}

	logger_cf.WithFields(logrus.Fields{
		"chain":  item.Chain,
		"nonce":  item.Nonce,
		"status": status.String(),
	}).Infof("finalized transaction %v", *item.TransactionHash)

	return nil
}
