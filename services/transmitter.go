package services

import (
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/Apillon/blockchain-service/chains"
	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
)

var logger_tm = logrus.StandardLogger().WithField("module", "transmitter")

// Transmitter submits queued transactions to the chain RPC in nonce order
// per wallet. It is safe to re-invoke at any time: resubmitting an
// already-broadcast raw transaction resolves to the same hash and is a
// no-op from the chain's perspective.
type Transmitter struct {
	database     *db.Database
	registry     *chains.Registry
	maxPerWallet int
	rpcTimeout   time.Duration
}

func NewTransmitter(database *db.Database, registry *chains.Registry, maxPerWallet int, rpcTimeout time.Duration) *Transmitter {
	if maxPerWallet <= 0 {
		maxPerWallet = 50
	}
	return &Transmitter{
		database:     database,
		registry:     registry,
		maxPerWallet: maxPerWallet,
		rpcTimeout:   rpcTimeout,
	}
}

// Run processes every wallet with PENDING rows on the given chain. A
// failing wallet is logged and skipped, it never aborts the run for other
// wallets. Infrastructure failures (no adapter, no endpoints) abort the
// invocation so the external scheduler retries the whole run.
func (tm *Transmitter) Run(chain string, chainType dbtypes.ChainType) error {
	client, err := tm.registry.GetClient(chain, chainType)
	if err != nil {
		return err
	}

	addresses := tm.database.GetPendingWalletAddresses(chain, chainType)
	for _, address := range addresses {
		err := tm.processWallet(client, chain, chainType, address)
		if err != nil {
			logger_tm.WithFields(logrus.Fields{
				"chain":   chain,
				"address": address,
			}).Warnf("error submitting transactions: %v", err)
		}
	}
	return nil
}

// processWallet walks the wallet's PENDING rows in nonce order. On an
// ambiguous transport failure the walk stops: later nonces cannot land
// before the failed one anyway, and the reconciliation monitor picks up
// whatever stays stuck.
func (tm *Transmitter) processWallet(client chains.ChainClient, chain string, chainType dbtypes.ChainType, address string) error {
	items := tm.database.GetPendingQueueItems(chain, chainType, address, uint32(tm.maxPerWallet))

	for _, item := range items {
		ctx, cancel := chains.CallTimeout(tm.rpcTimeout)
		transactionHash, err := client.SubmitRawTransaction(ctx, item.RawTransaction)
		cancel()

		if err != nil {
			if errors.Is(err, chains.ErrChainRejected) {
				logger_tm.WithFields(logrus.Fields{
					"chain":   chain,
					"address": address,
					"nonce":   item.Nonce,
				}).Warnf("transaction rejected by chain: %v", err)
				dbErr := tm.database.RunDBTransaction(func(tx *sqlx.Tx) error {
					return tm.database.SetQueueItemStatus(tx, item.Id, dbtypes.TxStatusFailed)
				})
				if dbErr != nil {
					return dbErr
				}
				continue
			}
			// ambiguous failure or timeout: leave PENDING for the
			// reconciliation monitor and stop submitting for this wallet
			return err
		}

		err = tm.database.RunDBTransaction(func(tx *sqlx.Tx) error {
			if item.TransactionHash == nil || *item.TransactionHash != transactionHash {
				return tm.database.SetQueueItemSubmitted(tx, item.Id, transactionHash)
			}
			return nil
		})
		if err != nil {
			return err
		}

		logger_tm.WithFields(logrus.Fields{
			"chain":   chain,
			"address": address,
			"nonce":   item.Nonce,
		}).Infof("submitted transaction %v", transactionHash)
	}

	return nil
}
