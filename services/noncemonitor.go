package services

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/Apillon/blockchain-service/alert"
	"github.com/Apillon/blockchain-service/chains"
	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
)

var logger_nm = logrus.StandardLogger().WithField("module", "nonce_monitor")

// NonceMonitor reconciles internal nonce bookkeeping against chain ground
// truth. It runs on a schedule, decoupled from the submission path, and
// either auto-corrects bookkeeping drift or raises an operator alert for
// genuinely wedged transactions.
type NonceMonitor struct {
	database       *db.Database
	registry       *chains.Registry
	alerter        alert.Alerter
	stallThreshold time.Duration
	rpcTimeout     time.Duration
}

func NewNonceMonitor(database *db.Database, registry *chains.Registry, alerter alert.Alerter, stallThreshold time.Duration, rpcTimeout time.Duration) *NonceMonitor {
	if stallThreshold == 0 {
		stallThreshold = 15 * time.Minute
	}
	if alerter == nil {
		alerter = &alert.LogAlerter{}
	}
	return &NonceMonitor{
		database:       database,
		registry:       registry,
		alerter:        alerter,
		stallThreshold: stallThreshold,
		rpcTimeout:     rpcTimeout,
	}
}

// Run reconciles every wallet with overdue PENDING transactions. A single
// wallet's RPC failure is logged and does not abort reconciliation of the
// other wallets in the run.
func (nm *NonceMonitor) Run(chain string) error {
	cutoffTime := time.Now().Add(-nm.stallThreshold).Unix()
	stalledWallets := nm.database.GetStalledWallets(cutoffTime, chain)

	for _, stalled := range stalledWallets {
		err := nm.reconcileWallet(stalled)
		if err != nil {
			logger_nm.WithFields(logrus.Fields{
				"chain":   stalled.Wallet.Chain,
				"address": stalled.Wallet.Address,
			}).Warnf("error reconciling wallet: %v", err)
		}
	}
	return nil
}

// reconcileWallet handles one stalled wallet:
//
//   - the stall is only handled when it is new, i.e. last_reset_nonce is
//     unset or the minimum stuck nonce advanced past it; this suppresses
//     re-resetting and re-alerting on the same stall across runs
//   - when the chain's authoritative nonce disagrees with internal
//     bookkeeping, the wallet's nonce state is reset to chain truth and no
//     alert is raised (expected self-healing)
//   - when chain truth matches internal belief the transaction is
//     genuinely wedged and an operator alert is raised
func (nm *NonceMonitor) reconcileWallet(stalled *dbtypes.StalledWallet) error {
	wallet := &stalled.Wallet

	if wallet.LastResetNonce != nil && stalled.MinNonce <= *wallet.LastResetNonce {
		return nil
	}

	client, err := nm.registry.GetClient(wallet.Chain, wallet.ChainType)
	if err != nil {
		return err
	}

	ctx, cancel := chains.CallTimeout(nm.rpcTimeout)
	onChainNextNonce, err := client.NextOnChainNonce(ctx, wallet.Address)
	cancel()
	if err != nil {
		return fmt.Errorf("error querying on-chain nonce: %w", err)
	}

	candidate := int64(onChainNextNonce) - 1
	lastProcessedNonce := int64(-1)
	if wallet.LastProcessedNonce != nil {
		lastProcessedNonce = *wallet.LastProcessedNonce
	}

	if candidate != lastProcessedNonce {
		// bookkeeping drift: chain truth disagrees with internal state,
		// reset and let the queue recover on the next transmitter run
		logger_nm.WithFields(logrus.Fields{
			"chain":         wallet.Chain,
			"address":       wallet.Address,
			"lastProcessed": lastProcessedNonce,
			"candidate":     candidate,
			"minStuckNonce": stalled.MinNonce,
		}).Infof("nonce drift detected, resetting wallet nonce state")

		return nm.database.RunDBTransaction(func(tx *sqlx.Tx) error {
			return nm.database.ResetWalletNonces(tx, wallet.Id, candidate, candidate)
		})
	}

	// chain truth matches internal belief: the transaction is wedged with
	// no chain-side explanation, this needs an operator
	stallDuration := time.Since(time.Unix(stalled.MinCreateTime, 0)).Round(time.Second)
	logger_nm.WithFields(logrus.Fields{
		"chain":         wallet.Chain,
		"address":       wallet.Address,
		"minStuckNonce": stalled.MinNonce,
		"stallDuration": stallDuration,
	}).Warnf("stuck transaction without nonce drift")

	alertErr := nm.alerter.Send(alert.Alert{
		Type:    alert.AlertTypeStuckTransaction,
		Chain:   wallet.Chain,
		Wallet:  wallet.Address,
		Message: fmt.Sprintf("transaction with nonce %v stuck for %v", stalled.MinNonce, stallDuration),
		Fields: map[string]string{
			"nonce":        fmt.Sprintf("%v", stalled.MinNonce),
			"pendingCount": fmt.Sprintf("%v", stalled.PendingCount),
			"stalledSince": time.Unix(stalled.MinCreateTime, 0).UTC().Format(time.RFC3339),
		},
	})
	if alertErr != nil {
		logger_nm.Warnf("error sending stuck transaction alert: %v", alertErr)
	}

	// arm the guard so the same stall does not re-alert every run; it
	// re-engages once the minimum stuck nonce advances
	return nm.database.RunDBTransaction(func(tx *sqlx.Tx) error {
		return nm.database.SetWalletLastResetNonce(tx, wallet.Id, stalled.MinNonce)
	})
}
