package services

import (
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Apillon/blockchain-service/alert"
	"github.com/Apillon/blockchain-service/chains"
	"github.com/Apillon/blockchain-service/db"
	"github.com/Apillon/blockchain-service/dbtypes"
)

var logger_ws = logrus.StandardLogger().WithField("module", "wallet_service")

// WalletInfo is the read-only wallet view. Balance comes from a live
// chain RPC call; when the call fails the balance is omitted rather than
// failing the whole response.
type WalletInfo struct {
	Wallet          *dbtypes.Wallet `json:"wallet"`
	Balance         *string         `json:"balance,omitempty"`
	BelowMinBalance bool            `json:"belowMinBalance,omitempty"`
}

// WalletService serves wallet views and the low balance sweep.
type WalletService struct {
	database   *db.Database
	registry   *chains.Registry
	alerter    alert.Alerter
	rpcTimeout time.Duration
}

func NewWalletService(database *db.Database, registry *chains.Registry, alerter alert.Alerter, rpcTimeout time.Duration) *WalletService {
	if alerter == nil {
		alerter = &alert.LogAlerter{}
	}
	return &WalletService{
		database:   database,
		registry:   registry,
		alerter:    alerter,
		rpcTimeout: rpcTimeout,
	}
}

// GetWalletInfo loads the wallet record and decorates it with the live
// chain balance when reachable.
func (ws *WalletService) GetWalletInfo(chain string, chainType dbtypes.ChainType, address string) (*WalletInfo, error) {
	wallet := ws.database.GetWallet(chain, chainType, address)
	if wallet == nil {
		return nil, ErrWalletNotFound
	}

	info := &WalletInfo{
		Wallet: wallet,
	}

	balance := ws.liveBalance(wallet)
	if balance != nil {
		balanceStr := balance.String()
		info.Balance = &balanceStr
		if wallet.MinBalance != nil {
			minBalance, ok := new(big.Int).SetString(*wallet.MinBalance, 10)
			if ok && balance.Cmp(minBalance) < 0 {
				info.BelowMinBalance = true
			}
		}
	}

	return info, nil
}

// CheckBalances sweeps the active wallets of a chain and alerts for every
// wallet below its configured minimum balance.
func (ws *WalletService) CheckBalances(chain string) error {
	wallets := ws.database.GetActiveWallets(chain)
	for _, wallet := range wallets {
		if wallet.MinBalance == nil {
			continue
		}
		minBalance, ok := new(big.Int).SetString(*wallet.MinBalance, 10)
		if !ok {
			continue
		}

		balance := ws.liveBalance(wallet)
		if balance == nil || balance.Cmp(minBalance) >= 0 {
			continue
		}

		err := ws.alerter.Send(alert.Alert{
			Type:    alert.AlertTypeLowBalance,
			Chain:   wallet.Chain,
			Wallet:  wallet.Address,
			Message: "wallet balance below configured minimum",
			Fields: map[string]string{
				"balance":    balance.String(),
				"minBalance": minBalance.String(),
			},
		})
		if err != nil {
			logger_ws.Warnf("error sending low balance alert: %v", err)
		}
	}
	return nil
}

func (ws *WalletService) liveBalance(wallet *dbtypes.Wallet) *big.Int {
	client, err := ws.registry.GetClient(wallet.Chain, wallet.ChainType)
	if err != nil {
		logger_ws.Debugf("no chain client for %v/%v: %v", wallet.Chain, wallet.ChainType, err)
		return nil
	}

	ctx, cancel := chains.CallTimeout(ws.rpcTimeout)
	defer cancel()
	balance, err := client.Balance(ctx, wallet.Address)
	if err != nil {
		logger_ws.WithFields(logrus.Fields{
			"chain":   wallet.Chain,
			"address": wallet.Address,
		}).Debugf("error fetching live balance: %v", err)
		return nil
	}
	return balance
}
