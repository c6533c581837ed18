// Package chains provides the chain adapter layer: a common capability
// interface over heterogeneous chain families (EVM JSON-RPC, Substrate
// RPC) with ranked-endpoint failover. Adding a chain family means adding
// an adapter and registering its factory, no central switch grows.
package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Apillon/blockchain-service/dbtypes"
)

var logger = logrus.StandardLogger().WithField("module", "chains")

var (
	// ErrChainUnavailable marks RPC transport failures. The affected work
	// stays PENDING and is retried by the next scheduled run.
	ErrChainUnavailable = errors.New("chain rpc unavailable")

	// ErrChainRejected marks a terminal chain-side rejection (bad nonce,
	// malformed payload, insufficient balance). Not retried.
	ErrChainRejected = errors.New("transaction rejected by chain")

	// ErrReceiptUnsupported is returned by adapters that cannot look up a
	// transaction by hash; confirmation then rides on nonce reconciliation.
	ErrReceiptUnsupported = errors.New("receipt lookup not supported")

	// ErrNoEndpoints is returned when a chain has no active RPC endpoint.
	ErrNoEndpoints = errors.New("no active endpoints for chain")
)

// TxReceipt is the chain-agnostic inclusion proof of a transaction.
type TxReceipt struct {
	BlockNumber int64
	Fee         *big.Int
	Success     bool
}

// ChainClient is the capability interface every chain family adapter
// implements. All calls are blocking; ctx bounds each RPC round trip.
type ChainClient interface {
	// NextOnChainNonce returns the authoritative next nonce for address,
	// i.e. the count of transactions already included on chain.
	NextOnChainNonce(ctx context.Context, address string) (uint64, error)

	// SubmitRawTransaction broadcasts a signed raw transaction and returns
	// its hash. Re-submitting an already-broadcast payload returns the
	// same hash without error.
	SubmitRawTransaction(ctx context.Context, rawTx string) (string, error)

	// QueryReceipt looks up the inclusion receipt for a hash. Returns
	// (nil, nil) while the transaction is not included yet.
	QueryReceipt(ctx context.Context, hash string) (*TxReceipt, error)

	// Balance returns the native token balance of address.
	Balance(ctx context.Context, address string) (*big.Int, error)
}

// ClientFactory creates an adapter bound to a single endpoint URL.
type ClientFactory func(endpointUrl string) (ChainClient, error)

// EndpointProvider resolves the ranked endpoint list of a chain, best
// ranked first. Implemented by the endpoint registry in db.
type EndpointProvider interface {
	GetEndpoints(chain string, chainType dbtypes.ChainType) []*dbtypes.Endpoint
}

// Registry hands out failover chain clients keyed by (chain, chainType).
type Registry struct {
	endpointProvider EndpointProvider
	factories        map[dbtypes.ChainType]ClientFactory

	clientsMutex sync.Mutex
	clients      map[string]*failoverClient
}

// NewRegistry creates a registry with the default EVM and Substrate
// factories registered.
func NewRegistry(endpointProvider EndpointProvider) *Registry {
	registry := &Registry{
		endpointProvider: endpointProvider,
		factories:        map[dbtypes.ChainType]ClientFactory{},
		clients:          map[string]*failoverClient{},
	}
	registry.RegisterFactory(dbtypes.ChainTypeEvm, func(endpointUrl string) (ChainClient, error) {
		return NewEvmClient(endpointUrl)
	})
	registry.RegisterFactory(dbtypes.ChainTypeSubstrate, func(endpointUrl string) (ChainClient, error) {
		return NewSubstrateClient(endpointUrl)
	})
	return registry
}

// RegisterFactory binds a chain family to its adapter factory.
func (registry *Registry) RegisterFactory(chainType dbtypes.ChainType, factory ClientFactory) {
	registry.factories[chainType] = factory
}

// GetClient returns the failover client for a chain, creating it on first
// use from the chain's ranked endpoint list.
func (registry *Registry) GetClient(chain string, chainType dbtypes.ChainType) (ChainClient, error) {
	registry.clientsMutex.Lock()
	defer registry.clientsMutex.Unlock()

	cacheKey := fmt.Sprintf("%v:%v", chainType, chain)
	if client, ok := registry.clients[cacheKey]; ok {
		return client, nil
	}

	factory := registry.factories[chainType]
	if factory == nil {
		return nil, fmt.Errorf("no adapter factory for chain type %v", chainType)
	}

	endpoints := registry.endpointProvider.GetEndpoints(chain, chainType)
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: %v/%v", ErrNoEndpoints, chain, chainType)
	}

	endpointUrls := make([]string, len(endpoints))
	for i, endpoint := range endpoints {
		endpointUrls[i] = endpoint.Url
	}

	client := &failoverClient{
		chain:        chain,
		factory:      factory,
		endpointUrls: endpointUrls,
		clients:      make([]ChainClient, len(endpointUrls)),
	}
	registry.clients[cacheKey] = client
	return client, nil
}

// failoverClient walks the ranked endpoint list on transport failures.
// Chain-side rejections are returned immediately, another endpoint would
// reject the same payload too.
type failoverClient struct {
	chain        string
	factory      ClientFactory
	endpointUrls []string

	clientsMutex sync.Mutex
	clients      []ChainClient
}

func (fc *failoverClient) clientAt(index int) (ChainClient, error) {
	fc.clientsMutex.Lock()
	defer fc.clientsMutex.Unlock()
	if fc.clients[index] == nil {
		client, err := fc.factory(fc.endpointUrls[index])
		if err != nil {
			return nil, err
		}
		fc.clients[index] = client
	}
	return fc.clients[index], nil
}

func (fc *failoverClient) each(fn func(client ChainClient) error) error {
	var lastErr error
	for index := range fc.endpointUrls {
		client, err := fc.clientAt(index)
		if err != nil {
			logger.WithField("chain", fc.chain).Warnf("could not connect to endpoint %v: %v", fc.endpointUrls[index], err)
			lastErr = err
			continue
		}
		err = fn(client)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrChainRejected) || errors.Is(err, ErrReceiptUnsupported) {
			return err
		}
		logger.WithField("chain", fc.chain).Warnf("endpoint %v failed: %v", fc.endpointUrls[index], err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoEndpoints
	}
	if !errors.Is(lastErr, ErrChainUnavailable) {
		lastErr = fmt.Errorf("%w: %v", ErrChainUnavailable, lastErr)
	}
	return lastErr
}

func (fc *failoverClient) NextOnChainNonce(ctx context.Context, address string) (uint64, error) {
	var nonce uint64
	err := fc.each(func(client ChainClient) error {
		var err error
		nonce, err = client.NextOnChainNonce(ctx, address)
		return err
	})
	return nonce, err
}

func (fc *failoverClient) SubmitRawTransaction(ctx context.Context, rawTx string) (string, error) {
	var hash string
	err := fc.each(func(client ChainClient) error {
		var err error
		hash, err = client.SubmitRawTransaction(ctx, rawTx)
		return err
	})
	return hash, err
}

func (fc *failoverClient) QueryReceipt(ctx context.Context, hash string) (*TxReceipt, error) {
	var receipt *TxReceipt
	err := fc.each(func(client ChainClient) error {
		var err error
		receipt, err = client.QueryReceipt(ctx, hash)
		return err
	})
	return receipt, err
}

func (fc *failoverClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	var balance *big.Int
	err := fc.each(func(client ChainClient) error {
		var err error
		balance, err = client.Balance(ctx, address)
		return err
	})
	return balance, err
}

// CallTimeout is a convenience wrapper creating the per-call context used
// by all scheduled jobs.
func CallTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
