package chains

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/blake2b"
)

// SubstrateClient implements ChainClient over a Substrate RPC endpoint.
// Wallet addresses for substrate chains are stored as the hex encoded
// public key (0x...), not in SS58 form.
//
// gsrpc calls carry no context; the ctx parameters bound nothing here and
// timeouts rely on the underlying connection.
type SubstrateClient struct {
	endpoint string
	api      *gsrpc.SubstrateAPI
	meta     *types.Metadata
}

// NewSubstrateClient connects to a Substrate RPC endpoint and loads the
// runtime metadata needed for storage queries.
func NewSubstrateClient(endpoint string) (*SubstrateClient, error) {
	api, err := gsrpc.NewSubstrateAPI(endpoint)
	if err != nil {
		return nil, fmt.Errorf("could not connect to substrate endpoint %v: %w", endpoint, err)
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("could not load substrate metadata from %v: %w", endpoint, err)
	}
	return &SubstrateClient{
		endpoint: endpoint,
		api:      api,
		meta:     meta,
	}, nil
}

func (client *SubstrateClient) accountInfo(address string) (*types.AccountInfo, error) {
	pubKey, err := codec.HexDecodeString(address)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid substrate account key %v: %v", ErrChainRejected, address, err)
	}
	storageKey, err := types.CreateStorageKey(client.meta, "System", "Account", pubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: could not build account storage key: %v", ErrChainUnavailable, err)
	}

	accountInfo := types.AccountInfo{}
	ok, err := client.api.RPC.State.GetStorageLatest(storageKey, &accountInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: account storage query: %v", ErrChainUnavailable, err)
	}
	if !ok {
		// account not found on chain, zero nonce / zero balance
		return &types.AccountInfo{}, nil
	}
	return &accountInfo, nil
}

// NextOnChainNonce returns the account nonce from System.Account storage,
// i.e. the count of extrinsics already included for the account.
func (client *SubstrateClient) NextOnChainNonce(_ context.Context, address string) (uint64, error) {
	accountInfo, err := client.accountInfo(address)
	if err != nil {
		return 0, err
	}
	return uint64(accountInfo.Nonce), nil
}

// SubmitRawTransaction broadcasts a signed raw extrinsic via
// author_submitExtrinsic. The extrinsic hash (blake2b-256 of the payload)
// is derived locally so an "already imported" response resolves to the
// same hash.
func (client *SubstrateClient) SubmitRawTransaction(_ context.Context, rawTx string) (string, error) {
	rawHex := ensureHexPrefix(rawTx)
	rawBytes, err := hexutil.Decode(rawHex)
	if err != nil {
		return "", fmt.Errorf("%w: invalid raw extrinsic encoding: %v", ErrChainRejected, err)
	}
	extrinsicHash := blake2b.Sum256(rawBytes)
	localHash := hexutil.Encode(extrinsicHash[:])

	var submittedHash string
	err = client.api.Client.Call(&submittedHash, "author_submitExtrinsic", rawHex)
	if err != nil {
		if isKnownExtrinsicError(err) {
			return localHash, nil
		}
		if isTerminalExtrinsicError(err) {
			return "", fmt.Errorf("%w: %v", ErrChainRejected, err)
		}
		return "", fmt.Errorf("%w: author_submitExtrinsic: %v", ErrChainUnavailable, err)
	}
	if submittedHash == "" {
		submittedHash = localHash
	}
	return submittedHash, nil
}

// QueryReceipt is unsupported: plain substrate RPC cannot resolve an
// extrinsic by hash without an external indexer. Confirmation of
// substrate transactions rides on nonce reconciliation instead.
func (client *SubstrateClient) QueryReceipt(_ context.Context, _ string) (*TxReceipt, error) {
	return nil, ErrReceiptUnsupported
}

// Balance returns the free balance from System.Account storage.
func (client *SubstrateClient) Balance(_ context.Context, address string) (*big.Int, error) {
	accountInfo, err := client.accountInfo(address)
	if err != nil {
		return nil, err
	}
	if accountInfo.Data.Free.Int == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(accountInfo.Data.Free.Int), nil
}

func isKnownExtrinsicError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already imported") ||
		strings.Contains(msg, "temporarily banned")
}

func isTerminalExtrinsicError(err error) bool {
	msg := strings.ToLower(err.Error())
	terminalMessages := []string{
		"transaction is outdated",
		"stale",
		"invalid transaction",
		"bad proof",
		"priority is too low",
		"inability to pay some fees",
	}
	for _, terminalMessage := range terminalMessages {
		if strings.Contains(msg, terminalMessage) {
			return true
		}
	}
	return false
}
