package chains

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EvmClient implements ChainClient over an EVM JSON-RPC endpoint.
type EvmClient struct {
	endpoint  string
	rpcClient *rpc.Client
	ethClient *ethclient.Client
}

// NewEvmClient dials an EVM JSON-RPC endpoint.
func NewEvmClient(endpoint string) (*EvmClient, error) {
	rpcClient, err := rpc.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("could not dial evm endpoint %v: %w", endpoint, err)
	}
	return &EvmClient{
		endpoint:  endpoint,
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
	}, nil
}

// NextOnChainNonce returns eth_getTransactionCount at the latest block,
// which equals the next nonce the chain accepts for the address.
func (client *EvmClient) NextOnChainNonce(ctx context.Context, address string) (uint64, error) {
	nonce, err := client.ethClient.NonceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: eth_getTransactionCount: %v", ErrChainUnavailable, err)
	}
	return nonce, nil
}

// SubmitRawTransaction broadcasts a signed raw transaction via
// eth_sendRawTransaction. The hash is derived locally from the payload, so
// an "already known" response resolves to the same hash and stays a no-op.
func (client *EvmClient) SubmitRawTransaction(ctx context.Context, rawTx string) (string, error) {
	rawBytes, err := hexutil.Decode(ensureHexPrefix(rawTx))
	if err != nil {
		return "", fmt.Errorf("%w: invalid raw transaction encoding: %v", ErrChainRejected, err)
	}

	decodedTx := new(ethtypes.Transaction)
	err = decodedTx.UnmarshalBinary(rawBytes)
	if err != nil {
		return "", fmt.Errorf("%w: could not decode raw transaction: %v", ErrChainRejected, err)
	}
	txHash := decodedTx.Hash().Hex()

	err = client.rpcClient.CallContext(ctx, nil, "eth_sendRawTransaction", hexutil.Encode(rawBytes))
	if err != nil {
		if isKnownTxError(err) {
			return txHash, nil
		}
		if isTerminalSendError(err) {
			return "", fmt.Errorf("%w: %v", ErrChainRejected, err)
		}
		return "", fmt.Errorf("%w: eth_sendRawTransaction: %v", ErrChainUnavailable, err)
	}
	return txHash, nil
}

// QueryReceipt returns the inclusion receipt, or (nil, nil) while the
// transaction is still pending in the mempool or unknown.
func (client *EvmClient) QueryReceipt(ctx context.Context, hash string) (*TxReceipt, error) {
	receipt, err := client.ethClient.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if err == ethereum.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: eth_getTransactionReceipt: %v", ErrChainUnavailable, err)
	}

	fee := new(big.Int)
	if receipt.EffectiveGasPrice != nil {
		fee.Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
	}
	return &TxReceipt{
		BlockNumber: receipt.BlockNumber.Int64(),
		Fee:         fee,
		Success:     receipt.Status == ethtypes.ReceiptStatusSuccessful,
	}, nil
}

// Balance returns the native balance at the latest block.
func (client *EvmClient) Balance(ctx context.Context, address string) (*big.Int, error) {
	balance, err := client.ethClient.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getBalance: %v", ErrChainUnavailable, err)
	}
	return balance, nil
}

func ensureHexPrefix(value string) string {
	if strings.HasPrefix(value, "0x") {
		return value
	}
	return "0x" + value
}

// isKnownTxError matches responses for a transaction the node already
// holds, which makes the resubmission an effective no-op.
func isKnownTxError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "alreadyknown") ||
		strings.Contains(msg, "known transaction")
}

// isTerminalSendError matches chain-side rejections that retrying the same
// payload can never fix.
func isTerminalSendError(err error) bool {
	msg := strings.ToLower(err.Error())
	terminalMessages := []string{
		"nonce too low",
		"nonce too high",
		"invalid sender",
		"insufficient funds",
		"exceeds block gas limit",
		"replacement transaction underpriced",
		"transaction underpriced",
		"rlp: ",
		"invalid transaction",
	}
	for _, terminalMessage := range terminalMessages {
		if strings.Contains(msg, terminalMessage) {
			return true
		}
	}
	return false
}
