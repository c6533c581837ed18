package chains

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/blake2b"

	"github.com/Apillon/blockchain-service/dbtypes"
)

// LocalTransactionHash derives the transaction hash from a signed raw
// payload without touching the chain. Enqueue responses return this hash
// before anything is broadcast.
func LocalTransactionHash(chainType dbtypes.ChainType, rawTx string) (string, error) {
	rawBytes, err := hexutil.Decode(ensureHexPrefix(rawTx))
	if err != nil {
		return "", fmt.Errorf("invalid raw transaction encoding: %w", err)
	}

	switch chainType {
	case dbtypes.ChainTypeEvm:
		decodedTx := new(ethtypes.Transaction)
		err = decodedTx.UnmarshalBinary(rawBytes)
		if err != nil {
			return "", fmt.Errorf("could not decode raw evm transaction: %w", err)
		}
		return decodedTx.Hash().Hex(), nil
	case dbtypes.ChainTypeSubstrate:
		extrinsicHash := blake2b.Sum256(rawBytes)
		return hexutil.Encode(extrinsicHash[:]), nil
	default:
		return "", fmt.Errorf("unknown chain type %v", chainType)
	}
}
