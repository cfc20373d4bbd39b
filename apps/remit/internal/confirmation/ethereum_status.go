package confirmation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReceiptBackend is the subset of ethclient.Client needed to check finality.
type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// EthereumStatus treats a transaction as confirmed once its block is at least
// finalityOffset blocks behind the chain head.
type EthereumStatus struct {
	backend        ReceiptBackend
	finalityOffset uint64
}

func NewEthereumStatus(backend ReceiptBackend, finalityOffset uint64) *EthereumStatus {
	return &EthereumStatus{backend: backend, finalityOffset: finalityOffset}
}

func (e *EthereumStatus) Status(ctx context.Context, txHash string) (TxState, error) {
	receipt, err := e.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TxPending, nil
		}
		return "", fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return TxReverted, nil
	}
	if receipt.BlockNumber == nil {
		return TxPending, nil
	}

	latestBlock, err := e.backend.BlockNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get latest block: %w", err)
	}

	if latestBlock >= receipt.BlockNumber.Uint64()+e.finalityOffset {
		return TxConfirmed, nil
	}
	return TxPending, nil
}
