package issuer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"remit/apps/remit/internal/assets"
)

// Backend is the subset of ethclient.Client used to submit transactions.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// liveSubmitter signs policy calls with the issuer key and sends them to the chain.
// Callers serialise submit; the local nonce assumes a single in-process sender.
type liveSubmitter struct {
	backend   Backend
	key       *ecdsa.PrivateKey
	from      common.Address
	signer    types.Signer
	gasLimit  uint64
	policyABI abi.ABI
	nextNonce *uint64
}

func newLiveSubmitter(backend Backend, privateKeyHex string, chainID int64, gasLimit uint64) (*liveSubmitter, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid issuer private key: %w", err)
	}

	policyABI, err := parsePolicyABI()
	if err != nil {
		return nil, err
	}

	return &liveSubmitter{
		backend:   backend,
		key:       key,
		from:      crypto.PubkeyToAddress(key.PublicKey),
		signer:    types.LatestSignerForChainID(big.NewInt(chainID)),
		gasLimit:  gasLimit,
		policyABI: policyABI,
	}, nil
}

func (s *liveSubmitter) submit(ctx context.Context, currency *assets.Currency, redeemer Redeemer) (string, error) {
	data, err := encodeRedeemer(s.policyABI, currency, redeemer)
	if err != nil {
		return "", err
	}

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce from blockchain: %v: %w", err, ErrChainUnavailable)
	}
	if s.nextNonce != nil && *s.nextNonce > nonce {
		nonce = *s.nextNonce
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price from blockchain: %v: %w", err, ErrChainUnavailable)
	}

	policy := currency.Policy
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      s.gasLimit,
		To:       &policy,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s transaction: %w", redeemer.Kind(), err)
	}

	txHash := strings.TrimPrefix(signedTx.Hash().Hex(), "0x")
	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		// A JSON-RPC error is the node refusing the transaction. Anything else may have
		// failed after the node accepted it, so the hash goes back for reconciliation.
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return "", fmt.Errorf("failed to send %s transaction: %v: %w", redeemer.Kind(), err, ErrSubmission)
		}
		return txHash, fmt.Errorf("failed to send %s transaction %s: %w: %w", redeemer.Kind(), txHash, ErrBroadcastUnknown, err)
	}

	next := nonce + 1
	s.nextNonce = &next

	return txHash, nil
}
