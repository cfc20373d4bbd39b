package issuer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"remit/apps/remit/internal/assets"
	"remit/apps/remit/internal/confirmation"
	"remit/apps/remit/internal/conversion"
)

type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

var (
	ErrUnknownToken     = errors.New("unknown token symbol")
	ErrInvalidAmount    = errors.New("token amount must be positive")
	ErrChainUnavailable = errors.New("chain backend unavailable")
	ErrSubmission       = errors.New("transaction submission failed")
	// ErrBroadcastUnknown means a signed transaction may have reached the node even
	// though the send failed. The hash is returned with it.
	ErrBroadcastUnknown = errors.New("transaction broadcast outcome unknown")
	// ErrBurnUnconfirmed means a burn was submitted but its finality is unknown,
	// so the paired mint was not sent.
	ErrBurnUnconfirmed = errors.New("burn not confirmed")
)

// ConfirmFunc blocks until txHash is final. It returns false without error when
// the wait timed out.
type ConfirmFunc func(ctx context.Context, txHash string) (bool, error)

type MintResult struct {
	TxHash    string
	PolicyID  string
	TokenUnit string
}

type SwapResult struct {
	BurnTxHash   string
	MintTxHash   string
	MintedAmount *big.Int
	PolicyID     string
}

type submitter interface {
	submit(ctx context.Context, currency *assets.Currency, redeemer Redeemer) (string, error)
}

// Options configure live issuance. A nil Backend or an unusable key selects mock mode.
type Options struct {
	PrivateKey string
	ChainID    int64
	GasLimit   uint64
	Backend    Backend
}

// Client mints and burns currency tokens. Its mode is fixed at construction.
type Client struct {
	mode      Mode
	registry  *assets.Registry
	submitter submitter
	mockChain *MockChain
	logger    *zap.Logger
	mu        sync.Mutex // one submission at a time from the issuing account
}

// New builds a live client when opts carry a backend and a valid key, otherwise a mock client.
func New(opts Options, registry *assets.Registry, logger *zap.Logger) *Client {
	if opts.Backend == nil || opts.PrivateKey == "" {
		logger.Warn("Blockchain credentials not configured, token issuer running in mock mode")
		return NewMock(registry, NewMockChain(), logger)
	}

	live, err := newLiveSubmitter(opts.Backend, opts.PrivateKey, opts.ChainID, opts.GasLimit)
	if err != nil {
		logger.Warn("Invalid blockchain credentials, token issuer running in mock mode", zap.Error(err))
		return NewMock(registry, NewMockChain(), logger)
	}

	logger.Info("Token issuer running in live mode", zap.String("issuer_address", live.from.Hex()))
	return &Client{mode: ModeLive, registry: registry, submitter: live, logger: logger}
}

// NewMock builds a mock-mode client recording into chain.
func NewMock(registry *assets.Registry, chain *MockChain, logger *zap.Logger) *Client {
	return &Client{
		mode:      ModeMock,
		registry:  registry,
		submitter: &mockSubmitter{chain: chain},
		mockChain: chain,
		logger:    logger,
	}
}

func (c *Client) Mode() Mode {
	return c.mode
}

// MockChain returns the synthetic chain in mock mode and nil in live mode.
func (c *Client) MockChain() *MockChain {
	return c.mockChain
}

// Mint issues amount smallest units of the token identified by symbol.
func (c *Client) Mint(ctx context.Context, symbol string, amount *big.Int) (MintResult, error) {
	currency, exists := c.registry.BySymbol(symbol)
	if !exists {
		return MintResult{}, fmt.Errorf("%s: %w", symbol, ErrUnknownToken)
	}

	txHash, err := c.submit(ctx, currency, MintRedeemer{Units: amount})
	result := MintResult{TxHash: txHash, PolicyID: currency.PolicyID(), TokenUnit: currency.TokenUnit()}
	if err != nil {
		return result, err
	}
	return result, nil
}

// BurnAndMint burns amount of fromSymbol, waits for the burn to be final, then mints
// the rate-converted amount of toSymbol. The mint is never submitted for an
// unconfirmed burn.
func (c *Client) BurnAndMint(ctx context.Context, fromSymbol, toSymbol string, amount *big.Int, rate decimal.Decimal, confirm ConfirmFunc) (SwapResult, error) {
	from, exists := c.registry.BySymbol(fromSymbol)
	if !exists {
		return SwapResult{}, fmt.Errorf("%s: %w", fromSymbol, ErrUnknownToken)
	}
	to, exists := c.registry.BySymbol(toSymbol)
	if !exists {
		return SwapResult{}, fmt.Errorf("%s: %w", toSymbol, ErrUnknownToken)
	}
	if amount == nil || amount.Sign() <= 0 {
		return SwapResult{}, ErrInvalidAmount
	}

	minted, err := conversion.ScaleUnits(amount, from.Decimals, to.Decimals, rate)
	if err != nil {
		return SwapResult{}, fmt.Errorf("failed to convert swap amount: %w", err)
	}
	if minted.Sign() <= 0 {
		return SwapResult{}, fmt.Errorf("swap of %s %s yields no %s: %w", amount, fromSymbol, toSymbol, ErrInvalidAmount)
	}

	burnHash, err := c.submit(ctx, from, BurnRedeemer{Units: amount})
	result := SwapResult{BurnTxHash: burnHash, PolicyID: to.PolicyID()}
	if err != nil {
		return result, fmt.Errorf("failed to burn %s: %w", fromSymbol, err)
	}

	confirmed, err := confirm(ctx, burnHash)
	if err != nil {
		if errors.Is(err, confirmation.ErrReverted) {
			return result, fmt.Errorf("burn %s reverted: %w", burnHash, err)
		}
		return result, fmt.Errorf("%w: burn %s: %w", ErrBurnUnconfirmed, burnHash, err)
	}
	if !confirmed {
		return result, fmt.Errorf("%w: burn %s not final before deadline", ErrBurnUnconfirmed, burnHash)
	}

	mintHash, err := c.submit(ctx, to, MintRedeemer{Units: minted})
	if mintHash != "" {
		result.MintTxHash = mintHash
		result.MintedAmount = minted
	}
	if err != nil {
		return result, fmt.Errorf("failed to mint %s after burn %s: %w", toSymbol, burnHash, err)
	}
	return result, nil
}

func (c *Client) submit(ctx context.Context, currency *assets.Currency, redeemer Redeemer) (string, error) {
	if redeemer.Amount() == nil || redeemer.Amount().Sign() <= 0 {
		return "", ErrInvalidAmount
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	txHash, err := c.submitter.submit(ctx, currency, redeemer)
	if err != nil {
		c.logger.Error("Failed to submit token operation",
			zap.String("mode", string(c.mode)),
			zap.String("operation", redeemer.Kind()),
			zap.String("symbol", currency.TokenSymbol),
			zap.String("amount", redeemer.Amount().String()),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return txHash, err
	}

	c.logger.Info("Submitted token operation",
		zap.String("mode", string(c.mode)),
		zap.String("operation", redeemer.Kind()),
		zap.String("symbol", currency.TokenSymbol),
		zap.String("amount", redeemer.Amount().String()),
		zap.String("tx_hash", txHash))
	return txHash, nil
}
