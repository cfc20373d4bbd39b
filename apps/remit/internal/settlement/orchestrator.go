package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"remit/apps/remit/internal/assets"
	"remit/apps/remit/internal/conversion"
	"remit/apps/remit/internal/issuer"
	"remit/apps/remit/internal/model"
)

// persistTimeout bounds the final status write, which runs even after the settlement
// context was cancelled.
const persistTimeout = 10 * time.Second

type Store interface {
	FindByID(ctx context.Context, id string) (*model.Transfer, error)
	ClaimForProcessing(ctx context.Context, id string, version int64) (*model.Transfer, error)
	RecordSubmission(ctx context.Context, id, txHash, explorerURL string) error
	UpdateStatus(ctx context.Context, id string, status model.Status, update model.StatusUpdate) (*model.Transfer, error)
	MarkForReconciliation(ctx context.Context, id, reason string) (*model.Transfer, error)
}

type OperationLog interface {
	Append(ctx context.Context, op model.OperationRecord) error
}

type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (conversion.Conversion, error)
	ToHub(ctx context.Context, amount decimal.Decimal, currency string) (conversion.Conversion, error)
	FromHub(ctx context.Context, hubAmount decimal.Decimal, currency string) (conversion.Conversion, error)
}

type TokenIssuer interface {
	Mode() issuer.Mode
	Mint(ctx context.Context, symbol string, amount *big.Int) (issuer.MintResult, error)
	BurnAndMint(ctx context.Context, fromSymbol, toSymbol string, amount *big.Int, rate decimal.Decimal, confirm issuer.ConfirmFunc) (issuer.SwapResult, error)
}

type ConfirmationWaiter interface {
	AwaitConfirmation(ctx context.Context, txHash string, maxWait time.Duration) (bool, error)
}

type Options struct {
	ConfirmationMaxWait time.Duration
	ExplorerBaseURL     string
	Retry               RetryPolicy
}

// Orchestrator drives a transfer from pending or paid to completed or failed.
type Orchestrator struct {
	store      Store
	operations OperationLog
	converter  Converter
	issuer     TokenIssuer
	waiter     ConfirmationWaiter
	registry   *assets.Registry
	opts       Options
	logger     *zap.Logger
}

func NewOrchestrator(store Store, operations OperationLog, converter Converter, tokenIssuer TokenIssuer,
	waiter ConfirmationWaiter, registry *assets.Registry, opts Options, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		operations: operations,
		converter:  converter,
		issuer:     tokenIssuer,
		waiter:     waiter,
		registry:   registry,
		opts:       opts,
		logger:     logger,
	}
}

// outcome is what a successful settlement writes onto the transfer.
type outcome struct {
	txHash          string
	recipientAmount decimal.Decimal
	hubAmount       *decimal.Decimal
	rate            decimal.Decimal
	path            string
	source          model.RateSource
}

// Settle settles one transfer. Transfers that are not pending or paid, or that another
// worker already claimed, are left alone. Every outcome is persisted before Settle returns;
// the returned error only reports why a settlement did not complete.
func (o *Orchestrator) Settle(ctx context.Context, transferID string) error {
	transfer, err := o.store.FindByID(ctx, transferID)
	if err != nil {
		return fmt.Errorf("failed to load transfer %s: %w", transferID, err)
	}

	if !transfer.Status.Settleable() {
		o.logger.Info("Transfer not settleable, skipping",
			zap.String("transfer_id", transferID),
			zap.String("status", string(transfer.Status)))
		return nil
	}

	claimed, err := o.store.ClaimForProcessing(ctx, transferID, transfer.Version)
	if errors.Is(err, model.ErrStaleTransfer) {
		o.logger.Info("Transfer claimed by another worker, skipping", zap.String("transfer_id", transferID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim transfer %s: %w", transferID, err)
	}

	o.logger.Info("Settling transfer",
		zap.String("transfer_id", transferID),
		zap.String("sender_currency", claimed.SenderCurrency),
		zap.String("recipient_currency", claimed.RecipientCurrency),
		zap.String("sender_amount", claimed.SenderAmount.String()),
		zap.String("mode", string(o.issuer.Mode())))

	result, submittedHash, err := o.execute(ctx, claimed)
	if err != nil {
		return o.resolveFailure(ctx, claimed, submittedHash, err)
	}

	return o.complete(ctx, claimed, result)
}

// Fail marks a processing transfer failed. It is used when a settlement aborted without
// reaching its own failure handling.
func (o *Orchestrator) Fail(ctx context.Context, transferID string, cause error) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	reason := cause.Error()
	_, err := o.store.UpdateStatus(persistCtx, transferID, model.StatusFailed, model.StatusUpdate{FailureReason: &reason})
	return err
}

// execute performs the token operations for a claimed transfer. On failure it also returns
// the hash of a settling transaction that was already submitted, if any.
func (o *Orchestrator) execute(ctx context.Context, t *model.Transfer) (outcome, string, error) {
	if err := t.Validate(); err != nil {
		return outcome{}, "", &Error{Kind: KindProgrammer, Op: "validate", Err: fmt.Errorf("%w: %v", ErrMalformedTransfer, err)}
	}

	recipient, exists := o.registry.Get(t.RecipientCurrency)
	if !exists {
		return outcome{}, "", classify("resolve currency", fmt.Errorf("%s: %w", t.RecipientCurrency, ErrUnsupportedCurrency))
	}

	switch {
	case recipient.RequiresHubProof:
		return o.settleViaSwap(ctx, t, recipient)
	case recipient.HasToken():
		return o.settleDirect(ctx, t, recipient)
	default:
		return o.settleInHub(ctx, t, recipient)
	}
}

// settleDirect mints the recipient token straight from the converted sender amount.
func (o *Orchestrator) settleDirect(ctx context.Context, t *model.Transfer, recipient *assets.Currency) (outcome, string, error) {
	var quote conversion.Conversion
	err := o.opts.Retry.do(ctx, o.logger, "convert", func() (err error) {
		quote, err = o.converter.Convert(ctx, t.SenderAmount, t.SenderCurrency, recipient.Code)
		return err
	})
	if err != nil {
		return outcome{}, "", classify("convert", err)
	}

	amount := conversion.Truncate(quote.Amount, recipient.Decimals)
	units, err := tokenUnits(amount, recipient)
	if err != nil {
		return outcome{}, "", classify("convert", err)
	}

	mint, err := o.mint(ctx, recipient.TokenSymbol, units)
	if mint.TxHash != "" {
		o.submitted(ctx, t, model.OperationRecord{
			Kind:       model.OperationMint,
			FromSymbol: t.SenderCurrency,
			ToSymbol:   recipient.TokenSymbol,
			FromAmount: t.SenderAmount.String(),
			ToAmount:   units.String(),
			TxHash:     mint.TxHash,
			PolicyID:   mint.PolicyID,
			RateSource: quote.Source,
		})
	}
	if err != nil {
		return outcome{}, mint.TxHash, classify("mint", err)
	}

	if err := o.confirm(ctx, mint.TxHash); err != nil {
		return outcome{}, mint.TxHash, classifyAfterSubmission("confirm", err)
	}

	return outcome{
		txHash:          mint.TxHash,
		recipientAmount: amount,
		rate:            quote.Rate,
		path:            quote.Path,
		source:          quote.Source,
	}, "", nil
}

// settleInHub mints the hub token for recipients with no token of their own. The
// recipient-facing quote is computed first so a missing rate fails before anything is minted.
func (o *Orchestrator) settleInHub(ctx context.Context, t *model.Transfer, recipient *assets.Currency) (outcome, string, error) {
	hub := o.registry.Hub()

	var quote, toHub conversion.Conversion
	err := o.opts.Retry.do(ctx, o.logger, "convert", func() (err error) {
		if quote, err = o.converter.Convert(ctx, t.SenderAmount, t.SenderCurrency, recipient.Code); err != nil {
			return err
		}
		toHub, err = o.converter.ToHub(ctx, t.SenderAmount, t.SenderCurrency)
		return err
	})
	if err != nil {
		return outcome{}, "", classify("convert", err)
	}

	hubAmount := conversion.Truncate(toHub.Amount, hub.Decimals)
	units, err := tokenUnits(hubAmount, hub)
	if err != nil {
		return outcome{}, "", classify("convert", err)
	}

	mint, err := o.mint(ctx, hub.TokenSymbol, units)
	if mint.TxHash != "" {
		o.submitted(ctx, t, model.OperationRecord{
			Kind:       model.OperationMint,
			FromSymbol: t.SenderCurrency,
			ToSymbol:   hub.TokenSymbol,
			FromAmount: t.SenderAmount.String(),
			ToAmount:   units.String(),
			TxHash:     mint.TxHash,
			PolicyID:   mint.PolicyID,
			RateSource: toHub.Source,
		})
	}
	if err != nil {
		return outcome{}, mint.TxHash, classify("mint", err)
	}

	if err := o.confirm(ctx, mint.TxHash); err != nil {
		return outcome{}, mint.TxHash, classifyAfterSubmission("confirm", err)
	}

	return outcome{
		txHash:          mint.TxHash,
		recipientAmount: conversion.Truncate(quote.Amount, recipient.Decimals),
		hubAmount:       &hubAmount,
		rate:            quote.Rate,
		path:            quote.Path,
		source:          combineSources(quote.Source, toHub.Source),
	}, "", nil
}

// settleViaSwap mints the hub token, waits for it to be final, then burns it against a mint
// of the recipient token. Only the final mint is linked to the transfer.
func (o *Orchestrator) settleViaSwap(ctx context.Context, t *model.Transfer, recipient *assets.Currency) (outcome, string, error) {
	hub := o.registry.Hub()

	var toHub, fromHub conversion.Conversion
	err := o.opts.Retry.do(ctx, o.logger, "convert", func() (err error) {
		if toHub, err = o.converter.ToHub(ctx, t.SenderAmount, t.SenderCurrency); err != nil {
			return err
		}
		fromHub, err = o.converter.FromHub(ctx, conversion.Truncate(toHub.Amount, hub.Decimals), recipient.Code)
		return err
	})
	if err != nil {
		return outcome{}, "", classify("convert", err)
	}

	hubAmount := conversion.Truncate(toHub.Amount, hub.Decimals)
	hubUnits, err := tokenUnits(hubAmount, hub)
	if err != nil {
		return outcome{}, "", classify("convert", err)
	}
	source := combineSources(toHub.Source, fromHub.Source)

	hubMint, err := o.mint(ctx, hub.TokenSymbol, hubUnits)
	if hubMint.TxHash != "" {
		o.appendOperation(ctx, t, model.OperationRecord{
			Kind:       model.OperationMint,
			FromSymbol: t.SenderCurrency,
			ToSymbol:   hub.TokenSymbol,
			FromAmount: t.SenderAmount.String(),
			ToAmount:   hubUnits.String(),
			TxHash:     hubMint.TxHash,
			PolicyID:   hubMint.PolicyID,
			RateSource: toHub.Source,
		})
	}
	if err != nil {
		return outcome{}, "", classify("mint hub", err)
	}

	// From here on hub tokens exist on chain.
	if err := o.confirm(ctx, hubMint.TxHash); err != nil {
		return outcome{}, "", classifyAfterSubmission("confirm hub", err)
	}

	swap, err := o.issuer.BurnAndMint(ctx, hub.TokenSymbol, recipient.TokenSymbol, hubUnits, fromHub.Rate, o.awaitFinal)
	if swap.MintTxHash != "" {
		burnHash := swap.BurnTxHash
		o.submitted(ctx, t, model.OperationRecord{
			Kind:       model.OperationBurnAndMint,
			FromSymbol: hub.TokenSymbol,
			ToSymbol:   recipient.TokenSymbol,
			FromAmount: hubUnits.String(),
			ToAmount:   swap.MintedAmount.String(),
			BurnTxHash: &burnHash,
			TxHash:     swap.MintTxHash,
			PolicyID:   swap.PolicyID,
			RateSource: source,
		})
	}
	if err != nil {
		return outcome{}, swap.MintTxHash, classifyAfterSubmission("swap", err)
	}

	if err := o.confirm(ctx, swap.MintTxHash); err != nil {
		return outcome{}, swap.MintTxHash, classifyAfterSubmission("confirm", err)
	}

	return outcome{
		txHash:          swap.MintTxHash,
		recipientAmount: conversion.FromSmallestUnit(swap.MintedAmount, recipient.Decimals),
		hubAmount:       &hubAmount,
		rate:            toHub.Rate.Mul(fromHub.Rate).Truncate(18),
		path:            toHub.Path + "->" + recipient.Code,
		source:          source,
	}, "", nil
}

func (o *Orchestrator) mint(ctx context.Context, symbol string, units *big.Int) (issuer.MintResult, error) {
	var result issuer.MintResult
	err := o.opts.Retry.do(ctx, o.logger, "mint", func() (err error) {
		result, err = o.issuer.Mint(ctx, symbol, units)
		return err
	})
	return result, err
}

// awaitFinal adapts the waiter to issuer.ConfirmFunc.
func (o *Orchestrator) awaitFinal(ctx context.Context, txHash string) (bool, error) {
	return o.waiter.AwaitConfirmation(ctx, txHash, o.opts.ConfirmationMaxWait)
}

func (o *Orchestrator) confirm(ctx context.Context, txHash string) error {
	confirmed, err := o.awaitFinal(ctx, txHash)
	if err != nil {
		return err
	}
	if !confirmed {
		return fmt.Errorf("%w: tx %s after %s", ErrConfirmationTimeout, txHash, o.opts.ConfirmationMaxWait)
	}
	return nil
}

// submitted links the settling transaction to the transfer and records the operation.
// Neither write decides the outcome; the final status update carries the hash again.
func (o *Orchestrator) submitted(ctx context.Context, t *model.Transfer, op model.OperationRecord) {
	if err := o.store.RecordSubmission(ctx, t.ID, op.TxHash, o.ExplorerURL(op.TxHash)); err != nil {
		o.logger.Error("Failed to record submission",
			zap.String("transfer_id", t.ID),
			zap.String("tx_hash", op.TxHash),
			zap.Error(err))
	}
	o.appendOperation(ctx, t, op)
}

func (o *Orchestrator) appendOperation(ctx context.Context, t *model.Transfer, op model.OperationRecord) {
	op.ID = uuid.New().String()
	op.TransferID = t.ID
	op.Mode = string(o.issuer.Mode())
	if err := o.operations.Append(ctx, op); err != nil {
		o.logger.Error("Failed to record settlement operation",
			zap.String("transfer_id", t.ID),
			zap.String("kind", string(op.Kind)),
			zap.String("tx_hash", op.TxHash),
			zap.Error(err))
	}
}

func (o *Orchestrator) complete(ctx context.Context, t *model.Transfer, result outcome) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	explorerURL := o.ExplorerURL(result.txHash)
	update := model.StatusUpdate{
		TxHash:          &result.txHash,
		ExplorerURL:     &explorerURL,
		HubAmount:       result.hubAmount,
		RecipientAmount: &result.recipientAmount,
		ExchangeRate:    &result.rate,
		ConversionPath:  &result.path,
		RateSource:      &result.source,
	}

	if _, err := o.store.UpdateStatus(persistCtx, t.ID, model.StatusCompleted, update); err != nil {
		return fmt.Errorf("failed to mark transfer %s completed: %w", t.ID, err)
	}

	o.logger.Info("Transfer settled",
		zap.String("transfer_id", t.ID),
		zap.String("tx_hash", result.txHash),
		zap.String("recipient_amount", result.recipientAmount.String()),
		zap.String("conversion_path", result.path),
		zap.String("rate_source", string(result.source)),
		zap.String("mode", string(o.issuer.Mode())))
	return nil
}

// resolveFailure persists the outcome of a failed settlement. Ambiguous failures keep the
// transfer processing and flag it for reconciliation; everything else fails it.
func (o *Orchestrator) resolveFailure(ctx context.Context, t *model.Transfer, submittedHash string, err error) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	kind := Classify(err)
	if kind == KindAmbiguous {
		if _, markErr := o.store.MarkForReconciliation(persistCtx, t.ID, err.Error()); markErr != nil {
			return fmt.Errorf("failed to flag transfer %s for reconciliation: %w (settlement error: %w)", t.ID, markErr, err)
		}
		o.logger.Warn("Settlement outcome unknown, transfer left processing for reconciliation",
			zap.String("transfer_id", t.ID),
			zap.String("tx_hash", submittedHash),
			zap.Error(err))
		return err
	}

	reason := err.Error()
	update := model.StatusUpdate{FailureReason: &reason}
	if submittedHash != "" {
		explorerURL := o.ExplorerURL(submittedHash)
		update.TxHash = &submittedHash
		update.ExplorerURL = &explorerURL
	}

	if _, updateErr := o.store.UpdateStatus(persistCtx, t.ID, model.StatusFailed, update); updateErr != nil {
		return fmt.Errorf("failed to mark transfer %s failed: %w (settlement error: %w)", t.ID, updateErr, err)
	}

	o.logger.Error("Settlement failed",
		zap.String("transfer_id", t.ID),
		zap.String("kind", kind.String()),
		zap.Error(err))
	return err
}

// ExplorerURL links a transaction hash to the block explorer.
func (o *Orchestrator) ExplorerURL(txHash string) string {
	return strings.TrimRight(o.opts.ExplorerBaseURL, "/") + "/tx/0x" + txHash
}

func tokenUnits(amount decimal.Decimal, currency *assets.Currency) (*big.Int, error) {
	units, err := conversion.ToSmallestUnit(amount, currency.Decimals)
	if err != nil {
		return nil, err
	}
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("%s %s: %w", amount, currency.Code, ErrAmountTooSmall)
	}
	return units, nil
}

func combineSources(sources ...model.RateSource) model.RateSource {
	for _, source := range sources {
		if source == model.RateSourceStatic {
			return model.RateSourceStatic
		}
	}
	return model.RateSourceLive
}
