package model

import (
	"time"
)

type OperationKind string

const (
	OperationMint        OperationKind = "mint"
	OperationBurnAndMint OperationKind = "burn+mint"
)

// OperationRecord is the audit row for one blockchain operation issued during settlement.
type OperationRecord struct {
	ID         string        `db:"id"`
	TransferID string        `db:"transfer_id"`
	Kind       OperationKind `db:"kind"`
	FromSymbol string        `db:"from_symbol"`
	ToSymbol   string        `db:"to_symbol"`
	FromAmount string        `db:"from_amount"` // sender amount for mints, burned units for swaps
	ToAmount   string        `db:"to_amount"`   // minted units
	BurnTxHash *string       `db:"burn_tx_hash"`
	TxHash     string        `db:"tx_hash"`
	PolicyID   string        `db:"policy_id"`
	Mode       string        `db:"mode"`
	RateSource RateSource    `db:"rate_source"`
	CreatedAt  time.Time     `db:"created_at"`
}
