package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration initializes the database. In production, this would use a proper migration
// library like go-migrate
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transfers (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(64),
			contact_id VARCHAR(64) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			sender_currency VARCHAR(10) NOT NULL,
			sender_amount DECIMAL(38,18) NOT NULL,
			recipient_currency VARCHAR(10) NOT NULL,
			recipient_expected_amount DECIMAL(38,18) NOT NULL DEFAULT 0,
			recipient_name VARCHAR(255) NOT NULL DEFAULT '',
			recipient_bank VARCHAR(255) NOT NULL DEFAULT '',
			recipient_account VARCHAR(255) NOT NULL DEFAULT '',
			exchange_rate DECIMAL(38,18) NOT NULL DEFAULT 0,
			fee_percentage DECIMAL(38,18) NOT NULL DEFAULT 0,
			fee_amount DECIMAL(38,18) NOT NULL DEFAULT 0,
			total_amount DECIMAL(38,18) NOT NULL DEFAULT 0,
			conversion_path VARCHAR(64) NOT NULL DEFAULT '',
			tx_hash VARCHAR(66),
			blockchain_tx_url TEXT,
			hub_amount DECIMAL(38,18),
			rate_source VARCHAR(10),
			failure_reason TEXT,
			needs_reconciliation BOOLEAN NOT NULL DEFAULT FALSE,
			version BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			paid_at TIMESTAMP,
			completed_at TIMESTAMP,
			CONSTRAINT transfers_status_check CHECK (status IN ('pending', 'paid', 'processing', 'completed', 'failed', 'cancelled'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_status_updated ON transfers (status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS settlement_operations (
			id UUID PRIMARY KEY,
			transfer_id VARCHAR(64) NOT NULL REFERENCES transfers (id),
			kind VARCHAR(20) NOT NULL,
			from_symbol VARCHAR(20) NOT NULL,
			to_symbol VARCHAR(20) NOT NULL,
			from_amount DECIMAL(78,18) NOT NULL,
			to_amount DECIMAL(78,0) NOT NULL,
			burn_tx_hash VARCHAR(66),
			tx_hash VARCHAR(66) NOT NULL,
			policy_id VARCHAR(64) NOT NULL,
			mode VARCHAR(10) NOT NULL,
			rate_source VARCHAR(10) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_operations_transfer ON settlement_operations (transfer_id)`,
		`CREATE TABLE IF NOT EXISTS settlement_outbox (
			id UUID PRIMARY KEY,
			transfer_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(50) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_outbox_status_created ON settlement_outbox (status, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}
