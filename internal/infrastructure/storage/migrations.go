package storage

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_exchange_rates_table",
		Up:      migration002AddExchangeRatesTable,
	},
	{
		Version: 3,
		Name:    "add_consolidation_results_table",
		Up:      migration003AddConsolidationResultsTable,
	},
	{
		Version: 4,
		Name:    "add_user_settings_table",
		Up:      migration004AddUserSettingsTable,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		log.Printf("Running migration %d: %s", migration.Version, migration.Name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.db.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// migration001InitialSchema creates the invoice, line item, transaction
// and alias tables.
func migration001InitialSchema(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS invoices (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			vendor_name TEXT NOT NULL DEFAULT '',
			invoice_date TIMESTAMP,
			is_income BOOLEAN NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT 'ILS',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS extracted_invoice_data (
			invoice_id TEXT PRIMARY KEY,
			billing_period_start TIMESTAMP,
			billing_period_end TIMESTAMP,
			line_references_json TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS line_items (
			id TEXT PRIMARY KEY,
			invoice_id TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reference TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL DEFAULT 'ILS',
			amount INTEGER NOT NULL,
			transaction_date TIMESTAMP,
			link_state TEXT NOT NULL DEFAULT 'unlinked',
			matched_transaction_id TEXT,
			allocated_amount INTEGER NOT NULL DEFAULT 0,
			match_method TEXT NOT NULL DEFAULT '',
			match_confidence INTEGER,
			matched_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			date TIMESTAMP NOT NULL,
			value_date TIMESTAMP,
			description TEXT NOT NULL DEFAULT '',
			reference TEXT NOT NULL DEFAULT '',
			amount INTEGER NOT NULL,
			is_income BOOLEAN NOT NULL DEFAULT 0,
			foreign_amount INTEGER NOT NULL DEFAULT 0,
			foreign_currency TEXT NOT NULL DEFAULT '',
			parent_charge_id TEXT,
			card_last4 TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS vendor_aliases (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			pattern TEXT NOT NULL,
			match_type TEXT NOT NULL DEFAULT 'contains',
			canonical_name TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_line_items_invoice
			ON line_items(invoice_id)`,
		`CREATE INDEX IF NOT EXISTS idx_line_items_matched_tx
			ON line_items(matched_transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_owner_kind_date
			ON transactions(owner_id, kind, date)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_parent_charge
			ON transactions(parent_charge_id)`,
		`CREATE INDEX IF NOT EXISTS idx_vendor_aliases_owner
			ON vendor_aliases(owner_id, priority)`,
	}

	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// migration002AddExchangeRatesTable adds the durable rate cache.
func migration002AddExchangeRatesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS exchange_rates (
		currency TEXT NOT NULL,
		date TEXT NOT NULL,
		rate REAL NOT NULL,
		unit INTEGER NOT NULL DEFAULT 1,
		fetched_at TIMESTAMP NOT NULL,
		PRIMARY KEY (currency, date)
	)`)
	return err
}

// migration003AddConsolidationResultsTable adds persisted CC/bank
// consolidation outcomes.
func migration003AddConsolidationResultsTable(tx *sql.Tx) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS consolidation_results (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			card_last4 TEXT NOT NULL,
			charge_date TIMESTAMP NOT NULL,
			bank_transaction_id TEXT NOT NULL,
			transaction_count INTEGER NOT NULL,
			total_amount INTEGER NOT NULL,
			bank_amount INTEGER NOT NULL,
			discrepancy_agorot INTEGER NOT NULL,
			discrepancy_percent REAL NOT NULL,
			confidence INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_consolidation_results_owner
			ON consolidation_results(owner_id, created_at)`,
	}
	for _, q := range queries {
		if _, err := tx.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// migration004AddUserSettingsTable adds per-owner threshold overrides.
func migration004AddUserSettingsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE IF NOT EXISTS user_settings (
		owner_id TEXT PRIMARY KEY,
		auto_approve_threshold INTEGER NOT NULL,
		candidate_threshold INTEGER NOT NULL
	)`)
	return err
}
