package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/eshaffer321/recon-backend/internal/domain/model"
)

// Storage provides SQLite database access. It implements the
// Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// placeholders builds "?,?,?" for an IN clause.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []uuid.UUID) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	return args
}

// ---- transactions ----

const txColumns = `id, owner_id, kind, date, value_date, description, reference,
	amount, is_income, foreign_amount, foreign_currency, parent_charge_id, card_last4, created_at`

func scanTransaction(scan func(...interface{}) error) (*model.Transaction, error) {
	var (
		tx                   model.Transaction
		id, ownerID, kind    string
		valueDate, createdAt sql.NullTime
		parentChargeID       sql.NullString
	)
	err := scan(&id, &ownerID, &kind, &tx.Date, &valueDate, &tx.Description, &tx.Reference,
		&tx.Amount, &tx.IsIncome, &tx.ForeignAmount, &tx.ForeignCurrency, &parentChargeID,
		&tx.CardLast4, &createdAt)
	if err != nil {
		return nil, err
	}
	if tx.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid transaction id %q: %w", id, err)
	}
	if tx.OwnerID, err = uuid.Parse(ownerID); err != nil {
		return nil, fmt.Errorf("invalid owner id %q: %w", ownerID, err)
	}
	tx.Kind = model.TransactionKind(kind)
	if valueDate.Valid {
		t := valueDate.Time
		tx.ValueDate = &t
	}
	if parentChargeID.Valid && parentChargeID.String != "" {
		parsed, perr := uuid.Parse(parentChargeID.String)
		if perr != nil {
			return nil, fmt.Errorf("invalid parent charge id %q: %w", parentChargeID.String, perr)
		}
		tx.ParentChargeID = &parsed
	}
	if createdAt.Valid {
		tx.CreatedAt = createdAt.Time
	}
	return &tx, nil
}

func (s *Storage) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]*model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// GetTransaction fetches one transaction by ID.
func (s *Storage) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id.String())
	tx, err := scanTransaction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	return tx, err
}

// FindTransactionsByWindow returns transactions inside the window,
// ordered by date.
func (s *Storage) FindTransactionsByWindow(ctx context.Context, w TransactionWindow) ([]*model.Transaction, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + txColumns + ` FROM transactions WHERE owner_id = ?`)
	args := []interface{}{w.OwnerID.String()}

	if len(w.Kinds) > 0 {
		sb.WriteString(` AND kind IN (` + placeholders(len(w.Kinds)) + `)`)
		for _, k := range w.Kinds {
			args = append(args, string(k))
		}
	}
	if !w.DateFrom.IsZero() {
		sb.WriteString(` AND date >= ?`)
		args = append(args, w.DateFrom)
	}
	if !w.DateTo.IsZero() {
		sb.WriteString(` AND date <= ?`)
		args = append(args, w.DateTo)
	}
	if w.MinAmount > 0 {
		sb.WriteString(` AND ABS(amount) >= ?`)
		args = append(args, w.MinAmount)
	}
	if w.MaxAmount > 0 {
		sb.WriteString(` AND ABS(amount) <= ?`)
		args = append(args, w.MaxAmount)
	}
	if w.ExpensesOnly {
		sb.WriteString(` AND is_income = 0`)
	}
	sb.WriteString(` ORDER BY date`)

	return s.queryTransactions(ctx, sb.String(), args...)
}

// GetTransactionAmounts fetches amounts for many transactions in one query.
func (s *Storage) GetTransactionAmounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	out := make(map[uuid.UUID]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, amount FROM transactions WHERE id IN (`+placeholders(len(ids))+`)`,
		idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		var amount int64
		if err := rows.Scan(&id, &amount); err != nil {
			return nil, err
		}
		parsed, perr := uuid.Parse(id)
		if perr != nil {
			return nil, perr
		}
		out[parsed] = amount
	}
	return out, rows.Err()
}

// FindUnmatchedCCPurchases returns cc_purchase rows with no parent
// charge reference yet.
func (s *Storage) FindUnmatchedCCPurchases(ctx context.Context, ownerID uuid.UUID) ([]*model.Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE owner_id = ? AND kind = ? AND parent_charge_id IS NULL
		 ORDER BY date`,
		ownerID.String(), string(model.KindCCPurchase))
}

// FindCCChargeTransactions returns bank_cc_charge rows in a date range.
func (s *Storage) FindCCChargeTransactions(ctx context.Context, ownerID uuid.UUID, from, to time.Time) ([]*model.Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE owner_id = ? AND kind = ? AND date >= ? AND date <= ?
		 ORDER BY date`,
		ownerID.String(), string(model.KindBankCCCharge), from, to)
}

// UpdateConsolidatedTransactions points each purchase at the bank
// charge that consolidated it.
func (s *Storage) UpdateConsolidatedTransactions(ctx context.Context, ids []uuid.UUID, bankChargeID uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]interface{}{bankChargeID.String()}, idArgs(ids)...)
	_, err := s.db.ExecContext(ctx,
		`UPDATE transactions SET parent_charge_id = ? WHERE id IN (`+placeholders(len(ids))+`)`,
		args...)
	return err
}

// ---- line items ----

const lineItemColumns = `id, invoice_id, description, reference, currency, amount,
	transaction_date, link_state, matched_transaction_id, allocated_amount,
	match_method, match_confidence, matched_at`

func scanLineItem(scan func(...interface{}) error) (*model.LineItem, error) {
	var (
		li              model.LineItem
		id, invoiceID   string
		linkState       string
		txDate          sql.NullTime
		matchedTxID     sql.NullString
		matchConfidence sql.NullInt64
		matchedAt       sql.NullTime
	)
	err := scan(&id, &invoiceID, &li.Description, &li.Reference, &li.Currency, &li.Amount,
		&txDate, &linkState, &matchedTxID, &li.AllocatedAmount,
		&li.MatchMethod, &matchConfidence, &matchedAt)
	if err != nil {
		return nil, err
	}
	if li.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid line item id %q: %w", id, err)
	}
	if li.InvoiceID, err = uuid.Parse(invoiceID); err != nil {
		return nil, fmt.Errorf("invalid invoice id %q: %w", invoiceID, err)
	}
	li.LinkState = model.LinkState(linkState)
	if txDate.Valid {
		t := txDate.Time
		li.TransactionDate = &t
	}
	if matchedTxID.Valid && matchedTxID.String != "" {
		parsed, perr := uuid.Parse(matchedTxID.String)
		if perr != nil {
			return nil, perr
		}
		li.MatchedTransactionID = &parsed
	}
	if matchConfidence.Valid {
		c := int(matchConfidence.Int64)
		li.MatchConfidence = &c
	}
	if matchedAt.Valid {
		t := matchedAt.Time
		li.MatchedAt = &t
	}
	return &li, nil
}

// GetLineItem fetches one line item by ID.
func (s *Storage) GetLineItem(ctx context.Context, id uuid.UUID) (*model.LineItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE id = ?`, id.String())
	li, err := scanLineItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("line item %s not found", id)
	}
	return li, err
}

// GetLineItemsForInvoice returns all line items of an invoice.
func (s *Storage) GetLineItemsForInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*model.LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE invoice_id = ?`, invoiceID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, li)
	}
	return out, rows.Err()
}

// GetAllocationsForTransactions returns every line item claim on the
// given transactions, in one query.
func (s *Storage) GetAllocationsForTransactions(ctx context.Context, ids []uuid.UUID) ([]model.AllocationRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, matched_transaction_id, allocated_amount, amount
		 FROM line_items
		 WHERE matched_transaction_id IN (`+placeholders(len(ids))+`)`,
		idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.AllocationRow
	for rows.Next() {
		var liID, txID string
		var row model.AllocationRow
		if err := rows.Scan(&liID, &txID, &row.AllocatedAmount, &row.LineAmount); err != nil {
			return nil, err
		}
		if row.LineItemID, err = uuid.Parse(liID); err != nil {
			return nil, err
		}
		if row.TransactionID, err = uuid.Parse(txID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SaveLink writes link state onto the line item.
func (s *Storage) SaveLink(ctx context.Context, link Link) error {
	state := model.LinkStateMatched
	var allocation int64
	if link.Allocation != nil {
		allocation = *link.Allocation
		state = model.LinkStatePartial
	}

	var confidence interface{}
	if link.Confidence != nil {
		confidence = *link.Confidence
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE line_items
		 SET link_state = ?, matched_transaction_id = ?, allocated_amount = ?,
		     match_method = ?, match_confidence = ?, matched_at = ?
		 WHERE id = ?`,
		string(state), link.TransactionID.String(), allocation,
		link.Method, confidence, time.Now(), link.LineItemID.String())
	if err != nil {
		return fmt.Errorf("save link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("line item %s not found", link.LineItemID)
	}
	return nil
}

// ClearLink restores the line item's link fields to unlinked defaults.
func (s *Storage) ClearLink(ctx context.Context, lineItemID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE line_items
		 SET link_state = 'unlinked', matched_transaction_id = NULL,
		     allocated_amount = 0, match_method = '', match_confidence = NULL,
		     matched_at = NULL
		 WHERE id = ?`,
		lineItemID.String())
	if err != nil {
		return fmt.Errorf("clear link: %w", err)
	}
	return nil
}

// ---- invoices ----

// GetInvoice fetches one invoice by ID.
func (s *Storage) GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error) {
	var (
		inv            model.Invoice
		invID, ownerID string
		createdAt      sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, vendor_name, invoice_date, is_income, currency, created_at
		 FROM invoices WHERE id = ?`, id.String()).
		Scan(&invID, &ownerID, &inv.VendorName, &inv.InvoiceDate, &inv.IsIncome, &inv.Currency, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invoice %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if inv.ID, err = uuid.Parse(invID); err != nil {
		return nil, err
	}
	if inv.OwnerID, err = uuid.Parse(ownerID); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		inv.CreatedAt = createdAt.Time
	}
	return &inv, nil
}

// GetExtractedInvoiceData returns (nil, nil) when no extraction exists.
func (s *Storage) GetExtractedInvoiceData(ctx context.Context, invoiceID uuid.UUID) (*model.ExtractedInvoiceData, error) {
	var (
		data       model.ExtractedInvoiceData
		start, end sql.NullTime
		refsJSON   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT billing_period_start, billing_period_end, line_references_json
		 FROM extracted_invoice_data WHERE invoice_id = ?`, invoiceID.String()).
		Scan(&start, &end, &refsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	data.InvoiceID = invoiceID
	if start.Valid {
		t := start.Time
		data.BillingPeriodStart = &t
	}
	if end.Valid {
		t := end.Time
		data.BillingPeriodEnd = &t
	}
	if refsJSON != "" {
		raw := make(map[string]string)
		if err := json.Unmarshal([]byte(refsJSON), &raw); err != nil {
			return nil, fmt.Errorf("decode line references: %w", err)
		}
		data.LineReferences = make(map[uuid.UUID]string, len(raw))
		for k, v := range raw {
			parsed, perr := uuid.Parse(k)
			if perr != nil {
				continue
			}
			data.LineReferences[parsed] = v
		}
	}
	return &data, nil
}

// ---- vendor aliases ----

// GetVendorAliases returns the owner's alias rules, highest priority first.
func (s *Storage) GetVendorAliases(ctx context.Context, ownerID uuid.UUID) ([]*model.VendorAlias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, pattern, match_type, canonical_name, priority, source, created_at
		 FROM vendor_aliases WHERE owner_id = ? ORDER BY priority DESC`,
		ownerID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.VendorAlias
	for rows.Next() {
		var (
			alias             model.VendorAlias
			id, owner         string
			matchType, source string
			createdAt         sql.NullTime
		)
		if err := rows.Scan(&id, &owner, &alias.Pattern, &matchType,
			&alias.CanonicalName, &alias.Priority, &source, &createdAt); err != nil {
			return nil, err
		}
		if alias.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if alias.OwnerID, err = uuid.Parse(owner); err != nil {
			return nil, err
		}
		alias.MatchType = model.AliasMatchType(matchType)
		alias.Source = model.AliasSource(source)
		if createdAt.Valid {
			alias.CreatedAt = createdAt.Time
		}
		out = append(out, &alias)
	}
	return out, rows.Err()
}

// SaveVendorAlias inserts or replaces an alias rule.
func (s *Storage) SaveVendorAlias(ctx context.Context, alias *model.VendorAlias) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vendor_aliases
		 (id, owner_id, pattern, match_type, canonical_name, priority, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alias.ID.String(), alias.OwnerID.String(), alias.Pattern, string(alias.MatchType),
		alias.CanonicalName, alias.Priority, string(alias.Source), alias.CreatedAt)
	return err
}

// ---- exchange rates ----

// GetRate returns (nil, nil) when no rate is stored for the key.
func (s *Storage) GetRate(currency string, date time.Time) (*model.ExchangeRate, error) {
	var (
		rate    model.ExchangeRate
		dateStr string
	)
	err := s.db.QueryRow(
		`SELECT currency, date, rate, unit, fetched_at FROM exchange_rates
		 WHERE currency = ? AND date = ?`,
		currency, date.In(time.UTC).Format("2006-01-02")).
		Scan(&rate.Currency, &dateStr, &rate.Rate, &rate.Unit, &rate.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if parsed, perr := time.Parse("2006-01-02", dateStr); perr == nil {
		rate.Date = parsed
	}
	return &rate, nil
}

// PutRates upserts a batch of rates.
func (s *Storage) PutRates(rates []model.ExchangeRate) error {
	if len(rates) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT OR REPLACE INTO exchange_rates (currency, date, rate, unit, fetched_at)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range rates {
		if _, err := stmt.Exec(r.Currency, r.Date.In(time.UTC).Format("2006-01-02"),
			r.Rate, r.UnitOrOne(), r.FetchedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ---- consolidation results ----

// SaveConsolidationResult persists one consolidation outcome.
func (s *Storage) SaveConsolidationResult(ctx context.Context, result *model.ConsolidationResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO consolidation_results
		 (id, owner_id, card_last4, charge_date, bank_transaction_id, transaction_count,
		  total_amount, bank_amount, discrepancy_agorot, discrepancy_percent,
		  confidence, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID.String(), result.OwnerID.String(), result.CardLast4, result.ChargeDate,
		result.BankTransactionID.String(), result.TransactionCount, result.TotalAmount,
		result.BankAmount, result.DiscrepancyAgorot, result.DiscrepancyPercent,
		result.Confidence, string(result.Status), result.CreatedAt)
	return err
}

// ListConsolidationResults returns the owner's consolidation outcomes,
// newest first.
func (s *Storage) ListConsolidationResults(ctx context.Context, ownerID uuid.UUID) ([]*model.ConsolidationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, card_last4, charge_date, bank_transaction_id, transaction_count,
		        total_amount, bank_amount, discrepancy_agorot, discrepancy_percent,
		        confidence, status, created_at
		 FROM consolidation_results WHERE owner_id = ? ORDER BY created_at DESC`,
		ownerID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.ConsolidationResult
	for rows.Next() {
		var (
			res             model.ConsolidationResult
			id, owner, bank string
			status          string
			createdAt       sql.NullTime
		)
		if err := rows.Scan(&id, &owner, &res.CardLast4, &res.ChargeDate, &bank,
			&res.TransactionCount, &res.TotalAmount, &res.BankAmount,
			&res.DiscrepancyAgorot, &res.DiscrepancyPercent, &res.Confidence,
			&status, &createdAt); err != nil {
			return nil, err
		}
		if res.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if res.OwnerID, err = uuid.Parse(owner); err != nil {
			return nil, err
		}
		if res.BankTransactionID, err = uuid.Parse(bank); err != nil {
			return nil, err
		}
		res.Status = model.ConsolidationStatus(status)
		if createdAt.Valid {
			res.CreatedAt = createdAt.Time
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

// UpdateConsolidationStatus moves a result through its approval lifecycle.
func (s *Storage) UpdateConsolidationStatus(ctx context.Context, id uuid.UUID, status model.ConsolidationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE consolidation_results SET status = ? WHERE id = ?`,
		string(status), id.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("consolidation result %s not found", id)
	}
	return nil
}

// ---- settings ----

// GetUserThresholds returns (nil, nil) when the owner has no stored
// preference.
func (s *Storage) GetUserThresholds(ctx context.Context, ownerID uuid.UUID) (*Thresholds, error) {
	var t Thresholds
	err := s.db.QueryRowContext(ctx,
		`SELECT auto_approve_threshold, candidate_threshold FROM user_settings WHERE owner_id = ?`,
		ownerID.String()).Scan(&t.AutoApprove, &t.Candidate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
