package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/docsense/docsense/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	// Serialize writers; SQLite only supports one anyway and this avoids
	// SQLITE_BUSY on concurrent charge transactions.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS credit_accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER,
	team_id INTEGER,
	total_credits INTEGER NOT NULL DEFAULT 0,
	used_credits INTEGER NOT NULL DEFAULT 0,
	remaining_credits INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	CHECK ((user_id IS NOT NULL) + (team_id IS NOT NULL) = 1),
	CHECK (remaining_credits >= 0),
	CHECK (used_credits >= 0)
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_accounts_user ON credit_accounts(user_id) WHERE user_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS ux_credit_accounts_team ON credit_accounts(team_id) WHERE team_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS transactions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL REFERENCES credit_accounts(id),
	type TEXT NOT NULL CHECK(type IN ('ADDITION','DEDUCTION')),
	amount INTEGER NOT NULL CHECK(amount > 0),
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_transactions_account_created ON transactions(account_id, created_at DESC);

CREATE TABLE IF NOT EXISTS tool_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	tool_name TEXT NOT NULL,
	day TEXT NOT NULL,
	credits_used INTEGER NOT NULL DEFAULT 0,
	remaining_credits INTEGER NOT NULL DEFAULT 0,
	UNIQUE(user_id, tool_name, day)
);

CREATE TABLE IF NOT EXISTS api_call_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id TEXT NOT NULL UNIQUE,
	user_id INTEGER NOT NULL,
	tool_name TEXT NOT NULL,
	credits_used INTEGER NOT NULL,
	source TEXT NOT NULL CHECK(source IN ('app','api')),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_api_call_logs_user_created ON api_call_logs(user_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureUserAccount creates the user's account with the given grant if missing.
func (s *Store) EnsureUserAccount(ctx context.Context, userID int64, grant int64) (*ledger.Account, error) {
	if userID == 0 {
		return nil, errors.New("user id required")
	}
	return s.ensureAccount(ctx, "user_id", userID, grant)
}

// EnsureTeamAccount creates the team's account with the given grant if missing.
func (s *Store) EnsureTeamAccount(ctx context.Context, teamID int64, grant int64) (*ledger.Account, error) {
	if teamID == 0 {
		return nil, errors.New("team id required")
	}
	return s.ensureAccount(ctx, "team_id", teamID, grant)
}

func (s *Store) ensureAccount(ctx context.Context, ownerCol string, ownerID int64, grant int64) (*ledger.Account, error) {
	if grant < 0 {
		return nil, fmt.Errorf("negative grant %d", grant)
	}
	now := time.Now().UTC()
	insert := fmt.Sprintf(`
INSERT INTO credit_accounts(%s, total_credits, used_credits, remaining_credits, created_at, updated_at)
VALUES(?, ?, 0, ?, ?, ?)
ON CONFLICT(%s) WHERE %s IS NOT NULL DO NOTHING`, ownerCol, ownerCol, ownerCol)
	if _, err := s.db.ExecContext(ctx, insert, ownerID, grant, grant, now, now); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	return s.accountByOwner(ctx, ownerCol, ownerID)
}

// UserAccount returns the user's account, or ledger.ErrAccountNotFound.
func (s *Store) UserAccount(ctx context.Context, userID int64) (*ledger.Account, error) {
	if userID == 0 {
		return nil, errors.New("user id required")
	}
	return s.accountByOwner(ctx, "user_id", userID)
}

func (s *Store) accountByOwner(ctx context.Context, ownerCol string, ownerID int64) (*ledger.Account, error) {
	query := fmt.Sprintf(`
SELECT id, COALESCE(user_id, 0), COALESCE(team_id, 0), total_credits, used_credits, remaining_credits, created_at, updated_at
FROM credit_accounts WHERE %s = ?`, ownerCol)
	var a ledger.Account
	err := s.db.QueryRowContext(ctx, query, ownerID).Scan(
		&a.ID, &a.UserID, &a.TeamID, &a.Total, &a.Used, &a.Remaining, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ApplyCharge applies the debit, transaction, daily aggregate and audit row
// in one database transaction. The guarded UPDATE keeps the balance
// non-negative under concurrency.
func (s *Store) ApplyCharge(ctx context.Context, p ledger.ChargeParams) (*ledger.Receipt, error) {
	if err := validateCharge(&p); err != nil {
		return nil, err
	}
	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	day := ledger.DayOf(at)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin charge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// An audit row for this call id means a prior attempt already committed,
	// typically a retry after a lost commit acknowledgement. Report that
	// outcome instead of charging twice.
	var replayed int64
	err = tx.QueryRowContext(ctx, `SELECT credits_used FROM api_call_logs WHERE call_id = ?`, p.CallID).Scan(&replayed)
	if err == nil {
		var remaining int64
		if err := tx.QueryRowContext(ctx, `SELECT remaining_credits FROM credit_accounts WHERE id = ?`, p.AccountID).Scan(&remaining); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ledger.ErrAccountNotFound
			}
			return nil, err
		}
		return &ledger.Receipt{
			CallID:      p.CallID,
			AccountID:   p.AccountID,
			CreditsUsed: replayed,
			Remaining:   remaining,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check call id: %w", err)
	}

	if p.Amount > 0 {
		res, err := tx.ExecContext(ctx, `
UPDATE credit_accounts
SET used_credits = used_credits + ?, remaining_credits = remaining_credits - ?, updated_at = ?
WHERE id = ? AND remaining_credits >= ?`,
			p.Amount, p.Amount, at, p.AccountID, p.Amount)
		if err != nil {
			return nil, fmt.Errorf("debit account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM credit_accounts WHERE id = ?`, p.AccountID).Scan(&exists); err != nil {
				return nil, err
			}
			if exists == 0 {
				return nil, ledger.ErrAccountNotFound
			}
			return nil, ledger.ErrInsufficientCredit
		}
	}

	var remaining int64
	if err := tx.QueryRowContext(ctx, `SELECT remaining_credits FROM credit_accounts WHERE id = ?`, p.AccountID).Scan(&remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, err
	}

	receipt := &ledger.Receipt{
		CallID:      p.CallID,
		AccountID:   p.AccountID,
		CreditsUsed: p.Amount,
		Remaining:   remaining,
	}

	if p.Amount > 0 {
		res, err := tx.ExecContext(ctx, `
INSERT INTO transactions(account_id, type, amount, description, created_at)
VALUES(?, 'DEDUCTION', ?, ?, ?)`,
			p.AccountID, p.Amount, p.Description, at)
		if err != nil {
			return nil, fmt.Errorf("record transaction: %w", err)
		}
		receipt.TransactionID, _ = res.LastInsertId()
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO tool_usage(user_id, tool_name, day, credits_used, remaining_credits)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(user_id, tool_name, day) DO UPDATE SET
	credits_used = credits_used + excluded.credits_used,
	remaining_credits = excluded.remaining_credits`,
		p.UserID, p.ToolName, day, p.Amount, remaining); err != nil {
		return nil, fmt.Errorf("accumulate tool usage: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO api_call_logs(call_id, user_id, tool_name, credits_used, source, created_at)
VALUES(?, ?, ?, ?, ?, ?)`,
		p.CallID, p.UserID, p.ToolName, p.Amount, string(p.Source), at); err != nil {
		return nil, fmt.Errorf("record api call: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit charge: %w", err)
	}
	return receipt, nil
}

func validateCharge(p *ledger.ChargeParams) error {
	if p.AccountID == 0 {
		return errors.New("account id required")
	}
	if p.UserID == 0 {
		return errors.New("user id required")
	}
	if strings.TrimSpace(p.ToolName) == "" {
		return errors.New("tool name required")
	}
	if p.Amount < 0 {
		return fmt.Errorf("negative charge amount %d", p.Amount)
	}
	if !ledger.ValidSource(p.Source) {
		return fmt.Errorf("invalid call source %q", p.Source)
	}
	if strings.TrimSpace(p.CallID) == "" {
		p.CallID = uuid.NewString()
	}
	return nil
}

// Credit adds allowance to an account and appends an ADDITION transaction.
func (s *Store) Credit(ctx context.Context, accountID, amount int64, description string) (*ledger.Transaction, error) {
	if accountID == 0 {
		return nil, errors.New("account id required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin credit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE credit_accounts
SET total_credits = total_credits + ?, remaining_credits = remaining_credits + ?, updated_at = ?
WHERE id = ?`, amount, amount, now, accountID)
	if err != nil {
		return nil, fmt.Errorf("credit account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ledger.ErrAccountNotFound
	}

	ins, err := tx.ExecContext(ctx, `
INSERT INTO transactions(account_id, type, amount, description, created_at)
VALUES(?, 'ADDITION', ?, ?, ?)`, accountID, amount, description, now)
	if err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	id, _ := ins.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit credit: %w", err)
	}
	return &ledger.Transaction{
		ID:          id,
		AccountID:   accountID,
		Type:        ledger.TransactionAddition,
		Amount:      amount,
		Description: description,
		CreatedAt:   now,
	}, nil
}

// Transfer moves allowance between two accounts in one database transaction.
func (s *Store) Transfer(ctx context.Context, p ledger.TransferParams) (*ledger.TransferReceipt, error) {
	if p.FromAccountID == 0 || p.ToAccountID == 0 {
		return nil, errors.New("both account ids required")
	}
	if p.FromAccountID == p.ToAccountID {
		return nil, errors.New("cannot transfer to the same account")
	}
	if p.Amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", p.Amount)
	}
	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transfer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE credit_accounts
SET total_credits = total_credits - ?, remaining_credits = remaining_credits - ?, updated_at = ?
WHERE id = ? AND remaining_credits >= ?`,
		p.Amount, p.Amount, at, p.FromAccountID, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("debit source account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM credit_accounts WHERE id = ?`, p.FromAccountID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, ledger.ErrInsufficientCredit
	}

	res, err = tx.ExecContext(ctx, `
UPDATE credit_accounts
SET total_credits = total_credits + ?, remaining_credits = remaining_credits + ?, updated_at = ?
WHERE id = ?`, p.Amount, p.Amount, at, p.ToAccountID)
	if err != nil {
		return nil, fmt.Errorf("credit target account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ledger.ErrAccountNotFound
	}

	receipt := &ledger.TransferReceipt{}
	debit, err := tx.ExecContext(ctx, `
INSERT INTO transactions(account_id, type, amount, description, created_at)
VALUES(?, 'DEDUCTION', ?, ?, ?)`, p.FromAccountID, p.Amount, p.FromDescription, at)
	if err != nil {
		return nil, fmt.Errorf("record debit transaction: %w", err)
	}
	receipt.DebitTxID, _ = debit.LastInsertId()

	credit, err := tx.ExecContext(ctx, `
INSERT INTO transactions(account_id, type, amount, description, created_at)
VALUES(?, 'ADDITION', ?, ?, ?)`, p.ToAccountID, p.Amount, p.ToDescription, at)
	if err != nil {
		return nil, fmt.Errorf("record credit transaction: %w", err)
	}
	receipt.CreditTxID, _ = credit.LastInsertId()

	if err := tx.QueryRowContext(ctx, `SELECT remaining_credits FROM credit_accounts WHERE id = ?`, p.FromAccountID).Scan(&receipt.FromRemaining); err != nil {
		return nil, err
	}
	if err := tx.QueryRowContext(ctx, `SELECT remaining_credits FROM credit_accounts WHERE id = ?`, p.ToAccountID).Scan(&receipt.ToRemaining); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transfer: %w", err)
	}
	return receipt, nil
}

// ListTransactions returns the latest transactions for an account.
func (s *Store) ListTransactions(ctx context.Context, accountID int64, limit int) ([]ledger.Transaction, error) {
	if accountID == 0 {
		return nil, errors.New("account id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, account_id, type, amount, description, created_at
FROM transactions
WHERE account_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.AccountID, &kind, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = ledger.TransactionType(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

// UsageReport returns daily aggregate rows matching the filter.
func (s *Store) UsageReport(ctx context.Context, f ledger.UsageFilter) ([]ledger.ToolUsage, error) {
	query := `
SELECT id, user_id, tool_name, day, credits_used, remaining_credits
FROM tool_usage WHERE 1=1`
	var args []interface{}
	if f.UserID != 0 {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if f.ToolName != "" {
		query += ` AND tool_name = ?`
		args = append(args, f.ToolName)
	}
	if f.FromDay != "" {
		query += ` AND day >= ?`
		args = append(args, f.FromDay)
	}
	if f.ToDay != "" {
		query += ` AND day <= ?`
		args = append(args, f.ToDay)
	}
	query += ` ORDER BY day DESC, tool_name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.ToolUsage
	for rows.Next() {
		var u ledger.ToolUsage
		if err := rows.Scan(&u.ID, &u.UserID, &u.ToolName, &u.Day, &u.CreditsUsed, &u.Remaining); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// AuditTrail returns per-call audit rows matching the filter, newest first.
func (s *Store) AuditTrail(ctx context.Context, f ledger.AuditFilter) ([]ledger.CallRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT id, call_id, user_id, tool_name, credits_used, source, created_at
FROM api_call_logs WHERE 1=1`
	var args []interface{}
	if f.UserID != 0 {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, f.To.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.CallRecord
	for rows.Next() {
		var r ledger.CallRecord
		var source string
		if err := rows.Scan(&r.ID, &r.CallID, &r.UserID, &r.ToolName, &r.CreditsUsed, &source, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Source = ledger.CallSource(source)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Overview aggregates ledger-wide totals.
func (s *Store) Overview(ctx context.Context) (*ledger.Overview, error) {
	var o ledger.Overview
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(1), COALESCE(SUM(total_credits), 0), COALESCE(SUM(used_credits), 0)
FROM credit_accounts`)
	if err := row.Scan(&o.Accounts, &o.TotalGranted, &o.TotalUsed); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM api_call_logs`).Scan(&o.Calls); err != nil {
		return nil, err
	}
	return &o, nil
}
