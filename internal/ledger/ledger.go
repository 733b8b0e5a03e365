package ledger

import (
	"context"
	"errors"
	"time"
)

// TransactionType labels a credit movement on an account.
type TransactionType string

const (
	TransactionAddition  TransactionType = "ADDITION"
	TransactionDeduction TransactionType = "DEDUCTION"
)

// CallSource identifies where a metered tool call originated.
type CallSource string

const (
	SourceApp CallSource = "app"
	SourceAPI CallSource = "api"
)

// ValidSource reports whether s is one of the accepted call sources.
func ValidSource(s CallSource) bool {
	return s == SourceApp || s == SourceAPI
}

var (
	// ErrInsufficientCredit is returned when a guarded debit matches no row.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrAccountNotFound is returned when an operation references a missing account.
	ErrAccountNotFound = errors.New("credit account not found")
)

// Account is a credit balance owned by exactly one user or one team.
type Account struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id,omitempty"`
	TeamID    int64     `json:"team_id,omitempty"`
	Total     int64     `json:"total_credits"`
	Used      int64     `json:"used_credits"`
	Remaining int64     `json:"remaining_credits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one append-only credit movement.
type Transaction struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ToolUsage is one row of the per-user per-tool daily aggregate.
type ToolUsage struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	ToolName    string `json:"tool_name"`
	Day         string `json:"day"` // YYYY-MM-DD (UTC)
	CreditsUsed int64  `json:"credits_used"`
	Remaining   int64  `json:"remaining_credits"` // balance snapshot after the latest charge of the day
}

// CallRecord is one immutable per-call audit row.
type CallRecord struct {
	ID          int64      `json:"id"`
	CallID      string     `json:"call_id"`
	UserID      int64      `json:"user_id"`
	ToolName    string     `json:"tool_name"`
	CreditsUsed int64      `json:"credits_used"`
	Source      CallSource `json:"source"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ChargeParams describes one debit unit: balance update, transaction,
// daily aggregate bump and audit row, applied atomically.
type ChargeParams struct {
	AccountID   int64
	UserID      int64
	ToolName    string
	Amount      int64 // credits to deduct; zero is allowed and skips the transaction row
	Source      CallSource
	Description string
	CallID      string // correlation id stamped on the audit row
	At          time.Time
}

// Receipt reports the outcome of an applied charge.
type Receipt struct {
	CallID        string `json:"call_id"`
	AccountID     int64  `json:"account_id"`
	CreditsUsed   int64  `json:"credits_used"`
	Remaining     int64  `json:"remaining_credits"`
	TransactionID int64  `json:"transaction_id,omitempty"`
}

// TransferParams moves credit allowance between two accounts. Each leg
// carries its own description: the DEDUCTION names the recipient, the
// ADDITION names the source.
type TransferParams struct {
	FromAccountID   int64
	ToAccountID     int64
	Amount          int64
	FromDescription string // stamped on the source DEDUCTION
	ToDescription   string // stamped on the destination ADDITION
	At              time.Time
}

// TransferReceipt reports both post-transfer balances.
type TransferReceipt struct {
	FromRemaining int64 `json:"from_remaining"`
	ToRemaining   int64 `json:"to_remaining"`
	DebitTxID     int64 `json:"debit_transaction_id"`
	CreditTxID    int64 `json:"credit_transaction_id"`
}

// UsageFilter narrows a usage report query. Zero values mean "any".
type UsageFilter struct {
	UserID   int64
	ToolName string
	FromDay  string // YYYY-MM-DD inclusive
	ToDay    string // YYYY-MM-DD inclusive
}

// AuditFilter narrows an audit trail query. Zero values mean "any".
type AuditFilter struct {
	UserID int64
	From   time.Time
	To     time.Time
	Limit  int
}

// Overview aggregates ledger-wide totals for the admin surface.
type Overview struct {
	Accounts     int64 `json:"accounts"`
	TotalGranted int64 `json:"total_granted"`
	TotalUsed    int64 `json:"total_used"`
	Calls        int64 `json:"calls"`
}

// Store defines persistence behaviour for credit accounting.
//
// ApplyCharge and Transfer are atomic: either every row they describe is
// written and the balance moves, or nothing changes.
type Store interface {
	// EnsureUserAccount creates the user's account with the given grant if
	// absent and returns it. Safe under concurrent first use.
	EnsureUserAccount(ctx context.Context, userID int64, grant int64) (*Account, error)
	// EnsureTeamAccount is EnsureUserAccount for a team-owned account.
	EnsureTeamAccount(ctx context.Context, teamID int64, grant int64) (*Account, error)
	// UserAccount returns the user's account, or ErrAccountNotFound.
	UserAccount(ctx context.Context, userID int64) (*Account, error)

	// ApplyCharge performs the guarded debit plus its transaction, daily
	// aggregate and audit rows in one database transaction. Returns
	// ErrInsufficientCredit without side effects when the balance cannot
	// cover the amount.
	ApplyCharge(ctx context.Context, p ChargeParams) (*Receipt, error)
	// Credit adds to an account's total and remaining and appends an
	// ADDITION transaction.
	Credit(ctx context.Context, accountID, amount int64, description string) (*Transaction, error)
	// Transfer moves allowance from one account to another atomically,
	// appending a DEDUCTION and an ADDITION transaction.
	Transfer(ctx context.Context, p TransferParams) (*TransferReceipt, error)

	ListTransactions(ctx context.Context, accountID int64, limit int) ([]Transaction, error)
	UsageReport(ctx context.Context, f UsageFilter) ([]ToolUsage, error)
	AuditTrail(ctx context.Context, f AuditFilter) ([]CallRecord, error)
	Overview(ctx context.Context) (*Overview, error)

	Close() error
}

// DayOf formats t as the ledger's UTC day key.
func DayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
