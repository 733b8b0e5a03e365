package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docsense/docsense/internal/ledger"
	"github.com/docsense/docsense/internal/metrics"
	"github.com/docsense/docsense/internal/toolcatalog"
)

// MeterConfig tunes the deduction pipeline.
type MeterConfig struct {
	// DefaultGrant is the credit balance given to a newly ensured account.
	DefaultGrant int64
	// MaxRetries bounds retry attempts for transient ledger faults.
	MaxRetries int
	// RetryBackoff is the base delay between attempts; it doubles per retry.
	RetryBackoff time.Duration
}

// Meter prices tool usage and applies the resulting charge to the ledger.
type Meter struct {
	store     ledger.Store
	catalog   *toolcatalog.Catalog
	collector *metrics.Collector
	cfg       MeterConfig
}

// NewMeter builds a Meter. collector may be nil.
func NewMeter(store ledger.Store, catalog *toolcatalog.Catalog, collector *metrics.Collector, cfg MeterConfig) *Meter {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 50 * time.Millisecond
	}
	return &Meter{store: store, catalog: catalog, collector: collector, cfg: cfg}
}

// ChargeRequest describes one metered tool call.
type ChargeRequest struct {
	UserID      int64
	ToolName    string
	Source      ledger.CallSource
	Measure     int64 // raw usage measure: pixels for image tools, words for Q&A; ignored for flat tools
	Description string
}

// Charge prices the request and applies it to the user's account. The
// returned receipt reflects the post-charge balance.
//
// Transient ledger faults are retried with the same call id, so a replay
// after a lost commit cannot double-charge; persistent faults surface as
// ErrLedgerUnavailable and the caller must withhold the tool output.
func (m *Meter) Charge(ctx context.Context, req ChargeRequest) (*ledger.Receipt, error) {
	if req.UserID == 0 {
		return nil, errors.New("user id required")
	}
	if !ledger.ValidSource(req.Source) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, req.Source)
	}
	tool, ok := m.catalog.Lookup(req.ToolName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, req.ToolName)
	}

	cost := tool.Cost(req.Measure)
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Used " + tool.Name
	}

	acct, err := m.ensureAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	params := ledger.ChargeParams{
		AccountID:   acct.ID,
		UserID:      req.UserID,
		ToolName:    tool.Name,
		Amount:      cost,
		Source:      req.Source,
		Description: description,
		CallID:      uuid.NewString(),
	}

	var receipt *ledger.Receipt
	err = m.withRetry(ctx, func() error {
		var applyErr error
		receipt, applyErr = m.store.ApplyCharge(ctx, params)
		return applyErr
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			log.Printf("[WARN] billing: rejected charge user=%d tool=%s cost=%d remaining=%d", req.UserID, tool.Name, cost, acct.Remaining)
			if m.collector != nil {
				m.collector.RecordChargeRejected(tool.Name)
			}
			return nil, &InsufficientCreditError{Required: cost, Remaining: acct.Remaining}
		}
		return nil, err
	}

	log.Printf("[INFO] billing: charged user=%d tool=%s credits=%d remaining=%d call=%s", req.UserID, tool.Name, cost, receipt.Remaining, receipt.CallID)
	if m.collector != nil {
		m.collector.RecordCharge(tool.Name, cost)
	}
	return receipt, nil
}

// Balance returns the user's account, creating it with the default grant on
// first use.
func (m *Meter) Balance(ctx context.Context, userID int64) (*ledger.Account, error) {
	return m.ensureAccount(ctx, userID)
}

func (m *Meter) ensureAccount(ctx context.Context, userID int64) (*ledger.Account, error) {
	var acct *ledger.Account
	err := m.withRetry(ctx, func() error {
		var ensureErr error
		acct, ensureErr = m.store.EnsureUserAccount(ctx, userID, m.cfg.DefaultGrant)
		return ensureErr
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// withRetry runs op, retrying transient failures with doubling backoff.
// Validation and insufficient-credit errors are never retried.
func (m *Meter) withRetry(ctx context.Context, op func() error) error {
	backoff := m.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("[WARN] billing: retrying ledger operation (attempt %d/%d): %v", attempt, m.cfg.MaxRetries, lastErr)
			if m.collector != nil {
				m.collector.RecordLedgerRetry()
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrLedgerUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	log.Printf("[ERROR] billing: ledger operation failed after %d retries: %v", m.cfg.MaxRetries, lastErr)
	if m.collector != nil {
		m.collector.RecordLedgerFailure()
	}
	return fmt.Errorf("%w: %v", ErrLedgerUnavailable, lastErr)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ledger.ErrInsufficientCredit),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
