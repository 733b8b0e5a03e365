package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/docsense/docsense/internal/ledger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEnsureUserAccountIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	acct, err := store.EnsureUserAccount(ctx, 42, 200)
	if err != nil {
		t.Fatalf("EnsureUserAccount: %v", err)
	}
	if acct.Total != 200 || acct.Used != 0 || acct.Remaining != 200 {
		t.Fatalf("unexpected fresh account %+v", acct)
	}

	again, err := store.EnsureUserAccount(ctx, 42, 500)
	if err != nil {
		t.Fatalf("EnsureUserAccount (second): %v", err)
	}
	if again.ID != acct.ID || again.Total != 200 {
		t.Fatalf("second ensure must not regrant, got %+v", again)
	}
}

func TestApplyChargeLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	acct, err := store.EnsureUserAccount(ctx, 7, 200)
	if err != nil {
		t.Fatalf("EnsureUserAccount: %v", err)
	}

	receipt, err := store.ApplyCharge(ctx, ledger.ChargeParams{
		AccountID:   acct.ID,
		UserID:      7,
		ToolName:    "cnic-extraction",
		Amount:      10,
		Source:      ledger.SourceAPI,
		Description: "Used cnic-extraction",
	})
	if err != nil {
		t.Fatalf("ApplyCharge: %v", err)
	}
	if receipt.Remaining != 190 || receipt.CreditsUsed != 10 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.CallID == "" || receipt.TransactionID == 0 {
		t.Fatalf("expected call id and transaction id, got %+v", receipt)
	}

	after, err := store.UserAccount(ctx, 7)
	if err != nil {
		t.Fatalf("UserAccount: %v", err)
	}
	if after.Used != 10 || after.Remaining != 190 || after.Total != 200 {
		t.Fatalf("unexpected balance %+v", after)
	}
	if after.Remaining != after.Total-after.Used {
		t.Fatalf("balance invariant broken: %+v", after)
	}

	txs, err := store.ListTransactions(ctx, acct.ID, 10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 || txs[0].Type != ledger.TransactionDeduction || txs[0].Amount != 10 {
		t.Fatalf("unexpected transactions %+v", txs)
	}

	usage, err := store.UsageReport(ctx, ledger.UsageFilter{UserID: 7})
	if err != nil {
		t.Fatalf("UsageReport: %v", err)
	}
	if len(usage) != 1 || usage[0].CreditsUsed != 10 || usage[0].Remaining != 190 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	calls, err := store.AuditTrail(ctx, ledger.AuditFilter{UserID: 7})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(calls) != 1 || calls[0].ToolName != "cnic-extraction" || calls[0].Source != ledger.SourceAPI {
		t.Fatalf("unexpected audit trail %+v", calls)
	}
}

func TestApplyChargeReplaySameCallID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	acct, err := store.EnsureUserAccount(ctx, 7, 200)
	if err != nil {
		t.Fatalf("EnsureUserAccount: %v", err)
	}

	params := ledger.ChargeParams{
		AccountID:   acct.ID,
		UserID:      7,
		ToolName:    "cnic-extraction",
		Amount:      10,
		Source:      ledger.SourceAPI,
		Description: "Used cnic-extraction",
		CallID:      "retry-after-lost-commit",
	}
	first, err := store.ApplyCharge(ctx, params)
	if err != nil {
		t.Fatalf("ApplyCharge: %v", err)
	}
	if first.Remaining != 190 {
		t.Fatalf("unexpected first receipt %+v", first)
	}

	// Re-applying the same call id must report the committed outcome
	// without debiting again or appending new rows.
	second, err := store.ApplyCharge(ctx, params)
	if err != nil {
		t.Fatalf("ApplyCharge replay: %v", err)
	}
	if second.Remaining != 190 || second.CreditsUsed != 10 {
		t.Fatalf("unexpected replay receipt %+v", second)
	}

	after, err := store.UserAccount(ctx, 7)
	if err != nil {
		t.Fatalf("UserAccount: %v", err)
	}
	if after.Used != 10 || after.Remaining != 190 {
		t.Fatalf("replay must not double-charge: %+v", after)
	}
	txs, err := store.ListTransactions(ctx, acct.ID, 10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected one transaction, got %+v", txs)
	}
	calls, err := store.AuditTrail(ctx, ledger.AuditFilter{UserID: 7})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one audit row, got %+v", calls)
	}
	usage, err := store.UsageReport(ctx, ledger.UsageFilter{UserID: 7})
	if err != nil {
		t.Fatalf("UsageReport: %v", err)
	}
	if len(usage) != 1 || usage[0].CreditsUsed != 10 {
		t.Fatalf("replay must not inflate usage: %+v", usage)
	}
}

func TestApplyChargeInsufficientLeavesNoTrace(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	acct, err := store.EnsureUserAccount(ctx, 9, 5)
	if err != nil {
		t.Fatalf("EnsureUserAccount: %v", err)
	}

	_, err = store.ApplyCharge(ctx, ledger.ChargeParams{
		AccountID: acct.ID,
		UserID:    9,
		ToolName:  "chat-with-pdf",
		Amount:    10,
		Source:    ledger.SourceApp,
	})
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}

	after, err := store.UserAccount(ctx, 9)
	if err != nil {
		t.Fatalf("UserAccount: %v", err)
	}
	if after.Used != 0 || after.Remaining != 5 {
		t.Fatalf("rejected charge must not move the balance: %+v", after)
	}
	txs, err := store.ListTransactions(ctx, acct.ID, 10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("rejected charge must not append transactions: %+v", txs)
	}
	usage, err := store.UsageReport(ctx, ledger.UsageFilter{UserID: 9})
	if err != nil {
		t.Fatalf("UsageReport: %v", err)
	}
	if len(usage) != 0 {
		t.Fatalf("rejected charge must not touch usage: %+v", usage)
	}
	calls, err := store.AuditTrail(ctx, ledger.AuditFilter{UserID: 9})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("rejected charge must not log a call: %+v", calls)
	}
}

func TestApplyChargeDailyAccumulation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	acct, err := store.EnsureUserAccount(ctx, 3, 200)
	if err != nil {
		t.Fatalf("EnsureUserAccount: %v", err)
	}

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	charge := func(amount int64, at time.Time) {
		t.Helper()
		if _, err := store.ApplyCharge(ctx, ledger.ChargeParams{
			AccountID: acct.ID,
			UserID:    3,
			ToolName:  "emirates-id-processing",
			Amount:    amount,
			Source:    ledger.SourceApp,
			At:        at,
		}); err != nil {
			t.Fatalf("ApplyCharge: %v", err)
		}
	}

	charge(4, day1)
	charge(6, day1.Add(2*time.Hour))
	charge(5, day1.AddDate(0, 0, 1))

	usage, err := store.UsageReport(ctx, ledger.UsageFilter{UserID: 3, ToolName: "emirates-id-processing"})
	if err != nil {
		t.Fatalf("UsageReport: %v", err)
	}
	if len(usage) != 2 {
		t.Fatalf("expected one row per day, got %+v", usage)
	}
	// newest day first
	if usage[0].Day != "2026-03-02" || usage[0].CreditsUsed != 5 {
		t.Fatalf("unexpected rollover row %+v", usage[0])
	}
	if usage[1].Day != "2026-03-01" || usage[1].CreditsUsed != 10 {
		t.Fatalf("expected same-day accumulation, got %+v", usage[1])
	}
	if usage[1].Remaining != 190 {
		t.Fatalf("remaining snapshot should reflect the latest charge of the day, got %+v", usage[1])
	}
}

func TestApplyChargeZeroCost(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	acct, err := store.EnsureUserAccount(ctx, 5, 200)
	if err != nil {
		t.Fatalf("EnsureUserAccount: %v", err)
	}

	receipt, err := store.ApplyCharge(ctx, ledger.ChargeParams{
		AccountID: acct.ID,
		UserID:    5,
		ToolName:  "chat-with-pdf",
		Amount:    0,
		Source:    ledger.SourceAPI,
	})
	if err != nil {
		t.Fatalf("ApplyCharge: %v", err)
	}
	if receipt.Remaining != 200 || receipt.TransactionID != 0 {
		t.Fatalf("zero-cost charge must not move the balance or append a transaction: %+v", receipt)
	}

	calls, err := store.AuditTrail(ctx, ledger.AuditFilter{UserID: 5})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(calls) != 1 || calls[0].CreditsUsed != 0 {
		t.Fatalf("zero-cost charge still logs the call: %+v", calls)
	}
}

func TestConcurrentChargesNeverOverspend(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	acct, err := store.EnsureUserAccount(ctx, 11, 100)
	if err != nil {
		t.Fatalf("EnsureUserAccount: %v", err)
	}

	const workers = 20
	const amount = 7 // floor(100/7) = 14 charges can succeed
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ApplyCharge(ctx, ledger.ChargeParams{
				AccountID: acct.ID,
				UserID:    11,
				ToolName:  "cnic-extraction",
				Amount:    amount,
				Source:    ledger.SourceAPI,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientCredit):
			rejected++
		default:
			t.Fatalf("unexpected charge error: %v", err)
		}
	}
	if ok != 14 || rejected != workers-14 {
		t.Fatalf("expected 14 successes, got %d ok / %d rejected", ok, rejected)
	}

	after, err := store.UserAccount(ctx, 11)
	if err != nil {
		t.Fatalf("UserAccount: %v", err)
	}
	if after.Remaining != 100-14*amount {
		t.Fatalf("unexpected remaining %d", after.Remaining)
	}
	if after.Remaining < 0 {
		t.Fatalf("balance went negative: %+v", after)
	}
	txs, err := store.ListTransactions(ctx, acct.ID, workers+1)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != ok {
		t.Fatalf("expected %d transactions, got %d", ok, len(txs))
	}
}

func TestTransfer(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	admin, err := store.EnsureUserAccount(ctx, 1, 200)
	if err != nil {
		t.Fatalf("EnsureUserAccount admin: %v", err)
	}
	member, err := store.EnsureUserAccount(ctx, 2, 200)
	if err != nil {
		t.Fatalf("EnsureUserAccount member: %v", err)
	}

	receipt, err := store.Transfer(ctx, ledger.TransferParams{
		FromAccountID:   admin.ID,
		ToAccountID:     member.ID,
		Amount:          50,
		FromDescription: "Assigned 50 credits to member",
		ToDescription:   "Received 50 credits from admin",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if receipt.FromRemaining != 150 || receipt.ToRemaining != 250 {
		t.Fatalf("unexpected transfer receipt %+v", receipt)
	}

	adminAfter, _ := store.UserAccount(ctx, 1)
	memberAfter, _ := store.UserAccount(ctx, 2)
	if adminAfter.Total != 150 || adminAfter.Remaining != 150 || adminAfter.Used != 0 {
		t.Fatalf("unexpected admin balance %+v", adminAfter)
	}
	if memberAfter.Total != 250 || memberAfter.Remaining != 250 {
		t.Fatalf("unexpected member balance %+v", memberAfter)
	}

	adminTxs, err := store.ListTransactions(ctx, admin.ID, 10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(adminTxs) != 1 || adminTxs[0].Type != ledger.TransactionDeduction {
		t.Fatalf("expected one DEDUCTION on the source, got %+v", adminTxs)
	}
	if adminTxs[0].Description != "Assigned 50 credits to member" {
		t.Fatalf("DEDUCTION must carry the source description, got %q", adminTxs[0].Description)
	}
	memberTxs, err := store.ListTransactions(ctx, member.ID, 10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(memberTxs) != 1 || memberTxs[0].Type != ledger.TransactionAddition {
		t.Fatalf("expected one ADDITION on the target, got %+v", memberTxs)
	}
	if memberTxs[0].Description != "Received 50 credits from admin" {
		t.Fatalf("ADDITION must carry the destination description, got %q", memberTxs[0].Description)
	}
}

func TestTransferInsufficientRollsBack(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	admin, err := store.EnsureUserAccount(ctx, 1, 30)
	if err != nil {
		t.Fatalf("EnsureUserAccount admin: %v", err)
	}
	member, err := store.EnsureUserAccount(ctx, 2, 0)
	if err != nil {
		t.Fatalf("EnsureUserAccount member: %v", err)
	}

	_, err = store.Transfer(ctx, ledger.TransferParams{
		FromAccountID: admin.ID,
		ToAccountID:   member.ID,
		Amount:        100,
	})
	if !errors.Is(err, ledger.ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}

	adminAfter, _ := store.UserAccount(ctx, 1)
	memberAfter, _ := store.UserAccount(ctx, 2)
	if adminAfter.Remaining != 30 || memberAfter.Remaining != 0 {
		t.Fatalf("failed transfer must not move balances: %+v %+v", adminAfter, memberAfter)
	}
	memberTxs, err := store.ListTransactions(ctx, member.ID, 10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(memberTxs) != 0 {
		t.Fatalf("failed transfer must not append transactions: %+v", memberTxs)
	}
}

func TestCredit(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	acct, err := store.EnsureTeamAccount(ctx, 77, 100)
	if err != nil {
		t.Fatalf("EnsureTeamAccount: %v", err)
	}

	tx, err := store.Credit(ctx, acct.ID, 150, "top-up")
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if tx.Type != ledger.TransactionAddition || tx.Amount != 150 {
		t.Fatalf("unexpected transaction %+v", tx)
	}

	if _, err := store.Credit(ctx, acct.ID, 0, "noop"); err == nil {
		t.Fatalf("expected error for non-positive credit")
	}
	if _, err := store.Credit(ctx, 99999, 10, "ghost"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestOverview(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	a, _ := store.EnsureUserAccount(ctx, 1, 200)
	if _, err := store.EnsureUserAccount(ctx, 2, 100); err != nil {
		t.Fatalf("EnsureUserAccount: %v", err)
	}
	if _, err := store.ApplyCharge(ctx, ledger.ChargeParams{
		AccountID: a.ID, UserID: 1, ToolName: "cnic-extraction", Amount: 25, Source: ledger.SourceApp,
	}); err != nil {
		t.Fatalf("ApplyCharge: %v", err)
	}

	o, err := store.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if o.Accounts != 2 || o.TotalGranted != 300 || o.TotalUsed != 25 || o.Calls != 1 {
		t.Fatalf("unexpected overview %+v", o)
	}
}
