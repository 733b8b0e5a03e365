package billing

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/docsense/docsense/internal/ledger"
	"github.com/docsense/docsense/internal/metrics"
	"github.com/docsense/docsense/internal/userstore"
	usqlite "github.com/docsense/docsense/internal/userstore/sqlite"
)

func newUsers(t *testing.T) *usqlite.Store {
	t.Helper()
	store, err := usqlite.New(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("usqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type transferFixture struct {
	users  *usqlite.Store
	store  ledger.Store
	tc     *TransferCoordinator
	admin  *userstore.User
	member *userstore.User
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()
	users := newUsers(t)
	store := newLedger(t)
	ctx := context.Background()

	admin, err := users.EnsureAdmin(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	team, err := users.CreateTeam(ctx, "acme", admin.ID)
	if err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	member, err := users.EnsureUser(ctx, "member@example.com", "Member", userstore.RoleClient)
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := users.AddMember(ctx, team.ID, member.ID, true); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	return &transferFixture{
		users:  users,
		store:  store,
		tc:     NewTransferCoordinator(users, store, metrics.NewCollector(), 200),
		admin:  admin,
		member: member,
	}
}

func TestTransferHappyPath(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	receipt, err := f.tc.Transfer(ctx, TransferRequest{
		Admin:       f.admin,
		MemberEmail: "member@example.com",
		Amount:      50,
		IP:          "203.0.113.9",
		Device:      "curl/8.5",
	})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if receipt.FromRemaining != 150 || receipt.ToRemaining != 250 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	adminActions, err := f.users.ListActions(ctx, f.admin.ID, 10)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(adminActions) != 1 || adminActions[0].Action != "Assigned 50 credits to member@example.com" {
		t.Fatalf("unexpected admin actions %+v", adminActions)
	}
	memberActions, err := f.users.ListActions(ctx, f.member.ID, 10)
	if err != nil {
		t.Fatalf("ListActions: %v", err)
	}
	if len(memberActions) != 1 || memberActions[0].Action != "Received 50 credits from admin@example.com" {
		t.Fatalf("unexpected member actions %+v", memberActions)
	}

	// The two ledger legs carry distinct descriptions: the admin's DEDUCTION
	// names the recipient, the member's ADDITION names the sender.
	adminAcct, err := f.store.UserAccount(ctx, f.admin.ID)
	if err != nil {
		t.Fatalf("UserAccount admin: %v", err)
	}
	memberAcct, err := f.store.UserAccount(ctx, f.member.ID)
	if err != nil {
		t.Fatalf("UserAccount member: %v", err)
	}
	adminTxs, err := f.store.ListTransactions(ctx, adminAcct.ID, 10)
	if err != nil {
		t.Fatalf("ListTransactions admin: %v", err)
	}
	if len(adminTxs) != 1 || adminTxs[0].Description != "Assigned 50 credits to member@example.com" {
		t.Fatalf("unexpected admin transactions %+v", adminTxs)
	}
	memberTxs, err := f.store.ListTransactions(ctx, memberAcct.ID, 10)
	if err != nil {
		t.Fatalf("ListTransactions member: %v", err)
	}
	if len(memberTxs) != 1 || memberTxs[0].Description != "Received 50 credits from admin@example.com" {
		t.Fatalf("unexpected member transactions %+v", memberTxs)
	}
}

func TestTransferRequiresOrgAdmin(t *testing.T) {
	f := newTransferFixture(t)

	_, err := f.tc.Transfer(context.Background(), TransferRequest{
		Admin:       f.member, // a client, not an org admin
		MemberEmail: "admin@example.com",
		Amount:      10,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTransferRejectsNonMember(t *testing.T) {
	f := newTransferFixture(t)
	ctx := context.Background()

	if _, err := f.users.EnsureUser(ctx, "outsider@example.com", "", userstore.RoleClient); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	_, err := f.tc.Transfer(ctx, TransferRequest{
		Admin:       f.admin,
		MemberEmail: "outsider@example.com",
		Amount:      10,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-member, got %v", err)
	}
}

func TestTransferUnknownMember(t *testing.T) {
	f := newTransferFixture(t)

	_, err := f.tc.Transfer(context.Background(), TransferRequest{
		Admin:       f.admin,
		MemberEmail: "ghost@example.com",
		Amount:      10,
	})
	if !errors.Is(err, userstore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestTransferInsufficient(t *testing.T) {
	f := newTransferFixture(t)

	_, err := f.tc.Transfer(context.Background(), TransferRequest{
		Admin:       f.admin,
		MemberEmail: "member@example.com",
		Amount:      10_000,
	})
	var insufficient *InsufficientCreditError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditError, got %v", err)
	}
	if insufficient.Remaining != 200 {
		t.Fatalf("unexpected shortfall %+v", insufficient)
	}
}
