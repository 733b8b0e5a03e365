package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/docsense/docsense/internal/ledger"
	"github.com/docsense/docsense/internal/metrics"
	"github.com/docsense/docsense/internal/userstore"
)

// TransferCoordinator authorizes and executes org-admin credit transfers.
type TransferCoordinator struct {
	users        userstore.Store
	store        ledger.Store
	collector    *metrics.Collector
	defaultGrant int64
}

// NewTransferCoordinator builds a TransferCoordinator. collector may be nil.
func NewTransferCoordinator(users userstore.Store, store ledger.Store, collector *metrics.Collector, defaultGrant int64) *TransferCoordinator {
	return &TransferCoordinator{users: users, store: store, collector: collector, defaultGrant: defaultGrant}
}

// TransferRequest moves credits from an org admin to a team member.
type TransferRequest struct {
	Admin       *userstore.User
	MemberEmail string
	Amount      int64
	IP          string
	Device      string
}

// Transfer checks that the admin administers a team the member belongs to,
// then moves the allowance atomically and records both audit actions.
func (tc *TransferCoordinator) Transfer(ctx context.Context, req TransferRequest) (*ledger.TransferReceipt, error) {
	if req.Admin == nil {
		return nil, fmt.Errorf("%w: admin identity required", ErrUnauthorized)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", req.Amount)
	}
	if req.Admin.Role != userstore.RoleOrgAdmin {
		return nil, fmt.Errorf("%w: %s is not an org admin", ErrUnauthorized, req.Admin.Email)
	}

	team, err := tc.users.TeamByAdmin(ctx, req.Admin.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve team: %w", err)
	}
	if team == nil {
		return nil, fmt.Errorf("%w: %s administers no team", ErrUnauthorized, req.Admin.Email)
	}

	member, err := tc.users.FindByEmail(ctx, req.MemberEmail)
	if err != nil {
		return nil, fmt.Errorf("resolve member: %w", err)
	}
	if member == nil {
		return nil, userstore.ErrUserNotFound
	}
	isMember, err := tc.users.IsMember(ctx, team.ID, member.ID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !isMember {
		return nil, fmt.Errorf("%w: %s is not a member of %s", ErrUnauthorized, member.Email, team.Name)
	}

	adminAcct, err := tc.store.EnsureUserAccount(ctx, req.Admin.ID, tc.defaultGrant)
	if err != nil {
		return nil, fmt.Errorf("ensure admin account: %w", err)
	}
	memberAcct, err := tc.store.EnsureUserAccount(ctx, member.ID, tc.defaultGrant)
	if err != nil {
		return nil, fmt.Errorf("ensure member account: %w", err)
	}

	assigned := fmt.Sprintf("Assigned %d credits to %s", req.Amount, member.Email)
	received := fmt.Sprintf("Received %d credits from %s", req.Amount, req.Admin.Email)
	receipt, err := tc.store.Transfer(ctx, ledger.TransferParams{
		FromAccountID:   adminAcct.ID,
		ToAccountID:     memberAcct.ID,
		Amount:          req.Amount,
		FromDescription: assigned,
		ToDescription:   received,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientCredit) {
			return nil, &InsufficientCreditError{Required: req.Amount, Remaining: adminAcct.Remaining}
		}
		return nil, err
	}

	log.Printf("[INFO] billing: transferred %d credits from %s to %s", req.Amount, req.Admin.Email, member.Email)
	if tc.collector != nil {
		tc.collector.RecordTransfer(req.Amount)
	}

	// Action logs are best effort; the transfer itself already committed.
	tc.recordAction(ctx, req.Admin.ID, fmt.Sprintf("Assigned %d credits to %s", req.Amount, member.Email), req.IP, req.Device)
	tc.recordAction(ctx, member.ID, fmt.Sprintf("Received %d credits from %s", req.Amount, req.Admin.Email), req.IP, req.Device)

	return receipt, nil
}

func (tc *TransferCoordinator) recordAction(ctx context.Context, userID int64, action, ip, device string) {
	if err := tc.users.RecordAction(ctx, userstore.Action{
		UserID: userID,
		Action: strings.TrimSpace(action),
		IP:     ip,
		Device: device,
	}); err != nil {
		log.Printf("[WARN] billing: record action for user %d: %v", userID, err)
	}
}
