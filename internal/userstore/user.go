package userstore

import (
	"context"
	"errors"
	"time"
)

// Role represents a high level capability within the platform.
type Role string

const (
	RoleVisitor  Role = "visitor"
	RoleClient   Role = "client"
	RoleOrgAdmin Role = "org_admin"
)

// Status captures whether a user is active or suspended.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

var (
	// ErrUserNotFound is returned when an operation references a missing user.
	ErrUserNotFound = errors.New("user not found")
	// ErrTeamNotFound is returned when an operation references a missing team.
	ErrTeamNotFound = errors.New("team not found")
)

// User represents an identity managed by the platform.
type User struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	Role        Role      `json:"role"`
	DisplayName string    `json:"display_name"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Team is an organization unit owned by an org admin.
type Team struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	AdminUserID int64     `json:"admin_user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is one user's membership in a team.
type Member struct {
	TeamID   int64     `json:"team_id"`
	UserID   int64     `json:"user_id"`
	Email    string    `json:"email"`
	Verified bool      `json:"verified"`
	JoinedAt time.Time `json:"joined_at"`
}

// Action is one administrative audit row (who did what, from where).
type Action struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Action    string    `json:"action"`
	IP        string    `json:"ip,omitempty"`
	Device    string    `json:"device,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists users, teams and the administrative action log across
// SQLite/Postgres backends.
type Store interface {
	// EnsureAdmin guarantees an org admin account exists with the provided email.
	EnsureAdmin(ctx context.Context, email string) (*User, error)
	// EnsureUser creates the user with the given role if absent and returns it.
	// An existing user keeps its stored role.
	EnsureUser(ctx context.Context, email, displayName string, role Role) (*User, error)
	// FindByEmail returns the user matching the email, or nil when absent.
	FindByEmail(ctx context.Context, email string) (*User, error)

	CreateTeam(ctx context.Context, name string, adminUserID int64) (*Team, error)
	TeamByID(ctx context.Context, id int64) (*Team, error)
	// TeamByAdmin returns the team administered by the user, or nil when none.
	TeamByAdmin(ctx context.Context, adminUserID int64) (*Team, error)
	// AddMember links the user to the team. Re-adding updates the verified flag.
	AddMember(ctx context.Context, teamID, userID int64, verified bool) error
	IsMember(ctx context.Context, teamID, userID int64) (bool, error)
	ListMembers(ctx context.Context, teamID int64) ([]Member, error)

	// RecordAction appends an administrative audit row.
	RecordAction(ctx context.Context, a Action) error
	ListActions(ctx context.Context, userID int64, limit int) ([]Action, error)

	Close() error
}
