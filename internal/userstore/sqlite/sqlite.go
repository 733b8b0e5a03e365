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

	_ "modernc.org/sqlite"

	"github.com/docsense/docsense/internal/userstore"
)

// Store implements userstore.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite user store at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
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
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL UNIQUE,
	role TEXT NOT NULL CHECK(role IN ('visitor','client','org_admin')),
	display_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

CREATE TABLE IF NOT EXISTS teams (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	admin_user_id INTEGER NOT NULL REFERENCES users(id),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS team_members (
	team_id INTEGER NOT NULL REFERENCES teams(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	verified INTEGER NOT NULL DEFAULT 0,
	joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(team_id, user_id)
);

CREATE TABLE IF NOT EXISTS action_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	action TEXT NOT NULL,
	ip TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_action_logs_user_created ON action_logs(user_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureAdmin guarantees an org admin account exists with the provided email.
func (s *Store) EnsureAdmin(ctx context.Context, email string) (*userstore.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		email = "admin@local"
	}
	return s.EnsureUser(ctx, email, "", userstore.RoleOrgAdmin)
}

// EnsureUser creates the user with the given role if absent and returns it.
func (s *Store) EnsureUser(ctx context.Context, email, displayName string, role userstore.Role) (*userstore.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, errors.New("email required")
	}
	switch role {
	case userstore.RoleVisitor, userstore.RoleClient, userstore.RoleOrgAdmin:
	default:
		return nil, fmt.Errorf("invalid role %q", role)
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO users(email, role, display_name, status, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(email) DO NOTHING`,
		email, role, displayName, userstore.StatusActive, now, now); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	u, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, userstore.ErrUserNotFound
	}
	return u, nil
}

// FindByEmail returns the user matching the email, if present.
func (s *Store) FindByEmail(ctx context.Context, email string) (*userstore.User, error) {
	email = normalizeEmail(email)
	row := s.db.QueryRowContext(ctx, `
SELECT id, email, role, display_name, status, created_at, updated_at
FROM users WHERE email = ? LIMIT 1`, email)
	var u userstore.User
	if err := row.Scan(&u.ID, &u.Email, &u.Role, &u.DisplayName, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CreateTeam creates a team administered by the given user.
func (s *Store) CreateTeam(ctx context.Context, name string, adminUserID int64) (*userstore.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("team name required")
	}
	if adminUserID == 0 {
		return nil, errors.New("admin user id required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO teams(name, admin_user_id, created_at) VALUES(?, ?, ?)`, name, adminUserID, now)
	if err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &userstore.Team{ID: id, Name: name, AdminUserID: adminUserID, CreatedAt: now}, nil
}

// TeamByID returns the team, or userstore.ErrTeamNotFound.
func (s *Store) TeamByID(ctx context.Context, id int64) (*userstore.Team, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, admin_user_id, created_at FROM teams WHERE id = ?`, id)
	var t userstore.Team
	if err := row.Scan(&t.ID, &t.Name, &t.AdminUserID, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, userstore.ErrTeamNotFound
		}
		return nil, err
	}
	return &t, nil
}

// TeamByAdmin returns the team administered by the user, or nil when none.
func (s *Store) TeamByAdmin(ctx context.Context, adminUserID int64) (*userstore.Team, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, admin_user_id, created_at FROM teams WHERE admin_user_id = ? LIMIT 1`, adminUserID)
	var t userstore.Team
	if err := row.Scan(&t.ID, &t.Name, &t.AdminUserID, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// AddMember links the user to the team, updating the verified flag on re-add.
func (s *Store) AddMember(ctx context.Context, teamID, userID int64, verified bool) error {
	if teamID == 0 || userID == 0 {
		return errors.New("team id and user id required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO team_members(team_id, user_id, verified, joined_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(team_id, user_id) DO UPDATE SET verified = excluded.verified`,
		teamID, userID, boolToInt(verified), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// IsMember reports whether the user belongs to the team.
func (s *Store) IsMember(ctx context.Context, teamID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(1) FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListMembers returns the team's members with their emails.
func (s *Store) ListMembers(ctx context.Context, teamID int64) ([]userstore.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT m.team_id, m.user_id, u.email, m.verified, m.joined_at
FROM team_members m JOIN users u ON u.id = m.user_id
WHERE m.team_id = ?
ORDER BY m.joined_at ASC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []userstore.Member
	for rows.Next() {
		var m userstore.Member
		var verified int
		if err := rows.Scan(&m.TeamID, &m.UserID, &m.Email, &verified, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.Verified = verified != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordAction appends an administrative audit row.
func (s *Store) RecordAction(ctx context.Context, a userstore.Action) error {
	if a.UserID == 0 {
		return errors.New("user id required")
	}
	if strings.TrimSpace(a.Action) == "" {
		return errors.New("action required")
	}
	at := a.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO action_logs(user_id, action, ip, device, created_at)
VALUES(?, ?, ?, ?, ?)`, a.UserID, a.Action, a.IP, a.Device, at)
	return err
}

// ListActions returns the latest administrative audit rows for a user.
func (s *Store) ListActions(ctx context.Context, userID int64, limit int) ([]userstore.Action, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, action, ip, device, created_at
FROM action_logs
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []userstore.Action
	for rows.Next() {
		var a userstore.Action
		if err := rows.Scan(&a.ID, &a.UserID, &a.Action, &a.IP, &a.Device, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
