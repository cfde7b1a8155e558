// Package accounts is the staff account store behind the auth service.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"citizenportal/internal/authclient"
	"citizenportal/internal/authz"
	"citizenportal/internal/db"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrConflict       = errors.New("username already exists")
	ErrInvalid        = errors.New("invalid user")
	ErrBadCredentials = errors.New("invalid credentials")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  roles TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at TEXT NOT NULL
);
`

func InitSchema(conn *sql.DB) error {
	_, err := conn.Exec(schema)
	return err
}

type Store struct {
	db   *sql.DB
	cost int
	now  func() time.Time
}

func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, cost: bcrypt.DefaultCost, now: time.Now}
}

func (s *Store) Create(ctx context.Context, username, password string, roles []string) (authclient.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return authclient.User{}, fmt.Errorf("%w: username and password required", ErrInvalid)
	}
	if len(roles) == 0 {
		return authclient.User{}, fmt.Errorf("%w: at least one role required", ErrInvalid)
	}
	for _, r := range roles {
		if !authz.IsStaffRole(r) {
			return authclient.User{}, fmt.Errorf("%w: unknown role %q", ErrInvalid, r)
		}
	}
	roles = slices.Clone(roles)
	slices.Sort(roles)
	roles = slices.Compact(roles)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return authclient.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := authclient.User{
		ID:        uuid.NewString(),
		Username:  username,
		Roles:     roles,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO users(id, username, password_hash, roles, active, created_at) VALUES(?,?,?,?,1,?)`,
		u.ID, u.Username, string(hash), strings.Join(roles, ","), db.FormatTime(u.CreatedAt))
	if db.IsUniqueViolation(err) {
		return authclient.User{}, ErrConflict
	}
	if err != nil {
		return authclient.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// Authenticate checks the password of an active account.
func (s *Store) Authenticate(ctx context.Context, username, password string) (authclient.User, error) {
	var hash string
	u, err := s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, username, roles, active, created_at, password_hash FROM users WHERE username=?`,
		strings.TrimSpace(username)), &hash)
	if errors.Is(err, ErrNotFound) {
		return authclient.User{}, ErrBadCredentials
	}
	if err != nil {
		return authclient.User{}, err
	}
	if !u.Active || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return authclient.User{}, ErrBadCredentials
	}
	return u, nil
}

func (s *Store) ByID(ctx context.Context, id string) (authclient.User, error) {
	var hash string
	return s.scanOne(s.db.QueryRowContext(ctx,
		`SELECT id, username, roles, active, created_at, password_hash FROM users WHERE id=?`, id), &hash)
}

// List returns users ordered by username, optionally only those holding role.
func (s *Store) List(ctx context.Context, role string) ([]authclient.User, error) {
	q := `SELECT id, username, roles, active, created_at FROM users`
	var args []any
	if role != "" {
		q += ` WHERE ',' || roles || ',' LIKE ?`
		args = append(args, "%,"+role+",%")
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY username`, args...)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	out := []authclient.User{}
	for rows.Next() {
		var u authclient.User
		var roles, created string
		if err := rows.Scan(&u.ID, &u.Username, &roles, &u.Active, &created); err != nil {
			return nil, err
		}
		u.Roles = strings.Split(roles, ",")
		u.CreatedAt = db.ParseTime(created)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET active=? WHERE id=?`, active, id)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin unless the username is taken.
func (s *Store) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := s.Create(ctx, username, password, []string{authz.RoleAdmin})
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) scanOne(row *sql.Row, hash *string) (authclient.User, error) {
	var u authclient.User
	var roles, created string
	err := row.Scan(&u.ID, &u.Username, &roles, &u.Active, &created, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return authclient.User{}, ErrNotFound
	}
	if err != nil {
		return authclient.User{}, fmt.Errorf("select user: %w", err)
	}
	u.Roles = strings.Split(roles, ",")
	u.CreatedAt = db.ParseTime(created)
	return u, nil
}
