package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/PaulBabatuyi/amana-chat/internal/apperr"
	"github.com/PaulBabatuyi/amana-chat/internal/data"
	"github.com/PaulBabatuyi/amana-chat/internal/normalize"
)

const pgUniqueViolation = "23505"

// CreateUser inserts a user. The UNIQUE constraint on email turns concurrent
// duplicates into apperr.ErrDuplicateEmail.
func (s *Store) CreateUser(ctx context.Context, nu data.NewUser) (*data.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := s.now().UTC()
	u := &data.User{
		ID:           id.String(),
		Email:        normalize.Email(nu.Email),
		Name:         normalize.Name(nu.Name),
		PasswordHash: nu.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	query := s.rebind(`INSERT INTO users (id, email, name, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create user %q: %w", u.Email, apperr.ErrDuplicateEmail)
		}
		return nil, apperr.Transient("insert user", err)
	}

	return u, nil
}

// GetUserByEmail finds a user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*data.User, error) {
	query := s.rebind(`SELECT id, email, name, password_hash, created_at, updated_at FROM users WHERE email = ?`)
	u, err := s.scanUser(s.db.QueryRowContext(ctx, query, normalize.Email(email)))
	if err != nil {
		return nil, fmt.Errorf("user by email: %w", err)
	}
	return u, nil
}

// GetUserByID finds a user by id. Ids that are not UUIDs are reported as not found.
func (s *Store) GetUserByID(ctx context.Context, id string) (*data.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("user id %q: %w", id, apperr.ErrNotFound)
	}

	query := s.rebind(`SELECT id, email, name, password_hash, created_at, updated_at FROM users WHERE id = ?`)
	u, err := s.scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return u, nil
}

// UpdateUserTimestamp refreshes updated_at; unknown ids update nothing.
func (s *Store) UpdateUserTimestamp(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	query := s.rebind(`UPDATE users SET updated_at = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, s.now().UTC(), id)
	return apperr.Transient("touch user", err)
}

// ListUsers returns every user, oldest account first.
func (s *Store) ListUsers(ctx context.Context) ([]*data.SessionUser, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, name, password_hash, created_at, updated_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperr.Transient("list users", err)
	}
	defer rows.Close()

	var users []*data.SessionUser
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u.Session())
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Transient("iterate users", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanUser(row rowScanner) (*data.User, error) {
	var u data.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Transient("scan user", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
