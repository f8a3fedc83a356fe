package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const userColumns = `id, name, email, credential, temp_token, temp_token_expiry, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var credential, tempToken sql.NullString
	var expiry sql.NullTime
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &credential, &tempToken, &expiry,
		&u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Credential = credential.String
	u.TempToken = tempToken.String
	u.TempTokenExpiry = timePtr(expiry)
	return u, nil
}

// CreateUser inserts a user, assigning an id and timestamps when unset
func (s *SQLStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now
	if u.Status == "" {
		u.Status = UserStatusUnverified
	}

	query := `
		INSERT INTO users (id, name, email, credential, temp_token, temp_token_expiry, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q.ExecContext(ctx, query, u.ID, u.Name, NormalizeEmail(u.Email),
		nullString(u.Credential), nullString(u.TempToken), nullTime(u.TempTokenExpiry),
		u.Status, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return s.dialect.mapWriteError(err, CodeUserAlreadyExists, "create user")
	}
	u.Email = NormalizeEmail(u.Email)
	return nil
}

func (s *SQLStore) getUser(ctx context.Context, where string, arg any) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(s.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound(CodeUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by id
func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, `id = $1`, id)
}

// GetUserByEmail retrieves a user by email, case-insensitively
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, `LOWER(email) = $1`, NormalizeEmail(email))
}

// GetUserByTempToken retrieves the user holding a one-time token
func (s *SQLStore) GetUserByTempToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, NotFound(CodeUserNotFound)
	}
	return s.getUser(ctx, `temp_token = $1`, token)
}

// UpdateUser writes every mutable field of u
func (s *SQLStore) UpdateUser(ctx context.Context, u *User) error {
	u.UpdatedAt = s.now()
	query := `
		UPDATE users
		SET name = $1, email = $2, credential = $3, temp_token = $4, temp_token_expiry = $5,
		    status = $6, updated_at = $7
		WHERE id = $8
	`
	res, err := s.q.ExecContext(ctx, query, u.Name, NormalizeEmail(u.Email),
		nullString(u.Credential), nullString(u.TempToken), nullTime(u.TempTokenExpiry),
		u.Status, u.UpdatedAt, u.ID)
	if err != nil {
		return s.dialect.mapWriteError(err, CodeUserAlreadyExists, "update user")
	}
	return expectOneRow(res, CodeUserNotFound)
}
