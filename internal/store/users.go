package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/pkg/apperr"
)

const userColumns = `id, email, hashed_password, COALESCE(full_name, ''), is_active, is_superuser, created_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.FullName, &u.IsActive, &u.IsSuperuser, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a new account. The email must be unique; a
// duplicate returns a Conflict error.
func (s *Store) CreateUser(ctx context.Context, email, hashedPassword, fullName string) (*models.User, error) {
	query := `
		INSERT INTO users (email, hashed_password, full_name)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns + `
	`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, email, hashedPassword, fullName))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1
	`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// UpdateUserProfile patches email and/or full name. Nil fields keep
// their current value.
func (s *Store) UpdateUserProfile(ctx context.Context, id int64, email, fullName *string) (*models.User, error) {
	query := `
		UPDATE users
		SET email = COALESCE($2, email),
		    full_name = COALESCE($3, full_name)
		WHERE id = $1
		RETURNING ` + userColumns + `
	`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, id, email, fullName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("email already registered")
		}
		return nil, fmt.Errorf("update user profile: %w", err)
	}
	return u, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, id int64, hashedPassword string) error {
	query := `
		UPDATE users
		SET hashed_password = $2
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, query, id, hashedPassword)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}
