package repository

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/datavault/internal/model"
)

// CreateUser inserts a user with a zero byte counter unless one is set.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO users (email, first_name, last_name, admin, total_bytes) VALUES ($1,$2,$3,$4,$5)
	`, u.Email, u.FirstName, u.LastName, u.Admin, u.TotalBytes)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by email.
func (db *DB) GetUser(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	row := db.pool.QueryRow(ctx, `
		SELECT email, first_name, last_name, admin, total_bytes FROM users WHERE email=$1
	`, email)
	if err := row.Scan(&u.Email, &u.FirstName, &u.LastName, &u.Admin, &u.TotalBytes); err != nil {
		if notFound(err) {
			return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	return &u, nil
}

// AddBytes atomically adds delta to the user's counter as long as the result
// stays at or below ceiling. A negative ceiling disables the bound. ok is
// false when the bound would be crossed; the counter is then untouched.
func (db *DB) AddBytes(ctx context.Context, email string, delta, ceiling int64) (total int64, ok bool, err error) {
	row := db.pool.QueryRow(ctx, `
		UPDATE users SET total_bytes = total_bytes + $2
		WHERE email=$1 AND ($3::bigint < 0 OR total_bytes + $2 <= $3::bigint)
		RETURNING total_bytes
	`, email, delta, ceiling)
	if err := row.Scan(&total); err != nil {
		if !notFound(err) {
			return 0, false, fmt.Errorf("add bytes: %w", err)
		}
		// Either the user is missing or the ceiling was hit.
		u, getErr := db.GetUser(ctx, email)
		if getErr != nil {
			return 0, false, getErr
		}
		return u.TotalBytes, false, nil
	}
	return total, true, nil
}

// SubtractBytes atomically lowers the user's counter, clamping at zero.
func (db *DB) SubtractBytes(ctx context.Context, email string, delta int64) (int64, error) {
	var total int64
	row := db.pool.QueryRow(ctx, `
		UPDATE users SET total_bytes = GREATEST(total_bytes - $2, 0) WHERE email=$1 RETURNING total_bytes
	`, email, delta)
	if err := row.Scan(&total); err != nil {
		if notFound(err) {
			return 0, fmt.Errorf("user %s: %w", email, ErrNotFound)
		}
		return 0, fmt.Errorf("subtract bytes: %w", err)
	}
	return total, nil
}
