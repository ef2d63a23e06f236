package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/prolessons/pkg/billing"
	"github.com/dmitrymomot/prolessons/pkg/pg"
)

// UserDirectory mirrors the identities forwarded by the authentication proxy
// so webhook events that only carry an email can be joined to a user.
type UserDirectory struct {
	db *pgxpool.Pool
}

var _ billing.UserDirectory = (*UserDirectory)(nil)

// NewUserDirectory creates a UserDirectory.
func NewUserDirectory(db *pgxpool.Pool) *UserDirectory {
	return &UserDirectory{db: db}
}

// Remember records the user's current email. It returns billing.ErrEmailTaken
// when another user id already holds the address.
func (d *UserDirectory) Remember(ctx context.Context, u billing.User) error {
	if u.Email == "" {
		return nil
	}
	_, err := d.db.Exec(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, updated_at = now()
		WHERE users.email <> EXCLUDED.email`,
		u.ID, strings.TrimSpace(u.Email))
	if pg.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %q: %w", billing.ErrEmailTaken, u.Email, err)
	}
	if err != nil {
		return fmt.Errorf("failed to remember user: %w", err)
	}
	return nil
}

// FindByEmail returns billing.ErrUserNotFound when no user has the email.
func (d *UserDirectory) FindByEmail(ctx context.Context, email string) (billing.User, error) {
	var u billing.User
	err := d.db.QueryRow(ctx,
		`SELECT id, email FROM users WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	).Scan(&u.ID, &u.Email)
	if pg.IsNotFoundError(err) {
		return billing.User{}, billing.ErrUserNotFound
	}
	if err != nil {
		return billing.User{}, fmt.Errorf("failed to find user by email: %w", err)
	}
	return u, nil
}
