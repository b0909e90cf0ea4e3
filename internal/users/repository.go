package users

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unical-ir/ir-gateway/internal/auth"
	"github.com/unical-ir/ir-gateway/internal/platform/db"
)

const userColumns = `id, email, first_name, last_name, COALESCE(upstream_id, ''), is_active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row, extra ...any) (User, error) {
	var u User
	dest := append([]any{&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.UpstreamID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt}, extra...)
	err := row.Scan(dest...)
	return u, err
}

// FindByEmail returns the credentials of the user with email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	var hash string
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+`, password_hash FROM users WHERE email = $1`, email), &hash)
	if err != nil {
		return nil, db.MapError("users: find by email", err)
	}
	return u.credentials(hash), nil
}

// GetByID returns a user.
func (r *Repository) GetByID(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, db.MapError(fmt.Sprintf("users: get %d", id), err)
	}
	return u, nil
}

// UpstreamID returns the upstream account id of a user, empty when it has none.
func (r *Repository) UpstreamID(ctx context.Context, id int64) (string, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return u.UpstreamID, nil
}

// ListUsers returns all users ordered by email.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY email`)
	if err != nil {
		return nil, db.MapError("users: list", err)
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, db.MapError("users: list", err)
	}
	return list, nil
}

// Create inserts a user. A duplicate email yields shared.ErrAlreadyExists.
func (r *Repository) Create(ctx context.Context, in NewUser) (User, error) {
	var upstreamID any
	if in.UpstreamID != "" {
		upstreamID = in.UpstreamID
	}
	u, err := scanUser(r.pool.QueryRow(ctx, `INSERT INTO users (email, first_name, last_name, password_hash, upstream_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns, in.Email, in.FirstName, in.LastName, in.PasswordHash, upstreamID))
	if err != nil {
		return User{}, db.MapError("users: create", err)
	}
	return u, nil
}
