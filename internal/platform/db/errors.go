package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/unical-ir/ir-gateway/internal/shared"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err is a Postgres unique-constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsForeignKeyViolation reports whether err is a Postgres foreign-key failure.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation
}

// MapError translates driver errors into shared sentinels, prefixing op.
func MapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, shared.ErrNotFound)
	case IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, shared.ErrAlreadyExists)
	case IsForeignKeyViolation(err):
		return fmt.Errorf("%s: %w", op, shared.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %w", op, shared.ErrDatabase, err)
	}
}
