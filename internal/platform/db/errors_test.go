package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/unical-ir/ir-gateway/internal/shared"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, MapError("op", nil))
	assert.ErrorIs(t, MapError("rbac: get role", pgx.ErrNoRows), shared.ErrNotFound)

	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "roles_name_key"})
	assert.True(t, IsUniqueViolation(unique))
	assert.ErrorIs(t, MapError("rbac: insert role", unique), shared.ErrAlreadyExists)

	fk := &pgconn.PgError{Code: "23503"}
	assert.ErrorIs(t, MapError("rbac: assign", fk), shared.ErrNotFound)

	boom := errors.New("connection reset")
	mapped := MapError("rbac: list", boom)
	assert.ErrorIs(t, mapped, shared.ErrDatabase)
	assert.ErrorIs(t, mapped, boom)
	assert.True(t, strings.HasPrefix(mapped.Error(), "rbac: list"))
}

func TestSchemaDeclaresTables(t *testing.T) {
	for _, table := range []string{"users", "roles", "permissions", "role_permissions", "user_roles", "role_groups"} {
		assert.Contains(t, Schema(), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Contains(t, Schema(), "'admin', 'user', 'super_admin', 'lecturer', 'student'")
}
