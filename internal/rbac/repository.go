package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unical-ir/ir-gateway/internal/platform/db"
	"github.com/unical-ir/ir-gateway/internal/shared"
)

// Reader exposes read operations available both inside and outside transactions.
type Reader interface {
	GetRole(ctx context.Context, name RoleName) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
	UserRoles(ctx context.Context, userID int64) ([]RoleName, error)
	GetGroupMapping(ctx context.Context, roleID int64) (GroupMapping, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Reader
	RoleExists(ctx context.Context, name RoleName) (bool, error)
	GetPermission(ctx context.Context, name string) (Permission, error)
	InsertRole(ctx context.Context, name RoleName, description string) (Role, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	DeleteRole(ctx context.Context, roleID int64) error
	InsertPermission(ctx context.Context, p Permission) (bool, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	AssignRole(ctx context.Context, userID, roleID int64) (bool, error)
	RemoveRole(ctx context.Context, userID, roleID int64) (bool, error)
	SaveGroupMapping(ctx context.Context, m GroupMapping) error
	DeleteGroupMapping(ctx context.Context, roleID int64) error
}

// Repository is the RBAC store.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	q    queries
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, q: queries{db: pool}}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, queries{db: tx})
	})
}

func (r *PGRepository) GetRole(ctx context.Context, name RoleName) (Role, error) {
	return r.q.GetRole(ctx, name)
}

func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	return r.q.ListRoles(ctx)
}

func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.q.ListPermissions(ctx)
}

func (r *PGRepository) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return r.q.EffectivePermissions(ctx, userID)
}

func (r *PGRepository) UserRoles(ctx context.Context, userID int64) ([]RoleName, error) {
	return r.q.UserRoles(ctx, userID)
}

func (r *PGRepository) GetGroupMapping(ctx context.Context, roleID int64) (GroupMapping, error) {
	return r.q.GetGroupMapping(ctx, roleID)
}

// queries runs the SQL against either the pool or an open transaction.
type queries struct {
	db interface {
		Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
		Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
		QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	}
}

const roleColumns = `r.id, r.name, r.description, r.created_at, r.updated_at,
	COALESCE(array_agg(p.name ORDER BY p.name) FILTER (WHERE p.name IS NOT NULL), '{}')`

const roleFrom = `FROM roles r
	LEFT JOIN role_permissions rp ON rp.role_id = r.id
	LEFT JOIN permissions p ON p.id = rp.permission_id`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	var name string
	if err := row.Scan(&role.ID, &name, &role.Description, &role.CreatedAt, &role.UpdatedAt, &role.Permissions); err != nil {
		return Role{}, err
	}
	role.Name = RoleName(name)
	return role, nil
}

func (q queries) GetRole(ctx context.Context, name RoleName) (Role, error) {
	row := q.db.QueryRow(ctx, `SELECT `+roleColumns+` `+roleFrom+` WHERE r.name = $1 GROUP BY r.id`, string(name))
	role, err := scanRole(row)
	if err != nil {
		return Role{}, db.MapError(fmt.Sprintf("rbac: get role %s", name), err)
	}
	return role, nil
}

func (q queries) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roleColumns+` `+roleFrom+` GROUP BY r.id ORDER BY r.name`)
	if err != nil {
		return nil, db.MapError("rbac: list roles", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, db.MapError("rbac: scan role", err)
		}
		roles = append(roles, role)
	}
	return roles, db.MapError("rbac: list roles", rows.Err())
}

func (q queries) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, db.MapError("rbac: list permissions", err)
	}
	perms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
		var p Permission
		err := row.Scan(&p.ID, &p.Name, &p.Description)
		return p, err
	})
	return perms, db.MapError("rbac: list permissions", err)
}

func (q queries) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1`, userID)
	if err != nil {
		return nil, db.MapError("rbac: effective permissions", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return names, db.MapError("rbac: effective permissions", err)
}

func (q queries) UserRoles(ctx context.Context, userID int64) ([]RoleName, error) {
	rows, err := q.db.Query(ctx, `SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, db.MapError("rbac: user roles", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, db.MapError("rbac: user roles", err)
	}
	out := make([]RoleName, len(names))
	for i, n := range names {
		out[i] = RoleName(n)
	}
	return out, nil
}

func (q queries) GetGroupMapping(ctx context.Context, roleID int64) (GroupMapping, error) {
	var m GroupMapping
	var name string
	err := q.db.QueryRow(ctx, `SELECT role_id, role_name, upstream_group_id, created_at FROM role_groups WHERE role_id = $1`, roleID).
		Scan(&m.RoleID, &name, &m.UpstreamGroupID, &m.CreatedAt)
	if err != nil {
		return GroupMapping{}, db.MapError("rbac: get group mapping", err)
	}
	m.RoleName = RoleName(name)
	return m, nil
}

func (q queries) RoleExists(ctx context.Context, name RoleName) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, string(name)).Scan(&exists)
	return exists, db.MapError("rbac: role exists", err)
}

func (q queries) GetPermission(ctx context.Context, name string) (Permission, error) {
	var p Permission
	err := q.db.QueryRow(ctx, `SELECT id, name, description FROM permissions WHERE name = $1`, name).
		Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, db.MapError(fmt.Sprintf("rbac: permission %s", name), err)
	}
	return p, nil
}

func (q queries) InsertRole(ctx context.Context, name RoleName, description string) (Role, error) {
	role := Role{Name: name, Description: description, Permissions: []string{}}
	err := q.db.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2)
		RETURNING id, created_at, updated_at`, string(name), description).
		Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, db.MapError(fmt.Sprintf("rbac: insert role %s", name), err)
	}
	return role, nil
}

func (q queries) AttachPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := q.db.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, roleID, permissionID)
	return db.MapError("rbac: attach permission", err)
}

func (q queries) DeleteRole(ctx context.Context, roleID int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return db.MapError("rbac: delete role", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rbac: delete role %d: %w", roleID, shared.ErrNotFound)
	}
	return nil
}

func (q queries) InsertPermission(ctx context.Context, p Permission) (bool, error) {
	tag, err := q.db.Exec(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`, p.Name, p.Description)
	if err != nil {
		return false, db.MapError("rbac: insert permission", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q queries) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, db.MapError("rbac: user exists", err)
}

func (q queries) AssignRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return false, db.MapError("rbac: assign role", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q queries) RemoveRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, db.MapError("rbac: remove role", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q queries) SaveGroupMapping(ctx context.Context, m GroupMapping) error {
	_, err := q.db.Exec(ctx, `INSERT INTO role_groups (role_id, role_name, upstream_group_id) VALUES ($1, $2, $3)
		ON CONFLICT (role_id) DO UPDATE SET upstream_group_id = EXCLUDED.upstream_group_id`,
		m.RoleID, string(m.RoleName), m.UpstreamGroupID)
	return db.MapError("rbac: save group mapping", err)
}

func (q queries) DeleteGroupMapping(ctx context.Context, roleID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM role_groups WHERE role_id = $1`, roleID)
	return db.MapError("rbac: delete group mapping", err)
}

var (
	_ Repository   = (*PGRepository)(nil)
	_ TxRepository = queries{}
)
