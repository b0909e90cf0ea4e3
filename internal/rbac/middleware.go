package rbac

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/unical-ir/ir-gateway/internal/auth"
	"github.com/unical-ir/ir-gateway/internal/platform/httpx"
	"github.com/unical-ir/ir-gateway/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequirePermission ensures the current user holds perm.
func (m Middleware) RequirePermission(perm string) func(http.Handler) http.Handler {
	return m.RequireAll(perm)
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), PermissionSet.HasAny)
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(normalizePermissions(perms), PermissionSet.HasAll)
}

func (m Middleware) require(required []string, check func(PermissionSet, ...string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := auth.UserIDFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, fmt.Errorf("rbac: no authenticated user: %w", shared.ErrInvalidToken))
				return
			}
			granted, err := m.Service.EffectivePermissions(r.Context(), userID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.ErrorContext(r.Context(), "rbac effective permissions", slog.Int64("user_id", userID), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			if !check(granted, required...) {
				httpx.RespondError(w, fmt.Errorf("permission required: %v: %w", required, shared.ErrAuthorizationDenied))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
