package roles

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unical-ir/ir-gateway/internal/auth"
	"github.com/unical-ir/ir-gateway/internal/platform/httpx"
	"github.com/unical-ir/ir-gateway/internal/rbac"
	"github.com/unical-ir/ir-gateway/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers role routes. Callers must already be authenticated.
// Mutations are authorized by the service against the acting user.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequirePermission(rbac.PermReadRole))
		r.Get("/", h.listRoles)
		r.Get("/{name}", h.getRole)
		r.Get("/{name}/members", h.listMembers)
	})
	r.Post("/", h.createRole)
	r.Delete("/{name}", h.deleteRole)
	r.Put("/{name}/users/{userID}", h.assignRole)
	r.Delete("/{name}/users/{userID}", h.removeRole)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.Members(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, "list role members", err)
		return
	}
	httpx.JSON(w, http.StatusOK, members)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	var req createRoleRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), actorID, rbac.NewRole{Name: req.Name, Description: req.Description, Permissions: req.Permissions})
	if err != nil {
		h.fail(w, r, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteRole(r.Context(), actorID, chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	h.changeAssignment(w, r, "assign role", h.service.AssignRole)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	h.changeAssignment(w, r, "remove role", h.service.RemoveRole)
}

type assignmentFunc func(ctx context.Context, actorID, userID int64, name string) error

func (h *Handler) changeAssignment(w http.ResponseWriter, r *http.Request, op string, apply assignmentFunc) {
	actorID, ok := actor(w, r)
	if !ok {
		return
	}
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.RespondError(w, fmt.Errorf("invalid user id: %w", shared.ErrBadRequest))
		return
	}
	if err := apply(r.Context(), actorID, userID, chi.URLParam(r, "name")); err != nil {
		h.fail(w, r, op, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op+" failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}

func actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, fmt.Errorf("no authenticated user: %w", shared.ErrInvalidToken))
	}
	return id, ok
}
