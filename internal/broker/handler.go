package broker

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unical-ir/ir-gateway/internal/platform/httpx"
	"github.com/unical-ir/ir-gateway/internal/upstream"
)

// IdentityFunc resolves the upstream identifier of the authenticated caller.
type IdentityFunc func(r *http.Request) (string, bool)

// Handler exposes upstream session endpoints.
type Handler struct {
	logger   *slog.Logger
	broker   *Broker
	identity IdentityFunc
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, broker *Broker, identity IdentityFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, broker: broker, identity: identity}
}

// MountPublic registers routes that need no local token.
func (h *Handler) MountPublic(r chi.Router) {
	r.Post("/login", h.login)
}

// MountProtected registers routes that expect the caller identity in the request context.
func (h *Handler) MountProtected(r chi.Router) {
	r.Get("/status", h.status)
	r.Post("/logout", h.logout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Bind(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	session, err := h.broker.Login(r.Context(), upstream.Principal{Identifier: req.Email, Secret: req.Password})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	identifier, ok := h.identity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	status, err := h.broker.Status(r.Context(), identifier)
	if err != nil {
		h.logger.Error("upstream status failed", slog.String("principal", identifier), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	identifier, ok := h.identity(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if err := h.broker.Logout(r.Context(), identifier); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
