// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/unical-ir/ir-gateway/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Upstream failures are reported generically so upstream internals never reach clients.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrAlreadyExists):
		Problem(w, http.StatusConflict, "Already Exists", err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		Problem(w, http.StatusUnauthorized, "Invalid Credentials", "invalid credentials")
	case errors.Is(err, shared.ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, shared.ErrTokenExpired):
		Problem(w, http.StatusUnauthorized, "Token Expired", "token expired")
	case errors.Is(err, shared.ErrInvalidToken):
		Problem(w, http.StatusUnauthorized, "Invalid Token", "invalid token")
	case errors.Is(err, shared.ErrAuthorizationDenied):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrUpstreamUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Upstream Unavailable", "upstream service unavailable")
	case errors.Is(err, shared.ErrUpstream), errors.Is(err, shared.ErrUpstreamAuth), errors.Is(err, shared.ErrUpstreamProtocol):
		Problem(w, http.StatusBadGateway, "Upstream Error", "upstream service error")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
