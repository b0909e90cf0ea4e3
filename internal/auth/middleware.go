package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/unical-ir/ir-gateway/internal/platform/httpx"
	"github.com/unical-ir/ir-gateway/internal/shared"
)

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("auth: missing bearer token: %w", shared.ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}

// RequireToken verifies the bearer token as kind and stores its claims in the request context.
func (s *TokenService) RequireToken(kind TokenKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			claims, err := s.Authenticate(r.Context(), token, kind)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireAccessToken is RequireToken(AccessToken).
func (s *TokenService) RequireAccessToken() func(http.Handler) http.Handler {
	return s.RequireToken(AccessToken)
}

// Identity returns the email of the authenticated caller.
func Identity(r *http.Request) (string, bool) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok || claims.User.Email == "" {
		return "", false
	}
	return claims.User.Email, true
}
