package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Principal is an identity the gateway can log in to the upstream with.
type Principal struct {
	Identifier string
	Secret     string
}

// LogValue keeps the secret out of logs.
func (p Principal) LogValue() slog.Value {
	return slog.StringValue(p.Identifier)
}

// Session is the credential pair returned by a successful login.
type Session struct {
	CSRFToken   string `json:"csrfToken"`
	BearerToken string `json:"bearerToken"`
}

// Valid reports whether both tokens are present.
func (s Session) Valid() bool {
	return s.CSRFToken != "" && s.BearerToken != ""
}

// AuthStatus mirrors the upstream authentication status document.
type AuthStatus struct {
	Okay          bool   `json:"okay"`
	Authenticated bool   `json:"authenticated"`
	Type          string `json:"type"`
}

// FetchCSRF obtains a fresh CSRF token.
func (c *Client) FetchCSRF(ctx context.Context) (string, error) {
	resp, err := c.Do(ctx, Request{Op: "csrf", Method: http.MethodGet, Path: "security/csrf"})
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(resp.Header.Get(HeaderCSRF))
	if token == "" {
		return "", &ProtocolError{Op: "csrf", Detail: "response carries no " + HeaderCSRF + " header"}
	}
	return token, nil
}

// ExchangeCredentials posts the principal's credentials with csrf and returns the new session.
// The upstream rotates the CSRF token on login; when it does not, the sent token stays valid.
func (c *Client) ExchangeCredentials(ctx context.Context, p Principal, csrf string) (Session, error) {
	resp, err := c.Do(ctx, Request{
		Op:        "login",
		Method:    http.MethodPost,
		Path:      "authn/login",
		Form:      url.Values{"user": {p.Identifier}, "password": {p.Secret}},
		CSRFToken: csrf,
	})
	if err != nil {
		return Session{}, err
	}
	bearer := bearerFromHeader(resp.Header.Get("Authorization"))
	if bearer == "" {
		return Session{}, &ProtocolError{Op: "login", Detail: "response carries no bearer token"}
	}
	rotated := strings.TrimSpace(resp.Header.Get(HeaderCSRF))
	if rotated == "" {
		rotated = csrf
	}
	return Session{CSRFToken: rotated, BearerToken: bearer}, nil
}

// Status asks the upstream whether the session is still authenticated.
func (c *Client) Status(ctx context.Context, s Session) (AuthStatus, error) {
	resp, err := c.Do(ctx, Request{Op: "status", Method: http.MethodGet, Path: "authn/status"}.WithSession(s))
	if err != nil {
		return AuthStatus{}, err
	}
	var status AuthStatus
	if err := resp.Decode(&status); err != nil {
		return AuthStatus{}, err
	}
	return status, nil
}

// Logout invalidates the session upstream.
func (c *Client) Logout(ctx context.Context, s Session) error {
	_, err := c.Do(ctx, Request{Op: "logout", Method: http.MethodPost, Path: "authn/logout"}.WithSession(s))
	return err
}

func bearerFromHeader(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > len("bearer ") && strings.EqualFold(value[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}
