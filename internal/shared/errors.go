package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists indicates a unique resource was created twice.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBadRequest indicates the caller supplied invalid input.
	ErrBadRequest = errors.New("bad request")
	// ErrTokenExpired indicates an expired or badly signed token.
	ErrTokenExpired = errors.New("token expired")
	// ErrInvalidToken covers malformed, revoked and wrong-kind tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrAuthorizationDenied indicates a missing permission.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrUpstream wraps any non-2xx answer from the repository service.
	ErrUpstream = errors.New("upstream error")
	// ErrUpstreamUnavailable marks upstream failures that persisted through every retry.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamAuth indicates an upstream session could not be obtained.
	ErrUpstreamAuth = errors.New("upstream authentication failed")
	// ErrUpstreamProtocol indicates a malformed upstream response.
	ErrUpstreamProtocol = errors.New("upstream protocol error")
	// ErrDatabase wraps storage failures.
	ErrDatabase = errors.New("database error")
)
