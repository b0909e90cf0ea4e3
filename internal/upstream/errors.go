package upstream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/unical-ir/ir-gateway/internal/shared"
)

// Kind classifies an upstream failure so callers can tell a rejected login from an outage.
type Kind int

const (
	KindUnknown Kind = iota
	// KindCredentials means the upstream refused the supplied identity (401/403).
	KindCredentials
	// KindRejected covers the remaining non-retryable 4xx answers.
	KindRejected
	// KindUnavailable covers timeouts, connection failures, 429 and 5xx.
	KindUnavailable
	// KindProtocol means the upstream answered but the response was unusable.
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindCredentials:
		return "credentials"
	case KindRejected:
		return "rejected"
	case KindUnavailable:
		return "unavailable"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// StatusError is returned for every non-2xx upstream response.
type StatusError struct {
	Status int
	URL    string
	// Body holds the decoded JSON error document, or the raw text when it is not JSON.
	Body any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s returned %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Unwrap exposes shared.ErrUpstream, plus shared.ErrUpstreamUnavailable for 429 and 5xx.
func (e *StatusError) Unwrap() []error {
	if e.Kind() == KindUnavailable {
		return []error{shared.ErrUpstream, shared.ErrUpstreamUnavailable}
	}
	return []error{shared.ErrUpstream}
}

// Kind classifies the status code.
func (e *StatusError) Kind() Kind {
	switch {
	case e.Status == http.StatusTooManyRequests || e.Status >= 500:
		return KindUnavailable
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return KindCredentials
	case e.Status >= 400:
		return KindRejected
	default:
		return KindUnknown
	}
}

// ProtocolError reports a response that violates the upstream contract, such as a missing CSRF header.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("upstream: %s: %s", e.Op, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return shared.ErrUpstreamProtocol }

// Classify maps any error produced by Client to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Kind()
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return KindProtocol
	}
	if errors.Is(err, shared.ErrUpstreamUnavailable) || IsRetryable(err) {
		return KindUnavailable
	}
	return KindUnknown
}

// IsStatus reports whether err is a StatusError carrying code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == code
}
