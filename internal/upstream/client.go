package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/unical-ir/ir-gateway/internal/observability"
	"github.com/unical-ir/ir-gateway/internal/shared"
)

const (
	// HeaderCSRF carries the CSRF token issued or rotated by the upstream.
	HeaderCSRF = "DSPACE-XSRF-TOKEN"
	// HeaderCSRFRequest echoes the CSRF token on state-changing requests.
	HeaderCSRFRequest = "X-XSRF-TOKEN"
	// CookieCSRF is the cookie the upstream pairs with HeaderCSRFRequest.
	CookieCSRF = "DSPACE-XSRF-COOKIE"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      RetryPolicy
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Client performs calls against the repository REST API. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	retry   RetryPolicy
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewClient validates opts and returns a Client sharing opts.HTTPClient.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("upstream: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream: base url %q must be absolute", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(HTTPConfig{})
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	if retry.Logger == nil {
		retry.Logger = logger
	}
	return &Client{base: base, http: httpClient, retry: retry, logger: logger, metrics: opts.Metrics}, nil
}

// Request describes one upstream call. Exactly one of Form, JSON or Body should be set.
type Request struct {
	// Op names the call for logs and metrics.
	Op     string
	Method string
	// Path is relative to the base URL.
	Path   string
	Query  url.Values
	Header http.Header

	Form        url.Values
	JSON        any
	Body        []byte
	ContentType string

	// CSRFToken is sent as X-XSRF-TOKEN and as the matching cookie.
	CSRFToken string
	// BearerToken is sent as Authorization: Bearer.
	BearerToken string
}

// WithSession copies the session credentials onto the request.
func (r Request) WithSession(s Session) Request {
	r.CSRFToken = s.CSRFToken
	r.BearerToken = s.BearerToken
	return r
}

// Response is a successful upstream answer.
type Response struct {
	Status int
	Header http.Header
	// Body is the decoded JSON document when the content type is JSON, otherwise the raw text.
	Body any
	Raw  []byte
}

// Decode unmarshals the raw body into dest.
func (r *Response) Decode(dest any) error {
	if len(r.Raw) == 0 {
		return &ProtocolError{Op: "decode", Detail: "empty response body"}
	}
	if err := json.Unmarshal(r.Raw, dest); err != nil {
		return &ProtocolError{Op: "decode", Detail: err.Error()}
	}
	return nil
}

// URL resolves a path against the base URL.
func (c *Client) URL(path string) string {
	return c.base.JoinPath(path).String()
}

// Do sends req under the retry policy. Non-2xx answers become *StatusError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: %s: encode body: %w", req.Op, err)
	}
	target := c.base.JoinPath(req.Path)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}
	targetURL := target.String()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	policy := c.retry
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.metrics.IncUpstreamRetry(req.Op)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	var resp *Response
	err = policy.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		r, attemptErr := c.attempt(ctx, method, targetURL, req, body, contentType)
		outcome := "success"
		if attemptErr != nil {
			outcome = "error"
		}
		c.metrics.ObserveUpstream(req.Op, outcome, time.Since(start))
		if attemptErr != nil {
			return attemptErr
		}
		resp = r
		return nil
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "upstream request failed",
			slog.String("op", req.Op),
			slog.String("method", method),
			slog.String("url", targetURL),
			slog.String("kind", Classify(err).String()),
			slog.Any("error", err))
		return nil, wrapTransport(req.Op, err)
	}
	return resp, nil
}

// wrapTransport tags connection failures and timeouts as unavailability; typed errors pass through.
func wrapTransport(op string, err error) error {
	var statusErr *StatusError
	var protoErr *ProtocolError
	if errors.As(err, &statusErr) || errors.As(err, &protoErr) || !IsRetryable(err) {
		return err
	}
	return fmt.Errorf("upstream: %s: %w: %w", op, shared.ErrUpstreamUnavailable, err)
}

func (c *Client) attempt(ctx context.Context, method, target string, req Request, body []byte, contentType string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.CSRFToken != "" {
		httpReq.Header.Set(HeaderCSRFRequest, req.CSRFToken)
		httpReq.AddCookie(&http.Cookie{Name: CookieCSRF, Value: req.CSRFToken})
	}
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read body: %w", err)
	}
	decoded := decodeBody(httpResp.Header.Get("Content-Type"), raw)
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &StatusError{Status: httpResp.StatusCode, URL: target, Body: decoded}
	}
	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: decoded, Raw: raw}, nil
}

func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.Form != nil:
		return []byte(req.Form.Encode()), "application/x-www-form-urlencoded", nil
	case req.JSON != nil:
		payload, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", err
		}
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		return payload, contentType, nil
	case req.Body != nil:
		if req.ContentType == "" {
			return nil, "", errors.New("raw body requires a content type")
		}
		return req.Body, req.ContentType, nil
	default:
		return nil, "", nil
	}
}

// decodeBody returns parsed JSON when possible and the trimmed text otherwise.
func decodeBody(contentType string, raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "" || strings.HasSuffix(mediaType, "json") {
		var doc any
		if err := json.Unmarshal(raw, &doc); err == nil {
			return doc
		}
	}
	return strings.TrimSpace(string(raw))
}
