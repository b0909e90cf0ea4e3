package upstream

import (
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// HTTPConfig sizes the process-wide connection pool used for upstream calls.
type HTTPConfig struct {
	Timeout         time.Duration
	MaxConns        int
	MaxConnsPerHost int
}

// NewHTTPClient builds the shared client. It is created once by main and closed at shutdown
// with CloseIdleConnections; components receive it by reference.
func NewHTTPClient(cfg HTTPConfig) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxConnsPerHost > 0 {
		transport.MaxConnsPerHost = cfg.MaxConnsPerHost
		transport.MaxIdleConnsPerHost = cfg.MaxConnsPerHost
	}
	var rt http.RoundTripper = transport
	if cfg.MaxConns > 0 {
		transport.MaxIdleConns = cfg.MaxConns
		rt = &boundedTransport{next: transport, sem: semaphore.NewWeighted(int64(cfg.MaxConns))}
	}
	return &http.Client{Timeout: cfg.Timeout, Transport: rt}
}

// boundedTransport caps in-flight requests across all hosts; a slot is held until the body is closed.
type boundedTransport struct {
	next *http.Transport
	sem  *semaphore.Weighted
}

func (t *boundedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.sem.Acquire(req.Context(), 1); err != nil {
		return nil, err
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.sem.Release(1)
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: sync.OnceFunc(func() { t.sem.Release(1) })}
	return resp, nil
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the pooled transport.
func (t *boundedTransport) CloseIdleConnections() {
	t.next.CloseIdleConnections()
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}
