package forward

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"mercator-hq/interpose/pkg/config"
)

// Fetcher performs the real request for a decrypted one. req.URL is
// absolute with the https scheme.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher fetches from origins with a pooled http.Client.
type HTTPFetcher struct {
	// client is the HTTP client with connection pooling
	client *http.Client
}

// NewHTTPFetcher creates a fetcher from upstream configuration.
func NewHTTPFetcher(cfg config.UpstreamConfig) *HTTPFetcher {
	transport := &http.Transport{
		Proxy:               nil,
		DialContext:         (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		// Responses are relayed byte for byte, including Content-Encoding.
		DisableCompression: true,
		ForceAttemptHTTP2:  false,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in via upstream.insecure_skip_verify
		},
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewHTTPFetcherWithClient wraps an existing client. Redirects are the
// client's responsibility.
func NewHTTPFetcherWithClient(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

// Fetch sends req to its origin.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := f.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, classify(req.URL.Host, err)
	}
	return resp, nil
}

// Close releases idle origin connections.
func (f *HTTPFetcher) Close() {
	f.client.CloseIdleConnections()
}

func classify(host string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &FetchError{Host: host, Timeout: true, Cause: err}
	}
	return &FetchError{Host: host, Cause: err}
}
