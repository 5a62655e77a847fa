// Package fetch provides a non-blocking HTTP GET suitable for a poller that
// must never hold up the coordinator's main loop. It classifies failures
// into the coarse kinds spec.md §4.3/§7 distinguish (transport vs HTTP
// status) so callers can log a short, specific reason without inspecting
// net/http internals.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// Kind classifies why a fetch failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindDNS
	KindConnectionRefused
	KindConnection
	KindTimeout
	KindHTTPStatus
)

// Error is returned by Fetcher.Get on any failure. Message is a short,
// human-readable description suitable for a log line.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Fetcher performs a GET, optionally through a forward proxy.
type Fetcher interface {
	// Get fetches uri with the given request headers and returns the
	// response body on a 2xx status.
	Get(ctx context.Context, uri string, headers map[string]string) ([]byte, error)
}

// HTTPFetcher is the default Fetcher, built on net/http. It deliberately
// does not reuse connections across calls (DisableKeepAlives) — the
// expectation, per spec.md §4.3, is that a nearby caching proxy
// front-ends these requests and keeps the real connection warm.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds a Fetcher with the given total-fetch timeout. When
// proxyAddr is non-empty ("host:port"), all requests are routed through it
// in absolute-form, and DNS resolution for the origin is left to the proxy.
func NewHTTPFetcher(timeout time.Duration, proxyAddr string) *HTTPFetcher {
	transport := &http.Transport{
		DisableKeepAlives: true,
		DialContext: (&net.Dialer{
			Timeout: timeout,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if proxyAddr != "" {
		proxyURL := &url.URL{Scheme: "http", Host: proxyAddr}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Get implements Fetcher.
func (f *HTTPFetcher) Get(ctx context.Context, uri string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Message: fmt.Sprintf("bad request (%s)", err)}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{
			Kind:    KindHTTPStatus,
			Message: fmt.Sprintf("%q", resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Message: fmt.Sprintf("body read error (%s)", err)}
	}
	return body, nil
}

func classify(err error) *Error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: KindDNS, Message: `"DNS lookup error"`}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return &Error{Kind: KindTimeout, Message: `"Timeout"`}
		}
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return &Error{Kind: KindConnectionRefused, Message: `"Connection refused"`}
		}
		return &Error{Kind: KindConnection, Message: `"Connection error"`}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: `"Timeout"`}
	}
	return &Error{Kind: KindUnknown, Message: fmt.Sprintf("%q", err.Error())}
}
