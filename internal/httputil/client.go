// Package httputil provides HTTP client abstractions for testability and
// the JSON response helpers shared by the API handlers.
package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// MaxFetchBytes caps a single asset download. Point clouds of a few million
// points stay well below this.
const MaxFetchBytes = 512 << 20

// HTTPClient abstracts HTTP operations for testability.
// Use http.DefaultClient or http.Client for production; MockHTTPClient for testing.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient creates a new StandardClient wrapping the given http.Client.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Fetch issues a GET bound to ctx and returns the body. Non-2xx responses
// yield a *StatusError; bodies over MaxFetchBytes are rejected.
func Fetch(ctx context.Context, c HTTPClient, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(data) > MaxFetchBytes {
		return nil, fmt.Errorf("GET %s: body exceeds %d bytes", url, MaxFetchBytes)
	}
	return data, nil
}

// MockHTTPClient provides a testable HTTP client implementation.
//
// Responses registered with AddRoute are matched by URL path and may be
// served any number of times, in any order; this suits loaders that fetch
// several assets concurrently. Unrouted paths get a 404.
type MockHTTPClient struct {
	mu       sync.Mutex
	Requests []*http.Request
	Routes   map[string]*MockResponse
}

// MockResponse defines a canned HTTP response for testing.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Error      error
}

// NewMockHTTPClient creates a new mock HTTP client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		Requests: []*http.Request{},
		Routes:   map[string]*MockResponse{},
	}
}

// AddRoute serves body with statusCode for every request to path.
func (m *MockHTTPClient) AddRoute(path string, statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Routes == nil {
		m.Routes = map[string]*MockResponse{}
	}
	m.Routes[path] = &MockResponse{StatusCode: statusCode, Body: body, Headers: make(http.Header)}
	return m
}

// Do records the request and returns the matching route.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if req.Context().Err() != nil {
		return nil, req.Context().Err()
	}

	resp, ok := m.Routes[req.URL.Path]
	if !ok {
		resp = &MockResponse{StatusCode: http.StatusNotFound, Body: "not found"}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	h := resp.Headers
	if h == nil {
		h = make(http.Header)
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
		Header:     h,
		Request:    req,
	}, nil
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
