// Package httputil provides HTTP client abstractions for testability.
package httputil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Getter abstracts HTTP GET for testability. Use StandardClient for
// production; MockGetter for testing download paths without a listener.
type Getter interface {
	// Get issues a GET to the specified URL.
	Get(url string) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement Getter.
type StandardClient struct {
	*http.Client
}

// NewStandardClient creates a new StandardClient wrapping the given
// http.Client. A nil client gets a 5 minute timeout suitable for large
// dataset downloads.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = &http.Client{Timeout: 5 * time.Minute}
	}
	return &StandardClient{Client: c}
}

// Get issues a GET request.
func (c *StandardClient) Get(url string) (*http.Response, error) {
	return c.Client.Get(url)
}

// MockGetter provides a canned-response Getter implementation.
type MockGetter struct {
	mu        sync.Mutex
	responses map[string]mockResponse
	requests  []string
}

type mockResponse struct {
	statusCode int
	body       string
}

// NewMockGetter creates an empty MockGetter. URLs without a canned response
// return an error.
func NewMockGetter() *MockGetter {
	return &MockGetter{responses: map[string]mockResponse{}}
}

// AddResponse registers a canned response for a URL.
func (m *MockGetter) AddResponse(url string, statusCode int, body string) *MockGetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[url] = mockResponse{statusCode: statusCode, body: body}
	return m
}

// Get returns the canned response for the URL and records the request.
func (m *MockGetter) Get(url string) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, url)

	r, ok := m.responses[url]
	if !ok {
		return nil, fmt.Errorf("httputil: no canned response for %s", url)
	}
	return &http.Response{
		StatusCode: r.statusCode,
		Status:     http.StatusText(r.statusCode),
		Body:       io.NopCloser(bytes.NewReader([]byte(r.body))),
		Header:     make(http.Header),
	}, nil
}

// Requests returns the URLs requested so far, in order.
func (m *MockGetter) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of requests made.
func (m *MockGetter) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
