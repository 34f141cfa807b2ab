// Package testutil provides testing utilities for the E.ON API client.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// LoginPath is the login route served by MockEON.
const LoginPath = "/users/v1/userauth/login"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is one request seen by the mock server.
type RecordedRequest struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	Body          string
}

// MockEON is a configurable mock of the E.ON API for testing.
type MockEON struct {
	server *httptest.Server

	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	scripts  map[string][]MockResponse
	tokens   []string
	logins   []MockResponse

	// Tracking
	LoginCount int
	Requests   []RecordedRequest
}

// NewMockEON creates a new mock server. Logins succeed with token "token-1",
// "token-2", ... until configured otherwise.
func NewMockEON() *MockEON {
	mock := &MockEON{
		handlers: make(map[string]http.HandlerFunc),
		scripts:  make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		if r.URL.Path == LoginPath {
			mock.handleLogin(w)
			return
		}

		mock.mu.Lock()
		mock.Requests = append(mock.Requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			Body:          string(body),
		})

		if script, ok := mock.scripts[r.URL.Path]; ok && len(script) > 0 {
			resp := script[0]
			if len(script) > 1 {
				mock.scripts[r.URL.Path] = script[1:]
			}
			mock.mu.Unlock()
			writeResponse(w, resp)
			return
		}

		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "not found"}`))
	}))

	return mock
}

func (m *MockEON) handleLogin(w http.ResponseWriter) {
	m.mu.Lock()
	m.LoginCount++
	count := m.LoginCount

	var scripted *MockResponse
	if len(m.logins) > 0 {
		resp := m.logins[0]
		if len(m.logins) > 1 {
			m.logins = m.logins[1:]
		}
		scripted = &resp
	}

	token := fmt.Sprintf("token-%d", count)
	if len(m.tokens) > 0 {
		token = m.tokens[0]
		if len(m.tokens) > 1 {
			m.tokens = m.tokens[1:]
		}
	}
	m.mu.Unlock()

	if scripted != nil && (scripted.StatusCode != http.StatusOK || scripted.Body != "") {
		writeResponse(w, *scripted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"accessToken": token})
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// URL returns the mock server URL.
func (m *MockEON) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockEON) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockEON) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoginCount = 0
	m.Requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockEON) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockEON) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetJSON serves body with status 200 for a path.
func (m *MockEON) SetJSON(path, body string) {
	m.SetResponse(path, NewJSONResponse(body))
}

// Script queues responses for a path. They are served in order and the last
// one keeps being served once the queue is drained.
func (m *MockEON) Script(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[path] = responses
}

// SetTokens sets the tokens handed out by successive logins.
func (m *MockEON) SetTokens(tokens ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens
}

// ScriptLogins queues login outcomes. Entries with a non-200 status or a body
// are served verbatim; a bare 200 entry issues the next token.
func (m *MockEON) ScriptLogins(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins = responses
}

// GetLoginCount returns the number of login calls.
func (m *MockEON) GetLoginCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LoginCount
}

// GetRequests returns a copy of the non-login requests seen so far.
func (m *MockEON) GetRequests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.Requests))
	copy(out, m.Requests)
	return out
}

// RequestsTo returns the recorded requests for one path.
func (m *MockEON) RequestsTo(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.GetRequests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewUnauthorizedResponse creates a 401 response with the gateway's invalid token body.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"statusCode": 401, "message": "invalid_token"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewLoginRejectedResponse creates a failed login response.
func NewLoginRejectedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       `{"code": "3003", "description": "Invalid credentials"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
