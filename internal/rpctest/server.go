// Package rpctest provides an in-process JSON-RPC server for tests. Handlers
// are registered per method and every request is counted.
package rpctest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/tidwall/gjson"
)

// HandlerFunc answers one JSON-RPC call. Returning a non-nil *Error sends a JSON-RPC error.
type HandlerFunc func(params []json.RawMessage) (any, *Error)

// Error is the JSON-RPC error a handler may return.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Server is a fake JSON-RPC upstream.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    map[string]int
	total    int
	requests []string

	// HTTPStatus, when non-zero, makes every request fail with that status and ErrorBody.
	HTTPStatus int
	ErrorBody  string

	failures []failure
}

type failure struct {
	status int
	body   string
}

// NewServer starts a fake upstream. Close it when done.
func NewServer() *Server {
	s := &Server{
		handlers: make(map[string]HandlerFunc),
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// Handle registers a handler for method.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// HandleResult registers a handler that always returns result.
func (s *Server) HandleResult(method string, result any) {
	s.Handle(method, func([]json.RawMessage) (any, *Error) { return result, nil })
}

// HandleError registers a handler that always fails.
func (s *Server) HandleError(method string, code int, message string, data any) {
	s.Handle(method, func([]json.RawMessage) (any, *Error) {
		return nil, &Error{Code: code, Message: message, Data: data}
	})
}

// FailNext makes the next n requests, whatever their method, fail with status and body.
func (s *Server) FailNext(n int, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, failure{status: status, body: body})
	}
}

// Calls returns how many times method was requested.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Total returns the number of HTTP requests received.
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Methods returns the methods requested, in order.
func (s *Server) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	method := gjson.GetBytes(body, "method").String()

	s.mu.Lock()
	s.total++
	s.calls[method]++
	s.requests = append(s.requests, method)
	handler := s.handlers[method]
	status, errorBody := s.HTTPStatus, s.ErrorBody
	if len(s.failures) > 0 {
		status, errorBody = s.failures[0].status, s.failures[0].body
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, errorBody)
		return
	}

	var req struct {
		ID     json.RawMessage   `json:"id"`
		Params []json.RawMessage `json:"params"`
	}
	_ = json.Unmarshal(body, &req)

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if handler == nil {
		resp["error"] = Error{Code: -32601, Message: "method not found: " + method}
	} else if result, rpcErr := handler(req.Params); rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}
