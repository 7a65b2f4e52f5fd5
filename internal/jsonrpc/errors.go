package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/mark3labs/smartaccount-go"
)

// NotConfiguredMarker is the substring proxies put in error messages when their
// upstream credentials are missing.
const NotConfiguredMarker = "not configured"

// ERC-4337 bundler error codes.
const (
	CodeValidationReverted  = -32500
	CodePaymasterRejected   = -32501
	CodeBannedOpcode        = -32502
	CodeTimeRange           = -32503
	CodePaymasterThrottled  = -32504
	CodeStakeTooLow         = -32505
	CodeInvalidSignature    = -32507
	CodeExecutionReverted   = -32521
	CodeStandardExecution   = 3
	CodeInvalidParams       = -32602
	CodeMethodNotFound      = -32601
	CodeInternalError       = -32603
	CodeUnauthorizedRequest = -32001
)

// Error is a JSON-RPC error object returned by the upstream.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`

	// Method is the request method, filled in by the client.
	Method string `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("json-rpc %s error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// IsRevert reports whether the error describes a simulated or executed revert.
func (e *Error) IsRevert() bool {
	switch e.Code {
	case CodeValidationReverted, CodeExecutionReverted, CodeStandardExecution:
		return true
	}
	return strings.Contains(strings.ToLower(e.Message), "revert")
}

// RevertReason extracts a human-readable revert reason. It decodes an
// Error(string) payload in Data when present, otherwise returns the message.
func (e *Error) RevertReason() string {
	if data := revertData(e.Data); len(data) > 0 {
		if reason, err := abi.UnpackRevert(data); err == nil {
			return reason
		}
	}
	msg := e.Message
	if i := strings.Index(msg, "reverted:"); i >= 0 {
		return strings.TrimSpace(msg[i+len("reverted:"):])
	}
	return msg
}

// revertData accepts either a hex string or an object with a "data"/"revertData" hex field.
func revertData(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil
		}
		return b
	}
	var obj struct {
		Data       string `json:"data"`
		RevertData string `json:"revertData"`
		Reason     string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	for _, candidate := range []string{obj.RevertData, obj.Data, obj.Reason} {
		if b, err := hexutil.Decode(candidate); err == nil && len(b) > 0 {
			return b
		}
	}
	return nil
}

// HTTPError is a non-2xx response from the proxy or upstream.
type HTTPError struct {
	Method     string
	StatusCode int
	Message    string
}

func newHTTPError(method string, status int, body []byte) *HTTPError {
	e := &HTTPError{Method: method, StatusCode: status}

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var structured struct {
			Message string `json:"message"`
		}
		var plain string
		switch {
		case json.Unmarshal(envelope.Error, &structured) == nil && structured.Message != "":
			e.Message = structured.Message
		case json.Unmarshal(envelope.Error, &plain) == nil:
			e.Message = plain
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("json-rpc %s: http %d: %s", e.Method, e.StatusCode, e.Message)
}

// Is matches smartaccount.ErrNotConfigured when the proxy reported missing credentials.
func (e *HTTPError) Is(target error) bool {
	return target == smartaccount.ErrNotConfigured && e.NotConfigured()
}

// NotConfigured reports whether the proxy reported missing upstream credentials.
func (e *HTTPError) NotConfigured() bool {
	return strings.Contains(strings.ToLower(e.Message), NotConfiguredMarker)
}

// Unauthorized reports whether the upstream refused the credentials.
func (e *HTTPError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Method string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("json-rpc %s: transport: %v", e.Method, e.Err)
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether an idempotent call may be retried. It covers
// this package's errors and those of go-ethereum's rpc client.
func IsTransient(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return transientStatus(httpErr.StatusCode, httpErr.Message)
	}
	var gethErr rpc.HTTPError
	if errors.As(err, &gethErr) {
		return transientStatus(gethErr.StatusCode, string(gethErr.Body))
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func transientStatus(status int, message string) bool {
	if strings.Contains(strings.ToLower(message), NotConfiguredMarker) {
		return false
	}
	return status == http.StatusTooManyRequests || status >= 500
}

// Message returns the upstream message carried by err, for classification.
func Message(err error) string {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
