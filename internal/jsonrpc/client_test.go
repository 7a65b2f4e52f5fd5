package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/internal/rpctest"
)

func TestClient_Call(t *testing.T) {
	server := rpctest.NewServer()
	defer server.Close()

	server.Handle("eth_chainId", func(params []json.RawMessage) (any, *rpctest.Error) {
		if len(params) != 0 {
			return nil, &rpctest.Error{Code: CodeInvalidParams, Message: "unexpected params"}
		}
		return "0xa4ec", nil
	})

	client := NewClient(server.URL)

	var chainID hexutil.Uint64
	if err := client.Call(context.Background(), "eth_chainId", &chainID); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if chainID != 42220 {
		t.Errorf("chainID = %d, want 42220", chainID)
	}
	if server.Calls("eth_chainId") != 1 {
		t.Errorf("expected 1 call, got %d", server.Calls("eth_chainId"))
	}
}

func TestClient_NullResult(t *testing.T) {
	server := rpctest.NewServer()
	defer server.Close()
	server.HandleResult("eth_getUserOperationReceipt", nil)

	raw, err := NewClient(server.URL).CallRaw(context.Background(), "eth_getUserOperationReceipt", "0x01")
	if err != nil {
		t.Fatalf("CallRaw failed: %v", err)
	}
	if !IsNull(raw) {
		t.Errorf("expected null result, got %s", raw)
	}
}

func TestClient_RPCError(t *testing.T) {
	server := rpctest.NewServer()
	defer server.Close()

	// Error(string) "ERC20: insufficient allowance"
	revert := "0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"000000000000000000000000000000000000000000000000000000000000001d" +
		"45524332303a20696e73756666696369656e7420616c6c6f77616e6365000000"
	server.HandleError("eth_estimateUserOperationGas", CodeExecutionReverted, "execution reverted", revert)

	err := NewClient(server.URL).Call(context.Background(), "eth_estimateUserOperationGas", nil)
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if !rpcErr.IsRevert() {
		t.Error("expected revert classification")
	}
	if got := rpcErr.RevertReason(); got != "ERC20: insufficient allowance" {
		t.Errorf("RevertReason() = %q", got)
	}
	if rpcErr.Method != "eth_estimateUserOperationGas" {
		t.Errorf("Method = %q", rpcErr.Method)
	}
}

func TestClient_RevertReasonFromMessage(t *testing.T) {
	e := &Error{Code: CodeValidationReverted, Message: "UserOperation reverted during simulation with reason: execution reverted: name taken"}
	if got := e.RevertReason(); got != "name taken" {
		t.Errorf("RevertReason() = %q, want %q", got, "name taken")
	}
}

func TestClient_HTTPErrors(t *testing.T) {
	tests := []struct {
		name              string
		status            int
		body              string
		wantNotConfigured bool
		wantTransient     bool
		wantUnauthorized  bool
	}{
		{
			name:              "missing credentials",
			status:            http.StatusServiceUnavailable,
			body:              `{"error":{"message":"paymaster upstream not configured"}}`,
			wantNotConfigured: true,
		},
		{
			name:             "unauthorized",
			status:           http.StatusUnauthorized,
			body:             `{"error":{"message":"invalid api key"}}`,
			wantUnauthorized: true,
		},
		{
			name:          "bad gateway",
			status:        http.StatusBadGateway,
			body:          `upstream down`,
			wantTransient: true,
		},
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			body:          `{"error":"slow down"}`,
			wantTransient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := rpctest.NewServer()
			defer server.Close()
			server.HTTPStatus = tt.status
			server.ErrorBody = tt.body

			err := NewClient(server.URL).Call(context.Background(), "eth_sendUserOperation", nil)
			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("expected *HTTPError, got %T: %v", err, err)
			}
			if httpErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", httpErr.StatusCode, tt.status)
			}
			if got := errors.Is(err, smartaccount.ErrNotConfigured); got != tt.wantNotConfigured {
				t.Errorf("Is(ErrNotConfigured) = %v, want %v", got, tt.wantNotConfigured)
			}
			if got := IsTransient(err); got != tt.wantTransient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.wantTransient)
			}
			if got := httpErr.Unauthorized(); got != tt.wantUnauthorized {
				t.Errorf("Unauthorized() = %v, want %v", got, tt.wantUnauthorized)
			}
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	server := rpctest.NewServer()
	url := server.URL
	server.Close()

	err := NewClient(url).Call(context.Background(), "eth_chainId", nil)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if !IsTransient(err) {
		t.Error("transport errors should be transient")
	}
}

func TestIsTransient_GethErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"gateway", rpc.HTTPError{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"}, true},
		{"rate limited", fmt.Errorf("call: %w", rpc.HTTPError{StatusCode: http.StatusTooManyRequests}), true},
		{"not configured", rpc.HTTPError{StatusCode: http.StatusServiceUnavailable, Body: []byte(`{"error":{"message":"bundler upstream not configured"}}`)}, false},
		{"bad request", rpc.HTTPError{StatusCode: http.StatusBadRequest}, false},
		{"rpc error", &Error{Code: CodeExecutionReverted, Message: "execution reverted"}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
