package router

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func quietRouter(t *testing.T, buf *bytes.Buffer) *Router {
	t.Helper()
	r, err := New(DefaultTable, WithLogger(slog.New(slog.NewTextHandler(buf, nil))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRoute(t *testing.T) {
	r := quietRouter(t, &bytes.Buffer{})

	tests := []struct {
		method string
		want   Endpoint
	}{
		{"zd_getUserOperationGasPrice", EndpointProtocol},
		{"zd_sponsorUserOperation", EndpointProtocol},
		{"zd_somethingNew", EndpointProtocol},
		{"eth_estimateUserOperationGas", EndpointGeneral},
		{"eth_sendUserOperation", EndpointGeneral},
		{"eth_getUserOperationReceipt", EndpointGeneral},
		{"eth_chainId", EndpointGeneral},
		{"eth_call", EndpointGeneral},
		{"pm_getPaymasterStubData", EndpointGeneral},
		{"pm_getPaymasterData", EndpointGeneral},
		{"eth_unknownMethod", EndpointGeneral},
		{"", EndpointGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			if got := r.Route(tt.method); got != tt.want {
				t.Errorf("Route(%q) = %s, want %s", tt.method, got, tt.want)
			}
		})
	}
}

func TestNewValidatesTable(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"duplicate method", Table{Protocol: []string{"zd_a"}, General: []string{"zd_a"}}},
		{"protocol method without marker", Table{Protocol: []string{"eth_chainId"}}},
		{"general method with marker", Table{General: []string{"zd_b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.table); !errors.Is(err, ErrInvalidTable) {
				t.Fatalf("expected ErrInvalidTable, got %v", err)
			}
		})
	}

	r := MustNew(DefaultTable)
	if got := r.Methods(EndpointProtocol); len(got) != len(DefaultTable.Protocol) {
		t.Errorf("protocol methods = %v", got)
	}
}

func TestRouteBody(t *testing.T) {
	var logs bytes.Buffer
	r := quietRouter(t, &logs)

	tests := []struct {
		name     string
		body     string
		want     Endpoint
		wantErr  error
		wantWarn bool
	}{
		{"single general", `{"jsonrpc":"2.0","id":1,"method":"eth_sendUserOperation","params":[]}`, EndpointGeneral, nil, false},
		{"single protocol", `{"jsonrpc":"2.0","id":1,"method":"zd_getUserOperationGasPrice","params":[]}`, EndpointProtocol, nil, false},
		{"unparseable", `{"method":`, EndpointProtocol, nil, true},
		{"missing method", `{"id":1}`, EndpointProtocol, nil, true},
		{"homogeneous batch", `[{"method":"eth_chainId"},{"method":"eth_call"}]`, EndpointGeneral, nil, false},
		{"mixed batch", `[{"method":"eth_chainId"},{"method":"zd_getUserOperationGasPrice"}]`, 0, ErrMixedBatch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.Reset()
			got, err := r.RouteBody([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("RouteBody() = %s, want %s", got, tt.want)
			}
			if warned := strings.Contains(logs.String(), "WARN"); warned != tt.wantWarn {
				t.Errorf("warned = %v, want %v (log %q)", warned, tt.wantWarn, logs.String())
			}
		})
	}
}

func TestTransport(t *testing.T) {
	var protocolHits, generalHits atomic.Int32
	protocol := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		protocolHits.Add(1)
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "zd_getUserOperationGasPrice") {
			t.Errorf("protocol endpoint got %s", body)
		}
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":"protocol"}`)
	}))
	defer protocol.Close()
	general := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		generalHits.Add(1)
		if r.URL.Path != "/api/paymaster" {
			t.Errorf("general path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":"general"}`)
	}))
	defer general.Close()

	tr, err := NewTransport(quietRouter(t, &bytes.Buffer{}), protocol.URL+"/api/bundler", general.URL+"/api/paymaster")
	if err != nil {
		t.Fatal(err)
	}
	client := tr.Client()

	post := func(body string) (string, error) {
		resp, err := client.Post(BaseURL, "application/json", strings.NewReader(body))
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return string(b), nil
	}

	if got, err := post(`{"jsonrpc":"2.0","id":1,"method":"zd_getUserOperationGasPrice","params":[]}`); err != nil || !strings.Contains(got, "protocol") {
		t.Fatalf("protocol request: %q, %v", got, err)
	}
	if got, err := post(`{"jsonrpc":"2.0","id":1,"method":"eth_estimateUserOperationGas","params":[]}`); err != nil || !strings.Contains(got, "general") {
		t.Fatalf("general request: %q, %v", got, err)
	}
	if _, err := post(`[{"method":"eth_chainId"},{"method":"zd_getUserOperationGasPrice"}]`); !errors.Is(err, ErrMixedBatch) {
		t.Fatalf("expected ErrMixedBatch, got %v", err)
	}

	if protocolHits.Load() != 1 || generalHits.Load() != 1 {
		t.Errorf("hits protocol=%d general=%d, want 1 and 1", protocolHits.Load(), generalHits.Load())
	}
}
