package bundler_test

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/bundler"
	"github.com/mark3labs/smartaccount-go/internal/aatest"
	"github.com/mark3labs/smartaccount-go/internal/jsonrpc"
	"github.com/mark3labs/smartaccount-go/paymaster"
	"github.com/mark3labs/smartaccount-go/retry"
)

var (
	tokenAddr    = common.HexToAddress("0x765DE816845861e75A25fCA122bb6898B8B1282a")
	registryAddr = common.HexToAddress("0x1234567890123456789012345678901234567890")
	approveCall  = smartaccount.Call{To: tokenAddr, Data: common.FromHex("0x095ea7b3")}
	writeCall    = smartaccount.Call{To: registryAddr, Data: common.FromHex("0xf2c298be")}
)

func TestSendCalls(t *testing.T) {
	net := aatest.NewNetwork(t)
	client := net.Client(t)
	ctx := context.Background()

	op, err := client.SendCalls(ctx, approveCall, writeCall)
	if err != nil {
		t.Fatalf("SendCalls: %v", err)
	}

	if len(net.Sent()) != 1 {
		t.Fatalf("sent %d operations, want 1", len(net.Sent()))
	}
	calls := net.SentCalls(t, 0)
	if len(calls) != 2 || calls[0].To != tokenAddr || calls[1].To != registryAddr {
		t.Fatalf("sent calls = %+v, want approve then write", calls)
	}

	sent := net.Sent()[0]
	if sent.Factory == nil || *sent.Factory != client.Account().Factory() {
		t.Error("expected factory for undeployed account")
	}
	if sent.PaymasterVerificationGasLimit.Int64() != 0x18000 {
		t.Errorf("paymaster verification gas = %v, want final sponsor value", sent.PaymasterVerificationGasLimit)
	}
	if sent.MaxPriorityFeePerGas.Int64() != 0x3b9aca00 {
		t.Errorf("priority fee = %v, want standard tier", sent.MaxPriorityFeePerGas)
	}
	if net.Protocol.Calls(bundler.MethodGasPrice) != 1 {
		t.Error("gas price helper did not reach the protocol endpoint")
	}
	if net.General.Calls(paymaster.MethodStubData) != 1 || net.General.Calls(paymaster.MethodData) != 1 {
		t.Error("expected one stub and one final sponsorship request")
	}

	receipt, err := op.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !receipt.Success || receipt.TransactionHash != aatest.TxHash(0) {
		t.Errorf("receipt = %+v", receipt)
	}
	if receipt.UserOpHash != op.Hash {
		t.Errorf("receipt hash = %s, want %s", receipt.UserOpHash.Hex(), op.Hash.Hex())
	}
}

func TestSendCallsDeployedAccount(t *testing.T) {
	net := aatest.NewNetwork(t)
	net.SetDeployed(true)
	client := net.Client(t)

	if _, err := client.SendCalls(context.Background(), smartaccount.Call{To: tokenAddr, Value: big.NewInt(1)}); err != nil {
		t.Fatalf("SendCalls: %v", err)
	}
	if net.Sent()[0].Factory != nil {
		t.Error("deployed account must not carry factory data")
	}
}

func TestSendCallsNoCalls(t *testing.T) {
	net := aatest.NewNetwork(t)
	client := net.Client(t)

	_, err := client.SendCalls(context.Background())
	if !errors.Is(err, smartaccount.ErrNoCalls) {
		t.Fatalf("expected ErrNoCalls, got %v", err)
	}
	if net.Requests() != 0 {
		t.Errorf("requests = %d, want 0", net.Requests())
	}
}

func TestAtomicBatchRejected(t *testing.T) {
	net := aatest.NewNetwork(t)
	net.RejectWhen(func(calls []smartaccount.Call) string {
		for _, c := range calls {
			if c.To == tokenAddr {
				return "ERC20: approve to the zero address"
			}
		}
		return ""
	})
	client := net.Client(t)

	_, err := client.SendCalls(context.Background(), approveCall, writeCall)
	if !errors.Is(err, smartaccount.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if reason := smartaccount.ReasonOf(err); reason != "ERC20: approve to the zero address" {
		t.Errorf("reason = %q", reason)
	}
	if len(net.Sent()) != 0 {
		t.Errorf("sent %d operations, want 0", len(net.Sent()))
	}
}

func TestSponsorshipUnavailable(t *testing.T) {
	net := aatest.NewNetwork(t)
	net.General.HandleError(paymaster.MethodStubData, jsonrpc.CodeUnauthorizedRequest, "Unauthorized: invalid api key", nil)
	client := net.Client(t)

	_, err := client.SendCalls(context.Background(), approveCall, writeCall)
	if !errors.Is(err, smartaccount.ErrSponsorshipUnavailable) {
		t.Fatalf("expected ErrSponsorshipUnavailable, got %v", err)
	}
	if net.General.Calls(bundler.MethodEstimateGas) != 0 || net.General.Calls(bundler.MethodSend) != 0 {
		t.Error("no estimation or submission may follow a sponsorship failure")
	}
}

func TestWaitTimeout(t *testing.T) {
	net := aatest.NewNetwork(t)
	net.NeverInclude()
	client := net.Client(t, bundler.WithPollConfig(retry.PollConfig{
		Interval:    5 * time.Millisecond,
		MaxInterval: 10 * time.Millisecond,
		Multiplier:  2,
		Timeout:     50 * time.Millisecond,
	}))

	op, err := client.SendCalls(context.Background(), writeCall)
	if err != nil {
		t.Fatalf("SendCalls: %v", err)
	}

	_, err = op.Wait(context.Background())
	if !errors.Is(err, smartaccount.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if errors.Is(err, smartaccount.ErrRejected) {
		t.Fatal("timeout must not look like a rejection")
	}
	if net.General.Calls(bundler.MethodReceipt) < 2 {
		t.Errorf("receipt polled %d times, want several", net.General.Calls(bundler.MethodReceipt))
	}
}

func TestWaitCancelled(t *testing.T) {
	net := aatest.NewNetwork(t)
	net.NeverInclude()
	client := net.Client(t)

	op, err := client.SendCalls(context.Background(), writeCall)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := op.Wait(ctx); !errors.Is(err, smartaccount.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitRevertedOnChain(t *testing.T) {
	net := aatest.NewNetwork(t)
	net.FailOnChain("Registry: name taken")
	client := net.Client(t)

	op, err := client.SendCalls(context.Background(), writeCall)
	if err != nil {
		t.Fatal(err)
	}
	receipt, err := op.Wait(context.Background())
	if !errors.Is(err, smartaccount.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if receipt == nil || receipt.Reason != "Registry: name taken" {
		t.Errorf("receipt = %+v", receipt)
	}
	if smartaccount.ReasonOf(err) != "Registry: name taken" {
		t.Errorf("reason = %q", smartaccount.ReasonOf(err))
	}
}

func TestEndpointFailuresClassified(t *testing.T) {
	const notConfigured = `{"error":{"message":"paymaster upstream not configured"}}`

	tests := []struct {
		name    string
		setup   func(*aatest.Network)
		want    error
		notWant error
	}{
		{
			name: "general endpoint not configured",
			setup: func(n *aatest.Network) {
				n.General.HTTPStatus = http.StatusServiceUnavailable
				n.General.ErrorBody = notConfigured
			},
			want:    smartaccount.ErrSponsorshipUnavailable,
			notWant: smartaccount.ErrBundlerUnavailable,
		},
		{
			name: "general endpoint rejects credentials",
			setup: func(n *aatest.Network) {
				n.General.HTTPStatus = http.StatusUnauthorized
				n.General.ErrorBody = `{"error":{"message":"invalid api key"}}`
			},
			want:    smartaccount.ErrSponsorshipUnavailable,
			notWant: smartaccount.ErrBundlerUnavailable,
		},
		{
			name: "general endpoint keeps failing",
			setup: func(n *aatest.Network) {
				n.General.HTTPStatus = http.StatusBadGateway
				n.General.ErrorBody = `upstream down`
			},
			want:    smartaccount.ErrSponsorshipUnavailable,
			notWant: smartaccount.ErrBundlerUnavailable,
		},
		{
			name: "protocol endpoint not configured",
			setup: func(n *aatest.Network) {
				n.Protocol.HTTPStatus = http.StatusServiceUnavailable
				n.Protocol.ErrorBody = `{"error":{"message":"bundler upstream not configured"}}`
			},
			want:    smartaccount.ErrBundlerUnavailable,
			notWant: smartaccount.ErrSponsorshipUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := aatest.NewNetwork(t)
			client := net.Client(t, bundler.WithRetryConfig(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1}))
			tt.setup(net)

			_, err := client.SendCalls(context.Background(), approveCall, writeCall)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if errors.Is(err, tt.notWant) {
				t.Errorf("error must not also match %v", tt.notWant)
			}
			if len(net.Sent()) != 0 {
				t.Errorf("sent %d operations, want 0", len(net.Sent()))
			}
		})
	}
}

func TestIdempotentReadsRetried(t *testing.T) {
	net := aatest.NewNetwork(t)
	client := net.Client(t, bundler.WithRetryConfig(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}))
	net.General.FailNext(1, http.StatusBadGateway, `upstream down`)
	net.Protocol.FailNext(2, http.StatusTooManyRequests, `{"error":"slow down"}`)

	if _, err := client.SendCalls(context.Background(), approveCall); err != nil {
		t.Fatalf("SendCalls: %v", err)
	}
	if got := net.General.Calls(bundler.MethodCall); got != 2 {
		t.Errorf("eth_call requests = %d, want 2", got)
	}
	if got := net.Protocol.Calls(bundler.MethodGasPrice); got != 3 {
		t.Errorf("gas price requests = %d, want 3", got)
	}
	if got := net.General.Calls(bundler.MethodSend); got != 1 {
		t.Errorf("send requests = %d, want 1", got)
	}
}

func TestSendNotRetried(t *testing.T) {
	net := aatest.NewNetwork(t)
	client := net.Client(t, bundler.WithRetryConfig(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}))

	op, err := client.Prepare(context.Background(), approveCall)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	net.General.FailNext(1, http.StatusBadGateway, `upstream down`)
	if _, err := client.Send(context.Background(), op, []smartaccount.Call{approveCall}); err == nil {
		t.Fatal("expected send failure")
	}
	if got := net.General.Calls(bundler.MethodSend); got != 1 {
		t.Errorf("send requests = %d, want 1", got)
	}
}

func TestFinalStubKeepsSponsorLimits(t *testing.T) {
	net := aatest.NewNetwork(t)
	net.General.HandleResult(paymaster.MethodStubData, map[string]any{
		"paymaster":                     aatest.Paymaster.Hex(),
		"paymasterData":                 hexutil.Encode(aatest.FinalPaymasterData),
		"paymasterVerificationGasLimit": "0x10000",
		"paymasterPostOpGasLimit":       "0x1000",
		"isFinal":                       true,
	})
	net.General.HandleResult(bundler.MethodEstimateGas, map[string]string{
		"preVerificationGas":            "0xc350",
		"verificationGasLimit":          "0x30d40",
		"callGasLimit":                  "0xc350",
		"paymasterVerificationGasLimit": "0x99999",
		"paymasterPostOpGasLimit":       "0x9999",
	})
	client := net.Client(t)

	if _, err := client.SendCalls(context.Background(), approveCall); err != nil {
		t.Fatalf("SendCalls: %v", err)
	}
	if net.General.Calls(paymaster.MethodData) != 0 {
		t.Error("final stub must not trigger a second sponsorship request")
	}
	sent := net.Sent()[0]
	if sent.PaymasterVerificationGasLimit.Int64() != 0x10000 || sent.PaymasterPostOpGasLimit.Int64() != 0x1000 {
		t.Errorf("paymaster gas = %v/%v, want sponsor values 0x10000/0x1000",
			sent.PaymasterVerificationGasLimit, sent.PaymasterPostOpGasLimit)
	}
	if sent.CallGasLimit.Int64() != 0xc350 {
		t.Errorf("CallGasLimit = %v, want estimate", sent.CallGasLimit)
	}
}
