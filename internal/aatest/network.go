// Package aatest simulates the bundler, paymaster and chain endpoints a smart
// account talks to, for tests of the packages built on top of bundler.
package aatest

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/account"
	"github.com/mark3labs/smartaccount-go/bundler"
	"github.com/mark3labs/smartaccount-go/evm"
	"github.com/mark3labs/smartaccount-go/internal/jsonrpc"
	"github.com/mark3labs/smartaccount-go/internal/rpctest"
	"github.com/mark3labs/smartaccount-go/paymaster"
	"github.com/mark3labs/smartaccount-go/retry"
	"github.com/mark3labs/smartaccount-go/router"
	"github.com/mark3labs/smartaccount-go/userop"
)

// OwnerKey is the hex private key of the default test owner.
const OwnerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// Paymaster is the address the fake sponsor returns.
var Paymaster = common.HexToAddress("0x9999999999999999999999999999999999999999")

// FinalPaymasterData is the paymaster data returned by pm_getPaymasterData.
var FinalPaymasterData = common.FromHex("0xfeedface")

// CallHandler answers eth_call for one contract.
type CallHandler func(data []byte) ([]byte, *rpctest.Error)

// Network is a fake protocol bundler (Endpoint A) and general bundler,
// paymaster and node (Endpoint B).
type Network struct {
	Protocol *rpctest.Server
	General  *rpctest.Server
	Chain    smartaccount.ChainConfig

	mu          sync.Mutex
	contracts   map[common.Address]CallHandler
	sent        []*userop.UserOperation
	reject      func(calls []smartaccount.Call) string
	failOnChain string
	pending     bool
	owner       common.Address
	deployed    bool
}

// NewNetwork starts both fake endpoints; they are closed when the test ends.
func NewNetwork(t testing.TB) *Network {
	t.Helper()
	n := &Network{
		Protocol:  rpctest.NewServer(),
		General:   rpctest.NewServer(),
		Chain:     smartaccount.CeloMainnet,
		contracts: make(map[common.Address]CallHandler),
		owner:     crypto.PubkeyToAddress(mustKey().PublicKey),
	}
	t.Cleanup(n.Protocol.Close)
	t.Cleanup(n.General.Close)

	n.Protocol.HandleResult(bundler.MethodGasPrice, map[string]any{
		"slow":     map[string]string{"maxFeePerGas": "0x2540be400", "maxPriorityFeePerGas": "0x1"},
		"standard": map[string]string{"maxFeePerGas": "0x2540be400", "maxPriorityFeePerGas": "0x3b9aca00"},
		"fast":     map[string]string{"maxFeePerGas": "0x4a817c800", "maxPriorityFeePerGas": "0x77359400"},
	})

	n.General.Handle(bundler.MethodCall, n.handleCall)
	n.General.Handle(bundler.MethodGetCode, func([]json.RawMessage) (any, *rpctest.Error) {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.deployed {
			return "0x6001", nil
		}
		return "0x", nil
	})
	n.General.Handle("eth_chainId", func([]json.RawMessage) (any, *rpctest.Error) {
		return hexutil.EncodeUint64(uint64(n.Chain.ChainID)), nil
	})
	n.General.HandleResult(paymaster.MethodStubData, map[string]any{
		"paymaster":                     Paymaster.Hex(),
		"paymasterData":                 "0x00",
		"paymasterVerificationGasLimit": "0x10000",
		"paymasterPostOpGasLimit":       "0x1000",
	})
	n.General.HandleResult(paymaster.MethodData, map[string]any{
		"paymaster":                     Paymaster.Hex(),
		"paymasterData":                 hexutil.Encode(FinalPaymasterData),
		"paymasterVerificationGasLimit": "0x18000",
		"paymasterPostOpGasLimit":       "0x1800",
	})
	n.General.Handle(bundler.MethodEstimateGas, n.handleEstimate)
	n.General.Handle(bundler.MethodSend, n.handleSend)
	n.General.Handle(bundler.MethodReceipt, n.handleReceipt)
	return n
}

// Client provisions the default owner's account and returns a bundler client
// routed through both fake endpoints with a short poll schedule.
func (n *Network) Client(t testing.TB, opts ...bundler.Option) *bundler.Client {
	t.Helper()
	owner, err := evm.NewSigner(evm.WithPrivateKey(OwnerKey), evm.WithChainID(n.Chain.ChainID))
	if err != nil {
		t.Fatalf("aatest: signer: %v", err)
	}
	acct, err := account.Provision(context.Background(), owner, n.Chain)
	if err != nil {
		t.Fatalf("aatest: provision: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr, err := router.NewTransport(router.MustNew(router.DefaultTable, router.WithLogger(logger)), n.Protocol.URL, n.General.URL)
	if err != nil {
		t.Fatalf("aatest: transport: %v", err)
	}
	rpc := jsonrpc.NewClient(router.BaseURL, jsonrpc.WithHTTPClient(tr.Client()), jsonrpc.WithLogger(logger))

	all := append([]bundler.Option{
		bundler.WithLogger(logger),
		bundler.WithPollConfig(retry.PollConfig{Interval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond, Multiplier: 2, Timeout: time.Second}),
	}, opts...)
	return bundler.New(acct, n.Chain, rpc, paymaster.New(rpc, n.Chain.ChainID, paymaster.WithLogger(logger)), all...)
}

// HandleContract registers an eth_call handler for contract.
func (n *Network) HandleContract(contract common.Address, fn CallHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contracts[contract] = fn
}

// RejectWhen makes gas estimation revert with the returned reason whenever it is non-empty.
func (n *Network) RejectWhen(fn func(calls []smartaccount.Call) string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reject = fn
}

// FailOnChain makes every included operation report failure with reason.
func (n *Network) FailOnChain(reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failOnChain = reason
}

// NeverInclude keeps every operation pending.
func (n *Network) NeverInclude() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = true
}

// SetDeployed controls what eth_getCode reports for the account.
func (n *Network) SetDeployed(deployed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deployed = deployed
}

// Sent returns the operations accepted by eth_sendUserOperation.
func (n *Network) Sent() []*userop.UserOperation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*userop.UserOperation(nil), n.sent...)
}

// SentCalls decodes the calls of the i-th accepted operation.
func (n *Network) SentCalls(t testing.TB, i int) []smartaccount.Call {
	t.Helper()
	sent := n.Sent()
	if i >= len(sent) {
		t.Fatalf("aatest: only %d operations sent", len(sent))
	}
	calls, err := account.DecodeCalls(sent[i].CallData)
	if err != nil {
		t.Fatalf("aatest: decode calls: %v", err)
	}
	return calls
}

// Requests returns the total number of requests on both endpoints.
func (n *Network) Requests() int {
	return n.Protocol.Total() + n.General.Total()
}

func (n *Network) handleCall(params []json.RawMessage) (any, *rpctest.Error) {
	var call struct {
		To    common.Address `json:"to"`
		Data  hexutil.Bytes  `json:"data"`
		Input hexutil.Bytes  `json:"input"`
	}
	if len(params) == 0 || json.Unmarshal(params[0], &call) != nil {
		return nil, &rpctest.Error{Code: jsonrpc.CodeInvalidParams, Message: "bad call"}
	}
	data := call.Input
	if len(data) == 0 {
		data = call.Data
	}

	if call.To == n.Chain.EntryPoint {
		// getNonce(address,uint192): the next nonce is the number of operations sent.
		n.mu.Lock()
		nonce := len(n.sent)
		n.mu.Unlock()
		return hexutil.Encode(common.LeftPadBytes(big.NewInt(int64(nonce)).Bytes(), 32)), nil
	}

	n.mu.Lock()
	handler := n.contracts[call.To]
	n.mu.Unlock()
	if handler == nil {
		return "0x", nil
	}
	out, rpcErr := handler(data)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return hexutil.Encode(out), nil
}

func (n *Network) decodeOp(params []json.RawMessage) (*userop.UserOperation, *rpctest.Error) {
	if len(params) < 2 {
		return nil, &rpctest.Error{Code: jsonrpc.CodeInvalidParams, Message: "expected [userOp, entryPoint]"}
	}
	var op userop.UserOperation
	if err := json.Unmarshal(params[0], &op); err != nil {
		return nil, &rpctest.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	return &op, nil
}

func (n *Network) handleEstimate(params []json.RawMessage) (any, *rpctest.Error) {
	op, rpcErr := n.decodeOp(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if op.Paymaster == nil {
		return nil, &rpctest.Error{Code: jsonrpc.CodeValidationReverted, Message: "AA21 didn't pay prefund"}
	}

	calls, err := account.DecodeCalls(op.CallData)
	if err != nil {
		return nil, &rpctest.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
	}
	n.mu.Lock()
	reject := n.reject
	n.mu.Unlock()
	if reject != nil {
		if reason := reject(calls); reason != "" {
			return nil, &rpctest.Error{
				Code:    jsonrpc.CodeExecutionReverted,
				Message: "execution reverted",
				Data:    hexutil.Encode(RevertData(reason)),
			}
		}
	}

	return map[string]string{
		"preVerificationGas":   "0xc350",
		"verificationGasLimit": "0x30d40",
		"callGasLimit":         hexutil.EncodeUint64(uint64(50_000 * len(calls))),
	}, nil
}

func (n *Network) handleSend(params []json.RawMessage) (any, *rpctest.Error) {
	op, rpcErr := n.decodeOp(params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if op.Paymaster == nil || *op.Paymaster != Paymaster || !strings.EqualFold(hexutil.Encode(op.PaymasterData), hexutil.Encode(FinalPaymasterData)) {
		return nil, &rpctest.Error{Code: jsonrpc.CodePaymasterRejected, Message: "operation not sponsored with final paymaster data"}
	}

	hash, err := op.Hash(n.Chain.EntryPoint, big.NewInt(n.Chain.ChainID))
	if err != nil {
		return nil, &rpctest.Error{Code: jsonrpc.CodeInternalError, Message: err.Error()}
	}
	if len(op.Signature) != 65 {
		return nil, &rpctest.Error{Code: jsonrpc.CodeInvalidSignature, Message: "AA24 signature error"}
	}
	sig := common.CopyBytes(op.Signature)
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	if err != nil || crypto.PubkeyToAddress(*pub) != n.owner {
		return nil, &rpctest.Error{Code: jsonrpc.CodeInvalidSignature, Message: "AA24 signature does not match operation"}
	}

	n.mu.Lock()
	n.sent = append(n.sent, op)
	n.mu.Unlock()
	return hash, nil
}

func (n *Network) handleReceipt(params []json.RawMessage) (any, *rpctest.Error) {
	var hash common.Hash
	if len(params) == 0 || json.Unmarshal(params[0], &hash) != nil {
		return nil, &rpctest.Error{Code: jsonrpc.CodeInvalidParams, Message: "expected [hash]"}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.pending {
		return nil, nil
	}
	for i, op := range n.sent {
		h, _ := op.Hash(n.Chain.EntryPoint, big.NewInt(n.Chain.ChainID))
		if h != hash {
			continue
		}
		receipt := map[string]any{
			"userOpHash":    hash,
			"sender":        op.Sender,
			"nonce":         hexutil.EncodeBig(op.Nonce),
			"success":       n.failOnChain == "",
			"actualGasCost": "0x1",
			"actualGasUsed": "0x1",
			"receipt": map[string]any{
				"transactionHash": common.BigToHash(big.NewInt(int64(i + 1))),
				"blockNumber":     hexutil.EncodeUint64(uint64(100 + i)),
			},
		}
		if n.failOnChain != "" {
			receipt["reason"] = hexutil.Encode(RevertData(n.failOnChain))
		}
		return receipt, nil
	}
	return nil, nil
}

// TxHash is the transaction hash the fake reports for the i-th sent operation.
func TxHash(i int) common.Hash {
	return common.BigToHash(big.NewInt(int64(i + 1)))
}

// RevertData encodes reason as Error(string) revert data.
func RevertData(reason string) []byte {
	typ, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: typ}}.Pack(reason)
	if err != nil {
		panic(fmt.Sprintf("aatest: pack revert: %v", err))
	}
	return append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)
}

func mustKey() *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(OwnerKey)
	if err != nil {
		panic(err)
	}
	return key
}
