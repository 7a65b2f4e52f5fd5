// Package bundler builds, sponsors, signs and submits user operations for a
// smart account, and tracks their inclusion.
//
// Every SendCalls call produces exactly one user operation. Calls that depend
// on each other, such as an approval followed by the spend it authorizes,
// must be passed to the same SendCalls call.
package bundler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/account"
	"github.com/mark3labs/smartaccount-go/internal/jsonrpc"
	"github.com/mark3labs/smartaccount-go/paymaster"
	"github.com/mark3labs/smartaccount-go/retry"
	"github.com/mark3labs/smartaccount-go/userop"
)

// Bundler and helper method names.
const (
	MethodGasPrice     = "zd_getUserOperationGasPrice"
	MethodEstimateGas  = "eth_estimateUserOperationGas"
	MethodSend         = "eth_sendUserOperation"
	MethodReceipt      = "eth_getUserOperationReceipt"
	MethodCall         = "eth_call"
	MethodGetCode      = "eth_getCode"
	MethodPersonalSign = "personal_sign"
)

// Operations use the default nonce key (sequential nonces).
const defaultNonceKey = 0

const entryPointABI = `[
	{"type":"function","name":"getNonce","stateMutability":"view",
	 "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
	 "outputs":[{"name":"nonce","type":"uint256"}]}
]`

var parsedEntryPointABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(entryPointABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Client submits operations for one smart account. A Client is bound to its
// account for life; build a new one when the owner or chain changes.
//
// Client is safe for concurrent use, but concurrent operations from the same
// account compete for the same nonce.
type Client struct {
	account    *account.SmartAccount
	chain      smartaccount.ChainConfig
	rpc        *jsonrpc.Client
	sponsor    *paymaster.Negotiator
	entryPoint common.Address
	poll       retry.PollConfig
	retry      retry.Config
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPollConfig sets the inclusion polling schedule and bound.
func WithPollConfig(cfg retry.PollConfig) Option {
	return func(c *Client) {
		c.poll = cfg
	}
}

// WithRetryConfig sets the backoff for idempotent reads (nonce, deployment
// check, gas price). Submission is never retried.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client. rpc must route through the dual-endpoint transport so
// helper methods reach the protocol bundler and the rest the general one.
func New(acct *account.SmartAccount, chain smartaccount.ChainConfig, rpc *jsonrpc.Client, sponsor *paymaster.Negotiator, opts ...Option) *Client {
	c := &Client{
		account:    acct,
		chain:      chain,
		rpc:        rpc,
		sponsor:    sponsor,
		entryPoint: chain.EntryPoint,
		poll:       retry.DefaultPollConfig,
		retry:      retry.DefaultConfig,
		logger:     slog.Default(),
	}
	if c.entryPoint == (common.Address{}) {
		c.entryPoint = smartaccount.EntryPointV07
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account returns the bound smart account.
func (c *Client) Account() *account.SmartAccount {
	return c.account
}

// Chain returns the chain the client submits to.
func (c *Client) Chain() smartaccount.ChainConfig {
	return c.chain
}

// SendCalls submits calls as one atomic operation and returns its handle.
// Nothing is sent to the bundler if any preparation step fails.
func (c *Client) SendCalls(ctx context.Context, calls ...smartaccount.Call) (*Operation, error) {
	op, err := c.Prepare(ctx, calls...)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, op, calls)
}

// Prepare builds a sponsored, signed user operation for calls without sending it.
func (c *Client) Prepare(ctx context.Context, calls ...smartaccount.Call) (*userop.UserOperation, error) {
	if c.account == nil || c.account.Signer == nil {
		return nil, smartaccount.NewError(smartaccount.ErrCodeSignerUnavailable, "no smart account bound", nil)
	}

	callData, err := account.EncodeCalls(calls)
	if err != nil {
		return nil, err
	}

	op := &userop.UserOperation{
		Sender:   c.account.Address,
		CallData: callData,
	}

	if op.Nonce, err = c.nonce(ctx); err != nil {
		return nil, classifyGeneral("get nonce", err)
	}

	deployed, err := c.deployed(ctx)
	if err != nil {
		return nil, classifyGeneral("check deployment", err)
	}
	if !deployed {
		factory := c.account.Factory()
		factoryData, err := c.account.FactoryData()
		if err != nil {
			return nil, err
		}
		op.Factory = &factory
		op.FactoryData = factoryData
	}

	if err := c.applyGasPrice(ctx, op); err != nil {
		return nil, classifyProtocol("gas price", err)
	}

	op.Signature = userop.DummySignature

	stub, err := c.sponsor.Stub(ctx, op)
	if err != nil {
		return nil, err
	}
	paymaster.Apply(op, stub)

	if err := c.estimate(ctx, op); err != nil {
		return nil, err
	}

	if stub.IsFinal {
		// The estimate may have replaced the sponsor's limits.
		paymaster.Apply(op, stub)
	} else {
		final, err := c.sponsor.Final(ctx, op)
		if err != nil {
			return nil, err
		}
		paymaster.Apply(op, final)
	}

	if err := c.sign(ctx, op); err != nil {
		return nil, err
	}

	c.logger.Debug("user operation prepared",
		"sender", op.Sender.Hex(),
		"nonce", op.Nonce,
		"calls", len(calls),
		"deployed", deployed)
	return op, nil
}

// Send submits a prepared operation.
func (c *Client) Send(ctx context.Context, op *userop.UserOperation, calls []smartaccount.Call) (*Operation, error) {
	localHash, err := op.Hash(c.entryPoint, big.NewInt(c.chain.ChainID))
	if err != nil {
		return nil, err
	}

	var hash common.Hash
	if err := c.rpc.Call(ctx, MethodSend, &hash, op, c.entryPoint); err != nil {
		return nil, classifySubmit(err)
	}
	if hash != localHash {
		c.logger.Warn("bundler returned unexpected operation hash", "local", localHash.Hex(), "bundler", hash.Hex())
	}

	c.logger.Info("user operation submitted", "hash", hash.Hex(), "sender", op.Sender.Hex(), "calls", len(calls))
	return &Operation{
		Hash:   hash,
		Calls:  calls,
		UserOp: op,
		client: c,
	}, nil
}

func (c *Client) nonce(ctx context.Context) (*big.Int, error) {
	data, err := parsedEntryPointABI.Pack("getNonce", c.account.Address, big.NewInt(defaultNonceKey))
	if err != nil {
		return nil, err
	}

	callArgs := map[string]any{"to": c.entryPoint, "data": hexutil.Bytes(data)}
	out, err := read[hexutil.Bytes](ctx, c, MethodCall, callArgs, "latest")
	if err != nil {
		return nil, err
	}
	values, err := parsedEntryPointABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("decode getNonce: %w", err)
	}
	return values[0].(*big.Int), nil
}

func (c *Client) deployed(ctx context.Context) (bool, error) {
	code, err := read[hexutil.Bytes](ctx, c, MethodGetCode, c.account.Address, "latest")
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

type gasPrice struct {
	MaxFeePerGas         *hexutil.Big `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big `json:"maxPriorityFeePerGas"`
}

type gasPriceTiers struct {
	Slow     *gasPrice `json:"slow"`
	Standard *gasPrice `json:"standard"`
	Fast     *gasPrice `json:"fast"`
}

// read performs an idempotent call, retrying transient endpoint failures.
func read[T any](ctx context.Context, c *Client, method string, params ...any) (T, error) {
	return retry.WithRetry(ctx, c.retry, jsonrpc.IsTransient, func(ctx context.Context) (T, error) {
		var out T
		err := c.rpc.Call(ctx, method, &out, params...)
		return out, err
	})
}

func (c *Client) applyGasPrice(ctx context.Context, op *userop.UserOperation) error {
	tiers, err := read[gasPriceTiers](ctx, c, MethodGasPrice)
	if err != nil {
		return err
	}

	tier := tiers.Standard
	if tier == nil {
		tier = tiers.Fast
	}
	if tier == nil || tier.MaxFeePerGas == nil || tier.MaxPriorityFeePerGas == nil {
		return errors.New("no gas price tier returned")
	}
	op.MaxFeePerGas = tier.MaxFeePerGas.ToInt()
	op.MaxPriorityFeePerGas = tier.MaxPriorityFeePerGas.ToInt()
	return nil
}

func (c *Client) estimate(ctx context.Context, op *userop.UserOperation) error {
	var est struct {
		PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
		VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
		CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
		PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit"`
		PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit"`
	}
	if err := c.rpc.Call(ctx, MethodEstimateGas, &est, op, c.entryPoint); err != nil {
		return classifySubmit(err)
	}
	if est.PreVerificationGas == nil || est.VerificationGasLimit == nil || est.CallGasLimit == nil {
		return smartaccount.NewError(smartaccount.ErrCodeRejected, "gas estimation returned incomplete limits", nil)
	}

	op.PreVerificationGas = est.PreVerificationGas.ToInt()
	op.VerificationGasLimit = est.VerificationGasLimit.ToInt()
	op.CallGasLimit = est.CallGasLimit.ToInt()
	if est.PaymasterVerificationGasLimit != nil {
		op.PaymasterVerificationGasLimit = est.PaymasterVerificationGasLimit.ToInt()
	}
	if est.PaymasterPostOpGasLimit != nil {
		op.PaymasterPostOpGasLimit = est.PaymasterPostOpGasLimit.ToInt()
	}
	return nil
}

func (c *Client) sign(ctx context.Context, op *userop.UserOperation) error {
	hash, err := op.Hash(c.entryPoint, big.NewInt(c.chain.ChainID))
	if err != nil {
		return err
	}

	raw, err := c.account.Signer.Request(ctx, smartaccount.RequestArguments{
		Method: MethodPersonalSign,
		Params: []any{hash.Hex(), c.account.Owner.Hex()},
	})
	if err != nil {
		return smartaccount.NewError(smartaccount.ErrCodeSignerUnavailable, "owner signer failed to sign operation", err)
	}

	var sig hexutil.Bytes
	if err := sig.UnmarshalJSON(raw); err != nil || len(sig) != 65 {
		return smartaccount.NewError(smartaccount.ErrCodeSignerUnavailable, "owner signer returned malformed signature", err)
	}
	op.Signature = sig
	return nil
}
