// Package payment dispatches native-currency and token transfers from a smart
// account and classifies their failures for the caller.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/account"
	"github.com/mark3labs/smartaccount-go/bundler"
	"github.com/mark3labs/smartaccount-go/token"
	"github.com/mark3labs/smartaccount-go/validation"
)

// Revert reason fragments meaning the account or the sponsor lacks funds.
var insufficientMarkers = []string{
	"insufficient funds",
	"insufficient balance",
	"exceeds balance",
	"aa21",
	"aa31",
	"prefund",
	"deposit too low",
}

// Sender submits operations for one account. *bundler.Client implements it.
type Sender interface {
	SendCalls(ctx context.Context, calls ...smartaccount.Call) (*bundler.Operation, error)
	Account() *account.SmartAccount
}

// Result describes a completed payment.
type Result struct {
	OperationHash   common.Hash
	TransactionHash common.Hash
	From            common.Address
	To              common.Address
	Currency        string
	Amount          *big.Int
}

// Dispatcher sends payments through a Sender. It never retries.
type Dispatcher struct {
	sender Sender
	chain  smartaccount.ChainConfig
	logger *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a Dispatcher for chain.
func NewDispatcher(sender Sender, chain smartaccount.ChainConfig, opts ...Option) *Dispatcher {
	d := &Dispatcher{sender: sender, chain: chain, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Build validates intent and returns the call that performs it. It makes no
// network calls.
func (d *Dispatcher) Build(intent smartaccount.PaymentIntent) (smartaccount.Call, *big.Int, error) {
	to, err := validation.ParseAddress(strings.TrimSpace(intent.To))
	if err != nil {
		return smartaccount.Call{}, nil, err
	}

	if d.chain.IsNative(intent.Currency) {
		amount, err := validation.ParseAmount(intent.Amount, d.chain.NativeDecimals)
		if err != nil {
			return smartaccount.Call{}, nil, err
		}
		return smartaccount.Call{To: to, Value: amount}, amount, nil
	}

	cfg, ok := d.chain.Token(intent.Currency)
	if !ok {
		return smartaccount.Call{}, nil, fmt.Errorf("%w: %q on %s", smartaccount.ErrUnsupportedCurrency, intent.Currency, d.chain.Name)
	}
	amount, err := validation.ParseAmount(intent.Amount, cfg.Decimals)
	if err != nil {
		return smartaccount.Call{}, nil, err
	}
	call, err := token.TransferCall(cfg.Address, to, amount)
	if err != nil {
		return smartaccount.Call{}, nil, err
	}
	return call, amount, nil
}

// Pay validates intent, submits it as one operation and waits for inclusion.
func (d *Dispatcher) Pay(ctx context.Context, intent smartaccount.PaymentIntent) (*Result, error) {
	call, amount, err := d.Build(intent)
	if err != nil {
		return nil, err
	}

	acct := d.sender.Account()
	if acct == nil {
		return nil, smartaccount.NewError(smartaccount.ErrCodeSignerUnavailable, "no smart account bound", nil)
	}
	if intent.From != (common.Address{}) && intent.From != acct.Address {
		return nil, fmt.Errorf("payment: intent is from %s but the bound account is %s", intent.From.Hex(), acct.Address.Hex())
	}

	to := common.HexToAddress(strings.TrimSpace(intent.To))
	d.logger.Info("dispatching payment", "from", acct.Address.Hex(), "to", to.Hex(), "amount", intent.Amount, "currency", intent.Currency)

	op, err := d.sender.SendCalls(ctx, call)
	if err != nil {
		return nil, classify(err)
	}
	receipt, err := op.Wait(ctx)
	if err != nil {
		return nil, classify(err)
	}

	return &Result{
		OperationHash:   op.Hash,
		TransactionHash: receipt.TransactionHash,
		From:            acct.Address,
		To:              to,
		Currency:        intent.Currency,
		Amount:          amount,
	}, nil
}

// classify maps batcher failures onto payment outcomes. Timeout, sponsorship
// and signer errors pass through unchanged.
func classify(err error) error {
	if !errors.Is(err, smartaccount.ErrRejected) {
		return err
	}

	reason := smartaccount.ReasonOf(err)
	lower := strings.ToLower(reason + " " + err.Error())
	for _, marker := range insufficientMarkers {
		if strings.Contains(lower, marker) {
			e := smartaccount.NewError(smartaccount.ErrCodeInsufficientFunds,
				"insufficient funds: either the account balance or the sponsor's gas funding is too low", err)
			e.Reason = reason
			return e
		}
	}

	e := smartaccount.NewError(smartaccount.ErrCodeReverted, "payment reverted", err)
	e.Reason = reason
	return e
}
