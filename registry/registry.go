// Package registry resolves human-readable names to account addresses and
// registers names for the bound smart account.
//
// Names are validated locally before any network call.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/bundler"
	"github.com/mark3labs/smartaccount-go/retry"
	"github.com/mark3labs/smartaccount-go/token"
	"github.com/mark3labs/smartaccount-go/validation"
)

const registryABI = `[
	{"type":"function","name":"isNameAvailable","stateMutability":"view",
	 "inputs":[{"name":"name","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"resolve","stateMutability":"view",
	 "inputs":[{"name":"name","type":"string"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"reverseLookup","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"registrationPrice","stateMutability":"view",
	 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"register","stateMutability":"nonpayable",
	 "inputs":[{"name":"name","type":"string"},{"name":"target","type":"address"}],"outputs":[]},
	{"type":"function","name":"updateAddress","stateMutability":"nonpayable",
	 "inputs":[{"name":"name","type":"string"},{"name":"target","type":"address"}],"outputs":[]}
]`

// ABI is the parsed registry interface.
var ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Revert reason fragments meaning the name is already taken.
var takenMarkers = []string{"already registered", "already taken", "name taken", "not available", "unavailable"}

// Sender submits operations. *bundler.Client implements it.
type Sender interface {
	SendCalls(ctx context.Context, calls ...smartaccount.Call) (*bundler.Operation, error)
}

// Config locates the registry on a chain.
type Config struct {
	// Address is the registry contract.
	Address common.Address

	// FeeToken is the token the registration fee is paid in.
	FeeToken smartaccount.TokenConfig
}

// Result identifies a completed registry write.
type Result struct {
	OperationHash   common.Hash
	TransactionHash common.Hash
}

// Client reads and writes registry records.
type Client struct {
	cfg    Config
	reader token.ChainReader
	sender Sender
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSender enables writes through sender.
func WithSender(sender Sender) Option {
	return func(c *Client) {
		c.sender = sender
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a registry client. Without WithSender only reads are available.
// Transient read failures are retried with retry.DefaultConfig.
func New(cfg Config, reader token.ChainReader, opts ...Option) *Client {
	c := &Client{cfg: cfg, reader: token.RetryReads(reader, retry.DefaultConfig), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsValidFormat reports whether name is a well-formed registry name.
func IsValidFormat(name string) bool {
	return validation.IsValidName(name)
}

// IsAvailable reports whether name can be registered.
func (c *Client) IsAvailable(ctx context.Context, name string) (bool, error) {
	if err := validation.ValidateName(name); err != nil {
		return false, err
	}
	values, err := c.call(ctx, "isNameAvailable", name)
	if err != nil {
		return false, err
	}
	return values[0].(bool), nil
}

// Resolve returns the address registered for name, or ErrNotFound.
func (c *Client) Resolve(ctx context.Context, name string) (common.Address, error) {
	if err := validation.ValidateName(name); err != nil {
		return common.Address{}, err
	}
	values, err := c.call(ctx, "resolve", name)
	if err != nil {
		return common.Address{}, err
	}
	addr := values[0].(common.Address)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: name %q", smartaccount.ErrNotFound, name)
	}
	return addr, nil
}

// ReverseLookup returns the display name registered for addr, or ErrNotFound.
func (c *Client) ReverseLookup(ctx context.Context, addr common.Address) (string, error) {
	if addr == (common.Address{}) {
		return "", fmt.Errorf("%w: zero address", smartaccount.ErrInvalidRecipient)
	}
	values, err := c.call(ctx, "reverseLookup", addr)
	if err != nil {
		return "", err
	}
	name := values[0].(string)
	if name == "" {
		return "", fmt.Errorf("%w: no name for %s", smartaccount.ErrNotFound, addr.Hex())
	}
	return name, nil
}

// Price returns the registration fee in fee-token atomic units.
func (c *Client) Price(ctx context.Context) (*big.Int, error) {
	values, err := c.call(ctx, "registrationPrice")
	if err != nil {
		return nil, err
	}
	return values[0].(*big.Int), nil
}

// FormattedPrice returns the registration fee as a decimal string of fee-token units.
func (c *Client) FormattedPrice(ctx context.Context) (string, error) {
	price, err := c.Price(ctx)
	if err != nil {
		return "", err
	}
	return smartaccount.BigIntToAmount(price, c.cfg.FeeToken.Decimals), nil
}

// Register claims name for target. The fee approval and the registration are
// submitted as one operation so they succeed or fail together.
func (c *Client) Register(ctx context.Context, name string, target common.Address) (*Result, error) {
	if err := validation.ValidateName(name); err != nil {
		return nil, err
	}
	if target == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero target address", smartaccount.ErrInvalidRecipient)
	}
	if c.sender == nil {
		return nil, errors.New("registry: client has no sender")
	}

	available, err := c.IsAvailable(ctx, name)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, smartaccount.NewError(smartaccount.ErrCodeAlreadyRegistered, fmt.Sprintf("name %q is already registered", name), nil)
	}

	price, err := c.Price(ctx)
	if err != nil {
		return nil, err
	}

	approve, err := token.ApproveCall(c.cfg.FeeToken.Address, c.cfg.Address, price)
	if err != nil {
		return nil, err
	}
	data, err := ABI.Pack("register", name, target)
	if err != nil {
		return nil, fmt.Errorf("registry: encode register: %w", err)
	}

	c.logger.Info("registering name", "name", name, "target", target.Hex(), "price", price)
	return c.submit(ctx, name, approve, smartaccount.Call{To: c.cfg.Address, Data: data})
}

// UpdateAddress points an owned name at a new target.
func (c *Client) UpdateAddress(ctx context.Context, name string, target common.Address) (*Result, error) {
	if err := validation.ValidateName(name); err != nil {
		return nil, err
	}
	if target == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero target address", smartaccount.ErrInvalidRecipient)
	}
	if c.sender == nil {
		return nil, errors.New("registry: client has no sender")
	}

	data, err := ABI.Pack("updateAddress", name, target)
	if err != nil {
		return nil, fmt.Errorf("registry: encode updateAddress: %w", err)
	}
	return c.submit(ctx, name, smartaccount.Call{To: c.cfg.Address, Data: data})
}

func (c *Client) submit(ctx context.Context, name string, calls ...smartaccount.Call) (*Result, error) {
	op, err := c.sender.SendCalls(ctx, calls...)
	if err != nil {
		return nil, classifyWrite(name, err)
	}
	receipt, err := op.Wait(ctx)
	if err != nil {
		return nil, classifyWrite(name, err)
	}
	return &Result{OperationHash: op.Hash, TransactionHash: receipt.TransactionHash}, nil
}

// classifyWrite turns a "name taken" revert into ErrAlreadyRegistered; this
// covers names claimed between the availability check and inclusion.
func classifyWrite(name string, err error) error {
	if !errors.Is(err, smartaccount.ErrRejected) {
		return err
	}
	reason := strings.ToLower(smartaccount.ReasonOf(err))
	if reason == "" {
		reason = strings.ToLower(err.Error())
	}
	for _, marker := range takenMarkers {
		if strings.Contains(reason, marker) {
			e := smartaccount.NewError(smartaccount.ErrCodeAlreadyRegistered, fmt.Sprintf("name %q is already registered", name), err)
			e.Reason = smartaccount.ReasonOf(err)
			return e
		}
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: encode %s: %w", method, err)
	}
	out, err := c.reader.CallContract(ctx, ethereum.CallMsg{To: &c.cfg.Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: %s: %w", method, err)
	}
	values, err := ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("registry: decode %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("registry: %s returned no values", method)
	}
	return values, nil
}
