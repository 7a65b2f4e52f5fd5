// Package paymaster negotiates gas sponsorship for user operations over the
// ERC-7677 paymaster web service methods.
package paymaster

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/internal/jsonrpc"
	"github.com/mark3labs/smartaccount-go/userop"
)

// ERC-7677 method names.
const (
	MethodStubData = "pm_getPaymasterStubData"
	MethodData     = "pm_getPaymasterData"
)

// Substrings of sponsor error messages that mean the usage cap was reached.
var planLimitMarkers = []string{
	"plan limit",
	"usage limit",
	"quota",
	"limit exceeded",
	"upgrade your plan",
	"exceeded the maximum",
}

// Substrings of sponsor error messages that mean the sponsor itself is out of funds.
var insufficientFundsMarkers = []string{
	"insufficient paymaster deposit",
	"insufficient deposit",
	"insufficient balance",
	"insufficient funds",
	"deposit too low",
}

// Sponsorship is the paymaster payload for one operation. Gas limits are nil
// when the sponsor did not return them.
type Sponsorship struct {
	Paymaster                     common.Address `json:"paymaster"`
	PaymasterData                 hexutil.Bytes  `json:"paymasterData"`
	PaymasterVerificationGasLimit *hexutil.Big   `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big   `json:"paymasterPostOpGasLimit,omitempty"`

	// Some sponsors also return account gas limits; these win over local estimates.
	CallGasLimit         *hexutil.Big `json:"callGasLimit,omitempty"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit,omitempty"`
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas,omitempty"`

	// IsFinal is set on stub responses that need no final call.
	IsFinal bool `json:"isFinal,omitempty"`

	Sponsor *struct {
		Name string `json:"name"`
		Icon string `json:"icon,omitempty"`
	} `json:"sponsor,omitempty"`
}

// Negotiator requests sponsorship payloads from the paymaster endpoint.
type Negotiator struct {
	rpc        *jsonrpc.Client
	entryPoint common.Address
	chainID    *big.Int
	policyID   string
	logger     *slog.Logger
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithPolicy sets the sponsorship policy id sent in the request context.
func WithPolicy(policyID string) Option {
	return func(n *Negotiator) {
		n.policyID = policyID
	}
}

// WithEntryPoint overrides the EntryPoint address.
func WithEntryPoint(entryPoint common.Address) Option {
	return func(n *Negotiator) {
		n.entryPoint = entryPoint
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Negotiator) {
		n.logger = logger
	}
}

// New creates a Negotiator for chainID talking through rpc.
func New(rpc *jsonrpc.Client, chainID int64, opts ...Option) *Negotiator {
	n := &Negotiator{
		rpc:        rpc,
		entryPoint: smartaccount.EntryPointV07,
		chainID:    big.NewInt(chainID),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Stub returns the payload used during gas estimation.
func (n *Negotiator) Stub(ctx context.Context, op *userop.UserOperation) (*Sponsorship, error) {
	return n.request(ctx, MethodStubData, op)
}

// Final returns the payload for the fully estimated operation. The result must
// be applied before hashing.
func (n *Negotiator) Final(ctx context.Context, op *userop.UserOperation) (*Sponsorship, error) {
	return n.request(ctx, MethodData, op)
}

func (n *Negotiator) request(ctx context.Context, method string, op *userop.UserOperation) (*Sponsorship, error) {
	sponsorCtx := map[string]any{}
	if n.policyID != "" {
		sponsorCtx["sponsorshipPolicyId"] = n.policyID
	}

	raw, err := n.rpc.CallRaw(ctx, method, op, n.entryPoint, hexutil.EncodeBig(n.chainID), sponsorCtx)
	if err != nil {
		n.logger.Warn("sponsorship request failed", "method", method, "sender", op.Sender.Hex(), "error", err)
		return nil, Classify(err)
	}
	if jsonrpc.IsNull(raw) {
		return nil, smartaccount.NewError(smartaccount.ErrCodeSponsorshipUnavailable, method+" returned no sponsorship", nil)
	}

	var s Sponsorship
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, smartaccount.NewError(smartaccount.ErrCodeSponsorshipUnavailable, "malformed sponsorship response", err)
	}
	if s.Paymaster == (common.Address{}) {
		return nil, smartaccount.NewError(smartaccount.ErrCodeSponsorshipUnavailable, method+" returned no paymaster", nil)
	}

	n.logger.Debug("sponsorship attached", "method", method, "paymaster", s.Paymaster.Hex(), "sender", op.Sender.Hex())
	return &s, nil
}

// Apply writes the sponsorship onto op. Gas limits returned by the sponsor
// overwrite the operation's values so the signed hash matches what the
// sponsor will verify.
func Apply(op *userop.UserOperation, s *Sponsorship) {
	pm := s.Paymaster
	op.Paymaster = &pm
	op.PaymasterData = common.CopyBytes(s.PaymasterData)

	set := func(dst **big.Int, v *hexutil.Big) {
		if v != nil {
			*dst = new(big.Int).Set(v.ToInt())
		}
	}
	set(&op.PaymasterVerificationGasLimit, s.PaymasterVerificationGasLimit)
	set(&op.PaymasterPostOpGasLimit, s.PaymasterPostOpGasLimit)
	set(&op.CallGasLimit, s.CallGasLimit)
	set(&op.VerificationGasLimit, s.VerificationGasLimit)
	set(&op.PreVerificationGas, s.PreVerificationGas)

	if op.PaymasterVerificationGasLimit == nil {
		op.PaymasterVerificationGasLimit = new(big.Int)
	}
	if op.PaymasterPostOpGasLimit == nil {
		op.PaymasterPostOpGasLimit = new(big.Int)
	}
}

// Classify maps a paymaster failure to SponsorshipPlanLimitExceeded,
// InsufficientFunds (the sponsor's deposit is too low) or SponsorshipUnavailable.
// There is no unsponsored fallback.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, smartaccount.ErrSponsorshipUnavailable) ||
		errors.Is(err, smartaccount.ErrSponsorshipPlanLimitExceeded) ||
		errors.Is(err, smartaccount.ErrInsufficientFunds) {
		return err
	}
	if IsPlanLimit(err) {
		return smartaccount.NewError(smartaccount.ErrCodePlanLimitExceeded, "sponsorship plan limit reached; upgrade the plan to continue", err)
	}
	if IsInsufficientFunds(err) {
		return smartaccount.NewError(smartaccount.ErrCodeInsufficientFunds, "insufficient funds: either the account balance or the sponsor's gas funding is too low", err)
	}

	msg := "transactions cannot be sponsored right now"
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.NotConfigured():
			msg += " (paymaster not configured)"
		case httpErr.Unauthorized():
			msg += " (paymaster rejected credentials)"
		}
	}
	return smartaccount.NewError(smartaccount.ErrCodeSponsorshipUnavailable, msg, err)
}

// IsPlanLimit reports whether err reports the sponsor's usage cap.
func IsPlanLimit(err error) bool {
	return containsAny(jsonrpc.Message(err), planLimitMarkers)
}

// IsInsufficientFunds reports whether err says the sponsor cannot pay for gas.
func IsInsufficientFunds(err error) bool {
	return containsAny(jsonrpc.Message(err), insufficientFundsMarkers)
}

func containsAny(msg string, markers []string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
