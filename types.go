package smartaccount

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SignerKind distinguishes platform-issued keys from user-supplied ones.
type SignerKind string

const (
	// SignerKindUnknown means the signer provider supplied no kind metadata.
	SignerKindUnknown SignerKind = ""
	// SignerKindEmbedded is a platform-issued key.
	SignerKindEmbedded SignerKind = "embedded"
	// SignerKindExternal is a user-supplied wallet.
	SignerKindExternal SignerKind = "external"
)

// SignerSession is one authenticated signing capability in the current session.
// Sessions are created by the signer provider and never persisted here.
type SignerSession struct {
	// Address is the signer's account identifier.
	Address common.Address

	// Kind is the provider-supplied session kind, if any.
	Kind SignerKind

	// ChainID is the chain the signer is connected to.
	ChainID int64

	// ClientType is the provider's wallet client label (e.g. "privy", "metamask").
	ClientType string

	// Signer is the request-signing interface for this session.
	Signer OwnerSigner
}

// Call is a single contract call inside an operation.
type Call struct {
	// To is the call target.
	To common.Address `json:"to"`

	// Value is the native amount in wei. Nil means zero.
	Value *big.Int `json:"value,omitempty"`

	// Data is the ABI-encoded calldata.
	Data []byte `json:"data,omitempty"`
}

// ValueOrZero returns the call value, treating nil as zero.
func (c Call) ValueOrZero() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}

// PaymentIntent describes a single value transfer. It is built per call and discarded.
type PaymentIntent struct {
	// From is the paying smart account.
	From common.Address

	// To is the recipient, as supplied by the caller (validated before dispatch).
	To string

	// Amount is a positive decimal amount in whole units (e.g. "1.5").
	Amount string

	// Currency is the symbol of the native currency or a configured token (e.g. "CELO", "cUSD").
	Currency string
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000. Amounts with more
// fractional digits than decimals are rejected.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" || strings.ContainsAny(amount, "eE/xXpP_") {
		return nil, ErrInvalidAmount
	}

	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, ErrInvalidAmount
	}

	multiplier := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value.Mul(value, new(big.Rat).SetInt(multiplier))

	if !value.IsInt() {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.5".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r := new(big.Rat).SetFrac(value, divisor)

	s := r.FloatString(decimals)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
