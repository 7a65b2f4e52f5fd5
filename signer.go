package smartaccount

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// RequestArguments is an EIP-1193 request shape.
type RequestArguments struct {
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// Provider is an EIP-1193 style request interface.
type Provider interface {
	// Request executes a provider request and returns the raw JSON result.
	Request(ctx context.Context, args RequestArguments) (json.RawMessage, error)
}

// OwnerSigner is the externally-owned key that controls a smart account.
// Implementations handle personal_sign and eth_chainId at minimum.
type OwnerSigner interface {
	Provider

	// Address returns the signer's account identifier.
	Address() common.Address
}
