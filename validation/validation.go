// Package validation holds the local checks that run before any network call.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/smartaccount-go"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// nameRegex matches registry names: lowercase letters, digits and hyphens, 1 to 32 chars
	nameRegex = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)
)

// IsValidName reports whether name is acceptable to the name registry.
func IsValidName(name string) bool {
	return nameRegex.MatchString(name)
}

// ValidateName returns ErrInvalidFormat if name is not a valid registry name.
func ValidateName(name string) error {
	if !IsValidName(name) {
		return fmt.Errorf("%w: %q (expected 1-32 chars of a-z, 0-9 or '-')", smartaccount.ErrInvalidFormat, name)
	}
	return nil
}

// ParseAddress validates and parses an account identifier.
// The zero address is rejected since nothing can own it.
func ParseAddress(address string) (common.Address, error) {
	if address == "" {
		return common.Address{}, fmt.Errorf("%w: address cannot be empty", smartaccount.ErrInvalidRecipient)
	}
	if !evmAddressRegex.MatchString(address) {
		return common.Address{}, fmt.Errorf("%w: %s (expected 0x followed by 40 hex characters)", smartaccount.ErrInvalidRecipient, address)
	}
	addr := common.HexToAddress(address)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", smartaccount.ErrInvalidRecipient)
	}
	return addr, nil
}

// ValidateAddress returns ErrInvalidRecipient if address is not a usable account identifier.
func ValidateAddress(address string) error {
	_, err := ParseAddress(address)
	return err
}

// ValidateAmount validates that amount is a positive decimal representable with decimals places.
func ValidateAmount(amount string, decimals int) error {
	_, err := ParseAmount(amount, decimals)
	return err
}

// ParseAmount converts a positive decimal amount into atomic units.
func ParseAmount(amount string, decimals int) (*big.Int, error) {
	if amount == "" {
		return nil, fmt.Errorf("%w: amount cannot be empty", smartaccount.ErrInvalidAmount)
	}

	value, err := smartaccount.AmountToBigInt(amount, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount format: %s", smartaccount.ErrInvalidAmount, amount)
	}

	if value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than 0, got: %s", smartaccount.ErrInvalidAmount, amount)
	}

	return value, nil
}
