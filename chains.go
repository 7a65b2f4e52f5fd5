// Package smartaccount provides the shared types, chain constants and error
// taxonomy of the smart-account transaction layer: deterministic contract
// accounts controlled by an owner signer, sponsored through a paymaster and
// submitted through an ERC-4337 bundler.
package smartaccount

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EntryPointV07 is the canonical ERC-4337 v0.7 EntryPoint address.
var EntryPointV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

// TokenConfig represents configuration for a supported fungible token.
type TokenConfig struct {
	// Address is the token contract address.
	Address common.Address

	// Symbol is the token symbol (e.g., "cUSD").
	Symbol string

	// Decimals is the number of decimal places for the token.
	Decimals int

	// Name is an optional human-readable token name.
	Name string
}

// ChainConfig contains chain-specific constants for account derivation and payment.
type ChainConfig struct {
	// Name is a short network identifier (e.g., "celo").
	Name string

	// ChainID is the EIP-155 chain id.
	ChainID int64

	// NativeSymbol is the native currency symbol.
	NativeSymbol string

	// NativeDecimals is the number of decimals of the native currency (always 18 on EVM chains).
	NativeDecimals int

	// EntryPoint is the ERC-4337 EntryPoint the bundlers accept.
	EntryPoint common.Address

	// RPCURL is a public read-only RPC endpoint.
	RPCURL string

	// Tokens lists the ERC-20 tokens accepted for payments.
	Tokens []TokenConfig
}

var (
	// CeloMainnet is the configuration for Celo mainnet.
	CeloMainnet = ChainConfig{
		Name:           "celo",
		ChainID:        42220,
		NativeSymbol:   "CELO",
		NativeDecimals: 18,
		EntryPoint:     EntryPointV07,
		RPCURL:         "https://forno.celo.org",
		Tokens: []TokenConfig{
			{Address: common.HexToAddress("0x765DE816845861e75A25fCA122bb6898B8B1282a"), Symbol: "cUSD", Decimals: 18, Name: "Celo Dollar"},
			{Address: common.HexToAddress("0xcebA9300f2b948710d2653dD7B07f33A8B32118C"), Symbol: "USDC", Decimals: 6, Name: "USD Coin"},
		},
	}

	// CeloAlfajores is the configuration for the Celo Alfajores testnet.
	CeloAlfajores = ChainConfig{
		Name:           "celo-alfajores",
		ChainID:        44787,
		NativeSymbol:   "CELO",
		NativeDecimals: 18,
		EntryPoint:     EntryPointV07,
		RPCURL:         "https://alfajores-forno.celo-testnet.org",
		Tokens: []TokenConfig{
			{Address: common.HexToAddress("0x874069Fa1Eb16D44d622F2e0Ca25eeA172369bC1"), Symbol: "cUSD", Decimals: 18, Name: "Celo Dollar"},
		},
	}
)

var chainsByID = map[int64]ChainConfig{
	CeloMainnet.ChainID:   CeloMainnet,
	CeloAlfajores.ChainID: CeloAlfajores,
}

// LookupChain returns the configuration for the given chain id.
func LookupChain(chainID int64) (ChainConfig, error) {
	chain, ok := chainsByID[chainID]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return chain, nil
}

// IsNative reports whether the currency symbol names the chain's native currency.
func (c ChainConfig) IsNative(currency string) bool {
	return strings.EqualFold(currency, c.NativeSymbol)
}

// Token returns the token configuration for a symbol, case-insensitively.
func (c ChainConfig) Token(symbol string) (TokenConfig, bool) {
	for _, token := range c.Tokens {
		if strings.EqualFold(token.Symbol, symbol) {
			return token, true
		}
	}
	return TokenConfig{}, false
}
