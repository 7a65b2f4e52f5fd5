// Package account derives deterministic smart-account addresses from an owner
// signer and manages the per-session provisioning lifecycle.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mark3labs/smartaccount-go"
)

// Index is the fixed account index. Changing it changes every derived address.
const Index = 0

const factoryABI = `[
	{"type":"function","name":"createAccount","stateMutability":"payable",
	 "inputs":[{"name":"validator","type":"address"},{"name":"validatorData","type":"bytes"},{"name":"index","type":"uint256"}],
	 "outputs":[{"name":"account","type":"address"}]}
]`

var (
	parsedFactoryABI = mustParseABI(factoryABI)

	// EIP-1167 minimal proxy runtime wrapped in its creation code.
	proxyPrefix = common.FromHex("0x3d602d80600a3d3981f3363d3d373d3d3d363d73")
	proxySuffix = common.FromHex("0x5af43d82803e903d91602b57fd5bf3")

	saltArgs = abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("address")},
		{Type: mustType("uint256")},
	}
)

// SmartAccount is a derived contract account bound to its owner signer.
type SmartAccount struct {
	// Address is the counterfactual account address.
	Address common.Address

	// Owner is the owner signer's address.
	Owner common.Address

	// ChainID is the chain the account was provisioned for.
	ChainID int64

	// Version is the account implementation.
	Version Version

	// Index is the account index used for derivation.
	Index uint64

	// Signer signs operations for this account.
	Signer smartaccount.OwnerSigner
}

// Derive computes the account address for owner. It is a pure function of its inputs.
func Derive(owner common.Address, version Version, index uint64) (common.Address, error) {
	if err := version.Validate(); err != nil {
		return common.Address{}, err
	}

	salt, err := Salt(owner, version, index)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.CreateAddress2(version.Factory, salt, crypto.Keccak256(ProxyInitCode(version.Implementation))), nil
}

// Salt returns keccak256(abi.encode(validator, owner, index)).
func Salt(owner common.Address, version Version, index uint64) ([32]byte, error) {
	packed, err := saltArgs.Pack(version.Validator, owner, new(big.Int).SetUint64(index))
	if err != nil {
		return [32]byte{}, fmt.Errorf("account: encode salt: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// ProxyInitCode returns the EIP-1167 creation code for a proxy to implementation.
func ProxyInitCode(implementation common.Address) []byte {
	code := make([]byte, 0, len(proxyPrefix)+common.AddressLength+len(proxySuffix))
	code = append(code, proxyPrefix...)
	code = append(code, implementation.Bytes()...)
	return append(code, proxySuffix...)
}

// ProvisionOption configures Provision.
type ProvisionOption func(*provisionConfig)

type provisionConfig struct {
	version Version
}

// WithVersion selects the account implementation version.
func WithVersion(v Version) ProvisionOption {
	return func(c *provisionConfig) {
		c.version = v
	}
}

// Provision confirms the owner signer is reachable on chain and derives its
// account with the fixed index. Failures are classified as SignerUnavailable
// and must not be cached by callers.
func Provision(ctx context.Context, signer smartaccount.OwnerSigner, chain smartaccount.ChainConfig, opts ...ProvisionOption) (*SmartAccount, error) {
	cfg := provisionConfig{version: DefaultVersion}
	for _, opt := range opts {
		opt(&cfg)
	}

	owner, err := CheckSigner(ctx, signer, chain)
	if err != nil {
		return nil, err
	}

	addr, err := Derive(owner, cfg.version, Index)
	if err != nil {
		return nil, err
	}

	return &SmartAccount{
		Address: addr,
		Owner:   owner,
		ChainID: chain.ChainID,
		Version: cfg.version,
		Index:   Index,
		Signer:  signer,
	}, nil
}

// CheckSigner verifies that signer has an address and a reachable provider
// connected to chain, and returns the owner address.
func CheckSigner(ctx context.Context, signer smartaccount.OwnerSigner, chain smartaccount.ChainConfig) (common.Address, error) {
	if signer == nil {
		return common.Address{}, smartaccount.NewError(smartaccount.ErrCodeSignerUnavailable, "no owner signer", nil)
	}
	owner := signer.Address()
	if owner == (common.Address{}) {
		return common.Address{}, smartaccount.NewError(smartaccount.ErrCodeSignerUnavailable, "owner signer has no address", nil)
	}

	chainID, err := signerChainID(ctx, signer)
	if err != nil {
		return common.Address{}, smartaccount.NewError(smartaccount.ErrCodeSignerUnavailable, "owner signer provider unreachable", err)
	}
	if chainID != chain.ChainID {
		return common.Address{}, fmt.Errorf("%w: signer on %d, want %d", smartaccount.ErrChainMismatch, chainID, chain.ChainID)
	}
	return owner, nil
}

func signerChainID(ctx context.Context, signer smartaccount.OwnerSigner) (int64, error) {
	raw, err := signer.Request(ctx, smartaccount.RequestArguments{Method: "eth_chainId"})
	if err != nil {
		return 0, err
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// Some providers answer with a JSON number.
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("decode eth_chainId %s: %w", string(raw), err)
		}
		return n, nil
	}

	if strings.HasPrefix(s, "0x") {
		v, err := hexutil.DecodeUint64(s)
		if err != nil {
			return 0, fmt.Errorf("decode eth_chainId %q: %w", s, err)
		}
		return int64(v), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, fmt.Errorf("decode eth_chainId %q", s)
	}
	return v.Int64(), nil
}

// FactoryData encodes the factory call that deploys this account on first use.
// The validator is initialized with the owner address.
func (a *SmartAccount) FactoryData() ([]byte, error) {
	data, err := parsedFactoryABI.Pack("createAccount", a.Version.Validator, a.Owner.Bytes(), new(big.Int).SetUint64(a.Index))
	if err != nil {
		return nil, fmt.Errorf("account: encode createAccount: %w", err)
	}
	return data, nil
}

// Factory returns the factory contract that deploys the account.
func (a *SmartAccount) Factory() common.Address {
	return a.Version.Factory
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
