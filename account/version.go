package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Version describes a deployed smart-account implementation. The contracts are
// treated as a black box: the factory clones Implementation behind an EIP-1167
// proxy and installs Validator bound to the owner.
type Version struct {
	// Name identifies the version (e.g. "v3.1").
	Name string

	// Factory deploys accounts with CREATE2.
	Factory common.Address

	// Implementation is the account logic contract the proxy delegates to.
	Implementation common.Address

	// Validator is the ECDSA validator module that checks owner signatures.
	Validator common.Address
}

var (
	// V3_1 is the current account implementation.
	V3_1 = Version{
		Name:           "v3.1",
		Factory:        common.HexToAddress("0xaac5D4240AF87249B3f71BC8E4A2cae074A3E419"),
		Implementation: common.HexToAddress("0xBAC849bB641841b44E965fB01A4Bf5F074f84b4D"),
		Validator:      common.HexToAddress("0x845ADb2C711129d4f3966735eD98a9F09fC4cE57"),
	}

	// V3_0 is the previous account implementation, kept so existing accounts stay reachable.
	V3_0 = Version{
		Name:           "v3.0",
		Factory:        common.HexToAddress("0x6723b44Abeec4E71eBE3232BD5B455805baDD22f"),
		Implementation: common.HexToAddress("0x94F097E1ebEB4ecA3AAE54cabb08905B239A7D27"),
		Validator:      common.HexToAddress("0x8104e3Ad430EA6d354d013A6789fDFc71E671c43"),
	}

	// DefaultVersion is used when no version is requested.
	DefaultVersion = V3_1
)

var versions = map[string]Version{
	V3_0.Name: V3_0,
	V3_1.Name: V3_1,
}

// LookupVersion returns the version registered under name.
func LookupVersion(name string) (Version, error) {
	v, ok := versions[name]
	if !ok {
		return Version{}, fmt.Errorf("account: unknown version %q", name)
	}
	return v, nil
}

// Validate checks that every contract address is set.
func (v Version) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("account: version name is required")
	}
	zero := common.Address{}
	if v.Factory == zero || v.Implementation == zero || v.Validator == zero {
		return fmt.Errorf("account: version %s has unset contract addresses", v.Name)
	}
	return nil
}
