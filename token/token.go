// Package token encodes ERC-20 calls and reads account balances.
package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/smartaccount-go"
)

const erc20ABI = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// ABI is the parsed ERC-20 subset used here.
var ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// ApproveCall returns a call authorizing spender to pull amount of token.
func ApproveCall(token, spender common.Address, amount *big.Int) (smartaccount.Call, error) {
	data, err := ABI.Pack("approve", spender, amount)
	if err != nil {
		return smartaccount.Call{}, fmt.Errorf("token: encode approve: %w", err)
	}
	return smartaccount.Call{To: token, Data: data}, nil
}

// TransferCall returns a zero-value call transferring amount of token to to.
func TransferCall(token, to common.Address, amount *big.Int) (smartaccount.Call, error) {
	data, err := ABI.Pack("transfer", to, amount)
	if err != nil {
		return smartaccount.Call{}, fmt.Errorf("token: encode transfer: %w", err)
	}
	return smartaccount.Call{To: token, Data: data}, nil
}

// BalanceOfData encodes balanceOf(account).
func BalanceOfData(account common.Address) ([]byte, error) {
	return ABI.Pack("balanceOf", account)
}

// AllowanceData encodes allowance(owner, spender).
func AllowanceData(owner, spender common.Address) ([]byte, error) {
	return ABI.Pack("allowance", owner, spender)
}

// DecodeUint256 decodes a single uint256 return value of method.
func DecodeUint256(method string, out []byte) (*big.Int, error) {
	values, err := ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("token: decode %s: %w", method, err)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("token: decode %s: unexpected type %T", method, values[0])
	}
	return v, nil
}
