// Package userop models ERC-4337 v0.7 user operations in their unpacked JSON-RPC
// form and computes the operation hash signed by the account owner.
package userop

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DummySignature is a well-formed 65-byte ECDSA signature used during gas
// estimation, before the final operation is known.
var DummySignature = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// UserOperation is an EntryPoint v0.7 user operation.
type UserOperation struct {
	Sender      common.Address
	Nonce       *big.Int
	Factory     *common.Address
	FactoryData []byte
	CallData    []byte

	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	Paymaster                     *common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte

	Signature []byte
}

type jsonUserOperation struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// MarshalJSON encodes the operation with hex quantities, as bundlers expect.
// Unset gas fields encode as 0x0.
func (op UserOperation) MarshalJSON() ([]byte, error) {
	enc := jsonUserOperation{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		Factory:              op.Factory,
		FactoryData:          op.FactoryData,
		CallData:             nonNil(op.CallData),
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		Signature:            nonNil(op.Signature),
	}
	if op.Factory == nil {
		enc.FactoryData = nil
	}
	if op.Paymaster != nil {
		enc.Paymaster = op.Paymaster
		enc.PaymasterVerificationGasLimit = hexBig(op.PaymasterVerificationGasLimit)
		enc.PaymasterPostOpGasLimit = hexBig(op.PaymasterPostOpGasLimit)
		enc.PaymasterData = nonNil(op.PaymasterData)
	}
	return json.Marshal(enc)
}

// UnmarshalJSON decodes the hex JSON form.
func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var dec jsonUserOperation
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	*op = UserOperation{
		Sender:                        dec.Sender,
		Nonce:                         (*big.Int)(dec.Nonce),
		Factory:                       dec.Factory,
		FactoryData:                   dec.FactoryData,
		CallData:                      dec.CallData,
		CallGasLimit:                  (*big.Int)(dec.CallGasLimit),
		VerificationGasLimit:          (*big.Int)(dec.VerificationGasLimit),
		PreVerificationGas:            (*big.Int)(dec.PreVerificationGas),
		MaxFeePerGas:                  (*big.Int)(dec.MaxFeePerGas),
		MaxPriorityFeePerGas:          (*big.Int)(dec.MaxPriorityFeePerGas),
		Paymaster:                     dec.Paymaster,
		PaymasterVerificationGasLimit: (*big.Int)(dec.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       (*big.Int)(dec.PaymasterPostOpGasLimit),
		PaymasterData:                 dec.PaymasterData,
		Signature:                     dec.Signature,
	}
	return nil
}

// InitCode returns factory ++ factoryData, or nil for deployed accounts.
func (op *UserOperation) InitCode() []byte {
	if op.Factory == nil {
		return nil
	}
	return append(op.Factory.Bytes(), op.FactoryData...)
}

// PaymasterAndData returns the packed paymaster field of the v0.7 PackedUserOperation.
func (op *UserOperation) PaymasterAndData() []byte {
	if op.Paymaster == nil {
		return nil
	}
	out := append([]byte{}, op.Paymaster.Bytes()...)
	out = append(out, uint128(op.PaymasterVerificationGasLimit)...)
	out = append(out, uint128(op.PaymasterPostOpGasLimit)...)
	return append(out, op.PaymasterData...)
}

// AccountGasLimits packs verificationGasLimit and callGasLimit into one word.
func (op *UserOperation) AccountGasLimits() [32]byte {
	return packWord(op.VerificationGasLimit, op.CallGasLimit)
}

// GasFees packs maxPriorityFeePerGas and maxFeePerGas into one word.
func (op *UserOperation) GasFees() [32]byte {
	return packWord(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
}

var packArgs = abi.Arguments{
	{Type: mustType("address")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
	{Type: mustType("uint256")},
	{Type: mustType("bytes32")},
	{Type: mustType("bytes32")},
}

var hashArgs = abi.Arguments{
	{Type: mustType("bytes32")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
}

// Hash returns the operation hash for entryPoint on chainID. The signature is
// not part of the hash.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := packArgs.Pack(
		op.Sender,
		orZero(op.Nonce),
		crypto.Keccak256Hash(op.InitCode()),
		crypto.Keccak256Hash(op.CallData),
		op.AccountGasLimits(),
		orZero(op.PreVerificationGas),
		op.GasFees(),
		crypto.Keccak256Hash(op.PaymasterAndData()),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("userop: pack: %w", err)
	}

	encoded, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("userop: encode hash: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Copy returns a deep copy of the operation.
func (op *UserOperation) Copy() *UserOperation {
	cp := *op
	cp.Nonce = copyBig(op.Nonce)
	cp.CallGasLimit = copyBig(op.CallGasLimit)
	cp.VerificationGasLimit = copyBig(op.VerificationGasLimit)
	cp.PreVerificationGas = copyBig(op.PreVerificationGas)
	cp.MaxFeePerGas = copyBig(op.MaxFeePerGas)
	cp.MaxPriorityFeePerGas = copyBig(op.MaxPriorityFeePerGas)
	cp.PaymasterVerificationGasLimit = copyBig(op.PaymasterVerificationGasLimit)
	cp.PaymasterPostOpGasLimit = copyBig(op.PaymasterPostOpGasLimit)
	cp.FactoryData = common.CopyBytes(op.FactoryData)
	cp.CallData = common.CopyBytes(op.CallData)
	cp.PaymasterData = common.CopyBytes(op.PaymasterData)
	cp.Signature = common.CopyBytes(op.Signature)
	if op.Factory != nil {
		f := *op.Factory
		cp.Factory = &f
	}
	if op.Paymaster != nil {
		p := *op.Paymaster
		cp.Paymaster = &p
	}
	return &cp
}

func packWord(hi, lo *big.Int) [32]byte {
	var w [32]byte
	copy(w[:16], uint128(hi))
	copy(w[16:], uint128(lo))
	return w
}

func uint128(v *big.Int) []byte {
	return common.LeftPadBytes(orZero(v).Bytes(), 16)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func hexBig(v *big.Int) *hexutil.Big {
	return (*hexutil.Big)(orZero(v))
}

func nonNil(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return b
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
