package account

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/smartaccount-go"
)

const accountABI = `[
	{"type":"function","name":"execute","stateMutability":"payable",
	 "inputs":[{"name":"mode","type":"bytes32"},{"name":"executionCalldata","type":"bytes"}],"outputs":[]}
]`

var parsedAccountABI = mustParseABI(accountABI)

// ERC-7579 call types, stored in the first byte of the execution mode.
const (
	CallTypeSingle byte = 0x00
	CallTypeBatch  byte = 0x01
)

type execution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

var executionsArgs = abi.Arguments{{Type: mustExecutionsType()}}

func mustExecutionsType() abi.Type {
	typ, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "callData", Type: "bytes"},
	})
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeCalls encodes calls into one account execute call. A single call uses
// the packed single mode; two or more use batch mode so they revert together.
func EncodeCalls(calls []smartaccount.Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, smartaccount.ErrNoCalls
	}

	var mode [32]byte
	var executionData []byte

	if len(calls) == 1 {
		mode[0] = CallTypeSingle
		c := calls[0]
		executionData = make([]byte, 0, common.AddressLength+32+len(c.Data))
		executionData = append(executionData, c.To.Bytes()...)
		executionData = append(executionData, common.LeftPadBytes(c.ValueOrZero().Bytes(), 32)...)
		executionData = append(executionData, c.Data...)
	} else {
		mode[0] = CallTypeBatch
		execs := make([]execution, len(calls))
		for i, c := range calls {
			data := c.Data
			if data == nil {
				data = []byte{}
			}
			execs[i] = execution{Target: c.To, Value: c.ValueOrZero(), CallData: data}
		}
		packed, err := executionsArgs.Pack(execs)
		if err != nil {
			return nil, fmt.Errorf("account: encode batch: %w", err)
		}
		executionData = packed
	}

	data, err := parsedAccountABI.Pack("execute", mode, executionData)
	if err != nil {
		return nil, fmt.Errorf("account: encode execute: %w", err)
	}
	return data, nil
}

// DecodeCalls reverses EncodeCalls. It is used to inspect operations in tests and logs.
func DecodeCalls(data []byte) ([]smartaccount.Call, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("account: calldata too short")
	}
	method, err := parsedAccountABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("account: unknown selector: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("account: decode execute: %w", err)
	}
	mode := args[0].([32]byte)
	executionData := args[1].([]byte)

	switch mode[0] {
	case CallTypeSingle:
		if len(executionData) < common.AddressLength+32 {
			return nil, fmt.Errorf("account: single execution too short")
		}
		return []smartaccount.Call{{
			To:    common.BytesToAddress(executionData[:common.AddressLength]),
			Value: new(big.Int).SetBytes(executionData[common.AddressLength : common.AddressLength+32]),
			Data:  executionData[common.AddressLength+32:],
		}}, nil

	case CallTypeBatch:
		unpacked, err := executionsArgs.Unpack(executionData)
		if err != nil {
			return nil, fmt.Errorf("account: decode batch: %w", err)
		}
		var execs []execution
		if err := executionsArgs.Copy(&execs, unpacked); err != nil {
			return nil, fmt.Errorf("account: decode batch: %w", err)
		}
		calls := make([]smartaccount.Call, len(execs))
		for i, e := range execs {
			calls[i] = smartaccount.Call{To: e.Target, Value: e.Value, Data: e.CallData}
		}
		return calls, nil
	}
	return nil, fmt.Errorf("account: unsupported call type 0x%02x", mode[0])
}
