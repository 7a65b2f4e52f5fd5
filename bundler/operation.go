package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/internal/jsonrpc"
	"github.com/mark3labs/smartaccount-go/retry"
	"github.com/mark3labs/smartaccount-go/userop"
)

// Operation is the handle of a submitted user operation.
type Operation struct {
	// Hash is the user operation hash returned by the bundler.
	Hash common.Hash

	// Calls are the calls the operation executes, in order.
	Calls []smartaccount.Call

	// UserOp is the signed operation as submitted.
	UserOp *userop.UserOperation

	client *Client
}

// Receipt is the inclusion result of a user operation.
type Receipt struct {
	UserOpHash      common.Hash
	Sender          common.Address
	Nonce           *big.Int
	Success         bool
	Reason          string
	ActualGasCost   *big.Int
	ActualGasUsed   *big.Int
	TransactionHash common.Hash
	BlockNumber     uint64
}

// UnmarshalJSON decodes an eth_getUserOperationReceipt result.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var dec struct {
		UserOpHash    common.Hash    `json:"userOpHash"`
		Sender        common.Address `json:"sender"`
		Nonce         *hexutil.Big   `json:"nonce"`
		Success       bool           `json:"success"`
		Reason        string         `json:"reason"`
		ActualGasCost *hexutil.Big   `json:"actualGasCost"`
		ActualGasUsed *hexutil.Big   `json:"actualGasUsed"`
		Receipt       struct {
			TransactionHash common.Hash    `json:"transactionHash"`
			BlockNumber     hexutil.Uint64 `json:"blockNumber"`
		} `json:"receipt"`
	}
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	*r = Receipt{
		UserOpHash:      dec.UserOpHash,
		Sender:          dec.Sender,
		Nonce:           (*big.Int)(dec.Nonce),
		Success:         dec.Success,
		Reason:          decodeReason(dec.Reason),
		ActualGasCost:   (*big.Int)(dec.ActualGasCost),
		ActualGasUsed:   (*big.Int)(dec.ActualGasUsed),
		TransactionHash: dec.Receipt.TransactionHash,
		BlockNumber:     uint64(dec.Receipt.BlockNumber),
	}
	return nil
}

// Wait polls for inclusion until a receipt is found, the client's poll bound
// elapses or ctx ends. Both of the latter yield ErrTimeout: the operation may
// still land, so callers must look it up again before resubmitting.
// A receipt reporting failure yields ErrRejected carrying the revert reason.
func (o *Operation) Wait(ctx context.Context) (*Receipt, error) {
	c := o.client
	receipt, err := retry.Poll(ctx, c.poll, c.logger, func(ctx context.Context) (*Receipt, bool, error) {
		return o.Lookup(ctx)
	})
	if err != nil {
		if errors.Is(err, retry.ErrDeadline) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			c.logger.Warn("user operation inclusion unknown", "hash", o.Hash.Hex(), "error", err)
			return nil, smartaccount.NewError(smartaccount.ErrCodeTimeout,
				fmt.Sprintf("operation %s not included yet; look it up before retrying", o.Hash.Hex()), err)
		}
		return nil, err
	}

	if !receipt.Success {
		e := smartaccount.NewError(smartaccount.ErrCodeRejected, "operation reverted on-chain", nil)
		e.Reason = receipt.Reason
		c.logger.Warn("user operation reverted", "hash", o.Hash.Hex(), "tx", receipt.TransactionHash.Hex(), "reason", receipt.Reason)
		return receipt, e
	}

	c.logger.Info("user operation included", "hash", o.Hash.Hex(), "tx", receipt.TransactionHash.Hex(), "block", receipt.BlockNumber)
	return receipt, nil
}

// Lookup queries the receipt once. found is false while the operation is pending.
func (o *Operation) Lookup(ctx context.Context) (receipt *Receipt, found bool, err error) {
	raw, err := o.client.rpc.CallRaw(ctx, MethodReceipt, o.Hash)
	if err != nil {
		return nil, false, err
	}
	if jsonrpc.IsNull(raw) {
		return nil, false, nil
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, true, nil
}

// decodeReason turns hex revert data into its Error(string) message when possible.
func decodeReason(reason string) string {
	if !strings.HasPrefix(reason, "0x") {
		return reason
	}
	data, err := hexutil.Decode(reason)
	if err != nil || len(data) == 0 {
		return reason
	}
	if msg, err := abi.UnpackRevert(data); err == nil {
		return msg
	}
	return reason
}
