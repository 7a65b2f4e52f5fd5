package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/smartaccount-go/internal/jsonrpc"
	"github.com/mark3labs/smartaccount-go/retry"
)

// retryingReader retries transient read failures with backoff. Reads are
// idempotent, so repeating them is safe.
type retryingReader struct {
	next ChainReader
	cfg  retry.Config
}

// RetryReads wraps client so CallContract and BalanceAt are retried on
// transient failures (transport errors, 429 and 5xx responses).
func RetryReads(client ChainReader, cfg retry.Config) ChainReader {
	if r, ok := client.(*retryingReader); ok {
		return &retryingReader{next: r.next, cfg: cfg}
	}
	return &retryingReader{next: client, cfg: cfg}
}

func (r *retryingReader) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return retry.WithRetry(ctx, r.cfg, jsonrpc.IsTransient, func(ctx context.Context) ([]byte, error) {
		return r.next.CallContract(ctx, call, blockNumber)
	})
}

func (r *retryingReader) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return retry.WithRetry(ctx, r.cfg, jsonrpc.IsTransient, func(ctx context.Context) (*big.Int, error) {
		return r.next.BalanceAt(ctx, account, blockNumber)
	})
}
