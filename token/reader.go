package token

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/retry"
)

// ChainReader is the subset of ethclient.Client used for reads.
type ChainReader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Balance is one currency balance of an account.
type Balance struct {
	Symbol   string
	Token    *common.Address
	Decimals int
	Raw      *big.Int
	Amount   string
}

// Reader reads balances and allowances on one chain.
type Reader struct {
	client ChainReader
	chain  smartaccount.ChainConfig
}

// NewReader creates a Reader. client is typically an *ethclient.Client.
// Transient read failures are retried with retry.DefaultConfig.
func NewReader(client ChainReader, chain smartaccount.ChainConfig) *Reader {
	return &Reader{client: RetryReads(client, retry.DefaultConfig), chain: chain}
}

// Balances returns the native balance followed by each configured token, in order.
func (r *Reader) Balances(ctx context.Context, account common.Address) ([]Balance, error) {
	native, err := r.client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("token: native balance: %w", err)
	}
	out := []Balance{{
		Symbol:   r.chain.NativeSymbol,
		Decimals: r.chain.NativeDecimals,
		Raw:      native,
		Amount:   smartaccount.BigIntToAmount(native, r.chain.NativeDecimals),
	}}

	for _, t := range r.chain.Tokens {
		raw, err := r.TokenBalance(ctx, t.Address, account)
		if err != nil {
			return nil, fmt.Errorf("token: %s balance: %w", t.Symbol, err)
		}
		addr := t.Address
		out = append(out, Balance{
			Symbol:   t.Symbol,
			Token:    &addr,
			Decimals: t.Decimals,
			Raw:      raw,
			Amount:   smartaccount.BigIntToAmount(raw, t.Decimals),
		})
	}
	return out, nil
}

// Balance returns the balance of one currency symbol.
func (r *Reader) Balance(ctx context.Context, account common.Address, symbol string) (Balance, error) {
	if r.chain.IsNative(symbol) {
		raw, err := r.client.BalanceAt(ctx, account, nil)
		if err != nil {
			return Balance{}, fmt.Errorf("token: native balance: %w", err)
		}
		return Balance{Symbol: r.chain.NativeSymbol, Decimals: r.chain.NativeDecimals, Raw: raw,
			Amount: smartaccount.BigIntToAmount(raw, r.chain.NativeDecimals)}, nil
	}

	t, ok := r.chain.Token(symbol)
	if !ok {
		return Balance{}, fmt.Errorf("%w: %s", smartaccount.ErrUnsupportedCurrency, symbol)
	}
	raw, err := r.TokenBalance(ctx, t.Address, account)
	if err != nil {
		return Balance{}, err
	}
	addr := t.Address
	return Balance{Symbol: t.Symbol, Token: &addr, Decimals: t.Decimals, Raw: raw,
		Amount: smartaccount.BigIntToAmount(raw, t.Decimals)}, nil
}

// TokenBalance reads balanceOf(account) on token.
func (r *Reader) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := BalanceOfData(account)
	if err != nil {
		return nil, err
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return DecodeUint256("balanceOf", out)
}

// Allowance reads allowance(owner, spender) on token.
func (r *Reader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := AllowanceData(owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return DecodeUint256("allowance", out)
}
