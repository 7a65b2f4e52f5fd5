// Package evm implements a local EIP-1193 owner signer backed by a secp256k1
// key. It models the platform-issued embedded signer: signing requests are
// answered locally, everything else is forwarded to an optional upstream RPC.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/mark3labs/smartaccount-go"
)

var (
	// ErrInvalidKey indicates the private key could not be loaded.
	ErrInvalidKey = errors.New("evm: invalid private key")

	// ErrInvalidKeystore indicates the keystore file could not be decrypted.
	ErrInvalidKeystore = errors.New("evm: invalid keystore file")

	// ErrInvalidMnemonic indicates the mnemonic phrase is not valid BIP39.
	ErrInvalidMnemonic = errors.New("evm: invalid mnemonic phrase")

	// ErrUnsupportedMethod indicates the request is neither signed locally nor forwardable.
	ErrUnsupportedMethod = errors.New("evm: unsupported provider method")

	// ErrWrongAccount indicates a signing request named an address this signer does not hold.
	ErrWrongAccount = errors.New("evm: request for a different account")
)

// Signer implements smartaccount.OwnerSigner with a local private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	rpcURL     string

	mu       sync.Mutex // guards upstream
	upstream *rpc.Client
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a new signer with the given options.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, ErrInvalidKey
	}
	if s.chainID == 0 && s.rpcURL == "" && s.upstream == nil {
		return nil, fmt.Errorf("evm: chain id or upstream RPC required")
	}

	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	return s, nil
}

// WithPrivateKey sets the private key from a hex string.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return ErrInvalidKey
		}
		s.privateKey = privateKey
		return nil
	}
}

// WithChainID sets the chain reported by eth_chainId when no upstream is configured.
func WithChainID(chainID int64) SignerOption {
	return func(s *Signer) error {
		s.chainID = chainID
		return nil
	}
}

// WithRPC forwards non-signing requests to the RPC endpoint at url.
// The connection is established lazily on first use.
func WithRPC(url string) SignerOption {
	return func(s *Signer) error {
		s.rpcURL = url
		return nil
	}
}

// WithRPCClient forwards non-signing requests to an existing RPC client.
func WithRPCClient(client *rpc.Client) SignerOption {
	return func(s *Signer) error {
		s.upstream = client
		return nil
	}
}

// Address implements smartaccount.OwnerSigner.
func (s *Signer) Address() common.Address {
	return s.address
}

// Request implements smartaccount.Provider.
func (s *Signer) Request(ctx context.Context, args smartaccount.RequestArguments) (json.RawMessage, error) {
	switch args.Method {
	case "eth_accounts", "eth_requestAccounts":
		return json.Marshal([]common.Address{s.address})

	case "eth_chainId":
		if !s.forwards() {
			return json.Marshal(hexutil.Uint64(s.chainID))
		}
		return s.forward(ctx, args)

	case "personal_sign":
		// params: [data, address]
		data, err := s.paramBytes(args.Params, 0, 1)
		if err != nil {
			return nil, err
		}
		sig, err := s.SignMessage(data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hexutil.Bytes(sig))

	case "eth_sign":
		// params: [address, data]
		data, err := s.paramBytes(args.Params, 1, 0)
		if err != nil {
			return nil, err
		}
		sig, err := s.SignMessage(data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hexutil.Bytes(sig))

	case "eth_signTypedData_v4":
		sig, err := s.signTypedData(args.Params)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hexutil.Bytes(sig))
	}

	return s.forward(ctx, args)
}

// SignMessage signs data with the EIP-191 personal message prefix.
// The recovery id is shifted to 27/28.
func (s *Signer) SignMessage(data []byte) ([]byte, error) {
	return s.signDigest(accounts.TextHash(data))
}

func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func (s *Signer) signTypedData(params []any) ([]byte, error) {
	if len(params) < 2 {
		return nil, fmt.Errorf("eth_signTypedData_v4: expected [address, typedData]")
	}
	if err := s.checkAddress(params[0]); err != nil {
		return nil, err
	}

	var raw []byte
	switch v := params[1].(type) {
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("eth_signTypedData_v4: %w", err)
		}
		raw = b
	}

	var typedData apitypes.TypedData
	if err := json.Unmarshal(raw, &typedData); err != nil {
		return nil, fmt.Errorf("eth_signTypedData_v4: invalid typed data: %w", err)
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("eth_signTypedData_v4: %w", err)
	}
	return s.signDigest(digest)
}

// paramBytes returns params[dataIdx] decoded from hex after checking params[addrIdx].
func (s *Signer) paramBytes(params []any, dataIdx, addrIdx int) ([]byte, error) {
	if len(params) <= dataIdx {
		return nil, fmt.Errorf("missing data parameter")
	}
	if len(params) > addrIdx {
		if err := s.checkAddress(params[addrIdx]); err != nil {
			return nil, err
		}
	}

	switch v := params[dataIdx].(type) {
	case []byte:
		return v, nil
	case hexutil.Bytes:
		return v, nil
	case string:
		if strings.HasPrefix(v, "0x") {
			b, err := hexutil.Decode(v)
			if err != nil {
				return nil, fmt.Errorf("invalid hex data: %w", err)
			}
			return b, nil
		}
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported data parameter type %T", v)
	}
}

func (s *Signer) checkAddress(param any) error {
	var addr common.Address
	switch v := param.(type) {
	case common.Address:
		addr = v
	case string:
		if !common.IsHexAddress(v) {
			return fmt.Errorf("%w: %q", ErrWrongAccount, v)
		}
		addr = common.HexToAddress(v)
	default:
		return fmt.Errorf("%w: %v", ErrWrongAccount, param)
	}
	if addr != s.address {
		return fmt.Errorf("%w: %s", ErrWrongAccount, addr.Hex())
	}
	return nil
}

func (s *Signer) forwards() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream != nil || s.rpcURL != ""
}

// conn returns the upstream client, dialing it on first use.
func (s *Signer) conn(ctx context.Context) (*rpc.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upstream != nil {
		return s.upstream, nil
	}
	if s.rpcURL == "" {
		return nil, nil
	}
	client, err := rpc.DialContext(ctx, s.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial upstream: %w", err)
	}
	s.upstream = client
	return client, nil
}

func (s *Signer) forward(ctx context.Context, args smartaccount.RequestArguments) (json.RawMessage, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, args.Method)
	}

	var result json.RawMessage
	if err := client.CallContext(ctx, &result, args.Method, args.Params...); err != nil {
		return nil, err
	}
	return result, nil
}

// Close releases the upstream connection, if any.
func (s *Signer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upstream != nil {
		s.upstream.Close()
	}
}
