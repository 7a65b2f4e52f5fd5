package evm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/internal/rpctest"
)

const testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// Compile-time interface check.
var _ smartaccount.OwnerSigner = (*Signer)(nil)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	signer, err := NewSigner(WithPrivateKey(testPrivateKeyHex), WithChainID(42220))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return signer
}

func TestNewSigner(t *testing.T) {
	tests := []struct {
		name    string
		opts    []SignerOption
		wantErr bool
	}{
		{
			name: "private key with chain",
			opts: []SignerOption{WithPrivateKey(testPrivateKeyHex), WithChainID(42220)},
		},
		{
			name: "0x-prefixed key",
			opts: []SignerOption{WithPrivateKey("0x" + testPrivateKeyHex), WithChainID(42220)},
		},
		{
			name: "private key with upstream",
			opts: []SignerOption{WithPrivateKey(testPrivateKeyHex), WithRPC("http://127.0.0.1:1")},
		},
		{
			name:    "invalid key",
			opts:    []SignerOption{WithPrivateKey("zz"), WithChainID(42220)},
			wantErr: true,
		},
		{
			name:    "missing key",
			opts:    []SignerOption{WithChainID(42220)},
			wantErr: true,
		},
		{
			name:    "missing chain",
			opts:    []SignerOption{WithPrivateKey(testPrivateKeyHex)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSigner(tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if signer.Address() != testAddress {
				t.Errorf("Address() = %s, want %s", signer.Address().Hex(), testAddress.Hex())
			}
		})
	}
}

func TestRequestAccountsAndChain(t *testing.T) {
	signer := newTestSigner(t)
	ctx := context.Background()

	raw, err := signer.Request(ctx, smartaccount.RequestArguments{Method: "eth_accounts"})
	if err != nil {
		t.Fatalf("eth_accounts: %v", err)
	}
	var accts []common.Address
	if err := json.Unmarshal(raw, &accts); err != nil {
		t.Fatal(err)
	}
	if len(accts) != 1 || accts[0] != testAddress {
		t.Errorf("eth_accounts = %v", accts)
	}

	raw, err = signer.Request(ctx, smartaccount.RequestArguments{Method: "eth_chainId"})
	if err != nil {
		t.Fatalf("eth_chainId: %v", err)
	}
	var chainID hexutil.Uint64
	if err := json.Unmarshal(raw, &chainID); err != nil {
		t.Fatal(err)
	}
	if chainID != 42220 {
		t.Errorf("eth_chainId = %d, want 42220", chainID)
	}
}

func TestPersonalSign(t *testing.T) {
	signer := newTestSigner(t)
	message := []byte("hello smart account")

	tests := []struct {
		name    string
		args    smartaccount.RequestArguments
		wantErr error
	}{
		{
			name: "personal_sign hex data",
			args: smartaccount.RequestArguments{
				Method: "personal_sign",
				Params: []any{hexutil.Encode(message), testAddress.Hex()},
			},
		},
		{
			name: "eth_sign",
			args: smartaccount.RequestArguments{
				Method: "eth_sign",
				Params: []any{testAddress.Hex(), hexutil.Encode(message)},
			},
		},
		{
			name: "personal_sign for other account",
			args: smartaccount.RequestArguments{
				Method: "personal_sign",
				Params: []any{hexutil.Encode(message), "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"},
			},
			wantErr: ErrWrongAccount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := signer.Request(context.Background(), tt.args)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var sig hexutil.Bytes
			if err := json.Unmarshal(raw, &sig); err != nil {
				t.Fatal(err)
			}
			if len(sig) != 65 {
				t.Fatalf("signature length = %d, want 65", len(sig))
			}
			if sig[64] != 27 && sig[64] != 28 {
				t.Fatalf("recovery id = %d, want 27 or 28", sig[64])
			}

			sig[64] -= 27
			pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
			if err != nil {
				t.Fatalf("recover: %v", err)
			}
			if got := crypto.PubkeyToAddress(*pub); got != testAddress {
				t.Errorf("recovered %s, want %s", got.Hex(), testAddress.Hex())
			}
		})
	}
}

func TestSignTypedData(t *testing.T) {
	signer := newTestSigner(t)
	typedData := `{
		"types": {
			"EIP712Domain": [{"name": "name", "type": "string"}, {"name": "chainId", "type": "uint256"}],
			"Greeting": [{"name": "text", "type": "string"}]
		},
		"primaryType": "Greeting",
		"domain": {"name": "test", "chainId": "42220"},
		"message": {"text": "hi"}
	}`

	raw, err := signer.Request(context.Background(), smartaccount.RequestArguments{
		Method: "eth_signTypedData_v4",
		Params: []any{testAddress.Hex(), typedData},
	})
	if err != nil {
		t.Fatalf("eth_signTypedData_v4: %v", err)
	}
	var sig hexutil.Bytes
	if err := json.Unmarshal(raw, &sig); err != nil {
		t.Fatal(err)
	}
	if len(sig) != 65 {
		t.Errorf("signature length = %d, want 65", len(sig))
	}
}

func TestUnsupportedMethodWithoutUpstream(t *testing.T) {
	signer := newTestSigner(t)
	_, err := signer.Request(context.Background(), smartaccount.RequestArguments{Method: "eth_blockNumber"})
	if !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestConcurrentForwardDialsOnce(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()
	srv.HandleResult("eth_chainId", "0xa4ec")

	signer, err := NewSigner(WithPrivateKey(testPrivateKeyHex), WithRPC(srv.URL))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	defer signer.Close()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := signer.Request(context.Background(), smartaccount.RequestArguments{Method: "eth_chainId"})
			if err != nil {
				errs <- err
				return
			}
			var id hexutil.Uint64
			if err := json.Unmarshal(raw, &id); err != nil || id != 42220 {
				errs <- errors.New("unexpected chain id " + string(raw))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	first, _ := signer.conn(context.Background())
	second, _ := signer.conn(context.Background())
	if first == nil || first != second {
		t.Error("upstream must be dialed once and reused")
	}
	if got := srv.Calls("eth_chainId"); got != workers {
		t.Errorf("upstream calls = %d, want %d", got, workers)
	}
}
