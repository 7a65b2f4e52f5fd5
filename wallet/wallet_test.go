package wallet

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mark3labs/smartaccount-go"
)

var (
	embeddedAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	embeddedAddr2 = common.HexToAddress("0x1111111111111111111111111111111111111111")
	externalAddr  = common.HexToAddress("0xabcdef0000000000000000000000000000000001")
)

func session(addr common.Address, kind smartaccount.SignerKind, clientType string) smartaccount.SignerSession {
	return smartaccount.SignerSession{Address: addr, Kind: kind, ChainID: 42220, ClientType: clientType}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		sessions      []smartaccount.SignerSession
		wantOwner     common.Address
		wantEmbedded  *common.Address
		wantExternal  *common.Address
		wantSecondary int
		wantErr       error
	}{
		{
			name:    "no sessions",
			wantErr: smartaccount.ErrNoOwner,
		},
		{
			name:         "single embedded",
			sessions:     []smartaccount.SignerSession{session(embeddedAddr, smartaccount.SignerKindEmbedded, "")},
			wantOwner:    embeddedAddr,
			wantEmbedded: &embeddedAddr,
		},
		{
			name: "external takes priority",
			sessions: []smartaccount.SignerSession{
				session(embeddedAddr, smartaccount.SignerKindEmbedded, ""),
				session(externalAddr, smartaccount.SignerKindExternal, "metamask"),
			},
			wantOwner:    externalAddr,
			wantEmbedded: &embeddedAddr,
			wantExternal: &externalAddr,
		},
		{
			name: "explicit kind beats client type",
			sessions: []smartaccount.SignerSession{
				session(externalAddr, smartaccount.SignerKindExternal, "privy"),
			},
			wantOwner:    externalAddr,
			wantExternal: &externalAddr,
		},
		{
			name: "client type heuristic",
			sessions: []smartaccount.SignerSession{
				session(embeddedAddr2, smartaccount.SignerKindUnknown, "privy"),
			},
			wantOwner:    embeddedAddr2,
			wantEmbedded: &embeddedAddr2,
		},
		{
			name: "prefix-matching embedded is primary",
			sessions: []smartaccount.SignerSession{
				session(embeddedAddr2, smartaccount.SignerKindEmbedded, ""),
				session(embeddedAddr, smartaccount.SignerKindEmbedded, ""),
			},
			wantOwner:     embeddedAddr,
			wantEmbedded:  &embeddedAddr,
			wantSecondary: 1,
		},
	}

	c := NewClassifier(WithEmbeddedPrefixes("0x0000"), WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(tt.sessions)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Owner.Address != tt.wantOwner {
				t.Errorf("Owner = %s, want %s", got.Owner.Address.Hex(), tt.wantOwner.Hex())
			}
			checkSession(t, "Embedded", got.Embedded, tt.wantEmbedded)
			checkSession(t, "External", got.External, tt.wantExternal)
			if len(got.Secondary) != tt.wantSecondary {
				t.Errorf("len(Secondary) = %d, want %d", len(got.Secondary), tt.wantSecondary)
			}
		})
	}
}

func checkSession(t *testing.T, field string, got *smartaccount.SignerSession, want *common.Address) {
	t.Helper()
	switch {
	case want == nil && got != nil:
		t.Errorf("%s = %s, want nil", field, got.Address.Hex())
	case want != nil && got == nil:
		t.Errorf("%s = nil, want %s", field, want.Hex())
	case want != nil && got.Address != *want:
		t.Errorf("%s = %s, want %s", field, got.Address.Hex(), want.Hex())
	}
}

func TestClassifyWarnsOnHeuristic(t *testing.T) {
	var buf bytes.Buffer
	c := NewClassifier(WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	if _, err := c.Classify([]smartaccount.SignerSession{session(externalAddr, smartaccount.SignerKindUnknown, "")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "no kind metadata") {
		t.Errorf("expected heuristic warning, got log %q", buf.String())
	}

	buf.Reset()
	if _, err := c.Classify([]smartaccount.SignerSession{session(externalAddr, smartaccount.SignerKindExternal, "")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no warning with explicit kind, got %q", buf.String())
	}
}
