package smartaccount

import (
	"errors"
	"math/big"
	"testing"
)

func TestAmountToBigInt(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{"whole", "10", 18, "10000000000000000000", false},
		{"fraction", "1.5", 6, "1500000", false},
		{"tenth with 18 decimals", "0.1", 18, "100000000000000000", false},
		{"too many decimals", "1.0000001", 6, "", true},
		{"empty", "", 6, "", true},
		{"garbage", "ten", 6, "", true},
		{"exponent", "1e3", 6, "", true},
		{"hex", "0x10", 6, "", true},
		{"fraction form", "1/3", 6, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AmountToBigInt(tt.amount, tt.decimals)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("AmountToBigInt(%q) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}

func TestBigIntToAmount(t *testing.T) {
	tests := []struct {
		value    *big.Int
		decimals int
		want     string
	}{
		{big.NewInt(1500000), 6, "1.5"},
		{big.NewInt(1000000), 6, "1"},
		{big.NewInt(0), 18, "0"},
		{nil, 18, "0"},
		{big.NewInt(5), 0, "5"},
	}

	for _, tt := range tests {
		if got := BigIntToAmount(tt.value, tt.decimals); got != tt.want {
			t.Errorf("BigIntToAmount(%v, %d) = %q, want %q", tt.value, tt.decimals, got, tt.want)
		}
	}
}

func TestCall_ValueOrZero(t *testing.T) {
	if (Call{}).ValueOrZero().Sign() != 0 {
		t.Error("nil value should be zero")
	}
	if (Call{Value: big.NewInt(7)}).ValueOrZero().Int64() != 7 {
		t.Error("value should be preserved")
	}
}
