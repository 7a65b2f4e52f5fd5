package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/smartaccount-go"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "clara", false},
		{"digits and hyphen", "dr-smith-2", false},
		{"single char", "a", false},
		{"max length", strings.Repeat("a", 32), false},
		{"too long", strings.Repeat("a", 33), true},
		{"empty", "", true},
		{"punctuation", "a!b", true},
		{"uppercase", "Clara", true},
		{"space", "cl ara", true},
		{"unicode", "clára", true},
		{"dot", "clara.celo", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr {
				if !errors.Is(err, smartaccount.ErrInvalidFormat) {
					t.Errorf("ValidateName(%q) = %v, want ErrInvalidFormat", tt.input, err)
				}
				if IsValidName(tt.input) {
					t.Errorf("IsValidName(%q) = true, want false", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateName(%q) unexpected error: %v", tt.input, err)
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid lowercase", "0x1234567890123456789012345678901234567890", false},
		{"valid checksummed", "0x765DE816845861e75A25fCA122bb6898B8B1282a", false},
		{"empty", "", true},
		{"not an address", "not-an-address", true},
		{"missing prefix", "1234567890123456789012345678901234567890", true},
		{"too short", "0x1234", true},
		{"non hex", "0xZZ34567890123456789012345678901234567890", true},
		{"zero address", "0x0000000000000000000000000000000000000000", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.address)
			if tt.wantErr {
				if !errors.Is(err, smartaccount.ErrInvalidRecipient) {
					t.Errorf("ParseAddress(%q) = %v, want ErrInvalidRecipient", tt.address, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) unexpected error: %v", tt.address, err)
			}
			if !strings.EqualFold(addr.Hex(), tt.address) {
				t.Errorf("ParseAddress(%q) = %s", tt.address, addr.Hex())
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals int
		want     string
		wantErr  bool
	}{
		{"whole", "10", 18, "10000000000000000000", false},
		{"decimal", "100.50", 6, "100500000", false},
		{"empty", "", 6, "", true},
		{"zero", "0", 6, "", true},
		{"zero decimal", "0.0", 6, "", true},
		{"negative", "-100", 6, "", true},
		{"letters", "abc", 6, "", true},
		{"mixed", "123abc", 6, "", true},
		{"too precise", "0.0000001", 6, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.amount, tt.decimals)
			if tt.wantErr {
				if !errors.Is(err, smartaccount.ErrInvalidAmount) {
					t.Errorf("ParseAmount(%q) = %v, want ErrInvalidAmount", tt.amount, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.amount, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}
