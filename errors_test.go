package smartaccount

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorDefinitions(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"SignerUnavailable", ErrSignerUnavailable, "smartaccount: signer unavailable"},
		{"SponsorshipUnavailable", ErrSponsorshipUnavailable, "smartaccount: transactions cannot be sponsored right now"},
		{"PlanLimit", ErrSponsorshipPlanLimitExceeded, "smartaccount: sponsorship plan limit exceeded"},
		{"InvalidFormat", ErrInvalidFormat, "smartaccount: invalid name format"},
		{"NotFound", ErrNotFound, "smartaccount: not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.want {
				t.Errorf("Error message mismatch: got %q, want %q", tt.err.Error(), tt.want)
			}
		})
	}
}

func TestInsufficientFundsMentionsBothCauses(t *testing.T) {
	msg := ErrInsufficientFunds.Error()
	if !strings.Contains(msg, "balance") || !strings.Contains(msg, "sponsorship") {
		t.Errorf("message %q should mention balance and sponsorship", msg)
	}
}

func TestError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "code sentinel",
			err:    NewError(ErrCodeRejected, "estimation reverted", nil),
			target: ErrRejected,
			want:   true,
		},
		{
			name:   "other sentinel",
			err:    NewError(ErrCodeRejected, "estimation reverted", nil),
			target: ErrTimeout,
			want:   false,
		},
		{
			name:   "wrapped cause",
			err:    NewError(ErrCodeReverted, "payment reverted", NewError(ErrCodeRejected, "receipt failed", nil)),
			target: ErrRejected,
			want:   true,
		},
		{
			name:   "fmt wrapped",
			err:    fmt.Errorf("submit: %w", NewError(ErrCodeTimeout, "poll bound", nil)),
			target: ErrTimeout,
			want:   true,
		},
		{
			name:   "timeout is not rejected",
			err:    NewError(ErrCodeTimeout, "poll bound", nil),
			target: ErrRejected,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Code: ErrCodeRejected, Message: "operation reverted", Reason: "ERC20: insufficient allowance", Err: errors.New("execution reverted")}
	msg := err.Error()
	for _, want := range []string{"REJECTED", "operation reverted", "ERC20: insufficient allowance", "execution reverted"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want to contain %q", msg, want)
		}
	}
}

func TestCodeAndReasonOf(t *testing.T) {
	inner := &Error{Code: ErrCodeRejected, Message: "reverted", Reason: "name taken"}
	outer := fmt.Errorf("register: %w", NewError(ErrCodeAlreadyRegistered, "already registered", inner))

	if got := CodeOf(outer); got != ErrCodeAlreadyRegistered {
		t.Errorf("CodeOf() = %q, want %q", got, ErrCodeAlreadyRegistered)
	}
	if got := ReasonOf(outer); got != "name taken" {
		t.Errorf("ReasonOf() = %q, want %q", got, "name taken")
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("provision: %w", ErrSignerUnavailable)) {
		t.Error("signer unavailable should be retryable")
	}
	if IsRetryable(NewError(ErrCodeTimeout, "poll bound", nil)) {
		t.Error("timeout must not be retried blindly")
	}
	if IsRetryable(NewError(ErrCodeReverted, "reverted", nil)) {
		t.Error("revert must not be retried")
	}
}
