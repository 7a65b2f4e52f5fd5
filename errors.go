package smartaccount

import (
	"errors"
	"fmt"
)

// Standard smart-account error definitions.
var (
	// ErrSignerUnavailable indicates the owner signer is missing or its provider cannot be reached.
	// Retry after the signer session is rehydrated.
	ErrSignerUnavailable = errors.New("smartaccount: signer unavailable")

	// ErrNoOwner indicates no signer session can act as the account owner.
	ErrNoOwner = errors.New("smartaccount: no owner signer available")

	// ErrChainMismatch indicates the signer provider reports a different chain than requested.
	ErrChainMismatch = errors.New("smartaccount: signer chain mismatch")

	// ErrSponsorshipUnavailable indicates gas sponsorship could not be obtained.
	ErrSponsorshipUnavailable = errors.New("smartaccount: transactions cannot be sponsored right now")

	// ErrSponsorshipPlanLimitExceeded indicates the sponsoring service's usage cap was reached.
	ErrSponsorshipPlanLimitExceeded = errors.New("smartaccount: sponsorship plan limit exceeded")

	// ErrRejected indicates the operation was simulated or executed and reverted.
	ErrRejected = errors.New("smartaccount: operation rejected")

	// ErrReverted indicates a payment was accepted by the network but failed on-chain.
	ErrReverted = errors.New("smartaccount: transaction reverted")

	// ErrTimeout indicates inclusion polling exceeded its bound. The outcome is unknown.
	ErrTimeout = errors.New("smartaccount: operation outcome unknown (timed out)")

	// ErrInvalidFormat indicates a name failed local format validation.
	ErrInvalidFormat = errors.New("smartaccount: invalid name format")

	// ErrInvalidRecipient indicates a recipient is not a valid account identifier.
	ErrInvalidRecipient = errors.New("smartaccount: invalid recipient")

	// ErrInvalidAmount indicates an amount is malformed or not positive.
	ErrInvalidAmount = errors.New("smartaccount: invalid amount")

	// ErrInsufficientFunds indicates either the account balance or the sponsor's funding is too low.
	ErrInsufficientFunds = errors.New("smartaccount: insufficient funds: account balance or sponsorship funding is too low")

	// ErrAlreadyRegistered indicates the name is already taken.
	ErrAlreadyRegistered = errors.New("smartaccount: name already registered")

	// ErrNotFound indicates the lookup has no record.
	ErrNotFound = errors.New("smartaccount: not found")

	// ErrUnsupportedCurrency indicates the payment currency is not configured.
	ErrUnsupportedCurrency = errors.New("smartaccount: unsupported currency")

	// ErrUnsupportedChain indicates the chain is not configured.
	ErrUnsupportedChain = errors.New("smartaccount: unsupported chain")

	// ErrNoCalls indicates an operation was submitted without calls.
	ErrNoCalls = errors.New("smartaccount: operation has no calls")

	// ErrBundlerUnavailable indicates the protocol bundler endpoint could not be reached or refused the request.
	ErrBundlerUnavailable = errors.New("smartaccount: bundler unavailable")

	// ErrNotConfigured indicates an upstream proxy is missing its credentials.
	ErrNotConfigured = errors.New("smartaccount: upstream not configured")
)

// ErrorCode classifies failures for programmatic handling.
type ErrorCode string

const (
	ErrCodeSignerUnavailable      ErrorCode = "SIGNER_UNAVAILABLE"
	ErrCodeSponsorshipUnavailable ErrorCode = "SPONSORSHIP_UNAVAILABLE"
	ErrCodePlanLimitExceeded      ErrorCode = "SPONSORSHIP_PLAN_LIMIT_EXCEEDED"
	ErrCodeRejected               ErrorCode = "REJECTED"
	ErrCodeReverted               ErrorCode = "REVERTED"
	ErrCodeTimeout                ErrorCode = "TIMEOUT"
	ErrCodeInvalidFormat          ErrorCode = "INVALID_FORMAT"
	ErrCodeInvalidRecipient       ErrorCode = "INVALID_RECIPIENT"
	ErrCodeInvalidAmount          ErrorCode = "INVALID_AMOUNT"
	ErrCodeInsufficientFunds      ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeAlreadyRegistered      ErrorCode = "ALREADY_REGISTERED"
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeBundlerUnavailable     ErrorCode = "BUNDLER_UNAVAILABLE"
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeSignerUnavailable:      ErrSignerUnavailable,
	ErrCodeSponsorshipUnavailable: ErrSponsorshipUnavailable,
	ErrCodePlanLimitExceeded:      ErrSponsorshipPlanLimitExceeded,
	ErrCodeRejected:               ErrRejected,
	ErrCodeReverted:               ErrReverted,
	ErrCodeTimeout:                ErrTimeout,
	ErrCodeInvalidFormat:          ErrInvalidFormat,
	ErrCodeInvalidRecipient:       ErrInvalidRecipient,
	ErrCodeInvalidAmount:          ErrInvalidAmount,
	ErrCodeInsufficientFunds:      ErrInsufficientFunds,
	ErrCodeAlreadyRegistered:      ErrAlreadyRegistered,
	ErrCodeNotFound:               ErrNotFound,
	ErrCodeBundlerUnavailable:     ErrBundlerUnavailable,
}

// Error is a classified failure surfaced by the transaction layer.
// It matches its code's sentinel with errors.Is, and unwraps to the underlying cause.
type Error struct {
	// Code is the failure class.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Reason is the on-chain revert reason, verbatim, when one was decoded.
	Reason string

	// Err is the underlying cause.
	Err error
}

// NewError creates a classified error.
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("smartaccount [%s]: %s", e.Code, e.Message)
	if e.Reason != "" {
		msg += fmt.Sprintf(" (reason: %s)", e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's code.
func (e *Error) Is(target error) bool {
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ReasonOf returns the revert reason carried by err, if any.
func ReasonOf(err error) string {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return ""
		}
		if e.Reason != "" {
			return e.Reason
		}
		err = e.Err
	}
	return ""
}

// IsRetryable reports whether the failure may succeed if attempted again unchanged.
// Only a missing signer qualifies; Timeout requires a re-query first.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSignerUnavailable)
}
