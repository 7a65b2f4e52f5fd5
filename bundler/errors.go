package bundler

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/smartaccount-go"
	"github.com/mark3labs/smartaccount-go/internal/jsonrpc"
	"github.com/mark3labs/smartaccount-go/paymaster"
)

// classifySubmit maps estimation and submission failures onto the error taxonomy.
func classifySubmit(err error) error {
	var classified *smartaccount.Error
	if errors.As(err, &classified) {
		return err
	}

	if paymaster.IsPlanLimit(err) {
		return smartaccount.NewError(smartaccount.ErrCodePlanLimitExceeded, "sponsorship plan limit reached; upgrade the plan to continue", err)
	}
	if endpointFailure(err) {
		return paymaster.Classify(err)
	}

	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case jsonrpc.CodePaymasterRejected, jsonrpc.CodePaymasterThrottled:
			return smartaccount.NewError(smartaccount.ErrCodeSponsorshipUnavailable, "transactions cannot be sponsored right now", err)
		}
		e := smartaccount.NewError(smartaccount.ErrCodeRejected, "bundler rejected operation", err)
		e.Reason = rpcErr.RevertReason()
		return e
	}

	return fmt.Errorf("bundler: %w", err)
}

// classifyGeneral maps a failed read against the general endpoint. That
// endpoint also carries the paymaster, so an unreachable, unconfigured or
// unauthorized endpoint means the operation cannot be sponsored.
func classifyGeneral(step string, err error) error {
	var classified *smartaccount.Error
	if errors.As(err, &classified) {
		return err
	}
	if endpointFailure(err) {
		return paymaster.Classify(err)
	}
	return fmt.Errorf("bundler: %s: %w", step, err)
}

// classifyProtocol maps a failed call to the protocol bundler endpoint.
func classifyProtocol(step string, err error) error {
	var classified *smartaccount.Error
	if errors.As(err, &classified) {
		return err
	}
	if !endpointFailure(err) {
		return fmt.Errorf("bundler: %s: %w", step, err)
	}

	msg := "protocol bundler unavailable"
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.NotConfigured():
			msg += " (bundler not configured)"
		case httpErr.Unauthorized():
			msg += " (bundler rejected credentials)"
		}
	}
	return smartaccount.NewError(smartaccount.ErrCodeBundlerUnavailable, msg, err)
}

// endpointFailure reports whether err is an HTTP or transport failure of the
// endpoint itself rather than a JSON-RPC error from a method. Cancellation by
// the caller is not an endpoint failure.
func endpointFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}
	var transportErr *jsonrpc.TransportError
	return errors.As(err, &transportErr)
}
