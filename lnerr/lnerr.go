// Package lnerr defines the typed errors used across the Lightning
// payment flow. Every error carries a machine-readable code, and invoice
// and bridge errors additionally carry the id they relate to, so callers
// and logs can correlate failures with the right entity.
package lnerr

import (
	"errors"
	"fmt"
)

// Machine-readable error codes. These are stable identifiers that end up
// in API responses and logs, so they should never be renamed.
const (
	CodeInvalidAmount   = "INVALID_AMOUNT"
	CodeInvalidAddress  = "INVALID_ADDRESS"
	CodePaymentFailed   = "PAYMENT_FAILED"
	CodeBridgeTimeout   = "BRIDGE_TIMEOUT"
	CodeInvoiceNotFound = "INVOICE_NOT_FOUND"
	CodeBridgeNotFound  = "BRIDGE_NOT_FOUND"
	CodeFlowNotFound    = "FLOW_NOT_FOUND"
	CodeProviderError   = "PROVIDER_ERROR"
	CodeBadSignature    = "BAD_SIGNATURE"
)

// Error is a generic Lightning flow error, used for orchestrator-level
// failures that aren't tied to either the invoice or the bridge leg.
type Error struct {
	Code string
	Err  error
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Err)
}

func (e Error) Unwrap() error { return e.Err }

// Is compares errors by code, so callers can match against sentinel
// values created with the same code.
func (e Error) Is(target error) bool {
	return code(target) == e.Code
}

// InvoiceError is an invoice-layer error, carrying the id of the invoice
// it relates to when one exists.
type InvoiceError struct {
	Code      string
	InvoiceID string
	Err       error
}

func (e InvoiceError) Error() string {
	if e.InvoiceID == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Err)
	}
	return fmt.Sprintf("%s (invoice %s): %s", e.Code, e.InvoiceID, e.Err)
}

func (e InvoiceError) Unwrap() error { return e.Err }

func (e InvoiceError) Is(target error) bool {
	return code(target) == e.Code
}

// BridgeError is a bridge-layer error, carrying the id of the bridge
// request it relates to when one exists.
type BridgeError struct {
	Code     string
	BridgeID string
	Err      error
}

func (e BridgeError) Error() string {
	if e.BridgeID == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Err)
	}
	return fmt.Sprintf("%s (bridge %s): %s", e.Code, e.BridgeID, e.Err)
}

func (e BridgeError) Unwrap() error { return e.Err }

func (e BridgeError) Is(target error) bool {
	return code(target) == e.Code
}

// Code extracts the machine-readable code from any of the error types in
// this package, returning the empty string for foreign errors.
func Code(err error) string {
	return code(err)
}

func code(err error) string {
	var generic Error
	if errors.As(err, &generic) {
		return generic.Code
	}
	var invoice InvoiceError
	if errors.As(err, &invoice) {
		return invoice.Code
	}
	var bridge BridgeError
	if errors.As(err, &bridge) {
		return bridge.Code
	}
	return ""
}

// InvalidAmount returns an INVALID_AMOUNT error with the given reason.
func InvalidAmount(format string, args ...interface{}) error {
	return Error{Code: CodeInvalidAmount, Err: fmt.Errorf(format, args...)}
}

// InvalidAddress returns an INVALID_ADDRESS error with the given reason.
func InvalidAddress(format string, args ...interface{}) error {
	return Error{Code: CodeInvalidAddress, Err: fmt.Errorf(format, args...)}
}
