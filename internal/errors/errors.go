// Package errors provides the error taxonomy shared by the execution
// engines and validators. Every error here is a recoverable, reported
// condition; the engines never panic on them.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers classify failures with errors.Is.
var (
	ErrInvalidQuantity      = errors.New("quantity must be a positive integer")
	ErrMissingLimitPrice    = errors.New("limit order requires a positive limit price")
	ErrUnknownSymbol        = errors.New("unknown or inactive symbol")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientMargin   = errors.New("insufficient margin")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrMarketClosed         = errors.New("market is closed")
	ErrContractExpired      = errors.New("contract has expired")
	ErrPositionNotFound     = errors.New("position not found")
	ErrTransactionAborted   = errors.New("transaction aborted")
)

// OrderError carries order context alongside the underlying cause.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("order [%s] %s %s: %v", e.OrderID, e.Action, e.Symbol, e.Err)
	}
	return fmt.Sprintf("order %s %s: %v", e.Action, e.Symbol, e.Err)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action string, err error) *OrderError {
	return &OrderError{OrderID: orderID, Symbol: symbol, Action: action, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
