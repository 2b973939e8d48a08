package market

import (
	"errors"
	"fmt"
)

// Common error variables shared across the client packages.
var (
	// ErrNotConnected is returned when an operation requires an established
	// connection and none exists.
	ErrNotConnected = errors.New("stream not connected")

	// ErrStreamClosed is returned when an operation is attempted on a stream
	// that has reached its terminal closed state.
	ErrStreamClosed = errors.New("stream closed")

	// ErrManagerStopped is returned when a manager has reached its terminal
	// stopped state, either by an explicit stop or by exhausting its
	// reconnect budget.
	ErrManagerStopped = errors.New("manager stopped")

	// ErrInvalidSymbol is returned when an empty or malformed trading pair
	// symbol is provided.
	ErrInvalidSymbol = errors.New("invalid trading pair symbol")

	// ErrAuthenticationRequired is returned when an authenticated endpoint is
	// called without an API key configured.
	ErrAuthenticationRequired = errors.New("API key required for this operation")

	// ErrSnapshotUnavailable is returned when an order book snapshot could
	// not be fetched after the configured retries.
	ErrSnapshotUnavailable = errors.New("order book snapshot unavailable")
)

// SymbolError wraps an error with the trading pair it relates to.
type SymbolError struct {
	Symbol  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *SymbolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Symbol, e.Message)
}

// Unwrap returns the underlying error.
func (e *SymbolError) Unwrap() error {
	return e.Err
}

// NewSymbolError creates a new symbol-scoped error.
func NewSymbolError(symbol, message string, err error) error {
	return &SymbolError{Symbol: symbol, Message: message, Err: err}
}
