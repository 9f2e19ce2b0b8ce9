package repositories

import (
	"fmt"

	domain "github.com/souqline/api/internal/domain"
)

// OrderErrorCode enumerates failure reasons for order mutations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorInvalidInput indicates the caller supplied invalid arguments.
	OrderErrorInvalidInput OrderErrorCode = "order_invalid_input"
	// OrderErrorIllegalTransition indicates the requested status change is not
	// permitted from the order's current status.
	OrderErrorIllegalTransition OrderErrorCode = "order_illegal_transition"
	// OrderErrorInsufficientStock indicates settlement could not decrement
	// stock for one or more line items.
	OrderErrorInsufficientStock OrderErrorCode = "order_insufficient_stock"
	// OrderErrorIntegrity indicates the store contradicts itself, e.g. a
	// settlement referencing an order that does not exist.
	OrderErrorIntegrity OrderErrorCode = "order_integrity"
)

// OrderError wraps order-specific failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error

	// Current and Requested name the offending statuses for illegal
	// transitions.
	Current   domain.OrderStatus
	Requested domain.OrderStatus
	// VariantIDs names the items that could not be fulfilled for
	// insufficient-stock failures.
	VariantIDs []string
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
