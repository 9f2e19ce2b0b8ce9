package repositories

import "fmt"

// PromotionErrorCode enumerates failure reasons for promotion operations.
type PromotionErrorCode string

const (
	// PromotionErrorUnknown represents an unspecified failure.
	PromotionErrorUnknown PromotionErrorCode = "promotion_unknown"
	// PromotionErrorInvalidInput indicates the caller supplied invalid arguments.
	PromotionErrorInvalidInput PromotionErrorCode = "promotion_invalid_input"
)

// PromotionError wraps promotion-specific failures with machine readable codes.
type PromotionError struct {
	Op      string
	Code    PromotionErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *PromotionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *PromotionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewPromotionError constructs a typed promotion error.
func NewPromotionError(code PromotionErrorCode, message string, err error) *PromotionError {
	if message == "" {
		message = string(code)
	}
	return &PromotionError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
