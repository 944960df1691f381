package repositories

import "fmt"

// StockErrorCode enumerates failure causes reported by stock stores.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorNotFound indicates the material has no stock record at the store.
	StockErrorNotFound StockErrorCode = "stock_not_found"
	// StockErrorRejected indicates the stock service refused the request.
	StockErrorRejected StockErrorCode = "stock_rejected"
	// StockErrorUnavailable indicates the stock backend could not be reached.
	StockErrorUnavailable StockErrorCode = "stock_unavailable"
)

// StockError wraps stock store failures with machine readable codes.
type StockError struct {
	Op      string
	Code    StockErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*StockError)(nil)

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the material has no stock record.
func (e *StockError) IsNotFound() bool { return e != nil && e.Code == StockErrorNotFound }

// IsConflict reports whether the stock service rejected the adjustment.
func (e *StockError) IsConflict() bool { return e != nil && e.Code == StockErrorRejected }

// IsUnavailable reports whether the stock backend was unreachable.
func (e *StockError) IsUnavailable() bool { return e != nil && e.Code == StockErrorUnavailable }

// NewStockError constructs a typed stock error.
func NewStockError(op string, code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
