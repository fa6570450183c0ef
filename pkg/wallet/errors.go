package wallet

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wallet service.
var (
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrWalletExists         = errors.New("wallet already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrConflict             = errors.New("concurrent balance update conflict")
	ErrLedgerDrift          = errors.New("ledger does not reconcile with balance")
	ErrInvalidAccountID     = errors.New("invalid account id")
	ErrInvalidAmountCents   = errors.New("invalid amount cents")
	ErrInvalidEntryKind     = errors.New("invalid entry kind")
	ErrInvalidEntryDelta    = errors.New("invalid entry delta")
	ErrInvalidBetRecord     = errors.New("invalid bet record")
	ErrEmptyAuditBatch      = errors.New("audit batch must contain at least one entry")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
