package wallet

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wallet operation.
type OperationLog struct {
	Operation    string
	AccountID    AccountID
	DebitCents   AmountCents
	CreditCents  AmountCents
	BalanceCents AmountCents
	Status       string
	Error        error
}

const (
	operationCreateWallet       = "create_wallet"
	operationCredit             = "credit"
	operationTryDebitThenCredit = "try_debit_then_credit"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}
