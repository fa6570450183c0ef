package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/wallet"
)

// ZapOperationLogger adapts a zap logger to wallet.OperationLogger.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// New returns a wallet operation logger writing structured zap records.
func New(logger *zap.Logger) *ZapOperationLogger {
	return &ZapOperationLogger{logger: logger}
}

// LogOperation emits one record per state-changing wallet operation.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account_id", entry.AccountID.String()),
		zap.Int64("debit_cents", entry.DebitCents.Int64()),
		zap.Int64("credit_cents", entry.CreditCents.Int64()),
		zap.Int64("balance_cents", entry.BalanceCents.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("wallet operation", fields...)
		return
	}
	operationLogger.logger.Info("wallet operation", fields...)
}
