package wallet

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the ledger domain logic over a Store. All balance
// mutations go through it; every mutation commits together with its audit
// records or not at all.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// CreateWallet provisions the zero-balance wallet for a freshly registered
// account. Wallets are created here and nowhere else.
func (service *Service) CreateWallet(ctx context.Context, accountID AccountID) error {
	operationError := service.store.CreateWallet(ctx, accountID, service.nowFn())
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateWallet,
		AccountID: accountID,
		Error:     operationError,
	})
	return operationError
}

// Balance returns the current balance without holding any wallet lock.
func (service *Service) Balance(ctx context.Context, accountID AccountID) (AmountCents, error) {
	state, err := service.store.GetWallet(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return state.BalanceCents, nil
}

// Credit applies a positive-only mutation (deposit, signup bonus) together
// with its audit entry.
func (service *Service) Credit(ctx context.Context, accountID AccountID, amount AmountCents, kind EntryKind, metadata EntryMetadata) (AmountCents, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: credit must be positive", ErrInvalidAmountCents)
	}
	var newBalance AmountCents
	operationError := service.transact(ctx, func(ctx context.Context, txStore Store) error {
		state, err := txStore.GetWallet(ctx, accountID)
		if err != nil {
			return err
		}
		newBalance = state.BalanceCents + amount
		entry, err := NewEntryInput(accountID, kind, amount.Int64(), metadata, service.nowFn())
		if err != nil {
			return err
		}
		if err := txStore.UpdateWalletBalance(ctx, accountID, newBalance, state.Version, service.nowFn()); err != nil {
			return err
		}
		return txStore.InsertEntry(ctx, entry)
	})
	service.logOperation(ctx, OperationLog{
		Operation:    operationCredit,
		AccountID:    accountID,
		CreditCents:  amount,
		BalanceCents: newBalance,
		Error:        operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return newBalance, nil
}

// TryDebitThenCredit atomically verifies balance >= debit, applies
// balance = balance - debit + credit, and persists the supplied audit
// records, all in one transaction. If the precondition fails nothing
// changes and ErrInsufficientFunds is returned. Two concurrent calls for
// the same account serialize through the wallet row's version; a lost race
// surfaces as ErrConflict and the caller retries the whole settlement.
func (service *Service) TryDebitThenCredit(ctx context.Context, accountID AccountID, debit AmountCents, credit AmountCents, audit AuditRecords) (AmountCents, error) {
	var newBalance AmountCents
	operationError := func() error {
		if debit <= 0 {
			return fmt.Errorf("%w: debit must be positive", ErrInvalidAmountCents)
		}
		if credit < 0 {
			return fmt.Errorf("%w: credit must not be negative", ErrInvalidAmountCents)
		}
		if len(audit.Entries) == 0 {
			return ErrEmptyAuditBatch
		}
		return service.transact(ctx, func(ctx context.Context, txStore Store) error {
			state, err := txStore.GetWallet(ctx, accountID)
			if err != nil {
				return err
			}
			if state.BalanceCents < debit {
				return ErrInsufficientFunds
			}
			newBalance = state.BalanceCents - debit + credit
			if err := txStore.UpdateWalletBalance(ctx, accountID, newBalance, state.Version, service.nowFn()); err != nil {
				return err
			}
			for _, entry := range audit.Entries {
				if err := txStore.InsertEntry(ctx, entry); err != nil {
					return err
				}
			}
			if audit.Bet != nil {
				if err := txStore.InsertBet(ctx, *audit.Bet); err != nil {
					return err
				}
			}
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:    operationTryDebitThenCredit,
		AccountID:    accountID,
		DebitCents:   debit,
		CreditCents:  credit,
		BalanceCents: newBalance,
		Error:        operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return newBalance, nil
}

// Entries lists ledger entries for an account before a cutoff time.
func (service *Service) Entries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, accountID, beforeUnixUTC, limit)
}

// Bets lists wager records for an account before a cutoff time.
func (service *Service) Bets(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Bet, error) {
	return service.store.ListBets(ctx, accountID, beforeUnixUTC, limit)
}

// Reconcile asserts the append-only ledger sums to the wallet balance.
func (service *Service) Reconcile(ctx context.Context, accountID AccountID) error {
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		state, err := txStore.GetWallet(ctx, accountID)
		if err != nil {
			return err
		}
		sum, err := txStore.SumEntryDeltas(ctx, accountID)
		if err != nil {
			return err
		}
		if sum != state.BalanceCents.Int64() {
			return fmt.Errorf("%w: entries sum to %d, balance is %d", ErrLedgerDrift, sum, state.BalanceCents.Int64())
		}
		return nil
	})
}

// transact runs fn in a store transaction, folding storage deadline expiry
// into the retryable conflict error.
func (service *Service) transact(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	err := service.store.WithTx(ctx, fn)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: storage transaction timed out", ErrConflict)
	}
	return err
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
