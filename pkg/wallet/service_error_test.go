package wallet

import (
	"context"
	"errors"
	"testing"
)

const (
	caseWalletLookupError  = "wallet lookup error"
	caseBalanceUpdateError = "balance update error"
	caseInsertEntryError   = "insert entry error"
	caseInsertBetError     = "insert bet error"
	errorMismatchMessage   = "expected %v, got %v"
)

var errStoreFailure = errors.New("store error")

func TestCreditReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{
			name: caseWalletLookupError,
			configure: func(store *stubStore) {
				store.getWalletError = errStoreFailure
			},
		},
		{
			name: caseBalanceUpdateError,
			configure: func(store *stubStore) {
				store.updateBalanceError = errStoreFailure
			},
		},
		{
			name: caseInsertEntryError,
			configure: func(store *stubStore) {
				store.insertEntryError = errStoreFailure
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			accountID := mustAccountID(test, "credit-errors")
			store := newStubStore(test, accountID, 100)
			testCase.configure(store)
			service := mustNewService(test, store)

			_, err := service.Credit(context.Background(), accountID, 100, EntryDeposit, EntryMetadata{})
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
		})
	}
}

func TestTryDebitThenCreditReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{
			name: caseWalletLookupError,
			configure: func(store *stubStore) {
				store.getWalletError = errStoreFailure
			},
		},
		{
			name: caseBalanceUpdateError,
			configure: func(store *stubStore) {
				store.updateBalanceError = errStoreFailure
			},
		},
		{
			name: caseInsertEntryError,
			configure: func(store *stubStore) {
				store.insertEntryError = errStoreFailure
			},
		},
		{
			name: caseInsertBetError,
			configure: func(store *stubStore) {
				store.insertBetError = errStoreFailure
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			accountID := mustAccountID(test, "settle-errors")
			store := newStubStore(test, accountID, 10000)
			testCase.configure(store)
			service := mustNewService(test, store)
			audit := AuditRecords{
				Entries: []EntryInput{mustStakeEntry(test, accountID, 100, "heads", "tails")},
				Bet:     mustBetInput(test, accountID, "heads", "tails", 100, 0),
			}

			_, err := service.TryDebitThenCredit(context.Background(), accountID, 100, 0, audit)
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
			if store.wallets[accountID.String()].balance != 10000 {
				test.Fatalf("balance changed despite failed transaction: %d", store.wallets[accountID.String()].balance)
			}
		})
	}
}

func TestNewServiceRejectsNilDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(&stubStore{wallets: map[string]*stubWallet{}}, nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}
