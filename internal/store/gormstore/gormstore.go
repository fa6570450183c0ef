package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/wallet"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectWallet    = "wallet"
	errorSubjectEntry     = "entry"
	errorSubjectBet       = "bet"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeSumDeltas    = "sum_deltas"
	errorCodeUpdate       = "update"
)

// Store implements wallet.Store (and the account store) using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Production postgres deployments manage their
// own migrations; sqlite deployments and tests use this.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(&Wallet{}, &LedgerEntry{}, &Bet{}, &User{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateWallet(ctx context.Context, accountID wallet.AccountID, createdUnixUTC int64) error {
	now := time.Unix(createdUnixUTC, 0).UTC()
	row := Wallet{
		AccountID:    accountID.String(),
		BalanceCents: 0,
		Version:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectWallet, errorCodeDuplicate, wallet.ErrWalletExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWallet(ctx context.Context, accountID wallet.AccountID) (wallet.WalletState, error) {
	var row Wallet
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.WalletState{}, wrapStoreError(errorSubjectWallet, errorCodeGet, wallet.ErrWalletNotFound)
		}
		return wallet.WalletState{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	balance, err := wallet.NewAmountCents(row.BalanceCents)
	if err != nil {
		return wallet.WalletState{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return wallet.WalletState{BalanceCents: balance, Version: row.Version}, nil
}

// UpdateWalletBalance applies the optimistic-concurrency write: the update
// lands only if the version has not moved since the caller read the wallet.
func (store *Store) UpdateWalletBalance(ctx context.Context, accountID wallet.AccountID, balance wallet.AmountCents, expectedVersion int64, updatedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("account_id = ? AND version = ?", accountID.String(), expectedVersion).
		Updates(map[string]interface{}{
			"balance_cents": balance.Int64(),
			"version":       expectedVersion + 1,
			"updated_at":    time.Unix(updatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, wallet.ErrConflict)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entryInput wallet.EntryInput) error {
	row := LedgerEntry{
		AccountID:  entryInput.AccountID().String(),
		Kind:       entryInput.Kind().String(),
		DeltaCents: entryInput.DeltaCents(),
		Metadata:   marshalMetadata(entryInput.Metadata()),
		CreatedAt:  time.Unix(entryInput.CreatedUnixUTC(), 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) InsertBet(ctx context.Context, betInput wallet.BetInput) error {
	row := Bet{
		AccountID:   betInput.AccountID().String(),
		Chosen:      betInput.Chosen(),
		Outcome:     betInput.Outcome(),
		StakeCents:  betInput.StakeCents().Int64(),
		PayoutCents: betInput.PayoutCents().Int64(),
		CreatedAt:   time.Unix(betInput.CreatedUnixUTC(), 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectBet, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) SumEntryDeltas(ctx context.Context, accountID wallet.AccountID) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(delta_cents),0) as total").
		Where("account_id = ?", accountID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeSumDeltas, err)
	}
	return sum.Total, nil
}

func (store *Store) ListEntries(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID.String(), cutoffTime(beforeUnixUTC)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]wallet.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) ListBets(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Bet, error) {
	var rows []Bet
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID.String(), cutoffTime(beforeUnixUTC)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBet, errorCodeList, err)
	}

	bets := make([]wallet.Bet, 0, len(rows))
	for _, row := range rows {
		stake, err := wallet.NewAmountCents(row.StakeCents)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBet, errorCodeInvalid, err)
		}
		payout, err := wallet.NewAmountCents(row.PayoutCents)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBet, errorCodeInvalid, err)
		}
		bets = append(bets, wallet.Bet{
			BetID:          row.BetID,
			AccountID:      row.AccountID,
			Chosen:         row.Chosen,
			Outcome:        row.Outcome,
			StakeCents:     stake,
			PayoutCents:    payout,
			CreatedUnixUTC: row.CreatedAt.Unix(),
		})
	}
	return bets, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func cutoffTime(beforeUnixUTC int64) time.Time {
	if beforeUnixUTC == 0 {
		return time.Now().UTC().Add(time.Second)
	}
	return time.Unix(beforeUnixUTC, 0).UTC()
}

func mapLedgerEntry(row LedgerEntry) (wallet.Entry, error) {
	kind, err := wallet.ParseEntryKind(row.Kind)
	if err != nil {
		return wallet.Entry{}, err
	}
	var metadata wallet.EntryMetadata
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return wallet.Entry{}, err
		}
	}
	return wallet.Entry{
		EntryID:        row.EntryID,
		AccountID:      row.AccountID,
		Kind:           kind,
		DeltaCents:     row.DeltaCents,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func marshalMetadata(metadata wallet.EntryMetadata) datatypes.JSON {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON(raw)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
