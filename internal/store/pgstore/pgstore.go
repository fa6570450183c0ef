package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/coinflip/pkg/wallet"
)

const (
	pgUniqueViolationCode = "23505"
	errorOperationStore   = "store"
	errorSubjectWallet    = "wallet"
	errorSubjectEntry     = "entry"
	errorSubjectBet       = "bet"
	errorSubjectTx        = "transaction"
	errorCodeBegin        = "begin"
	errorCodeCommit       = "commit"
	errorCodeCreate       = "create"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInsert       = "insert"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeSumDeltas    = "sum_deltas"
	errorCodeUpdate       = "update"

	sqlInsertWallet = `
		insert into wallets(account_id, balance_cents, version, created_at, updated_at)
		values ($1, 0, 0, to_timestamp($2), to_timestamp($2))
	`

	sqlSelectWallet = `
		select balance_cents, version from wallets where account_id = $1
	`

	sqlUpdateWalletBalance = `
		update wallets
		set balance_cents = $2, version = $3 + 1, updated_at = to_timestamp($4)
		where account_id = $1 and version = $3
	`

	sqlInsertEntry = `
		insert into ledger_entries(entry_id, account_id, kind, delta_cents, metadata, created_at)
		values (gen_random_uuid(), $1, $2, $3, $4::jsonb, to_timestamp($5))
	`

	sqlInsertBet = `
		insert into bets(bet_id, account_id, chosen, outcome, stake_cents, payout_cents, created_at)
		values (gen_random_uuid(), $1, $2, $3, $4, $5, to_timestamp($6))
	`

	sqlSumEntryDeltas = `
		select coalesce(sum(delta_cents),0) from ledger_entries where account_id = $1
	`

	sqlListEntriesBefore = `
		select
			entry_id::text,
			account_id,
			kind,
			delta_cents,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from ledger_entries
		where account_id = $1 and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`

	sqlListBetsBefore = `
		select
			bet_id::text,
			account_id,
			chosen,
			outcome,
			stake_cents,
			payout_cents,
			extract(epoch from created_at)::bigint
		from bets
		where account_id = $1 and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements wallet.Store using a pgx connection pool (autocommit
// outside WithTx).
type Store struct {
	pool *pgxpool.Pool
	conn querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, conn: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &Store{pool: store.pool, conn: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateWallet(ctx context.Context, accountID wallet.AccountID, createdUnixUTC int64) error {
	_, err := store.conn.Exec(ctx, sqlInsertWallet, accountID.String(), createdUnixUTC)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectWallet, errorCodeDuplicate, wallet.ErrWalletExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWallet(ctx context.Context, accountID wallet.AccountID) (wallet.WalletState, error) {
	var balanceCents int64
	var version int64
	err := store.conn.QueryRow(ctx, sqlSelectWallet, accountID.String()).Scan(&balanceCents, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.WalletState{}, wrapStoreError(errorSubjectWallet, errorCodeGet, wallet.ErrWalletNotFound)
		}
		return wallet.WalletState{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	balance, err := wallet.NewAmountCents(balanceCents)
	if err != nil {
		return wallet.WalletState{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return wallet.WalletState{BalanceCents: balance, Version: version}, nil
}

func (store *Store) UpdateWalletBalance(ctx context.Context, accountID wallet.AccountID, balance wallet.AmountCents, expectedVersion int64, updatedUnixUTC int64) error {
	tag, err := store.conn.Exec(ctx, sqlUpdateWalletBalance, accountID.String(), balance.Int64(), expectedVersion, updatedUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, wallet.ErrConflict)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entryInput wallet.EntryInput) error {
	metadata, err := json.Marshal(entryInput.Metadata())
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	_, err = store.conn.Exec(ctx, sqlInsertEntry,
		entryInput.AccountID().String(),
		entryInput.Kind().String(),
		entryInput.DeltaCents(),
		string(metadata),
		entryInput.CreatedUnixUTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) InsertBet(ctx context.Context, betInput wallet.BetInput) error {
	_, err := store.conn.Exec(ctx, sqlInsertBet,
		betInput.AccountID().String(),
		betInput.Chosen(),
		betInput.Outcome(),
		betInput.StakeCents().Int64(),
		betInput.PayoutCents().Int64(),
		betInput.CreatedUnixUTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectBet, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) SumEntryDeltas(ctx context.Context, accountID wallet.AccountID) (int64, error) {
	var total int64
	if err := store.conn.QueryRow(ctx, sqlSumEntryDeltas, accountID.String()).Scan(&total); err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeSumDeltas, err)
	}
	return total, nil
}

func (store *Store) ListEntries(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	rows, err := store.conn.Query(ctx, sqlListEntriesBefore, accountID.String(), cutoffUnix(beforeUnixUTC), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()

	var entries []wallet.Entry
	for rows.Next() {
		var entry wallet.Entry
		var kindRaw string
		var metadataRaw string
		if err := rows.Scan(&entry.EntryID, &entry.AccountID, &kindRaw, &entry.DeltaCents, &metadataRaw, &entry.CreatedUnixUTC); err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
		}
		kind, err := wallet.ParseEntryKind(kindRaw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entry.Kind = kind
		if err := json.Unmarshal([]byte(metadataRaw), &entry.Metadata); err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func (store *Store) ListBets(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Bet, error) {
	rows, err := store.conn.Query(ctx, sqlListBetsBefore, accountID.String(), cutoffUnix(beforeUnixUTC), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBet, errorCodeList, err)
	}
	defer rows.Close()

	var bets []wallet.Bet
	for rows.Next() {
		var bet wallet.Bet
		var stakeCents int64
		var payoutCents int64
		if err := rows.Scan(&bet.BetID, &bet.AccountID, &bet.Chosen, &bet.Outcome, &stakeCents, &payoutCents, &bet.CreatedUnixUTC); err != nil {
			return nil, wrapStoreError(errorSubjectBet, errorCodeList, err)
		}
		stake, err := wallet.NewAmountCents(stakeCents)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBet, errorCodeInvalid, err)
		}
		payout, err := wallet.NewAmountCents(payoutCents)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBet, errorCodeInvalid, err)
		}
		bet.StakeCents = stake
		bet.PayoutCents = payout
		bets = append(bets, bet)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBet, errorCodeList, err)
	}
	return bets, nil
}

func cutoffUnix(beforeUnixUTC int64) int64 {
	if beforeUnixUTC == 0 {
		return time.Now().UTC().Add(time.Second).Unix()
	}
	return beforeUnixUTC
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
