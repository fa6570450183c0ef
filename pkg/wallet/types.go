package wallet

import (
	"context"
	"fmt"
	"strings"
)

// AmountCents is an exact fixed-point currency amount in minor units.
type AmountCents int64

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw minor-unit value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// AccountID identifies a wallet owner.
type AccountID struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryBetStake  EntryKind = "bet_stake"
	EntryBetPayout EntryKind = "bet_payout"
	EntryDeposit   EntryKind = "deposit"
)

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case EntryBetStake, EntryBetPayout, EntryDeposit:
		return EntryKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// String returns the stored representation.
func (kind EntryKind) String() string {
	return string(kind)
}

// EntryMetadata is the closed set of audit attributes attached to an entry.
type EntryMetadata struct {
	Chosen  string `json:"chosen,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// EntryInput describes a ledger entry to be appended.
type EntryInput struct {
	accountID      AccountID
	kind           EntryKind
	deltaCents     int64
	metadata       EntryMetadata
	createdUnixUTC int64
}

// NewEntryInput validates an entry before it reaches a store. Stake entries
// must carry a negative delta; payout and deposit entries a positive one.
func NewEntryInput(accountID AccountID, kind EntryKind, deltaCents int64, metadata EntryMetadata, createdUnixUTC int64) (EntryInput, error) {
	if accountID.value == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return EntryInput{}, err
	}
	switch kind {
	case EntryBetStake:
		if deltaCents >= 0 {
			return EntryInput{}, fmt.Errorf("%w: stake delta must be negative", ErrInvalidEntryDelta)
		}
	default:
		if deltaCents <= 0 {
			return EntryInput{}, fmt.Errorf("%w: %s delta must be positive", ErrInvalidEntryDelta, kind)
		}
	}
	return EntryInput{
		accountID:      accountID,
		kind:           kind,
		deltaCents:     deltaCents,
		metadata:       metadata,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// AccountID returns the owning account.
func (input EntryInput) AccountID() AccountID { return input.accountID }

// Kind returns the entry kind.
func (input EntryInput) Kind() EntryKind { return input.kind }

// DeltaCents returns the signed balance delta.
func (input EntryInput) DeltaCents() int64 { return input.deltaCents }

// Metadata returns the structured audit attributes.
func (input EntryInput) Metadata() EntryMetadata { return input.metadata }

// CreatedUnixUTC returns the creation timestamp.
func (input EntryInput) CreatedUnixUTC() int64 { return input.createdUnixUTC }

// Entry is a single immutable line in the ledger.
type Entry struct {
	EntryID        string
	AccountID      string
	Kind           EntryKind
	DeltaCents     int64
	Metadata       EntryMetadata
	CreatedUnixUTC int64
}

// BetInput describes a settled wager to be recorded.
type BetInput struct {
	accountID      AccountID
	chosen         string
	outcome        string
	stakeCents     AmountCents
	payoutCents    AmountCents
	createdUnixUTC int64
}

// NewBetInput validates a bet record before it reaches a store.
func NewBetInput(accountID AccountID, chosen string, outcome string, stakeCents AmountCents, payoutCents AmountCents, createdUnixUTC int64) (BetInput, error) {
	if accountID.value == "" {
		return BetInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if strings.TrimSpace(chosen) == "" || strings.TrimSpace(outcome) == "" {
		return BetInput{}, fmt.Errorf("%w: chosen and outcome are required", ErrInvalidBetRecord)
	}
	if stakeCents <= 0 {
		return BetInput{}, fmt.Errorf("%w: stake must be positive", ErrInvalidBetRecord)
	}
	if payoutCents < 0 {
		return BetInput{}, fmt.Errorf("%w: payout must not be negative", ErrInvalidBetRecord)
	}
	return BetInput{
		accountID:      accountID,
		chosen:         chosen,
		outcome:        outcome,
		stakeCents:     stakeCents,
		payoutCents:    payoutCents,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// AccountID returns the owning account.
func (input BetInput) AccountID() AccountID { return input.accountID }

// Chosen returns the side the player picked.
func (input BetInput) Chosen() string { return input.chosen }

// Outcome returns the drawn side.
func (input BetInput) Outcome() string { return input.outcome }

// StakeCents returns the wagered amount.
func (input BetInput) StakeCents() AmountCents { return input.stakeCents }

// PayoutCents returns the credited amount (zero on a loss).
func (input BetInput) PayoutCents() AmountCents { return input.payoutCents }

// CreatedUnixUTC returns the creation timestamp.
func (input BetInput) CreatedUnixUTC() int64 { return input.createdUnixUTC }

// Bet is a single immutable wager record.
type Bet struct {
	BetID          string
	AccountID      string
	Chosen         string
	Outcome        string
	StakeCents     AmountCents
	PayoutCents    AmountCents
	CreatedUnixUTC int64
}

// AuditRecords is the batch committed alongside one balance mutation.
type AuditRecords struct {
	Entries []EntryInput
	Bet     *BetInput
}

// WalletState is the mutable balance row for one account.
type WalletState struct {
	BalanceCents AmountCents
	Version      int64
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateWallet(ctx context.Context, accountID AccountID, createdUnixUTC int64) error
	GetWallet(ctx context.Context, accountID AccountID) (WalletState, error)
	UpdateWalletBalance(ctx context.Context, accountID AccountID, balance AmountCents, expectedVersion int64, updatedUnixUTC int64) error
	InsertEntry(ctx context.Context, entry EntryInput) error
	InsertBet(ctx context.Context, bet BetInput) error
	SumEntryDeltas(ctx context.Context, accountID AccountID) (int64, error)
	ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error)
	ListBets(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Bet, error)
}
