package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Wallet represents the wallets table: one mutable balance row per account.
type Wallet struct {
	AccountID    string    `gorm:"primaryKey"`
	BalanceCents int64     `gorm:"not null"`
	Version      int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

// LedgerEntry mirrors the ledger_entries table. Rows are insert-only.
type LedgerEntry struct {
	EntryID    string         `gorm:"type:uuid;primaryKey"`
	AccountID  string         `gorm:"not null;index:idx_entries_account_created,priority:1"`
	Kind       string         `gorm:"not null"`
	DeltaCents int64          `gorm:"not null"`
	Metadata   datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null;index:idx_entries_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// Bet mirrors the bets table. Rows are insert-only.
type Bet struct {
	BetID       string    `gorm:"type:uuid;primaryKey"`
	AccountID   string    `gorm:"not null;index:idx_bets_account_created,priority:1"`
	Chosen      string    `gorm:"not null"`
	Outcome     string    `gorm:"not null"`
	StakeCents  int64     `gorm:"not null"`
	PayoutCents int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;index:idx_bets_account_created,priority:2"`
}

func (Bet) TableName() string { return "bets" }

func (bet *Bet) BeforeCreate(tx *gorm.DB) error {
	if bet.BetID == "" {
		bet.BetID = uuid.NewString()
	}
	return nil
}

// User represents the users table.
type User struct {
	UserID       string    `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"uniqueIndex;size:80;not null"`
	Email        string    `gorm:"size:200"`
	PasswordHash string    `gorm:"size:200;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }
