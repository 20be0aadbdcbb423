package wallet

import (
	"time"

	"gorm.io/datatypes"
)

type TransactionType string

const (
	TypeReward     TransactionType = "REWARD"
	TypeAdjustment TransactionType = "ADJUSTMENT"
)

type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// Wallet is the single balance row per user. Version is the optimistic
// concurrency counter: every successful mutation bumps it by exactly one,
// and writers must present the version they read.
type Wallet struct {
	ID            string    `gorm:"column:id;primaryKey"`
	UserID        string    `gorm:"column:user_id;uniqueIndex;not null"`
	Balance       int64     `gorm:"column:balance;not null"`
	LockedBalance int64     `gorm:"column:locked_balance;not null"`
	Version       int64     `gorm:"column:version;not null"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// WalletTransaction is the append-only audit trail. Exactly one row exists
// per balance mutation; the newest row's BalanceAfter must equal the wallet's
// Balance.
type WalletTransaction struct {
	ID             string            `gorm:"column:id;primaryKey"`
	WalletID       string            `gorm:"column:wallet_id;index;not null"`
	Type           TransactionType   `gorm:"column:type;type:varchar(32);not null"`
	Status         TransactionStatus `gorm:"column:status;type:varchar(32);not null"`
	Amount         int64             `gorm:"column:amount;not null"`
	BalanceBefore  int64             `gorm:"column:balance_before;not null"`
	BalanceAfter   int64             `gorm:"column:balance_after;not null"`
	IdempotencyKey string            `gorm:"column:idempotency_key;uniqueIndex;not null"`
	MissionRunID   string            `gorm:"column:mission_run_id;index"`
	Metadata       datatypes.JSON    `gorm:"column:metadata"`
	CreatedAt      time.Time         `gorm:"column:created_at"`
}
