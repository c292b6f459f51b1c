// Package domain contains persistence models and contracts for the credit
// ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionType distinguishes ledger entry kinds.
type TransactionType string

const (
	TransactionTypeDebit TransactionType = "debit"
	TransactionTypeGrant TransactionType = "grant"
)

// CreditBalance is the per-account ledger row. Balance and ExtraCredits never
// go negative; OverageUsed only grows, and only for plans that allow it.
type CreditBalance struct {
	UserID            snowflake.ID `gorm:"primaryKey" json:"user_id"`
	Balance           int64        `gorm:"not null;default:0" json:"balance"`
	ExtraCredits      int64        `gorm:"not null;default:0" json:"extra_credits"`
	OverageUsed       int64        `gorm:"not null;default:0" json:"overage_used"`
	PlanAllowsOverage bool         `gorm:"not null;default:false" json:"plan_allows_overage"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (CreditBalance) TableName() string { return "credit_balances" }

// Spendable is the total the account can cover without drawing overage.
func (b CreditBalance) Spendable() int64 { return b.Balance + b.ExtraCredits }

// CreditTransaction is an immutable append-only ledger entry, written in the
// same atomic unit as the balance mutation.
type CreditTransaction struct {
	ID                  snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID              snowflake.ID    `gorm:"not null;index" json:"user_id"`
	Type                TransactionType `gorm:"type:text;not null" json:"type"`
	Amount              int64           `gorm:"not null" json:"amount"`
	BalanceBefore       int64           `gorm:"not null" json:"balance_before"`
	BalanceAfter        int64           `gorm:"not null" json:"balance_after"`
	OperationType       string          `gorm:"type:text;not null" json:"operation_type"`
	GenerationRequestID *snowflake.ID   `gorm:"index" json:"generation_request_id,omitempty"`
	CreatedAt           time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// Availability is the advisory result of a pre-debit check.
type Availability struct {
	Available bool   `json:"available"`
	Cost      int64  `json:"cost"`
	Reason    string `json:"reason,omitempty"`
}
