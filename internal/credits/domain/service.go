package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidUser         = errors.New("invalid user")
	ErrUnknownAccount      = errors.New("unknown credit account")
	ErrInvalidAmount       = errors.New("invalid credit amount")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDebitConflict       = errors.New("debit conflicted with concurrent ledger mutation")
)

// Service is the credit ledger. Debits are strictly serialized per account;
// a debit that cannot be fully covered fails atomically with no partial
// mutation. Debited credits are not refunded when a generation later fails.
type Service interface {
	// CheckAvailable is a pure read; the answer is advisory and re-validated
	// inside Debit.
	CheckAvailable(ctx context.Context, userID snowflake.ID, operationType string) (Availability, error)

	// Debit atomically consumes extra credits first, then balance, then
	// overage when the plan allows it.
	Debit(ctx context.Context, userID snowflake.ID, operationType string, requestID *snowflake.ID) (*CreditTransaction, error)

	// CheckAndDebit composes the two for the admission step.
	CheckAndDebit(ctx context.Context, userID snowflake.ID, operationType string, requestID *snowflake.ID) (*CreditTransaction, error)

	// Grant tops up balance or extra credits. Replenishment flows live
	// outside the engine; this is the bookkeeping primitive they use.
	Grant(ctx context.Context, userID snowflake.ID, amount int64, extra bool) error

	Balance(ctx context.Context, userID snowflake.ID) (*CreditBalance, error)
}
