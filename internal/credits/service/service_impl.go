package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	creditsdomain "github.com/inkflow-ai/inkflow/internal/credits/domain"
	obsmetrics "github.com/inkflow-ai/inkflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// debitRetries bounds the optimistic-concurrency loop inside Debit. Each
// retry re-reads the ledger row, so a conflicting writer only costs one
// round trip.
const debitRetries = 3

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Costs   CostTable
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	costs   CostTable
	metrics *obsmetrics.Metrics
}

func NewService(p Params) creditsdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("credits.service"),
		genID:   p.GenID,
		costs:   p.Costs,
		metrics: p.Metrics,
	}
}

func (s *Service) CheckAvailable(ctx context.Context, userID snowflake.ID, operationType string) (creditsdomain.Availability, error) {
	if userID == 0 {
		return creditsdomain.Availability{}, creditsdomain.ErrInvalidUser
	}
	cost := s.costFor(operationType)

	balance, err := s.findBalance(ctx, s.db, userID)
	if err != nil {
		if errors.Is(err, creditsdomain.ErrUnknownAccount) {
			return creditsdomain.Availability{Available: false, Cost: cost, Reason: "no credit account"}, nil
		}
		return creditsdomain.Availability{}, err
	}

	if balance.Spendable() >= cost || balance.PlanAllowsOverage {
		return creditsdomain.Availability{Available: true, Cost: cost}, nil
	}
	return creditsdomain.Availability{Available: false, Cost: cost, Reason: "insufficient credits"}, nil
}

func (s *Service) Debit(ctx context.Context, userID snowflake.ID, operationType string, requestID *snowflake.ID) (*creditsdomain.CreditTransaction, error) {
	if userID == 0 {
		return nil, creditsdomain.ErrInvalidUser
	}
	cost := s.costFor(operationType)

	var txn *creditsdomain.CreditTransaction
	for attempt := 0; attempt < debitRetries; attempt++ {
		balance, err := s.findBalance(ctx, s.db, userID)
		if err != nil {
			return nil, err
		}

		next, err := applyDebit(*balance, cost)
		if err != nil {
			return nil, err
		}

		txn, err = s.writeDebit(ctx, *balance, next, cost, operationType, requestID)
		if err == nil {
			break
		}
		if !errors.Is(err, creditsdomain.ErrDebitConflict) {
			return nil, err
		}
		txn = nil
	}
	if txn == nil {
		return nil, creditsdomain.ErrDebitConflict
	}

	if s.metrics != nil {
		s.metrics.CreditsDebited.WithLabelValues(operationType).Add(float64(cost))
	}
	return txn, nil
}

func (s *Service) CheckAndDebit(ctx context.Context, userID snowflake.ID, operationType string, requestID *snowflake.ID) (*creditsdomain.CreditTransaction, error) {
	availability, err := s.CheckAvailable(ctx, userID, operationType)
	if err != nil {
		return nil, err
	}
	if !availability.Available {
		return nil, creditsdomain.ErrInsufficientCredits
	}
	return s.Debit(ctx, userID, operationType, requestID)
}

func (s *Service) Grant(ctx context.Context, userID snowflake.ID, amount int64, extra bool) error {
	if userID == 0 {
		return creditsdomain.ErrInvalidUser
	}
	if amount <= 0 {
		return creditsdomain.ErrInvalidAmount
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := s.findBalance(ctx, tx, userID)
		if errors.Is(err, creditsdomain.ErrUnknownAccount) {
			balance = &creditsdomain.CreditBalance{UserID: userID}
			if err := tx.WithContext(ctx).Create(balance).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		before := balance.Spendable()
		column := "balance"
		if extra {
			column = "extra_credits"
		}
		if err := tx.WithContext(ctx).Exec(
			`UPDATE credit_balances SET `+column+` = `+column+` + ?, updated_at = ? WHERE user_id = ?`,
			amount, time.Now().UTC(), userID,
		).Error; err != nil {
			return err
		}

		return tx.WithContext(ctx).Create(&creditsdomain.CreditTransaction{
			ID:            s.genID.Generate(),
			UserID:        userID,
			Type:          creditsdomain.TransactionTypeGrant,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  before + amount,
			OperationType: "grant",
			CreatedAt:     time.Now().UTC(),
		}).Error
	})
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (*creditsdomain.CreditBalance, error) {
	if userID == 0 {
		return nil, creditsdomain.ErrInvalidUser
	}
	return s.findBalance(ctx, s.db, userID)
}

// writeDebit persists the new balance and the transaction row in one atomic
// unit. The UPDATE is guarded on the previously observed values, so two
// concurrent debits can never both succeed against the same snapshot.
func (s *Service) writeDebit(
	ctx context.Context,
	prev, next creditsdomain.CreditBalance,
	cost int64,
	operationType string,
	requestID *snowflake.ID,
) (*creditsdomain.CreditTransaction, error) {
	txn := &creditsdomain.CreditTransaction{
		ID:                  s.genID.Generate(),
		UserID:              prev.UserID,
		Type:                creditsdomain.TransactionTypeDebit,
		Amount:              cost,
		BalanceBefore:       prev.Spendable(),
		BalanceAfter:        next.Spendable(),
		OperationType:       operationType,
		GenerationRequestID: requestID,
		CreatedAt:           time.Now().UTC(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Exec(
			`UPDATE credit_balances
			 SET balance = ?, extra_credits = ?, overage_used = ?, updated_at = ?
			 WHERE user_id = ? AND balance = ? AND extra_credits = ? AND overage_used = ?`,
			next.Balance,
			next.ExtraCredits,
			next.OverageUsed,
			time.Now().UTC(),
			prev.UserID,
			prev.Balance,
			prev.ExtraCredits,
			prev.OverageUsed,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return creditsdomain.ErrDebitConflict
		}
		return tx.WithContext(ctx).Create(txn).Error
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// applyDebit computes the post-debit ledger state using the fixed precedence:
// extra credits first, then balance, then overage when allowed.
func applyDebit(balance creditsdomain.CreditBalance, cost int64) (creditsdomain.CreditBalance, error) {
	remaining := cost

	fromExtra := min(balance.ExtraCredits, remaining)
	balance.ExtraCredits -= fromExtra
	remaining -= fromExtra

	fromBalance := min(balance.Balance, remaining)
	balance.Balance -= fromBalance
	remaining -= fromBalance

	if remaining > 0 {
		if !balance.PlanAllowsOverage {
			return creditsdomain.CreditBalance{}, creditsdomain.ErrInsufficientCredits
		}
		balance.OverageUsed += remaining
	}
	return balance, nil
}

func (s *Service) findBalance(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*creditsdomain.CreditBalance, error) {
	var balance creditsdomain.CreditBalance
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, creditsdomain.ErrUnknownAccount
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (s *Service) costFor(operationType string) int64 {
	cost, ok := s.costs.CostFor(operationType)
	if !ok {
		s.log.Warn("no cost configured for operation, defaulting to 1",
			zap.String("operation_type", operationType))
		return 1
	}
	return cost
}
