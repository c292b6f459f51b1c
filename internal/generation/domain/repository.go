package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists the canonical record and its projection. Callers pass
// the db handle so multiple writes can share one transaction.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, req *GenerationRequest, job *GenerationJob) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GenerationRequest, error)
	FindJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*GenerationJob, error)

	// UpdateProgress writes a partial result while the request stays pending.
	// Terminal requests are left untouched.
	UpdateProgress(ctx context.Context, db *gorm.DB, id snowflake.ID, result map[string]any) error

	// CompletePending atomically flips a pending request to the given
	// terminal status in both tables. Returns false when the request was
	// already terminal; the caller treats that as an expected no-op.
	CompletePending(ctx context.Context, db *gorm.DB, id snowflake.ID, status RequestStatus, result map[string]any, errMsg *string) (bool, error)

	// MarkDelivered sets the delivery record exactly once. Returns false when
	// the job was already marked delivered.
	MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)

	// OldestPendingAgeSeconds supports the pending-age gauge; zero when no
	// request is pending.
	OldestPendingAgeSeconds(ctx context.Context, db *gorm.DB) (float64, error)
}
