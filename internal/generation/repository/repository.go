package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() generationdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, req *generationdomain.GenerationRequest, job *generationdomain.GenerationJob) error {
	if err := db.WithContext(ctx).Create(req).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Create(job).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*generationdomain.GenerationRequest, error) {
	var req generationdomain.GenerationRequest
	err := db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, generationdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *repo) FindJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*generationdomain.GenerationJob, error) {
	var job generationdomain.GenerationJob
	err := db.WithContext(ctx).Where("generation_request_id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, generationdomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repo) UpdateProgress(ctx context.Context, db *gorm.DB, id snowflake.ID, result map[string]any) error {
	encoded, err := encodeResult(result)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	// The projection must move in the same atomic step as the canonical row.
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`UPDATE generation_requests SET result = ?, updated_at = ? WHERE id = ? AND status = ?`,
			encoded, now, id, generationdomain.StatusPending,
		).Error; err != nil {
			return err
		}
		return tx.Exec(
			`UPDATE generation_jobs SET result = ?, updated_at = ? WHERE generation_request_id = ? AND status = ?`,
			encoded, now, id, generationdomain.StatusPending,
		).Error
	})
}

func (r *repo) CompletePending(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	status generationdomain.RequestStatus,
	result map[string]any,
	errMsg *string,
) (bool, error) {
	if !status.Terminal() {
		return false, errors.New("completion status must be terminal")
	}
	encoded, err := encodeResult(result)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()

	update := db.WithContext(ctx).Exec(
		`UPDATE generation_requests
		 SET status = ?, result = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, encoded, errMsg, now, id, generationdomain.StatusPending,
	)
	if update.Error != nil {
		return false, update.Error
	}
	if update.RowsAffected == 0 {
		// Lost the race to another completion source. Expected, not an error.
		return false, nil
	}

	if err := db.WithContext(ctx).Exec(
		`UPDATE generation_jobs
		 SET status = ?, result = ?, error = ?, updated_at = ?
		 WHERE generation_request_id = ?`,
		status, encoded, errMsg, now, id,
	).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) MarkDelivered(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	now := time.Now().UTC()
	result := db.WithContext(ctx).Exec(
		`UPDATE generation_jobs
		 SET delivered = ?, delivered_at = ?, updated_at = ?
		 WHERE generation_request_id = ? AND delivered = ?`,
		true, now, now, id, false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) OldestPendingAgeSeconds(ctx context.Context, db *gorm.DB) (float64, error) {
	var oldest *time.Time
	err := db.WithContext(ctx).
		Raw(`SELECT MIN(created_at) FROM generation_requests WHERE status = ?`, generationdomain.StatusPending).
		Scan(&oldest).Error
	if err != nil || oldest == nil {
		return 0, err
	}
	return time.Since(*oldest).Seconds(), nil
}

// encodeResult stores results as JSON text so raw-SQL updates stay portable
// across the postgres/mysql/sqlite dialects.
func encodeResult(result map[string]any) (any, error) {
	if result == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}
