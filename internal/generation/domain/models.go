// Package domain contains the canonical generation request record, its
// compatibility projection and the engine contracts around them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RequestStatus is the lifecycle state of a generation request. A request
// never transitions out of a terminal state.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusCompleted RequestStatus = "completed"
	StatusFailed    RequestStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RequestType identifies what kind of content is produced and thereby which
// execution strategy serves it.
type RequestType string

const (
	TypeWorksheet   RequestType = "worksheet"
	TypeQuiz        RequestType = "quiz"
	TypeImage       RequestType = "image"
	TypeVideo       RequestType = "video"
	TypeInfographic RequestType = "infographic"
	TypeSlideDeck   RequestType = "slide_deck"
	TypeCourse      RequestType = "course"
)

// Strategy is the execution route chosen by the dispatcher.
type Strategy string

const (
	StrategyDirect  Strategy = "direct"
	StrategyRelay   Strategy = "relay"
	StrategyPolling Strategy = "polling"
)

// Strategy routes a request type to its executor. The decision is made once
// per request; each executor owns its own retry policy.
func (t RequestType) Strategy() (Strategy, bool) {
	switch t {
	case TypeWorksheet, TypeQuiz, TypeImage:
		return StrategyDirect, true
	case TypeVideo, TypeInfographic:
		return StrategyRelay, true
	case TypeSlideDeck, TypeCourse:
		return StrategyPolling, true
	default:
		return "", false
	}
}

// GenerationRequest is the canonical lifecycle record. It is created once by
// the admission step and mutated only by the completion applier, plus a
// progress-update path that may write partial results while pending.
type GenerationRequest struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID      `gorm:"not null;index" json:"user_id"`
	Type      RequestType       `gorm:"type:text;not null" json:"type"`
	Status    RequestStatus     `gorm:"type:text;not null;index" json:"status"`
	Params    datatypes.JSONMap `gorm:"type:jsonb" json:"params,omitempty"`
	Result    datatypes.JSONMap `gorm:"type:jsonb" json:"result,omitempty"`
	Error     *string           `gorm:"type:text" json:"error,omitempty"`
	Model     string            `gorm:"type:text;not null;default:''" json:"model"`
	CreatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (GenerationRequest) TableName() string { return "generation_requests" }

// GenerationJob is the compatibility projection kept for legacy readers,
// written in the same atomic step as the canonical record. It also carries
// the delivery record for the secondary channel.
type GenerationJob struct {
	GenerationRequestID snowflake.ID      `gorm:"primaryKey" json:"generation_request_id"`
	UserID              snowflake.ID      `gorm:"not null;index" json:"user_id"`
	Type                RequestType       `gorm:"type:text;not null" json:"type"`
	Status              RequestStatus     `gorm:"type:text;not null;index" json:"status"`
	Result              datatypes.JSONMap `gorm:"type:jsonb" json:"result,omitempty"`
	Error               *string           `gorm:"type:text" json:"error,omitempty"`
	ChatID              int64             `gorm:"not null;default:0" json:"chat_id"`
	Delivered           bool              `gorm:"not null;default:false" json:"delivered"`
	DeliveredAt         *time.Time        `gorm:"" json:"delivered_at,omitempty"`
	CreatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (GenerationJob) TableName() string { return "generation_jobs" }

// SupportsDelivery reports whether the request's origin has a secondary
// delivery channel.
func (j GenerationJob) SupportsDelivery() bool { return j.ChatID != 0 }
