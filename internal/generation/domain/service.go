package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidUser        = errors.New("invalid user")
	ErrInvalidRequestType = errors.New("invalid request type")
	ErrNotFound           = errors.New("generation request not found")
	ErrNotOwner           = errors.New("generation request belongs to another user")
)

// CreateRequest is the admission call payload.
type CreateRequest struct {
	UserID string         `json:"user_id"`
	Type   string         `json:"type" binding:"required"`
	Params map[string]any `json:"params"`
	Model  string         `json:"model"`
	// ChatID is set when the request originates from a chat integration and
	// should be pushed back there once completed.
	ChatID int64 `json:"chat_id"`
}

// CreateResponse echoes the created request. Synchronous-mode types return a
// terminal status and result immediately.
type CreateResponse struct {
	RequestID string         `json:"request_id"`
	Status    RequestStatus  `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     *string        `json:"error,omitempty"`
}

// Service is the request store plus dispatcher.
type Service interface {
	// Create debits the account, writes the canonical record and projection
	// with status pending, then routes the request to its executor. Direct
	// types complete within the call.
	Create(ctx context.Context, req CreateRequest) (*CreateResponse, error)

	// GetByID returns the request if it belongs to the user.
	GetByID(ctx context.Context, userID, id snowflake.ID) (*GenerationRequest, error)
}

// DirectExecutor produces content synchronously within the admission call.
type DirectExecutor interface {
	Execute(ctx context.Context, req *GenerationRequest)
}

// RelayExecutor fires the request at an external automation pipeline whose
// completion arrives later through the callback router.
type RelayExecutor interface {
	Launch(req *GenerationRequest)
}

// PollingLauncher submits the request to a long-running job API and polls it
// to completion.
type PollingLauncher interface {
	Launch(req *GenerationRequest)
}
