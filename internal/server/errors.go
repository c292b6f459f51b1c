package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inkflow-ai/inkflow/internal/callback"
	creditsdomain "github.com/inkflow-ai/inkflow/internal/credits/domain"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "authentication required",
		}

	case errors.Is(err, generationdomain.ErrNotOwner):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "resource belongs to another user",
		}

	case errors.Is(err, creditsdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_credits",
			Message: "not enough credits for this operation",
		}

	case errors.Is(err, creditsdomain.ErrUnknownAccount):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "no_credit_account",
			Message: "no credit account exists for this user",
		}

	case errors.Is(err, creditsdomain.ErrDebitConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "account is being modified concurrently, retry",
		}

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many generation requests, slow down",
		}

	case errors.Is(err, generationdomain.ErrNotFound),
		errors.Is(err, callback.ErrMismatch),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "resource not found",
		}

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, callback.ErrMalformed),
		errors.Is(err, generationdomain.ErrInvalidRequestType),
		errors.Is(err, generationdomain.ErrInvalidUser),
		errors.Is(err, creditsdomain.ErrInvalidUser),
		errors.Is(err, creditsdomain.ErrInvalidAmount):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}
