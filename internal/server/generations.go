package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"go.uber.org/zap"
)

type createGenerationRequest struct {
	Type   string         `json:"type" binding:"required"`
	Params map[string]any `json:"params"`
	Model  string         `json:"model"`
	ChatID int64          `json:"chat_id"`
}

func (s *Server) CreateGeneration(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()

	if s.limiter.Enabled() {
		result, err := s.limiter.AllowUser(ctx, uid.String())
		if err != nil {
			// A broken limiter must not take admission down with it.
			s.log.Warn("rate limiter unavailable, admitting", zap.Error(err))
		} else if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			AbortWithError(c, ErrRateLimited)
			return
		}

		// Serialize same-account admissions so concurrent requests debit in
		// turn instead of fighting over the balance row.
		token, acquired, lockErr := s.limiter.TryLockUser(ctx, uid.String())
		if lockErr != nil {
			s.log.Warn("admission lock unavailable, admitting", zap.Error(lockErr))
		} else if !acquired {
			AbortWithError(c, ErrRateLimited)
			return
		} else {
			defer func() {
				if err := s.limiter.ReleaseUser(ctx, uid.String(), token); err != nil {
					s.log.Warn("failed to release admission lock", zap.Error(err))
				}
			}()
		}
	}

	resp, err := s.gensvc.Create(ctx, generationdomain.CreateRequest{
		UserID: uid.String(),
		Type:   strings.TrimSpace(req.Type),
		Params: req.Params,
		Model:  strings.TrimSpace(req.Model),
		ChatID: req.ChatID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusAccepted
	if resp.Status.Terminal() {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (s *Server) GetGeneration(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	raw := strings.TrimSpace(c.Param("id"))
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed <= 0 {
		AbortWithError(c, generationdomain.ErrNotFound)
		return
	}

	req, err := s.gensvc.GetByID(c.Request.Context(), uid, snowflake.ID(parsed))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
