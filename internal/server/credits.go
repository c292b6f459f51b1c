package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	creditsdomain "github.com/inkflow-ai/inkflow/internal/credits/domain"
)

func (s *Server) GetCreditBalance(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.creditsvc.Balance(c.Request.Context(), uid)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

type grantCreditsRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
	Extra  bool   `json:"extra"`
}

// GrantCredits is the internal replenishment hook used by billing jobs. It
// sits behind the shared-secret guard, not user auth.
func (s *Server) GrantCredits(c *gin.Context) {
	var req grantCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	parsed, err := strconv.ParseInt(strings.TrimSpace(req.UserID), 10, 64)
	if err != nil || parsed <= 0 {
		AbortWithError(c, creditsdomain.ErrInvalidUser)
		return
	}

	if err := s.creditsvc.Grant(c.Request.Context(), snowflake.ID(parsed), req.Amount, req.Extra); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
