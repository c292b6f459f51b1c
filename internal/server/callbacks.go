package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleGenerationCallback accepts completion reports from external
// pipelines. The router decides whether the payload completes, fails or is a
// redundant redelivery; redeliveries still get a 200 so the sender stops
// retrying. Responses use the pipeline acknowledgement shape
// {"success": bool, "message"|"error": string} rather than the API error
// envelope, since automation senders only inspect the success flag.
func (s *Server) HandleGenerationCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		callbackReject(c, ErrInvalidRequest)
		return
	}

	if err := s.callbacks.Handle(c.Request.Context(), body); err != nil {
		callbackReject(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "ok"})
}

func callbackReject(c *gin.Context, err error) {
	status, payload := mapError(err)
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": payload.Message})
}
