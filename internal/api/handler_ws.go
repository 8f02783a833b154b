package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StreamSession handles GET /ws/sessions/:session_id. The first message is
// the session's current board.
func (h *Handler) StreamSession(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "streaming is not enabled"})
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}

	initial := boardMessage(s, h.cache.View())
	h.hub.ServeSession(c.Writer, c.Request, s.ID(), &initial)
}
