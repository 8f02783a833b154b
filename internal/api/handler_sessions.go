package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/watch"
)

// CreateSession handles POST /api/sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	s := h.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{"session_id": s.ID()})
}

// DeleteSession handles DELETE /api/sessions/:session_id. The session's
// streams are closed and its push subscriptions removed with it.
func (h *Handler) DeleteSession(c *gin.Context) {
	id := c.Param("session_id")
	if !h.sessions.Delete(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	h.hub.Disconnect(id)
	if h.db != nil {
		if err := h.db.Where("session_id = ?", id).Delete(&model.PushSubscription{}).Error; err != nil {
			log.Printf("Error deleting push subscriptions of session %s: %v", id, err)
		}
	}
	c.Status(http.StatusNoContent)
}

// GetSubscriptions handles GET /api/sessions/:session_id/subscriptions.
func (h *Handler) GetSubscriptions(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": s.Pending()})
}

type postSubscriptionRequest struct {
	CabinID string `json:"cabinId" binding:"required"`
}

// PostSubscription handles POST /api/sessions/:session_id/subscriptions.
func (h *Handler) PostSubscription(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req postSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cabinId is required"})
		return
	}

	if !s.Subscribe(c.Request.Context(), req.CabinID) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to subscribe"})
		return
	}
	h.purge()
	c.JSON(http.StatusCreated, gin.H{"cabinId": req.CabinID, "subscribed": true})
}

type putFacultyRequest struct {
	Faculty []model.Faculty `json:"faculty"`
}

// PutFaculty handles PUT /api/sessions/:session_id/faculty, storing the
// personalized list shown on the MY tab.
func (h *Handler) PutFaculty(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var req putFacultyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, f := range req.Faculty {
		if f.CabinID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "every faculty needs a cabinId"})
			return
		}
	}

	s.SetFaculty(req.Faculty)
	h.purge()
	c.Status(http.StatusNoContent)
}

func (h *Handler) session(c *gin.Context) (*watch.Session, bool) {
	s, ok := h.sessions.Get(c.Param("session_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return s, true
}
