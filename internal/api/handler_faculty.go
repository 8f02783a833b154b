package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"faculty-status-backend/internal/board"
	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/watch"
)

// GetFaculty handles GET /api/faculty, the dashboard card list.
func (h *Handler) GetFaculty(c *gin.Context) {
	if h.cache.Loading() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "loading"})
		return
	}

	tab, err := board.ParseTab(c.Query("tab"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter, err := board.ParseFilter(c.Query("status"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page := 1
	if p := c.Query("page"); p != "" {
		page, err = strconv.Atoi(p)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
			return
		}
	}

	session, ok := h.optionalSession(c)
	if !ok {
		return
	}
	var mine []model.Faculty
	var subscribed func(string) bool
	if session != nil {
		mine = session.Faculty()
		subscribed = session.IsSubscribed
	} else if tab == board.TabMy {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session is required for the MY tab"})
		return
	}

	cards := board.Build(h.cache.View(), board.Query{Tab: tab, Search: c.Query("q"), Filter: filter}, mine, subscribed)
	c.JSON(http.StatusOK, board.Paginate(cards, page))
}

// GetFacultyCard handles GET /api/faculty/:cabin_id.
func (h *Handler) GetFacultyCard(c *gin.Context) {
	if h.cache.Loading() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "loading"})
		return
	}

	session, ok := h.optionalSession(c)
	if !ok {
		return
	}
	var subscribed func(string) bool
	if session != nil {
		subscribed = session.IsSubscribed
	}

	card, found := board.Lookup(h.cache.View(), c.Param("cabin_id"), subscribed)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "faculty not found"})
		return
	}
	c.JSON(http.StatusOK, card)
}

// optionalSession resolves the "session" query parameter. It writes a 404
// and reports false when the parameter names an unknown session.
func (h *Handler) optionalSession(c *gin.Context) (*watch.Session, bool) {
	id := c.Query("session")
	if id == "" {
		return nil, true
	}
	s, ok := h.sessions.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return s, true
}
