package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"faculty-status-backend/internal/portal"
)

// VTOPLogin handles POST /api/vtop-login.
func (h *Handler) VTOPLogin(c *gin.Context) {
	var req portal.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	res, err := h.portal.Login(c.Request.Context(), req)
	if err != nil {
		writePortalError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func writePortalError(c *gin.Context, err error) {
	var (
		authErr      *portal.AuthError
		transportErr *portal.TransportError
		statusErr    *portal.StatusError
	)
	switch {
	case errors.Is(err, portal.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
	case errors.Is(err, portal.ErrDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "VTOP fetcher is not configured"})
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Message, "details": authErr.Details})
	case errors.As(err, &statusErr):
		c.Data(statusErr.StatusCode, "application/json; charset=utf-8", statusErr.Body)
	case errors.As(err, &transportErr):
		log.Printf("VTOP fetcher error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": transportErr.Message, "details": transportErr.Details})
	default:
		log.Printf("VTOP login error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
	}
}
