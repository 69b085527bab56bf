package sandboxtest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport-sandbox/core"
)

// Handlers contains HTTP handlers for the sandbox endpoints
type Handlers struct {
	service *Service
}

// NewHandlers creates new sandbox handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

func abortWith(c *gin.Context, err error) {
	var apiErr *core.APIError
	if errors.As(err, &apiErr) {
		c.AbortWithStatusJSON(apiErr.StatusCode, gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}

	statusCode := http.StatusInternalServerError
	errorMsg := "Internal error"

	// Map specific errors to appropriate status codes
	switch {
	case errors.Is(err, core.ErrInvalidChallenge):
		statusCode = http.StatusBadRequest
		errorMsg = "Invalid or already used challenge"
	case errors.Is(err, core.ErrInvalidSignature):
		statusCode = http.StatusUnauthorized
		errorMsg = "Invalid signature"
	case errors.Is(err, core.ErrTokenExpired):
		statusCode = http.StatusUnauthorized
		errorMsg = "Token expired"
	case errors.Is(err, core.ErrTokenInvalidated):
		statusCode = http.StatusUnauthorized
		errorMsg = "Token has been invalidated"
	case errors.Is(err, core.ErrInvalidToken), errors.Is(err, core.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
		errorMsg = "Invalid token"
	case errors.Is(err, core.ErrNotFound):
		statusCode = http.StatusNotFound
		errorMsg = "User not found"
	}

	c.AbortWithStatusJSON(statusCode, gin.H{"error": errorMsg})
}

// Challenge handles the challenge request
func (h *Handlers) Challenge(c *gin.Context) {
	var req struct {
		Address string `json:"polkadotAddress" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	challenge, err := h.service.CreateChallenge(c.Request.Context(), req.Address)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// Auth handles the login request
func (h *Handlers) Auth(c *gin.Context) {
	var req core.AuthRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Address == "" || req.Signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.service.Authenticate(req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Refresh handles token refresh
func (h *Handlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	accessToken, refreshToken, err := h.service.Refresh(req.RefreshToken)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

// Logout handles session logout
func (h *Handlers) Logout(c *gin.Context) {
	h.service.Logout(currentSession(c))
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns the profile of the address in the path
func (h *Handlers) Me(c *gin.Context) {
	sess := currentSession(c)
	address := c.Param("address")
	if address != sess.Address {
		c.JSON(http.StatusForbidden, gin.H{"error": "Address does not match the session"})
		return
	}

	user, err := h.service.Me(address)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// RegenerateKey issues a new API key
func (h *Handlers) RegenerateKey(c *gin.Context) {
	var req core.SignedChallenge
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	key, err := h.service.RegenerateKey(currentSession(c), req)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"apiKey": key})
}

// Stats returns usage statistics
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Stats(currentSession(c).Address))
}

// Logs returns a page of request logs
func (h *Handlers) Logs(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	c.JSON(http.StatusOK, h.service.Logs(c.Query("method"), page, limit))
}

// Origins returns the allowed origins
func (h *Handlers) Origins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"origins": h.service.Origins()})
}

// UpdateOrigins replaces the allowed origins
func (h *Handlers) UpdateOrigins(c *gin.Context) {
	var req struct {
		Origins []string `json:"origins"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"origins": h.service.SetOrigins(req.Origins)})
}
