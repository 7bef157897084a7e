package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/mcpanel/internal/api/middleware"
	"github.com/TheGojiOG/mcpanel/internal/auth"
	"github.com/TheGojiOG/mcpanel/internal/config"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	users      []config.APIUser
	jwtManager *auth.JWTManager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users []config.APIUser, jwtManager *auth.JWTManager) *AuthHandler {
	return &AuthHandler{
		users:      users,
		jwtManager: jwtManager,
	}
}

// Login exchanges a username and password for a bearer token
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roles, err := auth.Authenticate(h.users, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			log.Printf("[Auth] Failed login for %q from %s", req.Username, c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check credentials"})
		return
	}

	token, expires, err := h.jwtManager.GenerateToken(req.Username, roles, 0)
	if err != nil {
		log.Printf("[Auth] Failed to issue token for %q: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires,
		"roles":      roles,
	})
}

// GetCurrentUser returns the identity carried by the caller's token
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	response := gin.H{
		"subject": claims.Subject,
		"roles":   claims.Roles,
	}
	if claims.ExpiresAt != nil {
		response["expires_at"] = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, response)
}
