package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/auth"
	"chat-sync/internal/media"
	"chat-sync/internal/telemetry"
)

// AuthHandler manages registration and login.
type AuthHandler struct {
	auth    *auth.Service
	emitter *telemetry.AuditEmitter
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(authSvc *auth.Service, emitter *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{auth: authSvc, emitter: emitter}
}

// Register creates an account. Accepts JSON, or multipart form data
// when an avatar file is attached.
func (h *AuthHandler) Register(c *gin.Context) {
	input, ok := h.bindRegister(c)
	if !ok {
		return
	}

	user, token, err := h.auth.Register(c.Request.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, auth.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, media.ErrUpload):
			c.JSON(http.StatusBadGateway, gin.H{"error": "avatar upload failed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create account"})
		}
		return
	}

	h.emitter.Emit(c.Request.Context(), "user_registered", user.Username, requestIDFromContext(c), user.ID)
	c.JSON(http.StatusCreated, gin.H{"user": user, "token": token})
}

// Login authenticates an account.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, token, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user, "token": token})
}

func (h *AuthHandler) bindRegister(c *gin.Context) (auth.RegisterInput, bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		input := auth.RegisterInput{
			Username: c.PostForm("username"),
			Email:    c.PostForm("email"),
			Password: c.PostForm("password"),
		}
		if input.Username == "" || input.Email == "" || input.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username, email and password are required"})
			return auth.RegisterInput{}, false
		}

		if file, err := c.FormFile("avatar"); err == nil {
			f, err := file.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not read avatar"})
				return auth.RegisterInput{}, false
			}
			defer f.Close()
			data, err := io.ReadAll(f)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not read avatar"})
				return auth.RegisterInput{}, false
			}
			input.AvatarFilename = file.Filename
			input.AvatarData = data
		}
		return input, true
	}

	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return auth.RegisterInput{}, false
	}
	return auth.RegisterInput{Username: req.Username, Email: req.Email, Password: req.Password}, true
}
