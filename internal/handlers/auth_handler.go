package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskhub/internal/models"
	"taskhub/internal/services"
	"taskhub/internal/utils"
)

type AuthHandler struct {
	userService services.UserService
	tokens      *utils.TokenManager
	resp        *Responder
	log         logrus.FieldLogger
}

func NewAuthHandler(userService services.UserService, tokens *utils.TokenManager, resp *Responder, log logrus.FieldLogger) *AuthHandler {
	return &AuthHandler{userService: userService, tokens: tokens, resp: resp, log: log}
}

type registerRequest struct {
	Username string `json:"username" binding:"required,min=3,max=30,username"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

func (r *registerRequest) normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (r *loginRequest) normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

// POST /auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.Register(c.Request.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.resp.Error(c, "[auth][register]", err)
		return
	}

	token, ok := h.issue(c, user)
	if !ok {
		return
	}
	respondData(c, http.StatusCreated, gin.H{"user": user, "token": token}, "User registered successfully")
}

// POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	start := time.Now()

	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.userService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.log.WithError(err).Info("[auth][login] rejected")
		h.resp.Error(c, "[auth][login]", err)
		return
	}

	token, ok := h.issue(c, user)
	if !ok {
		return
	}
	h.log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"took":    time.Since(start).Truncate(time.Millisecond),
	}).Info("[auth][login] success")
	respondData(c, http.StatusOK, gin.H{"user": user, "token": token}, "Login successful")
}

// GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		respondMessage(c, http.StatusUnauthorized, "Not authorized")
		return
	}
	respondData(c, http.StatusOK, gin.H{"user": user}, "")
}

// POST /auth/refresh issues a new token for the current identity with its current role.
func (h *AuthHandler) Refresh(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		respondMessage(c, http.StatusUnauthorized, "Not authorized")
		return
	}
	token, ok := h.issue(c, user)
	if !ok {
		return
	}
	respondData(c, http.StatusOK, gin.H{"token": token}, "")
}

func (h *AuthHandler) issue(c *gin.Context, user *models.User) (string, bool) {
	token, _, err := h.tokens.Generate(user.ID, user.Role)
	if err != nil {
		h.resp.ServerError(c, "[auth][token]", err)
		return "", false
	}
	return token, true
}
