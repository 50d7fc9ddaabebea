package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskhub/internal/middleware"
	"taskhub/internal/services"
)

// FieldError is one entry of the "errors" list of a validation failure.
type FieldError struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Location string `json:"location"`
}

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func respondData(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Envelope{Success: true, Data: data, Message: message})
}

func respondMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, Envelope{Success: false, Message: message})
}

func respondValidation(c *gin.Context, errs []FieldError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Envelope{
		Success: false,
		Message: "Validation failed",
		Errors:  errs,
	})
}

// Responder turns errors into envelopes. Details of unexpected errors are
// only exposed outside production.
type Responder struct {
	log          logrus.FieldLogger
	exposeErrors bool
}

func NewResponder(log logrus.FieldLogger, exposeErrors bool) *Responder {
	return &Responder{log: log, exposeErrors: exposeErrors}
}

// Error maps service errors to statuses. tag is the log prefix of the caller.
func (r *Responder) Error(c *gin.Context, tag string, err error) {
	switch {
	case errors.Is(err, services.ErrTaskNotFound):
		respondMessage(c, http.StatusNotFound, "Task not found")
	case errors.Is(err, services.ErrUserNotFound):
		respondMessage(c, http.StatusNotFound, "User not found")
	case errors.Is(err, services.ErrForbidden):
		respondMessage(c, http.StatusForbidden, "Access denied")
	case errors.Is(err, services.ErrAssigneeNotFound):
		respondMessage(c, http.StatusBadRequest, "Assigned user not found")
	case errors.Is(err, services.ErrSelfDeactivation):
		respondMessage(c, http.StatusBadRequest, "You cannot deactivate your own account")
	case errors.Is(err, services.ErrSelfRoleChange):
		respondMessage(c, http.StatusBadRequest, "You cannot change your own role")
	case errors.Is(err, services.ErrUserExists):
		respondMessage(c, http.StatusBadRequest, "User with this email or username already exists")
	case errors.Is(err, services.ErrInvalidRole):
		respondValidation(c, []FieldError{{Field: "role", Message: "Role must be either user or admin", Location: "body"}})
	case errors.Is(err, services.ErrInvalidCredentials):
		respondMessage(c, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, services.ErrAccountInactive):
		respondMessage(c, http.StatusUnauthorized, "Account is deactivated")
	default:
		r.ServerError(c, tag, err)
	}
}

// ServerError logs err and responds with the generic 500 envelope.
func (r *Responder) ServerError(c *gin.Context, tag string, err error) {
	r.log.WithError(err).WithFields(logrus.Fields{
		"request_id": middleware.RequestIDFromContext(c),
		"path":       c.Request.URL.Path,
	}).Error(tag + "[err]")

	body := Envelope{Success: false, Message: "Server error"}
	if r.exposeErrors && err != nil {
		body.Error = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, body)
}

// NotFound answers unknown routes and methods.
func (r *Responder) NotFound(c *gin.Context) {
	respondMessage(c, http.StatusNotFound, "Route not found")
}
