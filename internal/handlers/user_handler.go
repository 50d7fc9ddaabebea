package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taskhub/internal/models"
	"taskhub/internal/services"
)

type UserHandler struct {
	service services.UserService
	resp    *Responder
}

func NewUserHandler(service services.UserService, resp *Responder) *UserHandler {
	return &UserHandler{service: service, resp: resp}
}

type userListQuery struct {
	Page  *int   `form:"page" binding:"omitnil,min=1"`
	Limit *int   `form:"limit" binding:"omitnil,min=1,max=100"`
	Role  string `form:"role" binding:"omitempty,role"`
}

type changeRoleRequest struct {
	Role string `json:"role" binding:"required,role"`
}

func (r *changeRoleRequest) normalize() {
	r.Role = strings.TrimSpace(r.Role)
}

// GET /users
func (h *UserHandler) List(c *gin.Context) {
	var q userListQuery
	if !bindQuery(c, &q) {
		return
	}
	page, limit := pageParams(q.Page, q.Limit)

	filter := models.UserFilter{Limit: limit, Offset: models.PageOffset(page, limit)}
	if q.Role != "" {
		filter.Role = &q.Role
	}

	users, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.resp.Error(c, "[user][list]", err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"users":      users,
		"pagination": models.NewPagination(page, limit, total),
	}, "")
}

// PATCH /users/:id/toggle-status
func (h *UserHandler) ToggleStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	user, err := h.service.ToggleStatus(c.Request.Context(), getIdentity(c), id)
	if err != nil {
		h.resp.Error(c, "[user][toggle-status]", err)
		return
	}

	msg := "User deactivated successfully"
	if user.IsActive {
		msg = "User activated successfully"
	}
	respondData(c, http.StatusOK, gin.H{"user": user}, msg)
}

// PATCH /users/:id/role
func (h *UserHandler) ChangeRole(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req changeRoleRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.service.ChangeRole(c.Request.Context(), getIdentity(c), id, req.Role)
	if err != nil {
		h.resp.Error(c, "[user][role]", err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"user": user}, "User role updated successfully")
}
