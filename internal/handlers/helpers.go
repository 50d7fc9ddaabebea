package handlers

import (
	"github.com/gin-gonic/gin"

	"taskhub/internal/authz"
	"taskhub/internal/middleware"
	"taskhub/internal/models"
)

func getIdentity(c *gin.Context) authz.Identity {
	return authz.Identity{UserID: c.GetString(middleware.ContextUserID), Role: c.GetString(middleware.ContextRole)}
}

func currentUser(c *gin.Context) *models.User {
	v, ok := c.Get(middleware.ContextUser)
	if !ok {
		return nil
	}
	u, _ := v.(*models.User)
	return u
}

// pageParams applies the list defaults to optional page/limit values.
func pageParams(page, limit *int) (int, int) {
	p, l := 1, models.DefaultPageLimit
	if page != nil && *page > 0 {
		p = *page
	}
	if limit != nil && *limit > 0 {
		l = *limit
	}
	if l > models.MaxPageLimit {
		l = models.MaxPageLimit
	}
	return p, l
}
