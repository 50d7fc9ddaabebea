package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db      Pinger
	started time.Time
	resp    *Responder
}

func NewHealthHandler(db Pinger, resp *Responder) *HealthHandler {
	return &HealthHandler{db: db, started: time.Now(), resp: resp}
}

// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.resp.log.WithError(err).Warn("[health] database unreachable")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, Envelope{Success: false, Message: "Database unavailable"})
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Truncate(time.Second).String(),
	}, "")
}
