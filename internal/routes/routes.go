package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskhub/internal/authz"
	"taskhub/internal/handlers"
	"taskhub/internal/middleware"
	"taskhub/internal/monitoring"
	"taskhub/internal/utils"
)

// Deps is everything the router needs. RateLimiter and Metrics are optional.
type Deps struct {
	Tokens      *utils.TokenManager
	Users       middleware.UserLookup
	Auth        *handlers.AuthHandler
	Tasks       *handlers.TaskHandler
	UsersAdmin  *handlers.UserHandler
	Health      *handlers.HealthHandler
	Responder   *handlers.Responder
	RateLimiter *middleware.RateLimiter
	Metrics     *monitoring.Metrics
}

func SetupRoutes(r *gin.Engine, d Deps, log logrus.FieldLogger) *gin.Engine {
	r.HandleMethodNotAllowed = false
	r.NoRoute(d.Responder.NotFound)
	r.NoMethod(d.Responder.NotFound)

	// ---- public
	r.GET("/health", d.Health.Health)
	if d.Metrics != nil {
		r.GET("/metrics", d.Metrics.Handler())
	}

	api := r.Group("/")
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Middleware())
	}
	auth := middleware.AuthMiddleware(d.Tokens, d.Users, log)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/register", d.Auth.Register)
		authGroup.POST("/login", d.Auth.Login)
		authGroup.GET("/me", auth, d.Auth.Me)
		authGroup.POST("/refresh", auth, d.Auth.Refresh)
	}

	// ---- protected
	tasks := api.Group("/tasks", auth)
	{
		tasks.GET("", d.Tasks.List)
		tasks.POST("", d.Tasks.Create)
		tasks.GET("/stats/overview", d.Tasks.Stats)
		tasks.GET("/:id", d.Tasks.Get)
		tasks.PUT("/:id", d.Tasks.Update)
		tasks.DELETE("/:id", d.Tasks.Delete)
	}

	// USERS (Admin)
	users := api.Group("/users", auth, middleware.RequireRoles(authz.RoleAdmin))
	{
		users.GET("", d.UsersAdmin.List)
		users.PATCH("/:id/toggle-status", d.UsersAdmin.ToggleStatus)
		users.PATCH("/:id/role", d.UsersAdmin.ChangeRole)
	}

	return r
}
