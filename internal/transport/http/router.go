package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/nullcrew/taskforge/internal/transport/http/handler"
	"github.com/nullcrew/taskforge/internal/transport/http/middleware"
)

// NewRouter wires the admin task API. Every route requires a valid
// operator JWT except the list/get reads, which are left open for
// dashboards and other internal tooling to poll without a token.
func NewRouter(taskHandler *handler.TaskHandler, jwtKey []byte, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Security())
	r.Use(middleware.CorrelationID())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.GET("/tasks", taskHandler.List)
	r.GET("/tasks/:id", taskHandler.GetByID)

	authed := r.Group("/tasks", middleware.Auth(jwtKey))
	authed.POST("", taskHandler.Schedule)
	authed.POST("/:id/cancel", taskHandler.Cancel)

	return r
}
