// Package api exposes the dashboard's JSON REST API over gin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/edgard/botdeck/internal/database"
	"github.com/edgard/botdeck/internal/logger"
)

// Runtime is the part of the bot registry the API drives.
type Runtime interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string)
	Restart(ctx context.Context, id string) error
	Delete(ctx context.Context, id string, remove func(ctx context.Context) error) error
	Status(id string) bool
	Running() []string
	Deliver(ctx context.Context, id string, payload []byte) error
}

// Handler serves every API route.
type Handler struct {
	store    database.Store
	runtime  Runtime
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler creates a Handler.
func NewHandler(store database.Store, rt Runtime, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}

	v := validator.New()
	// Report JSON field names in validation details.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		store:    store,
		runtime:  rt,
		logger:   log.With("component", "api"),
		validate: v,
	}
}

// Routes builds the gin engine with all routes registered.
func (h *Handler) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(h.logger))

	r.GET("/healthz", h.Health)

	api := r.Group("/api")

	bots := api.Group("/bots")
	bots.GET("", h.ListBots)
	bots.POST("", h.CreateBot)
	bots.GET("/:id", h.GetBot)
	bots.PUT("/:id", h.UpdateBot)
	bots.DELETE("/:id", h.DeleteBot)
	bots.POST("/:id/start", h.StartBot)
	bots.POST("/:id/stop", h.StopBot)
	bots.POST("/:id/restart", h.RestartBot)
	bots.GET("/:id/status", h.BotStatus)
	bots.POST("/:id/webhook", h.BotWebhook)

	projects := api.Group("/projects")
	projects.GET("", h.ListProjects)
	projects.POST("", h.CreateProject)
	projects.GET("/:id", h.GetProject)
	projects.PUT("/:id", h.UpdateProject)
	projects.DELETE("/:id", h.DeleteProject)

	users := api.Group("/users")
	users.POST("", h.CreateUser)
	users.GET("/:id", h.GetUser)

	api.GET("/stats", h.Stats)

	return r
}

// Health pings the store.
func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.ErrorContext(c.Request.Context(), "Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
