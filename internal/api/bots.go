package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgard/botdeck/internal/database"
	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/manifest"
)

const maxWebhookBody = 1 << 20

type createBotRequest struct {
	Name        string            `json:"name" validate:"required,max=100"`
	Type        string            `json:"type" validate:"required,oneof=discord telegram whatsapp slack"`
	Description *string           `json:"description" validate:"omitempty,max=500"`
	Token       string            `json:"token" validate:"required"`
	Files       map[string]string `json:"files"`
	UserID      *string           `json:"userId" validate:"omitempty,min=1"`
}

// updateBotRequest has no isActive field; the runtime owns that flag.
type updateBotRequest struct {
	Name        *string           `json:"name" validate:"omitempty,min=1,max=100"`
	Type        *string           `json:"type" validate:"omitempty,oneof=discord telegram whatsapp slack"`
	Description *string           `json:"description" validate:"omitempty,max=500"`
	Token       *string           `json:"token" validate:"omitempty,min=1"`
	Files       map[string]string `json:"files"`
}

// ListBots handles GET /api/bots.
func (h *Handler) ListBots(c *gin.Context) {
	bots, err := h.store.ListBots(c.Request.Context(), c.Query("userId"))
	if err != nil {
		h.respondError(c, err, "failed to load bots")
		return
	}

	views := make([]botView, 0, len(bots))
	for i := range bots {
		views = append(views, newBotView(&bots[i]))
	}
	c.JSON(http.StatusOK, views)
}

// GetBot handles GET /api/bots/:id.
func (h *Handler) GetBot(c *gin.Context) {
	bot, err := h.store.GetBot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to load bot")
		return
	}
	if bot == nil {
		notFound(c, "bot")
		return
	}
	c.JSON(http.StatusOK, newBotView(bot))
}

// CreateBot handles POST /api/bots. Bots created without files get the
// default manifest.
func (h *Handler) CreateBot(c *gin.Context) {
	var req createBotRequest
	if !h.bind(c, &req) {
		return
	}

	files := req.Files
	if len(files) == 0 {
		files = manifest.DefaultFiles()
	} else if _, err := manifest.Parse(files); err != nil {
		h.respondError(c, err, "invalid data")
		return
	}

	bot := &database.Bot{
		Name:        req.Name,
		Type:        database.BotType(req.Type),
		Description: toNull(req.Description),
		Token:       req.Token,
		Files:       files,
		UserID:      toNull(req.UserID),
	}
	if err := h.store.CreateBot(c.Request.Context(), bot); err != nil {
		h.respondError(c, err, "failed to create bot")
		return
	}

	h.logger.InfoContext(c.Request.Context(), "Bot created", "bot_id", bot.ID, "type", bot.Type)
	c.JSON(http.StatusCreated, newBotView(bot))
}

// UpdateBot handles PUT /api/bots/:id. A running bot keeps its current
// connection until it is restarted.
func (h *Handler) UpdateBot(c *gin.Context) {
	var req updateBotRequest
	if !h.bind(c, &req) {
		return
	}

	if req.Files != nil {
		if _, err := manifest.Parse(req.Files); err != nil {
			h.respondError(c, err, "invalid data")
			return
		}
	}

	update := database.BotUpdate{
		Name:        req.Name,
		Description: req.Description,
		Token:       req.Token,
		Files:       req.Files,
	}
	if req.Type != nil {
		t := database.BotType(*req.Type)
		update.Type = &t
	}

	bot, err := h.store.UpdateBot(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		h.respondError(c, err, "failed to update bot")
		return
	}
	if bot == nil {
		notFound(c, "bot")
		return
	}
	c.JSON(http.StatusOK, newBotView(bot))
}

// DeleteBot handles DELETE /api/bots/:id, stopping the bot first.
func (h *Handler) DeleteBot(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	bot, err := h.store.GetBot(ctx, id)
	if err != nil {
		h.respondError(c, err, "failed to delete bot")
		return
	}
	if bot == nil {
		notFound(c, "bot")
		return
	}

	var deleted bool
	err = h.runtime.Delete(ctx, id, func(ctx context.Context) error {
		var err error
		deleted, err = h.store.DeleteBot(ctx, id)
		return err
	})
	if err != nil {
		h.respondError(c, err, "failed to delete bot")
		return
	}
	if !deleted {
		notFound(c, "bot")
		return
	}

	h.logger.InfoContext(ctx, "Bot deleted", "bot_id", id)
	c.JSON(http.StatusOK, messageView{Message: "bot deleted"})
}

// StartBot handles POST /api/bots/:id/start. Start failures other than an
// unknown bot are reported without detail; the cause is in the server log.
func (h *Handler) StartBot(c *gin.Context) {
	h.runLifecycle(c, h.runtime.Start)
}

// RestartBot handles POST /api/bots/:id/restart.
func (h *Handler) RestartBot(c *gin.Context) {
	h.runLifecycle(c, h.runtime.Restart)
}

func (h *Handler) runLifecycle(c *gin.Context, op func(ctx context.Context, id string) error) {
	id := c.Param("id")

	if err := op(c.Request.Context(), id); err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			notFound(c, "bot")
			return
		}
		h.logger.WarnContext(c.Request.Context(), "Bot not started", "bot_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "bot not started"})
		return
	}

	c.JSON(http.StatusOK, runtimeView{ID: id, Running: h.runtime.Status(id)})
}

// StopBot handles POST /api/bots/:id/stop.
func (h *Handler) StopBot(c *gin.Context) {
	id := c.Param("id")
	h.runtime.Stop(c.Request.Context(), id)
	c.JSON(http.StatusOK, runtimeView{ID: id, Running: h.runtime.Status(id)})
}

// BotStatus handles GET /api/bots/:id/status.
func (h *Handler) BotStatus(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, runtimeView{ID: id, Running: h.runtime.Status(id)})
}

// BotWebhook handles POST /api/bots/:id/webhook, forwarding platform
// callbacks to the running bot.
func (h *Handler) BotWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := h.runtime.Deliver(c.Request.Context(), c.Param("id"), payload); err != nil {
		h.respondError(c, err, "failed to deliver webhook")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
