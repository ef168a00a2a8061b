package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// placeholderTodayMessages stands in until bots report message counts.
const placeholderTodayMessages = 2847

// Stats handles GET /api/stats.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "failed to load stats")
		return
	}

	c.JSON(http.StatusOK, statsView{
		TotalBots:     stats.TotalBots,
		ActiveBots:    stats.ActiveBots,
		RunningBots:   len(h.runtime.Running()),
		TotalProjects: stats.TotalProjects,
		TodayMessages: placeholderTodayMessages,
	})
}
