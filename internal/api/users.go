package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgard/botdeck/internal/database"
)

type createUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// CreateUser handles POST /api/users. Only the bcrypt hash is stored.
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if !h.bind(c, &req) {
		return
	}

	hash, err := database.HashPassword(req.Password)
	if err != nil {
		h.respondError(c, err, "failed to create user")
		return
	}

	user := &database.User{Username: req.Username, PasswordHash: hash}
	if err := h.store.CreateUser(c.Request.Context(), user); err != nil {
		h.respondError(c, err, "failed to create user")
		return
	}

	c.JSON(http.StatusCreated, userView{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt})
}

// GetUser handles GET /api/users/:id.
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.store.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to load user")
		return
	}
	if user == nil {
		notFound(c, "user")
		return
	}
	c.JSON(http.StatusOK, userView{ID: user.ID, Username: user.Username, CreatedAt: user.CreatedAt})
}
