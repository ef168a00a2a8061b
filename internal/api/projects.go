package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgard/botdeck/internal/database"
)

type createProjectRequest struct {
	Name         string            `json:"name" validate:"required,max=100"`
	Description  *string           `json:"description" validate:"omitempty,max=1000"`
	Category     string            `json:"category" validate:"required,oneof=utility moderation music game other"`
	Tags         []string          `json:"tags" validate:"omitempty,max=20,dive,required,max=30"`
	Files        map[string]string `json:"files"`
	Author       string            `json:"author" validate:"required,max=100"`
	AuthorAvatar *string           `json:"authorAvatar" validate:"omitempty,url"`
	Verified     bool              `json:"verified"`
	Downloads    int               `json:"downloads" validate:"min=0"`
	Rating       int               `json:"rating" validate:"min=0"`
	RatingCount  int               `json:"ratingCount" validate:"min=0"`
	UserID       *string           `json:"userId" validate:"omitempty,min=1"`
}

type updateProjectRequest struct {
	Name         *string           `json:"name" validate:"omitempty,min=1,max=100"`
	Description  *string           `json:"description" validate:"omitempty,max=1000"`
	Category     *string           `json:"category" validate:"omitempty,oneof=utility moderation music game other"`
	Tags         []string          `json:"tags" validate:"omitempty,max=20,dive,required,max=30"`
	Files        map[string]string `json:"files"`
	Author       *string           `json:"author" validate:"omitempty,min=1,max=100"`
	AuthorAvatar *string           `json:"authorAvatar" validate:"omitempty,url"`
	Verified     *bool             `json:"verified"`
	Downloads    *int              `json:"downloads" validate:"omitempty,min=0"`
	Rating       *int              `json:"rating" validate:"omitempty,min=0"`
	RatingCount  *int              `json:"ratingCount" validate:"omitempty,min=0"`
}

// ListProjects handles GET /api/projects.
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.store.ListProjects(c.Request.Context(), c.Query("userId"))
	if err != nil {
		h.respondError(c, err, "failed to load projects")
		return
	}

	views := make([]projectView, 0, len(projects))
	for i := range projects {
		views = append(views, newProjectView(&projects[i]))
	}
	c.JSON(http.StatusOK, views)
}

// GetProject handles GET /api/projects/:id.
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.store.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to load project")
		return
	}
	if project == nil {
		notFound(c, "project")
		return
	}
	c.JSON(http.StatusOK, newProjectView(project))
}

// CreateProject handles POST /api/projects.
func (h *Handler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if !h.bind(c, &req) {
		return
	}

	project := &database.Project{
		Name:         req.Name,
		Description:  toNull(req.Description),
		Category:     req.Category,
		Tags:         req.Tags,
		Files:        req.Files,
		Author:       req.Author,
		AuthorAvatar: toNull(req.AuthorAvatar),
		Verified:     req.Verified,
		Downloads:    req.Downloads,
		Rating:       req.Rating,
		RatingCount:  req.RatingCount,
		UserID:       toNull(req.UserID),
	}
	if err := h.store.CreateProject(c.Request.Context(), project); err != nil {
		h.respondError(c, err, "failed to create project")
		return
	}

	c.JSON(http.StatusCreated, newProjectView(project))
}

// UpdateProject handles PUT /api/projects/:id.
func (h *Handler) UpdateProject(c *gin.Context) {
	var req updateProjectRequest
	if !h.bind(c, &req) {
		return
	}

	project, err := h.store.UpdateProject(c.Request.Context(), c.Param("id"), database.ProjectUpdate{
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		Tags:         req.Tags,
		Files:        req.Files,
		Author:       req.Author,
		AuthorAvatar: req.AuthorAvatar,
		Verified:     req.Verified,
		Downloads:    req.Downloads,
		Rating:       req.Rating,
		RatingCount:  req.RatingCount,
	})
	if err != nil {
		h.respondError(c, err, "failed to update project")
		return
	}
	if project == nil {
		notFound(c, "project")
		return
	}
	c.JSON(http.StatusOK, newProjectView(project))
}

// DeleteProject handles DELETE /api/projects/:id.
func (h *Handler) DeleteProject(c *gin.Context) {
	deleted, err := h.store.DeleteProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, "failed to delete project")
		return
	}
	if !deleted {
		notFound(c, "project")
		return
	}
	c.JSON(http.StatusOK, messageView{Message: "project deleted"})
}
