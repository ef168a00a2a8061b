package api

import (
	"database/sql"
	"time"
	"unicode/utf8"

	"github.com/edgard/botdeck/internal/database"
)

const tokenMask = "••••"

type botView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Description *string           `json:"description"`
	Token       string            `json:"token"`
	IsActive    bool              `json:"isActive"`
	Files       map[string]string `json:"files"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	UserID      *string           `json:"userId"`
}

type projectView struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  *string           `json:"description"`
	Category     string            `json:"category"`
	Tags         []string          `json:"tags"`
	Files        map[string]string `json:"files"`
	Author       string            `json:"author"`
	AuthorAvatar *string           `json:"authorAvatar"`
	Verified     bool              `json:"verified"`
	Downloads    int               `json:"downloads"`
	Rating       int               `json:"rating"`
	RatingCount  int               `json:"ratingCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	UserID       *string           `json:"userId"`
}

type userView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type runtimeView struct {
	ID      string `json:"id"`
	Running bool   `json:"running"`
}

type statsView struct {
	TotalBots     int `json:"totalBots"`
	ActiveBots    int `json:"activeBots"`
	RunningBots   int `json:"runningBots"`
	TotalProjects int `json:"totalProjects"`
	TodayMessages int `json:"todayMessages"`
}

type messageView struct {
	Message string `json:"message"`
}

func newBotView(b *database.Bot) botView {
	return botView{
		ID:          b.ID,
		Name:        b.Name,
		Type:        string(b.Type),
		Description: nullable(b.Description),
		Token:       maskToken(b.Token),
		IsActive:    b.IsActive,
		Files:       b.Files,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
		UserID:      nullable(b.UserID),
	}
}

func newProjectView(p *database.Project) projectView {
	return projectView{
		ID:           p.ID,
		Name:         p.Name,
		Description:  nullable(p.Description),
		Category:     p.Category,
		Tags:         p.Tags,
		Files:        p.Files,
		Author:       p.Author,
		AuthorAvatar: nullable(p.AuthorAvatar),
		Verified:     p.Verified,
		Downloads:    p.Downloads,
		Rating:       p.Rating,
		RatingCount:  p.RatingCount,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		UserID:       nullable(p.UserID),
	}
}

// maskToken keeps only the last four characters of a token.
func maskToken(token string) string {
	n := utf8.RuneCountInString(token)
	if n <= 4 {
		return tokenMask
	}
	runes := []rune(token)
	return tokenMask + string(runes[n-4:])
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
