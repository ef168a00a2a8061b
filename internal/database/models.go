package database

import (
	"database/sql"
	"time"
)

// BotType enumerates the messaging platforms a bot can target.
type BotType string

const (
	BotTypeDiscord  BotType = "discord"
	BotTypeTelegram BotType = "telegram"
	BotTypeWhatsApp BotType = "whatsapp"
	BotTypeSlack    BotType = "slack"
)

// User is a dashboard account. Only the bcrypt hash of the password is stored.
type User struct {
	ID           string    `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// Bot is the persisted configuration of a messaging bot.
// IsActive is owned by the runtime registry: it is true while a live
// handle exists for the bot, and the store never lets a client set it.
type Bot struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Type        BotType        `db:"type"`
	Description sql.NullString `db:"description"`
	Token       string         `db:"token"`
	IsActive    bool           `db:"is_active"`
	Files       Files          `db:"files"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	UserID      sql.NullString `db:"user_id"`
}

// BotUpdate carries a partial bot update; nil fields are left unchanged.
type BotUpdate struct {
	Name        *string
	Type        *BotType
	Description *string
	Token       *string
	Files       Files
}

// Project is a shared bot template listed in the dashboard catalogue.
type Project struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Description  sql.NullString `db:"description"`
	Category     string         `db:"category"`
	Tags         StringList     `db:"tags"`
	Files        Files          `db:"files"`
	Author       string         `db:"author"`
	AuthorAvatar sql.NullString `db:"author_avatar"`
	Verified     bool           `db:"verified"`
	Downloads    int            `db:"downloads"`
	Rating       int            `db:"rating"`
	RatingCount  int            `db:"rating_count"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	UserID       sql.NullString `db:"user_id"`
}

// ProjectUpdate carries a partial project update; nil fields are left unchanged.
type ProjectUpdate struct {
	Name         *string
	Description  *string
	Category     *string
	Tags         StringList
	Files        Files
	Author       *string
	AuthorAvatar *string
	Verified     *bool
	Downloads    *int
	Rating       *int
	RatingCount  *int
}

// Stats holds aggregate record counts.
type Stats struct {
	TotalBots     int `db:"total_bots"`
	ActiveBots    int `db:"active_bots"`
	TotalProjects int `db:"total_projects"`
}
