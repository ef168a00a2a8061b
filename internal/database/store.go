package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/logger"
)

// Store defines the interface for database operations.
// Get and Update return nil, nil when the record does not exist.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error

	// ListBots returns all bots, or only those owned by ownerID when it is set.
	ListBots(ctx context.Context, ownerID string) ([]Bot, error)
	GetBot(ctx context.Context, id string) (*Bot, error)
	CreateBot(ctx context.Context, bot *Bot) error
	UpdateBot(ctx context.Context, id string, update BotUpdate) (*Bot, error)
	// SetBotActive persists the runtime-owned active flag.
	SetBotActive(ctx context.Context, id string, active bool) error
	DeleteBot(ctx context.Context, id string) (bool, error)

	ListProjects(ctx context.Context, ownerID string) ([]Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	CreateProject(ctx context.Context, project *Project) error
	UpdateProject(ctx context.Context, id string, update ProjectUpdate) (*Project, error)
	DeleteProject(ctx context.Context, id string) (bool, error)

	// Stats returns aggregate record counts.
	Stats(ctx context.Context) (*Stats, error)
}

const (
	userColumns    = `id, username, password_hash, created_at`
	botColumns     = `id, name, type, description, token, is_active, files, created_at, updated_at, user_id`
	projectColumns = `id, name, description, category, tags, files, author, author_avatar, verified,
		downloads, rating, rating_count, created_at, updated_at, user_id`
)

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, log *slog.Logger) Store {
	if log == nil {
		log = logger.Discard()
	}
	return &sqlxStore{
		db:     db,
		logger: log.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return apperrors.NewDatabaseError("failed to execute VACUUM", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}

// --- Users ---

func (s *sqlxStore) GetUser(ctx context.Context, id string) (*User, error) {
	return getOne[User](ctx, s, "user", `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *sqlxStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return getOne[User](ctx, s, "user", `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// CreateUser inserts a user, assigning its ID and creation time.
func (s *sqlxStore) CreateUser(ctx context.Context, user *User) error {
	if user == nil {
		return apperrors.NewValidationError("cannot save nil user", nil)
	}

	user.ID = uuid.NewString()
	user.CreatedAt = s.now()

	query := `INSERT INTO users (id, username, password_hash, created_at)
	          VALUES (:id, :username, :password_hash, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, user); err != nil {
		if isConstraint(err, constraintUnique) {
			return apperrors.NewConflictError("username already taken", err)
		}
		s.logger.ErrorContext(ctx, "Error saving user", "username", user.Username, "error", err)
		return apperrors.NewDatabaseError("failed to save user", err)
	}

	s.logger.DebugContext(ctx, "User saved successfully", "user_id", user.ID)
	return nil
}

// --- Bots ---

func (s *sqlxStore) ListBots(ctx context.Context, ownerID string) ([]Bot, error) {
	return list[Bot](ctx, s, "bots", botColumns, ownerID)
}

func (s *sqlxStore) GetBot(ctx context.Context, id string) (*Bot, error) {
	return getOne[Bot](ctx, s, "bot", `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
}

// CreateBot inserts a bot. The server assigns the ID and timestamps, and a
// new bot is never active.
func (s *sqlxStore) CreateBot(ctx context.Context, bot *Bot) error {
	if bot == nil {
		return apperrors.NewValidationError("cannot save nil bot", nil)
	}

	now := s.now()
	bot.ID = uuid.NewString()
	bot.IsActive = false
	bot.CreatedAt = now
	bot.UpdatedAt = now
	if bot.Files == nil {
		bot.Files = Files{}
	}

	query := `INSERT INTO bots (` + botColumns + `)
	          VALUES (:id, :name, :type, :description, :token, :is_active, :files, :created_at, :updated_at, :user_id)`

	if _, err := s.db.NamedExecContext(ctx, query, bot); err != nil {
		return s.insertError(ctx, "bot", err)
	}

	s.logger.DebugContext(ctx, "Bot saved successfully", "bot_id", bot.ID, "type", bot.Type)
	return nil
}

// UpdateBot applies a partial update and returns the updated record.
func (s *sqlxStore) UpdateBot(ctx context.Context, id string, update BotUpdate) (*Bot, error) {
	set := newSetClause()
	setIfPresent(set, "name", update.Name)
	setIfPresent(set, "type", update.Type)
	setIfPresent(set, "description", update.Description)
	setIfPresent(set, "token", update.Token)
	if update.Files != nil {
		set.addValue("files", update.Files)
	}

	found, err := s.applyUpdate(ctx, "bots", id, set)
	if err != nil || !found {
		return nil, err
	}
	return s.GetBot(ctx, id)
}

func (s *sqlxStore) SetBotActive(ctx context.Context, id string, active bool) error {
	set := newSetClause()
	set.addValue("is_active", active)

	found, err := s.applyUpdate(ctx, "bots", id, set)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.NewNotFoundError("bot not found")
	}
	return nil
}

func (s *sqlxStore) DeleteBot(ctx context.Context, id string) (bool, error) {
	return s.deleteByID(ctx, "bots", id)
}

// --- Projects ---

func (s *sqlxStore) ListProjects(ctx context.Context, ownerID string) ([]Project, error) {
	return list[Project](ctx, s, "projects", projectColumns, ownerID)
}

func (s *sqlxStore) GetProject(ctx context.Context, id string) (*Project, error) {
	return getOne[Project](ctx, s, "project", `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
}

func (s *sqlxStore) CreateProject(ctx context.Context, project *Project) error {
	if project == nil {
		return apperrors.NewValidationError("cannot save nil project", nil)
	}

	now := s.now()
	project.ID = uuid.NewString()
	project.CreatedAt = now
	project.UpdatedAt = now
	if project.Files == nil {
		project.Files = Files{}
	}
	if project.Tags == nil {
		project.Tags = StringList{}
	}

	query := `INSERT INTO projects (` + projectColumns + `)
	          VALUES (:id, :name, :description, :category, :tags, :files, :author, :author_avatar, :verified,
	                  :downloads, :rating, :rating_count, :created_at, :updated_at, :user_id)`

	if _, err := s.db.NamedExecContext(ctx, query, project); err != nil {
		return s.insertError(ctx, "project", err)
	}

	s.logger.DebugContext(ctx, "Project saved successfully", "project_id", project.ID)
	return nil
}

func (s *sqlxStore) UpdateProject(ctx context.Context, id string, update ProjectUpdate) (*Project, error) {
	set := newSetClause()
	setIfPresent(set, "name", update.Name)
	setIfPresent(set, "description", update.Description)
	setIfPresent(set, "category", update.Category)
	if update.Tags != nil {
		set.addValue("tags", update.Tags)
	}
	if update.Files != nil {
		set.addValue("files", update.Files)
	}
	setIfPresent(set, "author", update.Author)
	setIfPresent(set, "author_avatar", update.AuthorAvatar)
	setIfPresent(set, "verified", update.Verified)
	setIfPresent(set, "downloads", update.Downloads)
	setIfPresent(set, "rating", update.Rating)
	setIfPresent(set, "rating_count", update.RatingCount)

	found, err := s.applyUpdate(ctx, "projects", id, set)
	if err != nil || !found {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

func (s *sqlxStore) DeleteProject(ctx context.Context, id string) (bool, error) {
	return s.deleteByID(ctx, "projects", id)
}

// Stats counts bots, active bots and projects in one round trip.
func (s *sqlxStore) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	query := `SELECT
	            (SELECT COUNT(*) FROM bots) AS total_bots,
	            (SELECT COUNT(*) FROM bots WHERE is_active = 1) AS active_bots,
	            (SELECT COUNT(*) FROM projects) AS total_projects`

	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		s.logger.ErrorContext(ctx, "Error computing stats", "error", err)
		return nil, apperrors.NewDatabaseError("failed to compute stats", err)
	}
	return &stats, nil
}

// --- helpers ---

func getOne[T any](ctx context.Context, s *sqlxStore, kind, query string, arg any) (*T, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var record T
	err := s.db.GetContext(ctx, &record, query, arg)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Not found is expected in some cases, not an error
		s.logger.DebugContext(ctx, "Record not found", "kind", kind, "key", arg)
		return nil, nil

	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching record", "kind", kind, "error", err)
		return nil, err

	case err != nil:
		s.logger.ErrorContext(ctx, "Error fetching record", "kind", kind, "key", arg, "error", err)
		return nil, apperrors.NewDatabaseError("failed to get "+kind, err)
	}

	return &record, nil
}

func list[T any](ctx context.Context, s *sqlxStore, table, columns, ownerID string) ([]T, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	query := `SELECT ` + columns + ` FROM ` + table
	var args []any
	if ownerID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	records := []T{}
	if err := s.db.SelectContext(ctx, &records, query, args...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error listing records", "table", table, "owner_id", ownerID, "error", err)
		return nil, apperrors.NewDatabaseError("failed to list "+table, err)
	}

	s.logger.DebugContext(ctx, "Listed records", "table", table, "count", len(records))
	return records, nil
}

// applyUpdate runs UPDATE table SET ... WHERE id = ?, bumping updated_at.
// It reports whether a row matched.
func (s *sqlxStore) applyUpdate(ctx context.Context, table, id string, set *setClause) (bool, error) {
	set.addValue("updated_at", s.now())

	query := `UPDATE ` + table + ` SET ` + strings.Join(set.columns, ", ") + ` WHERE id = ?`
	args := append(set.args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isConstraint(err, constraintCheck) {
			return false, apperrors.NewValidationError("value outside the allowed set", err)
		}
		s.logger.ErrorContext(ctx, "Error updating record", "table", table, "id", id, "error", err)
		return false, apperrors.NewDatabaseError("failed to update "+table, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("failed to read affected rows", err)
	}
	return affected > 0, nil
}

func (s *sqlxStore) deleteByID(ctx context.Context, table, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error deleting record", "table", table, "id", id, "error", err)
		return false, apperrors.NewDatabaseError("failed to delete from "+table, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError("failed to read affected rows", err)
	}

	s.logger.DebugContext(ctx, "Deleted record", "table", table, "id", id, "deleted", affected > 0)
	return affected > 0, nil
}

func (s *sqlxStore) insertError(ctx context.Context, kind string, err error) error {
	switch {
	case isConstraint(err, constraintForeignKey):
		return apperrors.NewValidationError("owner user does not exist", err)
	case isConstraint(err, constraintCheck):
		return apperrors.NewValidationError("value outside the allowed set", err)
	}
	s.logger.ErrorContext(ctx, "Error saving record", "kind", kind, "error", err)
	return apperrors.NewDatabaseError("failed to save "+kind, err)
}

// Constraint kinds as they appear in SQLite error messages.
const (
	constraintUnique     = "UNIQUE"
	constraintForeignKey = "FOREIGN KEY"
	constraintCheck      = "CHECK"
)

// isConstraint reports whether err is a SQLite constraint failure of the given kind.
func isConstraint(err error, kind string) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	return strings.Contains(sqliteErr.Error(), kind+" constraint failed")
}

// setClause accumulates "column = ?" pairs for partial updates.
type setClause struct {
	columns []string
	args    []any
}

func newSetClause() *setClause {
	return &setClause{}
}

// setIfPresent appends column = *value when value is non-nil.
func setIfPresent[T any](s *setClause, column string, value *T) {
	if value != nil {
		s.addValue(column, *value)
	}
}

func (s *setClause) addValue(column string, value any) {
	s.columns = append(s.columns, column+" = ?")
	s.args = append(s.args, value)
}
