package runtime

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/logger"
	"github.com/edgard/botdeck/internal/manifest"
)

// DefaultConnectTimeout bounds a single Connect call.
const DefaultConnectTimeout = 30 * time.Second

// persistTimeout bounds flag writes made outside a caller's context.
const persistTimeout = 5 * time.Second

// BootPolicy decides what happens at startup to bots still flagged active
// from a previous run.
type BootPolicy string

const (
	// BootKeep leaves stale flags untouched and only reports them.
	BootKeep BootPolicy = "keep"
	// BootReset clears every stale flag.
	BootReset BootPolicy = "reset"
	// BootResume starts every bot flagged active.
	BootResume BootPolicy = "resume"
)

// handle is one live bot connection.
type handle struct {
	botID     string
	name      string
	conn      Connection
	startedAt time.Time
	released  chan struct{}
}

// Registry owns the live connections of this process, at most one per bot.
type Registry struct {
	store          Store
	connector      Connector
	logger         *slog.Logger
	connectTimeout time.Duration

	locks *keyLock

	mu      sync.RWMutex
	handles map[string]*handle
}

// Option configures a Registry.
type Option func(*Registry)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.connectTimeout = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(store Store, connector Connector, log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = logger.Discard()
	}

	r := &Registry{
		store:          store,
		connector:      connector,
		logger:         log.With("component", "runtime"),
		connectTimeout: DefaultConnectTimeout,
		locks:          newKeyLock(),
		handles:        make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start connects the bot and marks it active. A running bot is stopped first.
// Unknown bots fail with NOT_FOUND and leave the registry and store untouched.
// On any failure no handle is left registered.
func (r *Registry) Start(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	return r.start(ctx, id)
}

// Stop disconnects the bot if it is running and persists active=false.
// Failures are logged, never returned.
func (r *Registry) Stop(ctx context.Context, id string) {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.stop(ctx, id)
}

// Restart stops then starts the bot while holding its lock, so no other
// operation on the same bot interleaves.
func (r *Registry) Restart(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.stop(ctx, id)
	return r.start(ctx, id)
}

// Delete stops the bot and runs remove while holding its lock, so no Start
// can register a handle for a record that is being removed.
func (r *Registry) Delete(ctx context.Context, id string, remove func(ctx context.Context) error) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.stop(ctx, id)
	return remove(ctx)
}

// Status reports whether the bot has a live handle.
func (r *Registry) Status(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handles[id]
	return ok
}

// Running returns the IDs of all bots with a live handle, sorted.
func (r *Registry) Running() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// StopAll stops every running bot concurrently. It returns when all of them
// are stopped or ctx is done, whichever comes first.
func (r *Registry) StopAll(ctx context.Context) error {
	ids := r.Running()
	if len(ids) == 0 {
		return nil
	}

	r.logger.InfoContext(ctx, "Stopping all bots", "count", len(ids))

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			r.Stop(ctx, id)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.InfoContext(ctx, "All bots stopped")
		return nil
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "Gave up waiting for bots to stop", "still_running", r.Running())
		return ctx.Err()
	}
}

// Boot reconciles active flags left over from a previous run.
func (r *Registry) Boot(ctx context.Context, policy BootPolicy) error {
	bots, err := r.store.ListBots(ctx, "")
	if err != nil {
		return err
	}

	var stale []string
	for _, bot := range bots {
		if bot.IsActive && !r.Status(bot.ID) {
			stale = append(stale, bot.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	switch policy {
	case BootKeep, "":
		r.logger.WarnContext(ctx, "Bots flagged active without a live handle; leaving flags as they are",
			"bot_ids", stale)

	case BootReset:
		for _, id := range stale {
			if err := r.store.SetBotActive(ctx, id, false); err != nil {
				r.logger.ErrorContext(ctx, "Failed to reset active flag", "bot_id", id, "error", err)
				continue
			}
			r.logger.InfoContext(ctx, "Reset stale active flag", "bot_id", id)
		}

	case BootResume:
		for _, id := range stale {
			if err := r.Start(ctx, id); err != nil {
				r.logger.ErrorContext(ctx, "Failed to resume bot", "bot_id", id, "error", err)
			}
		}

	default:
		return apperrors.NewConfigError("unknown boot policy "+string(policy), nil)
	}

	return nil
}

// Deliver hands an inbound webhook payload to a running bot.
func (r *Registry) Deliver(ctx context.Context, id string, payload []byte) error {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()

	if !ok {
		return apperrors.NewNotFoundError("bot is not running")
	}

	receiver, ok := h.conn.(WebhookReceiver)
	if !ok {
		return apperrors.NewValidationError("bot does not accept webhooks", nil)
	}
	return receiver.HandleWebhook(ctx, payload)
}

// start must be called with the bot's key lock held.
func (r *Registry) start(ctx context.Context, id string) error {
	bot, err := r.store.GetBot(ctx, id)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to load bot", "bot_id", id, "error", err)
		return err
	}
	if bot == nil {
		return apperrors.NewNotFoundError("bot not found")
	}

	log := r.logger.With("bot_id", id, "bot_name", bot.Name, "bot_type", bot.Type)

	if r.Status(id) {
		log.InfoContext(ctx, "Bot already running, restarting")
		r.stop(ctx, id)
	}

	m, err := manifest.Parse(bot.Files)
	if err != nil {
		log.WarnContext(ctx, "Bot manifest rejected", "error", err)
		return err
	}

	spec := LaunchSpec{
		BotID:    bot.ID,
		Name:     bot.Name,
		Type:     bot.Type,
		Token:    bot.Token,
		Files:    bot.Files,
		Manifest: m,
		Logger:   log,
	}

	connectCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	conn, err := r.connector.Connect(connectCtx, spec)
	cancel()
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect bot", "error", err)
		if apperrors.Code(err) == apperrors.CodeUnknown {
			err = apperrors.NewRuntimeError("failed to connect bot", err)
		}
		return err
	}

	h := &handle{
		botID:     id,
		name:      bot.Name,
		conn:      conn,
		startedAt: time.Now(),
		released:  make(chan struct{}),
	}
	r.put(h)

	if err := r.store.SetBotActive(ctx, id, true); err != nil {
		log.ErrorContext(ctx, "Failed to persist active flag, disconnecting", "error", err)
		r.remove(h)
		r.disconnect(ctx, h)
		return err
	}

	if w, ok := conn.(Watcher); ok {
		go r.watch(h, w.Done())
	}

	log.InfoContext(ctx, "Bot started")
	return nil
}

// stop must be called with the bot's key lock held.
func (r *Registry) stop(ctx context.Context, id string) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()

	if ok {
		r.remove(h)
		r.disconnect(ctx, h)
		r.logger.InfoContext(ctx, "Bot stopped", "bot_id", id, "bot_name", h.name,
			"uptime", time.Since(h.startedAt).Round(time.Second))
	} else {
		r.logger.DebugContext(ctx, "Bot was not running", "bot_id", id)
	}

	r.persistInactive(ctx, id)
}

// watch unregisters a connection that ended without being stopped.
func (r *Registry) watch(h *handle, done <-chan struct{}) {
	select {
	case <-h.released:
		return
	case <-done:
	}

	unlock := r.locks.Lock(h.botID)
	defer unlock()

	r.mu.RLock()
	current := r.handles[h.botID]
	r.mu.RUnlock()
	if current != h {
		return
	}

	ctx := context.Background()
	r.logger.WarnContext(ctx, "Bot connection ended unexpectedly", "bot_id", h.botID, "bot_name", h.name)
	r.remove(h)
	r.disconnect(ctx, h)
	r.persistInactive(ctx, h.botID)
}

func (r *Registry) put(h *handle) {
	r.mu.Lock()
	r.handles[h.botID] = h
	r.mu.Unlock()
}

func (r *Registry) remove(h *handle) {
	r.mu.Lock()
	if r.handles[h.botID] == h {
		delete(r.handles, h.botID)
		close(h.released)
	}
	r.mu.Unlock()
}

func (r *Registry) disconnect(ctx context.Context, h *handle) {
	if err := h.conn.Disconnect(ctx); err != nil {
		r.logger.ErrorContext(ctx, "Error disconnecting bot", "bot_id", h.botID, "bot_name", h.name, "error", err)
	}
}

// persistInactive writes active=false even when ctx is already cancelled.
func (r *Registry) persistInactive(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := r.store.SetBotActive(ctx, id, false); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist inactive flag", "bot_id", id, "error", err)
	}
}
