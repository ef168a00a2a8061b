package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/botdeck/internal/database"
	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/manifest"
)

// --- fakes ---

type fakeStore struct {
	mu         sync.Mutex
	bots       map[string]*database.Bot
	writes     int
	failActive bool
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{bots: map[string]*database.Bot{}}
	for _, id := range ids {
		s.bots[id] = &database.Bot{
			ID:    id,
			Name:  "bot-" + id,
			Type:  database.BotTypeDiscord,
			Token: "token-" + id,
			Files: manifest.DefaultFiles(),
		}
	}
	return s
}

func (s *fakeStore) GetBot(_ context.Context, id string) (*database.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, ok := s.bots[id]
	if !ok {
		return nil, nil
	}
	copied := *bot
	return &copied, nil
}

func (s *fakeStore) ListBots(context.Context, string) ([]database.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]database.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		out = append(out, *b)
	}
	return out, nil
}

func (s *fakeStore) SetBotActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active && s.failActive {
		return apperrors.NewDatabaseError("disk full", nil)
	}
	bot, ok := s.bots[id]
	if !ok {
		return apperrors.NewNotFoundError("bot not found")
	}
	s.writes++
	bot.IsActive = active
	return nil
}

func (s *fakeStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bots, id)
}

func (s *fakeStore) active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bots[id].IsActive
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type fakeConn struct {
	spec         LaunchSpec
	disconnected atomic.Bool
	block        chan struct{}
	done         chan struct{}
	webhooks     [][]byte
}

func (c *fakeConn) Disconnect(ctx context.Context) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.disconnected.Store(true)
	return nil
}

type watchedConn struct{ *fakeConn }

func (c watchedConn) Done() <-chan struct{} { return c.done }

type webhookConn struct{ *fakeConn }

func (c webhookConn) HandleWebhook(_ context.Context, payload []byte) error {
	c.webhooks = append(c.webhooks, payload)
	return nil
}

type fakeConnector struct {
	mu      sync.Mutex
	conns   []*fakeConn
	err     error
	delay   time.Duration
	hang    bool
	wrap    func(*fakeConn) Connection
	onBlock chan struct{}
}

func (f *fakeConnector) Connect(ctx context.Context, spec LaunchSpec) (Connection, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}

	conn := &fakeConn{spec: spec, block: f.onBlock, done: make(chan struct{})}
	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	if f.wrap != nil {
		return f.wrap(conn), nil
	}
	return conn, nil
}

func (f *fakeConnector) connections() []*fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeConn(nil), f.conns...)
}

func liveCount(conns []*fakeConn) int {
	n := 0
	for _, c := range conns {
		if !c.disconnected.Load() {
			n++
		}
	}
	return n
}

// --- tests ---

func TestStartStop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore("a")
	connector := &fakeConnector{}
	reg := NewRegistry(store, connector, nil)

	require.NoError(t, reg.Start(ctx, "a"))
	assert.True(t, reg.Status("a"))
	assert.True(t, store.active("a"))
	assert.Equal(t, []string{"a"}, reg.Running())

	conns := connector.connections()
	require.Len(t, conns, 1)
	assert.Equal(t, "token-a", conns[0].spec.Token)
	require.NotNil(t, conns[0].spec.Manifest)

	reg.Stop(ctx, "a")
	assert.False(t, reg.Status("a"))
	assert.False(t, store.active("a"))
	assert.True(t, conns[0].disconnected.Load())
	assert.Zero(t, reg.locks.size())
}

func TestStartUnknownBotMutatesNothing(t *testing.T) {
	t.Parallel()
	store := newFakeStore("a")
	connector := &fakeConnector{}
	reg := NewRegistry(store, connector, nil)

	err := reg.Start(context.Background(), "ghost")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	assert.Empty(t, reg.Running())
	assert.Zero(t, store.writeCount())
	assert.Empty(t, connector.connections())
}

func TestStartTwiceSupersedesFirstHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore("a")
	connector := &fakeConnector{}
	reg := NewRegistry(store, connector, nil)

	require.NoError(t, reg.Start(ctx, "a"))
	require.NoError(t, reg.Start(ctx, "a"))

	conns := connector.connections()
	require.Len(t, conns, 2)
	assert.True(t, conns[0].disconnected.Load())
	assert.False(t, conns[1].disconnected.Load())
	assert.Equal(t, []string{"a"}, reg.Running())
	assert.True(t, store.active("a"))
}

func TestConcurrentStartsLeaveOneHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore("a", "b")
	connector := &fakeConnector{delay: 5 * time.Millisecond}
	reg := NewRegistry(store, connector, nil)

	var wg sync.WaitGroup
	for range 8 {
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, reg.Start(ctx, id))
			}()
		}
	}
	wg.Wait()

	conns := connector.connections()
	assert.Len(t, conns, 16)
	assert.Equal(t, 2, liveCount(conns), "only the registered connections stay open")
	assert.Equal(t, []string{"a", "b"}, reg.Running())
	assert.Zero(t, reg.locks.size())
}

func TestRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore("a")
	connector := &fakeConnector{}
	reg := NewRegistry(store, connector, nil)

	require.NoError(t, reg.Restart(ctx, "a"), "restart of a stopped bot starts it")
	require.NoError(t, reg.Restart(ctx, "a"))

	conns := connector.connections()
	require.Len(t, conns, 2)
	assert.True(t, conns[0].disconnected.Load())
	assert.True(t, reg.Status("a"))
	assert.True(t, store.active("a"))

	err := reg.Restart(ctx, "ghost")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestStopNotRunningStillPersistsInactive(t *testing.T) {
	t.Parallel()
	store := newFakeStore("a")
	store.bots["a"].IsActive = true
	reg := NewRegistry(store, &fakeConnector{}, nil)

	reg.Stop(context.Background(), "a")
	assert.False(t, store.active("a"))

	// unknown ids are absorbed
	reg.Stop(context.Background(), "ghost")
}

func TestConnectFailureLeavesNoHandle(t *testing.T) {
	t.Parallel()
	store := newFakeStore("a")
	reg := NewRegistry(store, &fakeConnector{err: errors.New("401 unauthorized")}, nil)

	err := reg.Start(context.Background(), "a")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeRuntime))
	assert.False(t, reg.Status("a"))
	assert.False(t, store.active("a"))
}

func TestConnectTimeout(t *testing.T) {
	t.Parallel()
	store := newFakeStore("a")
	reg := NewRegistry(store, &fakeConnector{hang: true}, nil, WithConnectTimeout(20*time.Millisecond))

	start := time.Now()
	err := reg.Start(context.Background(), "a")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, reg.Status("a"))
}

func TestPersistFailureDisconnects(t *testing.T) {
	t.Parallel()
	store := newFakeStore("a")
	store.failActive = true
	connector := &fakeConnector{}
	reg := NewRegistry(store, connector, nil)

	err := reg.Start(context.Background(), "a")
	assert.True(t, apperrors.Is(err, apperrors.CodeDatabase))
	assert.False(t, reg.Status("a"))

	conns := connector.connections()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].disconnected.Load())
}

func TestInvalidManifestRejected(t *testing.T) {
	t.Parallel()
	store := newFakeStore("a")
	store.bots["a"].Files = database.Files{"index.js": "client.login('x')"}
	connector := &fakeConnector{}
	reg := NewRegistry(store, connector, nil)

	err := reg.Start(context.Background(), "a")
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
	assert.Empty(t, connector.connections())
	assert.False(t, reg.Status("a"))
}

func TestStopAllIsBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore("a", "b")
	hung := make(chan struct{})
	defer close(hung)
	connector := &fakeConnector{onBlock: hung}
	reg := NewRegistry(store, connector, nil)

	require.NoError(t, reg.Start(ctx, "a"))
	require.NoError(t, reg.Start(ctx, "b"))

	stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := reg.StopAll(stopCtx)
	assert.Less(t, time.Since(start), 2*time.Second)
	// Disconnect honours ctx, so StopAll either drains or reports the deadline.
	if err != nil {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	assert.Eventually(t, func() bool { return len(reg.Running()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestStopAllDrains(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore("a", "b", "c")
	connector := &fakeConnector{}
	reg := NewRegistry(store, connector, nil)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, reg.Start(ctx, id))
	}
	require.NoError(t, reg.StopAll(ctx))

	assert.Empty(t, reg.Running())
	assert.Zero(t, liveCount(connector.connections()))
	for _, id := range []string{"a", "b", "c"} {
		assert.False(t, store.active(id))
	}
	require.NoError(t, reg.StopAll(ctx), "no-op when nothing runs")
}

func TestConnectionEndingOnItsOwnIsUnregistered(t *testing.T) {
	t.Parallel()
	store := newFakeStore("a")
	connector := &fakeConnector{wrap: func(c *fakeConn) Connection { return watchedConn{c} }}
	reg := NewRegistry(store, connector, nil)

	require.NoError(t, reg.Start(context.Background(), "a"))
	conn := connector.connections()[0]
	close(conn.done)

	assert.Eventually(t, func() bool {
		return !reg.Status("a") && !store.active("a")
	}, time.Second, 5*time.Millisecond)
}

func TestBootPolicies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newStale := func() *fakeStore {
		s := newFakeStore("a", "b")
		s.bots["a"].IsActive = true
		return s
	}

	t.Run("keep", func(t *testing.T) {
		t.Parallel()
		store := newStale()
		reg := NewRegistry(store, &fakeConnector{}, nil)
		require.NoError(t, reg.Boot(ctx, BootKeep))
		assert.True(t, store.active("a"))
		assert.Empty(t, reg.Running())
	})

	t.Run("reset", func(t *testing.T) {
		t.Parallel()
		store := newStale()
		reg := NewRegistry(store, &fakeConnector{}, nil)
		require.NoError(t, reg.Boot(ctx, BootReset))
		assert.False(t, store.active("a"))
		assert.Empty(t, reg.Running())
	})

	t.Run("resume", func(t *testing.T) {
		t.Parallel()
		store := newStale()
		reg := NewRegistry(store, &fakeConnector{}, nil)
		require.NoError(t, reg.Boot(ctx, BootResume))
		assert.Equal(t, []string{"a"}, reg.Running())
		assert.True(t, store.active("a"))
		assert.False(t, store.active("b"))
	})

	t.Run("unknown", func(t *testing.T) {
		t.Parallel()
		reg := NewRegistry(newStale(), &fakeConnector{}, nil)
		err := reg.Boot(ctx, "repair")
		assert.True(t, apperrors.Is(err, apperrors.CodeConfig))
	})
}

func TestDeliver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore("a", "b")
	connector := &fakeConnector{wrap: func(c *fakeConn) Connection {
		if c.spec.BotID == "a" {
			return webhookConn{c}
		}
		return c
	}}
	reg := NewRegistry(store, connector, nil)

	err := reg.Deliver(ctx, "a", []byte(`{}`))
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	require.NoError(t, reg.Start(ctx, "a"))
	require.NoError(t, reg.Start(ctx, "b"))

	require.NoError(t, reg.Deliver(ctx, "a", []byte(`{"entry":[]}`)))

	err = reg.Deliver(ctx, "b", []byte(`{}`))
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}

func TestRouter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	discord := &fakeConnector{}
	process := &fakeConnector{}
	router := NewRouter(process, map[database.BotType]Connector{database.BotTypeDiscord: discord})

	builtin, err := manifest.Parse(manifest.DefaultFiles())
	require.NoError(t, err)
	proc, err := manifest.Parse(map[string]string{manifest.FileName: "mode: process\nprocess:\n  command: node\n"})
	require.NoError(t, err)

	_, err = router.Connect(ctx, LaunchSpec{Type: database.BotTypeDiscord, Manifest: builtin})
	require.NoError(t, err)
	assert.Len(t, discord.connections(), 1)

	_, err = router.Connect(ctx, LaunchSpec{Type: database.BotTypeDiscord, Manifest: proc})
	require.NoError(t, err)
	assert.Len(t, process.connections(), 1)

	_, err = router.Connect(ctx, LaunchSpec{Type: database.BotTypeSlack, Manifest: builtin})
	assert.True(t, apperrors.Is(err, apperrors.CodeRuntime))

	_, err = NewRouter(nil, nil).Connect(ctx, LaunchSpec{Type: database.BotTypeDiscord, Manifest: proc})
	assert.True(t, apperrors.Is(err, apperrors.CodeRuntime))
}

func TestDeleteHoldsLockAcrossRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newFakeStore("a")
	connector := &fakeConnector{}
	reg := NewRegistry(store, connector, nil)

	require.NoError(t, reg.Start(ctx, "a"))

	startErr := make(chan error, 1)
	err := reg.Delete(ctx, "a", func(context.Context) error {
		assert.False(t, reg.Status("a"), "bot is stopped before the record goes")
		go func() { startErr <- reg.Start(ctx, "a") }()

		select {
		case <-startErr:
			t.Error("start ran while the delete held the lock")
		case <-time.After(50 * time.Millisecond):
		}
		store.remove("a")
		return nil
	})
	require.NoError(t, err)

	select {
	case err := <-startErr:
		require.Error(t, err)
		assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
	case <-time.After(2 * time.Second):
		t.Fatal("start never ran")
	}

	assert.Empty(t, reg.Running())
	assert.Equal(t, 0, liveCount(connector.connections()))
}

func TestDeleteReturnsRemoveError(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(newFakeStore("a"), &fakeConnector{}, nil)

	err := reg.Delete(context.Background(), "a", func(context.Context) error {
		return apperrors.NewDatabaseError("locked", nil)
	})
	assert.True(t, apperrors.Is(err, apperrors.CodeDatabase))
}
