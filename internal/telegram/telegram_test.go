package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/botdeck/internal/logger"
	"github.com/edgard/botdeck/internal/manifest"
	"github.com/edgard/botdeck/internal/runtime"
)

type fakeAPI struct {
	mu      sync.Mutex
	replies []string
	served  atomic.Bool
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.Contains(r.URL.Path, "bad-token"):
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))

	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Deck","username":"deck_bot"}}`))

	case strings.HasSuffix(r.URL.Path, "/getUpdates"):
		if f.served.CompareAndSwap(false, true) {
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":1,"message":{"message_id":7,"date":0,` +
				`"chat":{"id":42,"type":"private"},"from":{"id":5,"is_bot":false,"first_name":"Ana"},"text":"!ping"}}]}`))
			return
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(`{"ok":true,"result":[]}`))

	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseMultipartForm(1 << 20)
		f.mu.Lock()
		f.replies = append(f.replies, r.FormValue("text"))
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":8,"date":0,"chat":{"id":42,"type":"private"}}}`))

	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func (f *fakeAPI) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

func launchSpec(t *testing.T, token string) runtime.LaunchSpec {
	t.Helper()
	m, err := manifest.Parse(manifest.DefaultFiles())
	require.NoError(t, err)
	return runtime.LaunchSpec{BotID: "b1", Name: "deck", Token: token, Manifest: m, Logger: logger.Discard()}
}

func TestConnectRepliesAndDisconnects(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	connector := NewConnector(tgbot.WithServerURL(srv.URL))
	conn, err := connector.Connect(context.Background(), launchSpec(t, "123:abc"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		sent := api.sent()
		return len(sent) == 1 && sent[0] == "🏓 Pong!"
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Disconnect(ctx))
	require.NoError(t, conn.Disconnect(ctx), "disconnect is idempotent")
}

func TestConnectRejectsBadToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(&fakeAPI{})
	defer srv.Close()

	connector := NewConnector(tgbot.WithServerURL(srv.URL))
	_, err := connector.Connect(context.Background(), launchSpec(t, "bad-token"))
	require.Error(t, err)
}
