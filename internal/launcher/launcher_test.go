package launcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/botdeck/internal/database"
	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/logger"
	"github.com/edgard/botdeck/internal/manifest"
	"github.com/edgard/botdeck/internal/runtime"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func processSpec(t *testing.T, out *syncBuffer, botYAML string, extra map[string]string) runtime.LaunchSpec {
	t.Helper()

	files := map[string]string{manifest.FileName: botYAML}
	for k, v := range extra {
		files[k] = v
	}
	m, err := manifest.Parse(files)
	require.NoError(t, err)

	log := logger.Discard()
	if out != nil {
		log = logger.New(out, "debug", true)
	}
	return runtime.LaunchSpec{
		BotID:    "b1",
		Name:     "worker",
		Type:     database.BotTypeTelegram,
		Token:    "s3cret",
		Files:    files,
		Manifest: m,
		Logger:   log,
	}
}

func newTestLauncher(t *testing.T) (*Launcher, string) {
	t.Helper()
	dir := t.TempDir()
	return New(Config{
		WorkDir:         dir,
		AllowedCommands: []string{"sh"},
		EnvAllowlist:    []string{"PATH", "BOTDECK_TEST_VISIBLE"},
		StopGrace:       500 * time.Millisecond,
	}), dir
}

func TestProcessSeesFilesAndEnvironment(t *testing.T) {
	t.Setenv("BOTDECK_TEST_VISIBLE", "yes")
	t.Setenv("BOTDECK_TEST_HIDDEN", "leak")

	var out syncBuffer
	l, workDir := newTestLauncher(t)
	spec := processSpec(t, &out, `
mode: process
process:
  command: sh
  args: ["main.sh"]
  env:
    GREETING: hi
`, map[string]string{
		"main.sh": `echo "token=$BOT_TOKEN name=$BOT_NAME type=$BOT_TYPE greeting=$GREETING"
echo "visible=${BOTDECK_TEST_VISIBLE:-unset} hidden=${BOTDECK_TEST_HIDDEN:-unset}"
cat lib/data.txt
echo oops >&2
`,
		"lib/data.txt": "from-nested-file\n",
	})

	conn, err := l.Connect(context.Background(), spec)
	require.NoError(t, err)

	w, ok := conn.(runtime.Watcher)
	require.True(t, ok)
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	logs := out.String()
	assert.Contains(t, logs, "token=s3cret name=worker type=telegram greeting=hi")
	assert.Contains(t, logs, "visible=yes hidden=unset")
	assert.Contains(t, logs, "from-nested-file")
	assert.Contains(t, logs, `"stream":"stderr"`)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "work dir is removed after exit")

	require.NoError(t, conn.Disconnect(context.Background()))
}

func TestDisconnectTerminatesProcess(t *testing.T) {
	t.Parallel()

	l, workDir := newTestLauncher(t)
	spec := processSpec(t, nil, `
mode: process
process:
  command: sh
  args: ["-c", "sleep 30"]
`, nil)

	conn, err := l.Connect(context.Background(), spec)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, conn.Disconnect(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRejectsDisallowedCommand(t *testing.T) {
	t.Parallel()

	l, _ := newTestLauncher(t)
	spec := processSpec(t, nil, "mode: process\nprocess:\n  command: bash\n", nil)

	_, err := l.Connect(context.Background(), spec)
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}

func TestRejectsEscapingFileNames(t *testing.T) {
	t.Parallel()

	l, workDir := newTestLauncher(t)
	spec := processSpec(t, nil, "mode: process\nprocess:\n  command: sh\n",
		map[string]string{"../evil.sh": "rm -rf /"})

	_, err := l.Connect(context.Background(), spec)
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial work dir is cleaned up")

	_, err = os.Stat(filepath.Join(filepath.Dir(workDir), "evil.sh"))
	assert.True(t, os.IsNotExist(err))
}

func TestRejectsBuiltinManifest(t *testing.T) {
	t.Parallel()

	l, _ := newTestLauncher(t)
	m, err := manifest.Parse(manifest.DefaultFiles())
	require.NoError(t, err)

	_, err = l.Connect(context.Background(), runtime.LaunchSpec{Manifest: m, Logger: logger.Discard()})
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}

func TestLineLogger(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	w := newLineLogger(logger.New(&out, "info", false), "stdout")
	_, _ = w.Write([]byte("first\nsec"))
	_, _ = w.Write([]byte("ond\r\n\ntail"))
	w.Flush()

	logs := out.String()
	assert.Contains(t, logs, "msg=first")
	assert.Contains(t, logs, "msg=second")
	assert.Contains(t, logs, "msg=tail")
}
