package devserver

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/kiln/internal/config"
	"github.com/conneroisu/kiln/internal/logging"
	"github.com/conneroisu/kiln/internal/reload"
)

func testLogger() logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LevelError,
		Output: os.Stderr,
	})
}

// fixtureConfig lays out a complete site in a temp dir with ephemeral ports
// and a fast poll interval.
func fixtureConfig(t *testing.T) *config.Config {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		Site: config.SiteConfig{
			ContentDir:   filepath.Join(root, "content"),
			TemplateDir:  filepath.Join(root, "templates"),
			OutputDir:    filepath.Join(root, "output"),
			Collections:  []string{"pages"},
			Title:        "My Site",
			IndexPage:    "pages/index.html",
			NotFoundPage: "pages/404.html",
		},
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownGrace: time.Second},
		Reload: config.ReloadConfig{Host: "127.0.0.1", Port: 0},
		Watch:  config.WatchConfig{Interval: 30 * time.Millisecond},
	}

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Site.ContentDir, "pages"), 0o755))
	require.NoError(t, os.MkdirAll(cfg.Site.TemplateDir, 0o755))

	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Site.ContentDir, "pages", "index.md"),
		[]byte("# Hello"),
		0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Site.TemplateDir, "pages.html"),
		[]byte("<main>{{ content }}</main>"),
		0o644,
	))
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Site.TemplateDir, "base.html"),
		[]byte("<html><title>{{ title }}</title>{{ content }}</html>"),
		0o644,
	))

	return cfg
}

func startDevServer(t *testing.T, cfg *config.Config) *DevServer {
	t.Helper()

	d := New(cfg, testLogger())
	runDevServer(t, d)
	return d
}

func runDevServer(t *testing.T, d *DevServer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("dev server did not stop")
		}
	})

	// Wait until the origin server answers.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + d.origin.Addr() + "/")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("dev server never came up")
}

func fetch(t *testing.T, d *DevServer, path string) (int, string) {
	t.Helper()

	resp, err := http.Get("http://" + d.origin.Addr() + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestInitialBuildAndServe(t *testing.T) {
	cfg := fixtureConfig(t)
	d := startDevServer(t, cfg)

	status, body := fetch(t, d, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<h1>Hello</h1>")
	assert.Contains(t, body, "new WebSocket")
}

func TestInitialBuildFailureIsFatal(t *testing.T) {
	cfg := fixtureConfig(t)
	require.NoError(t, os.RemoveAll(cfg.Site.ContentDir))

	d := New(cfg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.Error(t, d.Run(ctx))
}

func TestChangeTriggersRebuildRestartAndReload(t *testing.T) {
	cfg := fixtureConfig(t)
	d := startDevServer(t, cfg)

	// Connect a reload client before changing anything.
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	conn, _, err := websocket.Dial(dialCtx, "ws://"+d.hub.Addr()+"/ws", nil)
	dialCancel()
	require.NoError(t, err)
	defer conn.CloseNow()

	// Touch the watched document with new content and a fresh mtime.
	indexPath := filepath.Join(cfg.Site.ContentDir, "pages", "index.md")
	require.NoError(t, os.WriteFile(indexPath, []byte("# Updated"), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(indexPath, future, future))

	// The reload instruction must arrive only after the new output exists.
	readCtx, readCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_, message, err := conn.Read(readCtx)
	readCancel()
	require.NoError(t, err)
	assert.Equal(t, reload.Instruction, string(message))

	output, err := os.ReadFile(filepath.Join(cfg.Site.OutputDir, "pages", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(output), "<h1>Updated</h1>")

	// The restarted instance serves the fresh content.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status, body := fetch(t, d, "/")
		if status == http.StatusOK && strings.Contains(body, "<h1>Updated</h1>") {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("updated content never served")
}

func TestFailedRebuildKeepsPreviousSiteLive(t *testing.T) {
	cfg := fixtureConfig(t)
	d := startDevServer(t, cfg)

	conn := dialReload(t, d)

	// Break the build, then trigger a change.
	require.NoError(t, os.Remove(filepath.Join(cfg.Site.TemplateDir, "pages.html")))
	indexPath := filepath.Join(cfg.Site.ContentDir, "pages", "index.md")
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(indexPath, future, future))

	// No reload fires for a failed cycle.
	readCtx, readCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	_, _, err := conn.Read(readCtx)
	readCancel()
	assert.Error(t, err, "reload must not fire when the rebuild fails")

	// The previous instance keeps serving the previous output.
	status, body := fetch(t, d, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<h1>Hello</h1>")
}

func dialReload(t *testing.T, d *DevServer) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+d.hub.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	return conn
}

func readReload(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, message, err := conn.Read(ctx)
	require.NoError(t, err)

	return string(message)
}

func touchAt(t *testing.T, path string, when time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, when, when))
}

// trackingBuilder wraps the real build step, recording how many builds ran and
// how many overlapped. The delay widens the window in which an overlapping
// build would be caught.
type trackingBuilder struct {
	inner siteBuilder
	delay time.Duration

	mu     sync.Mutex
	active int
	max    int
	total  int
}

func (b *trackingBuilder) Build(ctx context.Context) error {
	b.mu.Lock()
	b.active++
	b.total++
	if b.active > b.max {
		b.max = b.active
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()

	time.Sleep(b.delay)
	return b.inner.Build(ctx)
}

func (b *trackingBuilder) counts() (max, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max, b.total
}

func waitForBuilds(t *testing.T, b *trackingBuilder, want int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, total := b.counts(); total >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("build count never reached %d", want)
}

func TestRapidChangesNeverOverlapRebuilds(t *testing.T) {
	cfg := fixtureConfig(t)
	d := New(cfg, testLogger())
	tracker := &trackingBuilder{inner: d.builder, delay: 150 * time.Millisecond}
	d.builder = tracker
	runDevServer(t, d)

	conn := dialReload(t, d)

	indexPath := filepath.Join(cfg.Site.ContentDir, "pages", "index.md")

	// First change; wait until its rebuild is underway.
	touchAt(t, indexPath, time.Now().Add(time.Minute))
	waitForBuilds(t, tracker, 2)

	// The second change lands while the first cycle is still building. It
	// must queue behind that cycle, never run beside it.
	touchAt(t, indexPath, time.Now().Add(2*time.Minute))
	waitForBuilds(t, tracker, 3)

	// One reload per completed cycle, in order.
	assert.Equal(t, reload.Instruction, readReload(t, conn))
	assert.Equal(t, reload.Instruction, readReload(t, conn))

	max, total := tracker.counts()
	assert.Equal(t, 1, max, "rebuilds must never run concurrently")
	assert.GreaterOrEqual(t, total, 3, "initial build plus one per change")
}

func TestWatcherRestartsAfterTransientReadError(t *testing.T) {
	cfg := fixtureConfig(t)
	d := startDevServer(t, cfg)
	conn := dialReload(t, d)

	// Removing the content root makes the next poll fail. Supervision must
	// restart the watcher rather than tear the loop down.
	pagesDir := filepath.Join(cfg.Site.ContentDir, "pages")
	require.NoError(t, os.RemoveAll(cfg.Site.ContentDir))
	time.Sleep(150 * time.Millisecond)

	status, _ := fetch(t, d, "/")
	require.Equal(t, http.StatusOK, status, "previous build stays live through watcher failures")

	// Once the content is back, the restarted watcher reports the change.
	require.NoError(t, os.MkdirAll(pagesDir, 0o755))
	indexPath := filepath.Join(pagesDir, "index.md")
	require.NoError(t, os.WriteFile(indexPath, []byte("# Back"), 0o644))
	touchAt(t, indexPath, time.Now().Add(time.Minute))

	assert.Equal(t, reload.Instruction, readReload(t, conn))
}
