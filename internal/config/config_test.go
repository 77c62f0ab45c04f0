package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCompiledInDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "content", cfg.Site.ContentDir)
	assert.Equal(t, "templates", cfg.Site.TemplateDir)
	assert.Equal(t, "output", cfg.Site.OutputDir)
	assert.Equal(t, []string{"pages", "projects"}, cfg.Site.Collections)
	assert.Equal(t, "My Site", cfg.Site.Title)
	assert.Equal(t, "pages/index.html", cfg.Site.IndexPage)
	assert.Equal(t, "pages/404.html", cfg.Site.NotFoundPage)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 7878, cfg.Server.Port)
	assert.Equal(t, time.Second, cfg.Server.ShutdownGrace)

	assert.Equal(t, "127.0.0.1", cfg.Reload.Host)
	assert.Equal(t, 7879, cfg.Reload.Port)

	assert.Equal(t, 2*time.Second, cfg.Watch.Interval)
}

func TestServerAndReloadPortsAreDistinct(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// Restarting the origin server must not touch reload connections, so
	// the two listeners never share a port.
	assert.NotEqual(t, cfg.Server.Port, cfg.Reload.Port)
}

func TestLoadIsStable(t *testing.T) {
	first, err := Load()
	require.NoError(t, err)

	second, err := Load()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
