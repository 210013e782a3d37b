package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "https://www.bancfirstonline.com", cfg.Portal.BaseURL)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
portal:
  base_url: "http://127.0.0.1:9999"
  timeout: 5s
store_path: "/tmp/test.db"
server:
  listen: ":9090"
  token: "secret"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Portal.BaseURL)
	assert.Equal(t, Duration(5*time.Second), cfg.Portal.Timeout)
	assert.Equal(t, "/tmp/test.db", cfg.StorePath)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, "secret", cfg.Server.Token)

	// Untouched sections keep their defaults.
	assert.Equal(t, "/onlineserv/HB/Money.ofx", cfg.Portal.Endpoints.ExportOFX)
	assert.NotEmpty(t, cfg.Portal.UserAgent)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("portal:\n  base_url: \"\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestPortalURL(t *testing.T) {
	p := Default().Portal
	assert.Equal(t,
		"https://www.bancfirstonline.com/onlineserv/HB/Money.ofx",
		p.URL(p.Endpoints.ExportOFX))
}
