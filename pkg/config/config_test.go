package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 500, cfg.Session.HistoryCapacity)
	assert.Equal(t, 256, cfg.Session.MaxPending)
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "collab.yaml", `
listen_addr: ":9000"
log:
  level: debug
store:
  driver: memory
session:
  history_capacity: 20
transport:
  allowed_origins: ["https://example.com"]
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 20, cfg.Session.HistoryCapacity)
	assert.Equal(t, 256, cfg.Session.MaxPending)
	assert.Equal(t, []string{"https://example.com"}, cfg.Transport.AllowedOrigins)
}

func TestLoadJSONC(t *testing.T) {
	p := writeFile(t, "collab.jsonc", `{
	// compact history for small servers
	"session": {"history_capacity": 10,},
	"store": {"compression": "lz4"}, /* trailing */
}`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Session.HistoryCapacity)
	assert.Equal(t, "lz4", cfg.Store.Compression)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadEmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejects(t *testing.T) {
	for _, tc := range []struct {
		name, file, content, want string
	}{
		{"unknown yaml field", "c.yaml", "listen: x\n", "field listen not found"},
		{"unknown json field", "c.json", `{"listen": "x"}`, "unknown field"},
		{"extension", "c.toml", "", "unsupported config extension"},
		{"driver", "c.yaml", "store: {driver: redis}\n", "store.driver"},
		{"sqlite path", "c.yaml", "store: {path: ''}\n", "store.path"},
		{"compression", "c.yaml", "store: {compression: brotli}\n", "store.compression"},
		{"capacity", "c.yaml", "session: {history_capacity: 0}\n", "history_capacity"},
		{"level", "c.yaml", "log: {level: loud}\n", "log.level"},
		{"format", "c.yaml", "log: {format: xml}\n", "log.format"},
		{"rate", "c.yaml", "transport: {submit_rate: 0}\n", "submit_rate"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestPath(t *testing.T) {
	t.Setenv(EnvVar, "/etc/collab.yaml")
	assert.Equal(t, "/etc/collab.yaml", Path(""))
	assert.Equal(t, "local.yaml", Path("local.yaml"))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "file", 3)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}
