package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSecrets(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("CHALLENGEZONE_AUTH_TOKEN_SECRET", "id-secret")
	t.Setenv("CHALLENGEZONE_AUTH_SESSION_SECRET", "session-secret")
}

func TestLoad_Defaults(t *testing.T) {
	withSecrets(t)

	cfg, err := Load("")
	require.NoError(t, err)
	want := Default()
	want.Auth.TokenSecret = "id-secret"
	want.Auth.SessionSecret = "session-secret"
	assert.Equal(t, want, cfg)
	assert.True(t, cfg.MemoryStore())
}

func TestLoad_FileThenEnv(t *testing.T) {
	withSecrets(t)
	file := filepath.Join(t.TempDir(), "challengezone.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  addr: ":9090"
database:
  dsn: "postgres://zone@localhost/zone"
app:
  refresh_interval: 45s
  event_started: true
  admin_usernames: [brianc, jordan]
`), 0o600))
	t.Setenv("CHALLENGEZONE_SERVER_ADDR", ":7070")
	t.Setenv("CHALLENGEZONE_LOG_LEVEL", "debug")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "postgres://zone@localhost/zone", cfg.Database.DSN)
	assert.False(t, cfg.MemoryStore())
	assert.Equal(t, 45*time.Second, cfg.App.RefreshInterval)
	assert.True(t, cfg.App.EventStarted)
	assert.Equal(t, []string{"brianc", "jordan"}, cfg.App.AdminUsernames)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_DotEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte(
		"CHALLENGEZONE_AUTH_TOKEN_SECRET=from-dotenv\nCHALLENGEZONE_AUTH_SESSION_SECRET=also-dotenv\n"), 0o600))
	t.Setenv("CHALLENGEZONE_AUTH_TOKEN_SECRET", "from-env")
	// godotenv sets variables, so make sure the test restores them.
	t.Setenv("CHALLENGEZONE_AUTH_SESSION_SECRET", "")
	require.NoError(t, os.Unsetenv("CHALLENGEZONE_AUTH_SESSION_SECRET"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.TokenSecret, "real environment wins over .env")
	assert.Equal(t, "also-dotenv", cfg.Auth.SessionSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	withSecrets(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Auth.TokenSecret = "a"
	valid.Auth.SessionSecret = "b"
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no token secret", func(c *Config) { c.Auth.TokenSecret = "" }},
		{"no session secret", func(c *Config) { c.Auth.SessionSecret = "" }},
		{"no dsn", func(c *Config) { c.Database.DSN = "" }},
		{"zero refresh", func(c *Config) { c.App.RefreshInterval = 0 }},
		{"negative session wait", func(c *Config) { c.App.SessionWait = -time.Second }},
		{"zero burst", func(c *Config) { c.Auth.LoginBurst = 0 }},
		{"negative history", func(c *Config) { c.App.EventHistoryLimit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrInvalid)
		})
	}
}
