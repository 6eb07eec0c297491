package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	req.NoError(err)
	req.Equal(path, resolved)
	req.Equal(Default().Addr, cfg.Addr)
	req.Equal(Default().HistoryWindow, cfg.HistoryWindow)

	_, err = os.Stat(path)
	req.NoError(err, "default config file should be created")

	req.NotEqual(Default().JWTSecret, cfg.JWTSecret, "a fresh config gets its own secret")
	req.NotEqual(Default().PasswordPepper, cfg.PasswordPepper)
	req.Len(cfg.JWTSecret, 2*secretBytes)

	again, _, err := Load(nil, path)
	req.NoError(err)
	req.Equal(cfg.JWTSecret, again.JWTSecret, "secrets are stable across restarts")
	req.Equal(cfg.PasswordPepper, again.PasswordPepper)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	req.NoError(os.WriteFile(path, []byte("history_window: 0\nlog_format: xml\n"), 0o600))

	_, _, err := Load(nil, path)
	req.ErrorIs(err, ErrInvalid)
	req.Contains(err.Error(), "history_window")
	req.Contains(err.Error(), "log_format")
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	cfg := Default()
	cfg.JWTSecret = ""
	cfg.EventBuffer = 0
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "jwt_secret")
	require.Contains(t, err.Error(), "event_buffer")
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	req.NoError(os.WriteFile(path, []byte("addr: \":9090\"\nhistory_window: 50\nbot_delay: 2s\n"), 0o600))

	t.Setenv("TRIX_HISTORY_WINDOW", "75")
	t.Setenv("TRIX_JWT_SECRET", "from-env")

	cfg, _, err := Load(nil, path)
	req.NoError(err)
	req.Equal(":9090", cfg.Addr)
	req.Equal(75, cfg.HistoryWindow)
	req.Equal("from-env", cfg.JWTSecret)
	req.Equal(2*time.Second, cfg.BotDelay)
	req.Equal(Default().TokenTTL, cfg.TokenTTL)
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	req.NoError(os.WriteFile(envFile, []byte("TRIX_TEST_FROM_FILE=file\nTRIX_TEST_PRESET=file\n"), 0o600))

	t.Setenv("TRIX_TEST_PRESET", "process")
	t.Setenv("TRIX_TEST_FROM_FILE", "")
	req.NoError(os.Unsetenv("TRIX_TEST_FROM_FILE"))

	LoadDotEnv(nil, envFile, filepath.Join(dir, "missing.env"))

	req.Equal("file", os.Getenv("TRIX_TEST_FROM_FILE"))
	req.Equal("process", os.Getenv("TRIX_TEST_PRESET"))
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1234", DatabasePath: "other.db"})

	require.Equal(t, ":1234", cfg.Addr)
	require.Equal(t, "other.db", cfg.DatabasePath)
	require.Equal(t, Default().LogLevel, cfg.LogLevel)
}
