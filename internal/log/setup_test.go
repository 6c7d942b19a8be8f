package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesRotatingFile(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "signalgate.log")
	cfg := DefaultConfig()
	cfg.Format = "json"
	cfg.File = path
	cfg.Level = "debug"

	closer, err := Setup(cfg)
	require.NoError(t, err)

	Audit("telegram_toggle").Str("state", "disabled").Str("user", "u1").Msg("Telegram toggle requested")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"audit":true`)
	assert.Contains(t, string(data), `"action":"telegram_toggle"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestSetup_RejectsBadLevel(t *testing.T) {
	_, err := Setup(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestUseConsole(t *testing.T) {
	assert.True(t, useConsole("console", os.Stderr))
	assert.False(t, useConsole("json", os.Stderr))
}
