package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalgate/internal/config"
)

func serveFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := newServeCmd().Flags()
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestApplyFlagOverridesOnlyChangedFlags(t *testing.T) {
	logLevel = ""
	cfg := config.DefaultAppConfig()
	cfg.Server.Port = 9090
	cfg.Kernel.BaseURL = "http://kernel:8000"

	require.NoError(t, applyFlagOverrides(cfg, serveFlags(t)))

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "http://kernel:8000", cfg.Kernel.BaseURL)
}

func TestApplyFlagOverrides(t *testing.T) {
	logLevel = "debug"
	t.Cleanup(func() { logLevel = "" })

	cfg := config.DefaultAppConfig()
	flags := serveFlags(t, "--port", "7000", "--host", "127.0.0.1", "--kernel-url", "http://10.0.0.5:8000", "--redis-addr", "redis:6380")

	require.NoError(t, applyFlagOverrides(cfg, flags))

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "http://10.0.0.5:8000", cfg.Kernel.BaseURL)
	assert.Equal(t, "redis:6380", cfg.Kernel.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyFlagOverridesWithoutServeFlags(t *testing.T) {
	logLevel = ""
	cfg := config.DefaultAppConfig()
	flags := pflag.NewFlagSet("version", pflag.ContinueOnError)

	require.NoError(t, applyFlagOverrides(cfg, flags))
	assert.Equal(t, config.DefaultAppConfig().Server, cfg.Server)
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	})

	t.Run("empty path", func(t *testing.T) {
		assert.NoError(t, loadEnvFile(""))
	})

	t.Run("values are exported", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("SIGNALGATE_TEST_ENV_VALUE=from-dotenv\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("SIGNALGATE_TEST_ENV_VALUE") })

		require.NoError(t, loadEnvFile(path))
		assert.Equal(t, "from-dotenv", os.Getenv("SIGNALGATE_TEST_ENV_VALUE"))
	})
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, appName+" "+version+"\n", out.String())
}

func TestRedactedYAML(t *testing.T) {
	cfg := config.DefaultAppConfig()
	cfg.Database.DSN = "postgres://gate:hunter2@db:5432/signalgate"
	cfg.Ingest.APIKey = "producer"
	cfg.Ingest.APISecret = "topsecret"
	cfg.Kernel.Redis.Password = "redispw"

	out, err := redactedYAML(cfg)
	require.NoError(t, err)

	text := string(out)
	assert.NotContains(t, text, "hunter2")
	assert.NotContains(t, text, "topsecret")
	assert.NotContains(t, text, "redispw")
	assert.Contains(t, text, "[REDACTED]")
	assert.Contains(t, text, cfg.Kernel.BaseURL)
}

func TestConfigInitWritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signalgate.yaml")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", "--out", path})
	require.NoError(t, root.Execute())

	loaded, err := config.LoadAppConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultAppConfig().Server.Port, loaded.Server.Port)

	root = newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"config", "init", "--out", path})
	assert.Error(t, root.Execute(), "existing file is not overwritten without --force")
}
