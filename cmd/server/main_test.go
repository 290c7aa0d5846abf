package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"so-appserver/internal/config"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "so-appserver dev\n", out)
}

func TestConfig_FlagsOverride(t *testing.T) {
	t.Setenv("APPSERVER_WORKERS", "3")
	out, err := run(t, "config", "--addr", ":9999", "--docroot", "/srv/www", "--no-metrics", "--redis-addr", "r:1")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, ":9999", got["addr"])
	assert.Equal(t, "/srv/www", got["document_root"])
	assert.Equal(t, 3, got["workers"], "env applies when the flag is absent")
	assert.Equal(t, false, got["metrics"])
	assert.Equal(t, "30m", got["session_timeout"])
	assert.Equal(t, "r:1", got["redis"].(map[string]any)["addr"])
}

func TestConfig_MasksRedisPassword(t *testing.T) {
	t.Setenv("APPSERVER_REDIS_PASSWORD", "hunter2")
	out, err := run(t, "config")
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "***")
}

func TestRoot_InvalidConfigFails(t *testing.T) {
	_, err := run(t, "--docroot", t.TempDir()+"/missing")
	assert.ErrorContains(t, err, "document_root")
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DocumentRoot = t.TempDir()
	cfg.AcceptPoll = config.Duration(20 * time.Millisecond)
	cfg.LogLevel = "error"

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- serve(ctx, cfg) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
