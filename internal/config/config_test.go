package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoad_DefaultsWithoutConfigFile(t *testing.T) {
	home := withHome(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".commitd", "data"), cfg.DataDir)
	assert.Equal(t, 15*time.Minute, cfg.TickInterval)
	assert.Equal(t, 10*time.Second, cfg.HookInterval)
	assert.Equal(t, 24*time.Hour, cfg.PenaltyDuration)
	assert.Equal(t, 60*time.Second, cfg.IntegritySlack)
	assert.Equal(t, 7*24*time.Hour, cfg.GraceExpiry)
}

func TestLoad_ReadsConfigFile(t *testing.T) {
	home := withHome(t)
	dir := filepath.Join(home, ".commitd")
	require.NoError(t, os.MkdirAll(dir, 0700))

	yaml := "tick_interval: 5m\npenalty_duration: 12h\ndata_dir: /tmp/elsewhere\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.TickInterval)
	assert.Equal(t, 12*time.Hour, cfg.PenaltyDuration)
	assert.Equal(t, "/tmp/elsewhere", cfg.DataDir)
	assert.Equal(t, 10*time.Second, cfg.HookInterval, "unset keys keep defaults")
}

func TestLoad_EnvOverrides(t *testing.T) {
	withHome(t)
	t.Setenv("COMMITD_TICK_INTERVAL", "1m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.TickInterval)
}

func TestLoad_RejectsNonPositiveIntervals(t *testing.T) {
	home := withHome(t)
	dir := filepath.Join(home, ".commitd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("tick_interval: 0s\n"), 0600))

	_, err := Load()
	assert.Error(t, err)
}
