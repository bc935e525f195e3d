package config

import (
	"bytes"
	"testing"

	"github.com/arjenlentz/dpm/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	var out bytes.Buffer
	cfg, err := Parse([]string{"-backend=tcp://127.0.0.1:3306"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.ListenNetwork)
	assert.Equal(t, "0.0.0.0:3306", cfg.ListenAddr)
	assert.Equal(t, "tcp", cfg.BackendNetwork)
	assert.Equal(t, "127.0.0.1:3306", cfg.BackendAddr)
	assert.Equal(t, logging.Info, cfg.LogLevel)
	assert.True(t, cfg.StaleSocketUnlink)
}

func TestParseUnixSockets(t *testing.T) {
	var out bytes.Buffer
	cfg, err := Parse([]string{
		"-listen=unix:///tmp/dpm.sock",
		"-backend=unix:///tmp/mysql.sock",
		"-no-unlink-stale-socket",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "unix", cfg.ListenNetwork)
	assert.Equal(t, "/tmp/dpm.sock", cfg.ListenAddr)
	assert.False(t, cfg.StaleSocketUnlink)
}

func TestParseScriptPaths(t *testing.T) {
	var out bytes.Buffer
	cfg, err := Parse([]string{"-backend=tcp://x:1", "-scripts= a.lua , b.lua,"}, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.lua", "b.lua"}, cfg.ScriptPaths)
}

func TestParseRejectsBadAddr(t *testing.T) {
	var out bytes.Buffer
	_, err := Parse([]string{"-listen=bogus"}, &out)
	assert.Error(t, err)
}

func TestParseRejectsBadLevel(t *testing.T) {
	var out bytes.Buffer
	_, err := Parse([]string{"-backend=tcp://x:1", "-log-level=noisy"}, &out)
	assert.Error(t, err)
}
