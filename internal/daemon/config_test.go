package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Contains(t, cfg.SocketPath, "indexd.sock")
	assert.Contains(t, cfg.PIDPath, "indexd.pid")
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownGracePeriod)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	base := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty socket path",
			mutate:  func(c *Config) { c.SocketPath = "" },
			wantErr: "socket path",
		},
		{
			name:    "empty PID path",
			mutate:  func(c *Config) { c.PIDPath = "" },
			wantErr: "PID path",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Timeout = 0 },
			wantErr: "timeout",
		},
		{
			name:    "negative grace period",
			mutate:  func(c *Config) { c.ShutdownGracePeriod = -time.Second },
			wantErr: "grace period",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfig_EnsureDir(t *testing.T) {
	tmp := t.TempDir()
	cfg := Config{
		SocketPath: filepath.Join(tmp, "run", "indexd.sock"),
		PIDPath:    filepath.Join(tmp, "state", "indexd.pid"),
		Timeout:    time.Second,
	}

	require.NoError(t, cfg.EnsureDir())

	assert.DirExists(t, filepath.Join(tmp, "run"))
	assert.DirExists(t, filepath.Join(tmp, "state"))
}

func TestPIDFile_WriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexd.pid")
	pf := NewPIDFile(path)

	// No file yet.
	_, err := pf.Read()
	require.ErrorIs(t, err, ErrPIDFileNotFound)

	require.NoError(t, pf.Write())

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, pf.IsRunning())

	require.NoError(t, pf.Remove())
	_, err = pf.Read()
	assert.ErrorIs(t, err, ErrPIDFileNotFound)
	assert.False(t, pf.IsRunning())
}

func TestPIDFile_RemoveMissingIsFine(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "indexd.pid"))
	assert.NoError(t, pf.Remove())
}

func TestPIDFile_GarbageContentFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexd.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := NewPIDFile(path).Read()
	assert.ErrorContains(t, err, "invalid PID")
}
