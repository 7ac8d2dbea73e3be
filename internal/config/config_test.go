package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

func TestDefaultHasEveryField(t *testing.T) {
	cfg := Default()

	assert.NotEmpty(t, cfg.PathsFile)
	assert.NotEmpty(t, cfg.AppsFile)
	assert.NotEmpty(t, cfg.DomainsFile)
	assert.NotEmpty(t, cfg.ScheduleFile)
	assert.NotEmpty(t, cfg.LogFile)
	assert.NotEmpty(t, cfg.StateDir)
	assert.Equal(t, "workblocker", cfg.PFAnchor)
	assert.Equal(t, "/etc/pf.conf", cfg.PFConf)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval.Std())
	assert.Equal(t, 15*time.Second, cfg.GuardInterval.Std())
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().PFAnchor, cfg.PFAnchor)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workblocker.yaml")
	data := `
paths_file: /tmp/paths.txt
pf_anchor: custom
reconcile_interval: 1m
guard_interval: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/paths.txt", cfg.PathsFile)
	assert.Equal(t, "custom", cfg.PFAnchor)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval.Std())
	assert.Equal(t, 5*time.Second, cfg.GuardInterval.Std())
	// Untouched fields keep defaults.
	assert.Equal(t, Default().AppsFile, cfg.AppsFile)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{nope"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))
}

func TestLoadRejectsBadInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reconcile_interval: -5s\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))
}

func TestDurationUnmarshalRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("guard_interval: soon\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
