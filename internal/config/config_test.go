package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	cfg := Default("ws-1")
	assert.Equal(t, "ws-1", cfg.Workspace.ID)
	assert.Equal(t, 4000*time.Millisecond, cfg.Automation.ConfirmWindow)
	assert.Equal(t, 30*time.Second, cfg.Automation.SyncInterval)

	content, ok := cfg.Module("content")
	require.True(t, ok)
	assert.True(t, content.Automatable)

	analytics, ok := cfg.Module("analytics")
	require.True(t, ok)
	assert.False(t, analytics.Automatable)

	_, ok = cfg.Module("nope")
	assert.False(t, ok)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing workspace":   "modules:\n  - id: a\n",
		"no modules":          "workspace:\n  id: w\n",
		"duplicate module":    "workspace:\n  id: w\nmodules:\n  - id: a\n  - id: a\n",
		"webhook without url": "workspace:\n  id: w\nmodules:\n  - id: a\nwebhooks:\n  - events: [approval.approved]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestValidateFillsTimingDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("workspace:\n  id: w\nmodules:\n  - id: a\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfirmWindow, cfg.Automation.ConfirmWindow)
	assert.Equal(t, DefaultSyncInterval, cfg.Automation.SyncInterval)
	assert.Equal(t, DefaultPendingLimit, cfg.Automation.PendingLimit)
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.Workspace.ID)

	doc := "workspace:\n  id: acme\nmodules:\n  - id: content\n    automatable: true\nautomation:\n  confirm_window: 2s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pilotdeck.yml"), []byte(doc), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Workspace.ID)
	assert.Equal(t, 2*time.Second, cfg.Automation.ConfirmWindow)

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}
