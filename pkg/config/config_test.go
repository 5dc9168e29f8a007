package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDefaults(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, Init(cfgFile))

	settings := Get()
	assert.Equal(t, "127.0.0.1", settings.Server.Host)
	assert.Equal(t, 8000, settings.Server.Port)
	assert.Equal(t, "info", settings.Logging.Level)
	assert.Equal(t, "duckduckgo", settings.Search.DefaultSource)
	assert.Equal(t, 5, settings.Chat.MaxToolRounds)
	assert.Equal(t, 4, settings.Retrieval.K)
}

func TestDataPath(t *testing.T) {
	require.NoError(t, Init(filepath.Join(t.TempDir(), "settings.yaml")))
	Global.DataDir = "/tmp/loom-data"
	assert.Equal(t, filepath.Join("/tmp/loom-data", "uploads", "a.png"), DataPath("uploads", "a.png"))
}
