package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 8765, cfg.Server.Port)
	require.Equal(t, 0.65, cfg.Posture.ConfMin)
}

func TestLoadParsesYAMLOverridingDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, writeFile(path, "server:\n  port: 9000\nposture:\n  conf_min: 0.5\n"))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 0.5, cfg.Posture.ConfMin)
	require.Equal(t, int64(750), cfg.Posture.DwellReviewMs)
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, writeFile(path, "server:\n  port: 9000\n"))
	t.Setenv("SENSOR_SERVER_PORT", "7777")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7777, cfg.Server.Port)
}

func TestPostureTunablesConvertsDurations(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	tunables := cfg.Posture.Tunables()
	require.Equal(t, cfg.Posture.DwellReview(), tunables.DwellReview)
	require.Equal(t, cfg.Posture.MinFlipGap(), tunables.MinFlipGap)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
