package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DIMO-Network/shared"
	"github.com/rhodey/lock.host/internal/config"
	"github.com/rhodey/lock.host/pkg/attest"
	"github.com/stretchr/testify/require"
)

func TestSettingsDefaults(t *testing.T) {
	t.Parallel()
	var settings config.Settings
	mode, err := settings.Mode()
	require.NoError(t, err)
	require.Equal(t, attest.ModeDevelopment, mode)
	require.Equal(t, attest.DefaultRootPath, settings.RootPath())
	require.Equal(t, attest.DefaultMeasurementPath, settings.MeasurementFile())
}

func TestSettingsInvalidMode(t *testing.T) {
	t.Parallel()
	settings := config.Settings{Prod: "maybe"}
	_, err := settings.Mode()
	require.ErrorIs(t, err, attest.ErrInvalidMode)
}

func TestLoadSettings(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "PROD: \"true\"\nLOG_LEVEL: debug\nROOT_PEM_PATH: /etc/root.pem\nPORT: 8080\nMON_PORT: 8888\nENCLAVE_CID: 16\nENCLAVE_PORT: 5005\nVSOCK_LISTEN: true\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	settings, err := shared.LoadConfig[config.Settings](path)
	require.NoError(t, err)
	mode, err := settings.Mode()
	require.NoError(t, err)
	require.Equal(t, attest.ModeProduction, mode)
	require.Equal(t, "/etc/root.pem", settings.RootPath())
	require.Equal(t, 8080, settings.Port)
	require.Equal(t, uint32(16), settings.EnclaveCID)
	require.True(t, settings.VsockListen)
}
