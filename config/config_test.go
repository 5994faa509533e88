package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ListenAddress = ":9999"
DataDir = "/tmp/vault-test"
Environment = "prod"
Owner = "owner.test"
VaultIndex = 7
VaultVersion = 2
RelayerURL = "http://relayer.local:8080"
EpochSeconds = 43200
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.ListenAddress)
	require.Equal(t, "/tmp/vault-test", cfg.DataDir)
	require.Equal(t, "prod", cfg.Environment)
	require.Equal(t, "owner.test", cfg.Owner)
	require.Equal(t, uint64(7), cfg.VaultIndex)
	require.Equal(t, uint64(2), cfg.VaultVersion)
	require.Equal(t, "http://relayer.local:8080", cfg.RelayerURL)
	require.Equal(t, int64(43200), cfg.EpochSeconds)
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`Owner = "owner.test"`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, defaultListenAddress, cfg.ListenAddress)
	require.Equal(t, defaultDataDir, cfg.DataDir)
	require.Equal(t, defaultEnvironment, cfg.Environment)
}

func TestLoadCreatesTemplateAndRejectsIt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "config.toml")

	_, err := Load(path)
	require.Error(t, err) // template written, Owner still empty
	require.FileExists(t, path)
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	require.Error(t, cfg.Validate())

	cfg.Owner = "owner.test"
	require.NoError(t, cfg.Validate())

	cfg.EpochSeconds = -1
	require.Error(t, cfg.Validate())
}
