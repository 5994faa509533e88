package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddress = ":8645"
	defaultDataDir       = "./vault-data"
	defaultEnvironment   = "dev"
)

// Config is the daemon configuration loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`

	// Owner, VaultIndex and VaultVersion seed the vault state on first boot.
	Owner        string `toml:"Owner"`
	VaultIndex   uint64 `toml:"VaultIndex"`
	VaultVersion uint64 `toml:"VaultVersion"`

	// RelayerURL is the host runtime endpoint that executes staking and
	// token calls and posts their outcomes back.
	RelayerURL string `toml:"RelayerURL"`

	// RPCAuthToken, when set, requires a bearer token on write methods.
	RPCAuthToken string `toml:"RPCAuthToken"`

	// EpochSeconds overrides the wall-clock epoch derivation. Zero keeps the
	// engine default.
	EpochSeconds int64 `toml:"EpochSeconds"`
}

func defaults() Config {
	return Config{
		ListenAddress: defaultListenAddress,
		DataDir:       defaultDataDir,
		Environment:   defaultEnvironment,
	}
}

// Load reads the configuration file at path, creating it with defaults when
// it does not exist yet.
func Load(path string) (Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, cfg.Validate()
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListenAddress
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.Environment == "" {
		cfg.Environment = defaultEnvironment
	}
	return cfg, cfg.Validate()
}

// Save writes the configuration to path, creating parent directories.
func Save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the daemon cannot start with.
func (c Config) Validate() error {
	if c.Owner == "" {
		return errors.New("config: Owner must be set")
	}
	if c.EpochSeconds < 0 {
		return errors.New("config: EpochSeconds must not be negative")
	}
	return nil
}
