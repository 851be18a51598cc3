// Package config loads process-level settings via viper: the buffer size
// budget, chunk sizes, direction policy, timeouts and listen address the
// process is started with. This is distinct from package settings, the
// runtime dotted-path map mutated by update-settings commissions while the
// service is live.
//
// Grounded on ColonelBlimp-cwdecoder's internal/config package: default
// values set on the package-level viper instance, a validated Settings
// struct populated by Unmarshal, and a config file search/bootstrap step.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	AppName    = "epicurrents-corectl"
	ConfigType = "yaml"

	defaultConfig = `# epicurrents-corectl configuration

listen_address: ":8420"

buffer_budget_bytes: 268435456   # 256 MiB shared byte buffer
chunk_bytes: 1048576             # 1 MiB raw-reader chunk size
max_direct_load_bytes: 16777216  # files <= this are fully loaded, not streamed
max_load_cache_bytes: 134217728  # cap on raw cache bytes after typed conversion

direction_policy: "forward"      # forward | backward | alternate

read_timeout_seconds: 10
setup_timeout_seconds: 30
allocation_timeout_seconds: 5
commission_abandon_seconds: 30

debug: false
`
)

// Settings holds process-level configuration, unmarshaled from viper.
type Settings struct {
	ListenAddress string `mapstructure:"listen_address"`

	BufferBudgetBytes   int64 `mapstructure:"buffer_budget_bytes"`
	ChunkBytes          int64 `mapstructure:"chunk_bytes"`
	MaxDirectLoadBytes  int64 `mapstructure:"max_direct_load_bytes"`
	MaxLoadCacheBytes   int64 `mapstructure:"max_load_cache_bytes"`

	DirectionPolicy string `mapstructure:"direction_policy"`

	ReadTimeoutSeconds         int `mapstructure:"read_timeout_seconds"`
	SetupTimeoutSeconds        int `mapstructure:"setup_timeout_seconds"`
	AllocationTimeoutSeconds   int `mapstructure:"allocation_timeout_seconds"`
	CommissionAbandonSeconds   int `mapstructure:"commission_abandon_seconds"`

	Debug bool `mapstructure:"debug"`
}

// Init sets defaults and reads a config file, creating one under the XDG
// config directory (or $HOME/.config) when none is found. Config file
// search order: current directory, then that default directory.
func Init() error {
	viper.SetDefault("listen_address", ":8420")
	viper.SetDefault("buffer_budget_bytes", int64(268435456))
	viper.SetDefault("chunk_bytes", int64(1048576))
	viper.SetDefault("max_direct_load_bytes", int64(16777216))
	viper.SetDefault("max_load_cache_bytes", int64(134217728))
	viper.SetDefault("direction_policy", "forward")
	viper.SetDefault("read_timeout_seconds", 10)
	viper.SetDefault("setup_timeout_seconds", 30)
	viper.SetDefault("allocation_timeout_seconds", 5)
	viper.SetDefault("commission_abandon_seconds", 30)
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	dir := filepath.Join(configDir, AppName)
	viper.AddConfigPath(dir)
	viper.SetConfigName("config")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
		if err := ensureConfigExists(dir); err != nil {
			return err
		}
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func ensureConfigExists(dir string) error {
	file := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(file); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err := os.WriteFile(file, []byte(defaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get unmarshals and validates the current viper state.
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks the buffer budget, chunk size, direction policy and the
// read, setup and allocation timeouts; the other settings are not checked.
func (s *Settings) Validate() error {
	var errs []error
	if s.BufferBudgetBytes <= 0 {
		errs = append(errs, fmt.Errorf("buffer_budget_bytes must be positive, got %d", s.BufferBudgetBytes))
	}
	if s.ChunkBytes <= 0 {
		errs = append(errs, fmt.Errorf("chunk_bytes must be positive, got %d", s.ChunkBytes))
	}
	switch s.DirectionPolicy {
	case "forward", "backward", "alternate":
	default:
		errs = append(errs, fmt.Errorf("direction_policy must be one of forward, backward, alternate, got %q", s.DirectionPolicy))
	}
	if s.ReadTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("read_timeout_seconds must be positive, got %d", s.ReadTimeoutSeconds))
	}
	if s.SetupTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("setup_timeout_seconds must be positive, got %d", s.SetupTimeoutSeconds))
	}
	if s.AllocationTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("allocation_timeout_seconds must be positive, got %d", s.AllocationTimeoutSeconds))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
