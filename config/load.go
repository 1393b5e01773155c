package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var globalConfig *Config
var viperInstance *viper.Viper

// Load reads the mantyx configuration using Viper.
// Precedence (lowest to highest): defaults < config file < MANTYX_* env vars.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", configPath, err)
	}

	return &cfg, nil
}

// Reset clears the cached configuration (useful for testing).
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// ConfigFilePath returns the path of the config file in use, or empty
// when running on defaults and environment variables only.
func ConfigFilePath() string {
	return initViper().ConfigFileUsed()
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("MANTYX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Config file: $MANTYX_CONFIG, then <base_dir>/config/mantyx.toml,
	// then ./mantyx.toml. Missing files are fine; defaults apply.
	if explicit := os.Getenv("MANTYX_CONFIG"); explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("mantyx")
		v.SetConfigType("toml")
		v.AddConfigPath(filepath.Join(v.GetString("base_dir"), "config"))
		v.AddConfigPath(".")
	}
	_ = v.ReadInConfig()

	viperInstance = v
	return v
}
