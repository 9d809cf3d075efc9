// Package config provides the configuration loader for a Quill node. Values
// come from an optional config.toml in the working directory; environment
// variables (a .env file is honoured when present) supply the defaults for
// keys the file does not set.
package config

import (
	"errors"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"quill-network/pkg/utils"
)

// Config holds the node configuration. The zero value is never used; call
// Load to populate AppConfig with defaults merged from config.toml.
type Config struct {
	P2PPort int      `mapstructure:"p2p_port"`
	APIPort int      `mapstructure:"api_port"`
	DataDir string   `mapstructure:"data_dir"`
	Peers   []string `mapstructure:"peers"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// AppConfig holds the configuration loaded via Load.
var AppConfig Config

// Load reads config.toml from the working directory, if present, over
// defaults taken from the environment. The resulting configuration is stored
// in AppConfig and returned.
func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")

	viper.SetDefault("p2p_port", utils.EnvOrDefaultInt("QUILL_P2P_PORT", 5000))
	viper.SetDefault("api_port", utils.EnvOrDefaultInt("QUILL_API_PORT", 3030))
	viper.SetDefault("data_dir", utils.EnvOrDefault("QUILL_DATA_DIR", "."))
	viper.SetDefault("logging.level", utils.EnvOrDefault("QUILL_LOG_LEVEL", "info"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}
