// Package config loads server configuration from an optional .env file and
// SWIFTBASE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "SWIFTBASE_"

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr              string `mapstructure:"addr"`
	RequestsPerMinute int    `mapstructure:"requestsperminute"`
	RateBurst         int    `mapstructure:"rateburst"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	// Secret signs and verifies HS256 access tokens. Empty disables auth,
	// which is only sensible for local development.
	Secret string `mapstructure:"secret"`
}

type RealtimeConfig struct {
	DispatchWorkers int `mapstructure:"dispatchworkers"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Defaults returns the development defaults.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8090", RequestsPerMinute: 600, RateBurst: 100},
		Store:    StoreConfig{Path: "swiftbase.db"},
		Realtime: RealtimeConfig{DispatchWorkers: 32},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads the optional .env file, then the environment, into cfg.
// SWIFTBASE_SERVER_ADDR maps to server.addr and so on.
func Load() (Config, error) {
	cfg := Defaults()
	v := viper.New()

	v.SetConfigFile(".env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read .env: %w", err)
			}
		}
	}

	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		key, value := pair[0], pair[1]
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		// SWIFTBASE_SERVER_ADDR -> server.addr
		propKey := strings.TrimPrefix(key, envPrefix)
		propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
		v.Set(propKey, value)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
