package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.logLevel", "info")
	v.SetDefault("server.facilitatorSecret", "")
	v.SetDefault("server.connectionLimit.maxPerIP", 5)
	v.SetDefault("transport.readTimeout", "120s")
	v.SetDefault("session.historyCap", 200)
	v.SetDefault("session.welcomeHistoryCap", 20)
	v.SetDefault("limits.colorWindow", "300ms")
	v.SetDefault("limits.textWindow", "8s")
	v.SetDefault("limits.questionWindow", "5s")
	v.SetDefault("sink.bulbAddress", "")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("SESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.FacilitatorSecret == "" {
		logger.Warn("No facilitator secret configured; facilitator joins will be rejected")
	}

	return &cfg, nil
}
