// Package config provides simple configuration loading
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load loads a configuration file (YAML or JSON) into the given structure.
// Keys can be overridden through TIDEMARK_* environment variables, e.g.
// TIDEMARK_CREDENTIALS_GOOGLE_CLIENT_SECRET.
func Load(filePath string, cfg interface{}) error {
	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetEnvPrefix("tidemark")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return nil
}
