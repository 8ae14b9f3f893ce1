// Package config loads YAML configuration layered under environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfigFile names an explicit config file that replaces the search path.
const EnvConfigFile = "CONFIG_FILE"

// Load reads configName.yaml from configPath, the working directory or
// ./config. A missing file is not an error; keys then come from defaults and
// the environment (server.port <- SERVER_PORT).
func Load(configPath, configName string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := os.Getenv(EnvConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		return v, nil
	}

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	for _, p := range []string{configPath, ".", "./config"} {
		v.AddConfigPath(p)
	}

	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// Duration reads key as a duration string ("30s", "5m"). Unparseable or
// non-positive values fall back to def.
func Duration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// OptionalDuration is Duration for settings where zero disables a feature.
func OptionalDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d < 0 {
		return def
	}
	return d
}
