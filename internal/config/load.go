package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for all environment variables read by Load,
// e.g. COURSEGEN_SERVER_PORT, COURSEGEN_DATABASE_URL.
const envPrefix = "COURSEGEN"

// Load reads configuration from environment variables with defaults
// applied, then validates the result. Environment variables use the
// COURSEGEN_ prefix with underscores for nesting.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface nested keys during Unmarshal;
	// bind each known key explicitly.
	for _, key := range []string{
		"server.port", "server.log_level", "server.log_format",
		"database.url",
		"scheduler.worker_count", "scheduler.queue_size", "scheduler.drain_timeout",
		"health.check_interval", "health.stall_after", "health.stuck_after",
		"recovery.max_attempts",
		"llm.gemini_api_key", "llm.model_name",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.queue_size", 100)
	v.SetDefault("scheduler.drain_timeout", "30s")
	v.SetDefault("health.check_interval", "30s")
	v.SetDefault("health.stall_after", "2m")
	v.SetDefault("health.stuck_after", "5m")
	v.SetDefault("recovery.max_attempts", 3)
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
}
