package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Health    HealthConfig    `mapstructure:"health" validate:"required"`
	Recovery  RecoveryConfig  `mapstructure:"recovery" validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port      int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"omitempty,oneof=json dev"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// SchedulerConfig bounds the task worker pool and queue.
type SchedulerConfig struct {
	WorkerCount  int           `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize    int           `mapstructure:"queue_size" validate:"required,gt=0"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"required"`
}

// HealthConfig controls the health monitor's interval and the stall and
// stuck thresholds. Thresholds are configuration, never constants baked
// into the evaluation.
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"required"`
	StallAfter    time.Duration `mapstructure:"stall_after" validate:"required"`
	StuckAfter    time.Duration `mapstructure:"stuck_after" validate:"required"`
}

// RecoveryConfig caps automatic recovery attempts per job.
type RecoveryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" validate:"required,gt=0"`
}

// LLMConfig contains all LLM integration related settings. An empty API
// key wires a disabled generator that fails closed.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name"`
}
