// Package config provides configuration loading, validation, and management
// for the bursarbot worker. It handles reading from YAML files, setting
// default values, and validating configuration parameters.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all components
// of the bursarbot system: logging, HTTP surface, message log storage, the
// Gemini client, the tuition backend, the log bridge, and scheduled tasks.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Tuition   TuitionConfig   `mapstructure:"tuition"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig controls the HTTP listener serving the health route and the
// message append/list API.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535"`
}

// DatabaseConfig controls the SQLite message log backing store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GeminiConfig holds credentials and generation parameters for the model.
type GeminiConfig struct {
	APIKey            string  `mapstructure:"api_key" validate:"required"`
	ModelName         string  `mapstructure:"model_name" validate:"required"`
	Temperature       float32 `mapstructure:"temperature" validate:"min=0,max=2"`
	SystemInstruction string  `mapstructure:"system_instruction" validate:"required"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds" validate:"min=1,max=300"`
}

// TuitionConfig holds the tuition backend base URL and request timeout.
type TuitionConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required,min=1s,max=5m"`
}

// BridgeConfig controls the message log bridge worker.
type BridgeConfig struct {
	MaxHandlers    int           `mapstructure:"max_handlers" validate:"required,gt=0"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" validate:"required,min=1s,max=30m"`
	SweepGrace     time.Duration `mapstructure:"sweep_grace" validate:"required,min=1s,max=24h"`
}

// TaskConfig defines the schedule for a single scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig holds the configuration for all scheduled tasks, keyed by
// the task name used in the task registry.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// MessagesConfig holds user-facing message templates.
type MessagesConfig struct {
	GeneralError string `mapstructure:"general_error" validate:"required"`
}

// Load loads and validates configuration from:
// 1. Default values
// 2. config.yaml file (optional)
// 3. BOT_* environment variables, plus the PORT, API_URL, GEMINI_API_KEY, and
// DATABASE_PATH aliases
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("BOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Conventional deployment variables recognized alongside the BOT_* forms.
	bindAliases()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, defaults plus environment apply.
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func bindAliases() {
	_ = viper.BindEnv("server.port", "BOT_SERVER_PORT", "PORT")
	_ = viper.BindEnv("tuition.base_url", "BOT_TUITION_BASE_URL", "API_URL")
	_ = viper.BindEnv("gemini.api_key", "BOT_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = viper.BindEnv("database.path", "BOT_DATABASE_PATH", "DATABASE_PATH")
}

// setDefaults sets default values for optional configuration parameters.
func setDefaults() {
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.json", true)

	viper.SetDefault("server.port", 3000)

	viper.SetDefault("database.path", "bursarbot.db")

	viper.SetDefault("gemini.model_name", "gemini-2.0-flash")
	viper.SetDefault("gemini.temperature", 0.7)
	viper.SetDefault("gemini.system_instruction", DefaultSystemInstruction)
	viper.SetDefault("gemini.max_retries", 2)
	viper.SetDefault("gemini.retry_delay_seconds", 2)

	viper.SetDefault("tuition.request_timeout", 15*time.Second)

	viper.SetDefault("bridge.max_handlers", 8)
	viper.SetDefault("bridge.handler_timeout", 2*time.Minute)
	viper.SetDefault("bridge.sweep_grace", time.Minute)

	viper.SetDefault("scheduler.tasks.log_sweep.enabled", true)
	viper.SetDefault("scheduler.tasks.log_sweep.schedule", "*/2 * * * *")
	viper.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	viper.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 4 * * *")

	viper.SetDefault("messages.general_error", "I'm sorry, I encountered an error processing your request.")
}

// DefaultSystemInstruction is the assistant persona sent with every model
// request. The student_id policy mirrors the tool schemas: both tools require
// it, so the model must collect it before requesting an invocation.
const DefaultSystemInstruction = `You are a helpful university bursar assistant. You help students check their tuition balance and submit tuition payments using the tools available to you.

Always ask the student for their student_id before invoking any tool if it has not been provided. Never guess or fabricate a student_id or an amount. When a tool returns an error, explain the problem to the student in plain language and suggest they try again later.`
