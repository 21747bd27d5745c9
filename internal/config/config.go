// Package config loads lapse configuration.
//
// Values are layered in this order, later layers winning:
//  1. Built-in defaults.
//  2. An optional TOML file.
//  3. A .env file, if present. It never overrides variables already set.
//  4. Environment variables (the deployed function contract: CFN_STACK_NAME,
//     IX_TAG_PREFIX, IX_STOP_ACTION, IX_TERM_ACTION, ...).
//
// The merged result is validated with go-playground/validator.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Schedule backends.
const (
	BackendScheduler = "scheduler"
	BackendLocal     = "local"
)

// Config is the root configuration structure.
type Config struct {
	StackName string         `toml:"stack_name" envconfig:"CFN_STACK_NAME"`
	AWS       AWSConfig      `toml:"aws"`
	Expiry    ExpiryConfig   `toml:"expiry"`
	Notify    NotifyConfig   `toml:"notify"`
	Schedule  ScheduleConfig `toml:"schedule"`
	Guard     GuardConfig    `toml:"guard"`
	Serve     ServeConfig    `toml:"serve"`
	OTEL      OTELConfig     `toml:"otel"`
	Log       LogConfig      `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region  string `toml:"region" envconfig:"AWS_REGION"`
	Profile string `toml:"profile" envconfig:"AWS_PROFILE"`
}

// ExpiryConfig controls which tags are read and which actions may run.
type ExpiryConfig struct {
	TagPrefix       string `toml:"tag_prefix" envconfig:"IX_TAG_PREFIX" validate:"required"`
	StopAction      Toggle `toml:"stop_action" envconfig:"IX_STOP_ACTION"`
	TerminateAction Toggle `toml:"terminate_action" envconfig:"IX_TERM_ACTION"`
}

// NotifyConfig holds the optional notification side channel.
// An empty bus name and an empty topic disable notifications entirely.
type NotifyConfig struct {
	EventBusName     string `toml:"event_bus_name" envconfig:"IX_EVENT_BUS_NAME"`
	Source           string `toml:"source" envconfig:"IX_EVENT_SOURCE"`
	SNSTopicARN      string `toml:"sns_topic_arn" envconfig:"IX_SNS_TOPIC_ARN"`
	BreakerThreshold uint32 `toml:"breaker_threshold" envconfig:"IX_NOTIFY_BREAKER_THRESHOLD" validate:"gte=1"`
}

// ScheduleConfig locates the single reschedule record.
type ScheduleConfig struct {
	Backend        string        `toml:"backend" envconfig:"IX_SCHEDULE_BACKEND" validate:"oneof=scheduler local"`
	ParameterName  string        `toml:"parameter_name" envconfig:"IX_SSM_PARAM_NEXT_SCHEDULE_ARN" validate:"required_if=Backend scheduler"`
	StorePath      string        `toml:"store_path" envconfig:"IX_SCHEDULE_STORE" validate:"required_if=Backend local"`
	BackupStr      string        `toml:"backup_interval" envconfig:"IX_BACKUP_INTERVAL"`
	BackupInterval time.Duration `toml:"-" ignored:"true"`
}

// GuardConfig points at an optional Rego policy consulted before every action.
type GuardConfig struct {
	PolicyPath string `toml:"policy_path" envconfig:"IX_GUARD_POLICY"`
}

// ServeConfig holds settings for the long-running serve mode.
type ServeConfig struct {
	MetricsAddr string `toml:"metrics_addr" envconfig:"LAPSE_METRICS_ADDR"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool          `toml:"insecure" envconfig:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName string        `toml:"service_name" envconfig:"OTEL_SERVICE_NAME"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate" validate:"gte=0,lte=1"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level" envconfig:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Expiry: ExpiryConfig{
			TagPrefix:       "expiration",
			StopAction:      Enabled,
			TerminateAction: Enabled,
		},
		Notify: NotifyConfig{
			BreakerThreshold: 5,
		},
		Schedule: ScheduleConfig{
			Backend:   BackendScheduler,
			BackupStr: "60m",
		},
		Serve: ServeConfig{
			MetricsAddr: ":9090",
		},
		OTEL: OTELConfig{
			ServiceName: "lapse",
			Traces:      TracesConfig{SampleRate: 1.0},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path names an optional TOML file; an empty
// path skips the file layer. envFiles are read with godotenv; with none given,
// a .env in the working directory is used when it exists.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Type: ErrFile, Message: "read config file", Err: err}
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Type: ErrParsing, Message: "parse config", Err: err}
		}
	}

	if err := loadDotenv(envFiles); err != nil {
		return nil, err
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "process environment", Err: err}
	}

	if err := parseInterval(cfg); err != nil {
		return nil, err
	}

	applyDerived(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDotenv(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &ConfigError{Type: ErrParsing, Message: "load .env", Err: err}
		}
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return &ConfigError{Type: ErrFile, Message: "load env files", Err: err}
	}
	return nil
}

func parseInterval(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Schedule.BackupStr)
	if err != nil {
		return &ConfigError{
			Type:    ErrParsing,
			Message: fmt.Sprintf("parse backup_interval %q", cfg.Schedule.BackupStr),
			Err:     err,
		}
	}
	cfg.Schedule.BackupInterval = d
	return nil
}

// applyDerived fills values that default to something built from the stack name.
func applyDerived(cfg *Config) {
	if cfg.StackName == "" {
		return
	}
	if cfg.Schedule.ParameterName == "" {
		cfg.Schedule.ParameterName = fmt.Sprintf("/%s/NextScheduleArn", cfg.StackName)
	}
	if cfg.Notify.Source == "" {
		cfg.Notify.Source = cfg.StackName
	}
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	if c.Schedule.BackupInterval <= 0 {
		return &ConfigError{
			Type:    ErrValidation,
			Message: fmt.Sprintf("schedule: backup_interval must be positive (got %s)", c.Schedule.BackupInterval),
		}
	}
	if c.Notify.EventBusName != "" && c.Notify.Source == "" {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "notify: source (or CFN_STACK_NAME) is required when an event bus is set",
		}
	}
	return nil
}

// NotifyEnabled reports whether any notification target is configured.
func (c *Config) NotifyEnabled() bool {
	return c.Notify.EventBusName != "" || c.Notify.SNSTopicARN != ""
}
