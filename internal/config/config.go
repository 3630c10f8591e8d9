// Package config centralises configuration for the sockathon binaries.
package config

import (
	"errors"
	"fmt"
	"time"
)

// EventTimeLayout is the layout of event.start and event.end. Both are wall
// times compared against each participant's local clock.
const EventTimeLayout = "2006-01-02T15:04:05"

var (
	ErrMissingEventWindow   = errors.New("event.start and event.end are required")
	ErrInvalidEventWindow   = errors.New("event.end must be after event.start")
	ErrMissingEventChannel  = errors.New("event.channel is required")
	ErrInvalidThreshold     = errors.New("rules.threshold_seconds must be positive")
	ErrInvalidCheckpoint    = errors.New("checkpoint hour/minute out of range")
	ErrInvalidInterval      = errors.New("sync.interval must be positive")
	ErrInvalidWorkers       = errors.New("sync.workers must be positive")
	ErrInvalidPageSize      = errors.New("sync.ledger_page_size must be positive")
	ErrInvalidKeyLength     = errors.New("sync.participant_key_length must be positive")
	ErrMissingDatabase      = errors.New("database.url is required")
	ErrMissingLedger        = errors.New("database.ledger_url is required")
	ErrMissingTimeTracking  = errors.New("timetracking.base_url and timetracking.admin_key are required")
	ErrMissingSlackToken    = errors.New("slack.token is required unless slack.dry_run is set")
	ErrMissingKafkaBrokers  = errors.New("kafka.brokers is required")
	ErrMissingJWTSecret     = errors.New("auth.jwt_secret is required")
	ErrInvalidOutboxTunable = errors.New("outbox and dlq tunables must be positive")
)

// Config is the full configuration tree. Field tags use mapstructure for viper.
type Config struct {
	Event        EventConfig        `mapstructure:"event" yaml:"event"`
	Rules        RulesConfig        `mapstructure:"rules" yaml:"rules"`
	Sync         SyncConfig         `mapstructure:"sync" yaml:"sync"`
	Database     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	TimeTracking TimeTrackingConfig `mapstructure:"timetracking" yaml:"timetracking"`
	Slack        SlackConfig        `mapstructure:"slack" yaml:"slack"`
	Kafka        KafkaConfig        `mapstructure:"kafka" yaml:"kafka"`
	Outbox       OutboxConfig       `mapstructure:"outbox" yaml:"outbox"`
	DLQ          DLQConfig          `mapstructure:"dlq" yaml:"dlq"`
	HTTP         HTTPConfig         `mapstructure:"http" yaml:"http"`
	Auth         AuthConfig         `mapstructure:"auth" yaml:"auth"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
	Tracing      TracingConfig      `mapstructure:"tracing" yaml:"tracing"`
}

// EventConfig describes the challenge itself.
type EventConfig struct {
	Start   string `mapstructure:"start" yaml:"start"`
	End     string `mapstructure:"end" yaml:"end"`
	Channel string `mapstructure:"channel" yaml:"channel"`
}

// Bounds parses Start and End.
func (e EventConfig) Bounds() (time.Time, time.Time, error) {
	if e.Start == "" || e.End == "" {
		return time.Time{}, time.Time{}, ErrMissingEventWindow
	}
	start, err := time.Parse(EventTimeLayout, e.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event.start: %w", err)
	}
	end, err := time.Parse(EventTimeLayout, e.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("event.end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, ErrInvalidEventWindow
	}
	return start, end, nil
}

// RulesConfig holds the elimination rules.
type RulesConfig struct {
	ThresholdSeconds int64 `mapstructure:"threshold_seconds" yaml:"threshold_seconds"`
	TeamCapacity     int   `mapstructure:"team_capacity" yaml:"team_capacity"`
	WarningHour      int   `mapstructure:"warning_hour" yaml:"warning_hour"`
	WarningMinute    int   `mapstructure:"warning_minute" yaml:"warning_minute"`
	FailureHour      int   `mapstructure:"failure_hour" yaml:"failure_hour"`
	FailureMinute    int   `mapstructure:"failure_minute" yaml:"failure_minute"`
}

// SyncConfig tunes the tick loop.
type SyncConfig struct {
	Interval             time.Duration `mapstructure:"interval" yaml:"interval"`
	RestartInterval      time.Duration `mapstructure:"restart_interval" yaml:"restart_interval"`
	Workers              int           `mapstructure:"workers" yaml:"workers"`
	LedgerPageSize       int           `mapstructure:"ledger_page_size" yaml:"ledger_page_size"`
	ParticipantKeyLength int           `mapstructure:"participant_key_length" yaml:"participant_key_length"`
	CursorName           string        `mapstructure:"cursor_name" yaml:"cursor_name"`
}

// DatabaseConfig holds the store and ledger DSNs.
type DatabaseConfig struct {
	URL       string `mapstructure:"url" yaml:"url"`
	LedgerURL string `mapstructure:"ledger_url" yaml:"ledger_url"`
}

// TimeTrackingConfig points at the time-tracking service.
type TimeTrackingConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	AdminKey    string        `mapstructure:"admin_key" yaml:"admin_key"`
	SignupEmail string        `mapstructure:"signup_email" yaml:"signup_email"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SlackConfig configures notification delivery.
type SlackConfig struct {
	Token  string `mapstructure:"token" yaml:"token"`
	APIURL string `mapstructure:"api_url" yaml:"api_url"`
	DryRun bool   `mapstructure:"dry_run" yaml:"dry_run"`
}

// KafkaConfig lists brokers and topics.
type KafkaConfig struct {
	Brokers            []string `mapstructure:"brokers" yaml:"brokers"`
	SchemaRegistryURL  string   `mapstructure:"schema_registry_url" yaml:"schema_registry_url"`
	SummaryTopic       string   `mapstructure:"summary_topic" yaml:"summary_topic"`
	EliminationTopic   string   `mapstructure:"elimination_topic" yaml:"elimination_topic"`
	LeaderboardGroupID string   `mapstructure:"leaderboard_group_id" yaml:"leaderboard_group_id"`
}

// OutboxConfig tunes the outbox dispatcher.
type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
}

// DLQConfig tunes the dead-letter manager.
type DLQConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay    time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

// HTTPConfig holds listener addresses.
type HTTPConfig struct {
	Address        string `mapstructure:"address" yaml:"address"`
	MetricsAddress string `mapstructure:"metrics_address" yaml:"metrics_address"`
}

// AuthConfig configures bearer token verification on the read API.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// Validate checks settings shared by every binary.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return ErrMissingDatabase
	}
	if c.Rules.ThresholdSeconds <= 0 {
		return ErrInvalidThreshold
	}
	if !validClock(c.Rules.WarningHour, c.Rules.WarningMinute) || !validClock(c.Rules.FailureHour, c.Rules.FailureMinute) {
		return ErrInvalidCheckpoint
	}
	if c.Outbox.PollInterval <= 0 || c.Outbox.BatchSize <= 0 ||
		c.DLQ.PollInterval <= 0 || c.DLQ.MaxRetries <= 0 || c.DLQ.BaseDelay <= 0 {
		return ErrInvalidOutboxTunable
	}
	return nil
}

// ValidateSyncer checks what the sync engine needs before it may start.
func (c *Config) ValidateSyncer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, _, err := c.Event.Bounds(); err != nil {
		return err
	}
	if c.Event.Channel == "" {
		return ErrMissingEventChannel
	}
	if c.Sync.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.Sync.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.Sync.LedgerPageSize <= 0 {
		return ErrInvalidPageSize
	}
	if c.Sync.ParticipantKeyLength <= 0 {
		return ErrInvalidKeyLength
	}
	if c.Database.LedgerURL == "" {
		return ErrMissingLedger
	}
	if c.TimeTracking.BaseURL == "" || c.TimeTracking.AdminKey == "" {
		return ErrMissingTimeTracking
	}
	if c.Slack.Token == "" && !c.Slack.DryRun {
		return ErrMissingSlackToken
	}
	return nil
}

// ValidateStreaming checks what the outbox, DLQ and consumer binaries need.
func (c *Config) ValidateStreaming() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.Kafka.Brokers) == 0 {
		return ErrMissingKafkaBrokers
	}
	return nil
}

// ValidateAPI checks what the read API needs.
func (c *Config) ValidateAPI() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Auth.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

func validClock(hour, minute int) bool {
	return hour >= 0 && hour < 24 && minute >= 0 && minute < 60
}
