package models

// Config holds the application configuration
type Config struct {
	Gateway       GatewayConfig      `json:"gateway" yaml:"gateway"`
	Presence      PresenceConfig     `json:"presence" yaml:"presence"`
	Conversations ConversationConfig `json:"conversations" yaml:"conversations"`
	Status        StatusConfig       `json:"status" yaml:"status"`
	Contacts      ContactsConfig     `json:"contacts" yaml:"contacts"`
	Connection    ConnectionConfig   `json:"connection" yaml:"connection"`
	Database      DatabaseConfig     `json:"database" yaml:"database"`
	Server        ServerConfig       `json:"server" yaml:"server"`
	Tracing       TracingConfig      `json:"tracing" yaml:"tracing"`
	Retry         RetryConfig        `json:"retry" yaml:"retry"`
	LogLevel      string             `json:"log_level" yaml:"log_level"`
}

// GatewayConfig describes how to reach the backend
type GatewayConfig struct {
	BaseURL             string `json:"base_url" yaml:"base_url"`
	IdentityToken       string `json:"identity_token" yaml:"identity_token"`
	TimeoutSec          int    `json:"timeout_sec" yaml:"timeout_sec"`
	BreakerMaxFailures  int    `json:"breaker_max_failures" yaml:"breaker_max_failures"`
	BreakerResetTimeSec int    `json:"breaker_reset_sec" yaml:"breaker_reset_sec"`
}

// PresenceConfig holds heartbeat and presence polling settings
type PresenceConfig struct {
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec" yaml:"heartbeat_interval_sec"`
	RefreshIntervalSec   int `json:"refresh_interval_sec" yaml:"refresh_interval_sec"`
	AnnounceTimeoutSec   int `json:"announce_timeout_sec" yaml:"announce_timeout_sec"`
}

// ConversationConfig controls conversation refetching
type ConversationConfig struct {
	PollIntervalSec int `json:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// StatusConfig controls the status fan-out
type StatusConfig struct {
	FanOutConcurrency int     `json:"fan_out_concurrency" yaml:"fan_out_concurrency"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	FeedCacheTTLSec   int     `json:"feed_cache_ttl_sec" yaml:"feed_cache_ttl_sec"`
}

// ContactsConfig controls the contact cache
type ContactsConfig struct {
	CacheTTLSec int `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
}

// ConnectionConfig controls gateway liveness checks
type ConnectionConfig struct {
	CheckIntervalSec int `json:"check_interval_sec" yaml:"check_interval_sec"`
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path" yaml:"path"`
}

// ServerConfig holds the local API listener settings
type ServerConfig struct {
	ListenAddr      string `json:"listen_addr" yaml:"listen_addr"`
	ReadTimeoutSec  int    `json:"read_timeout_sec" yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `json:"write_timeout_sec" yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `json:"idle_timeout_sec" yaml:"idle_timeout_sec"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	UseStdout    bool    `json:"use_stdout" yaml:"use_stdout"`
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate" yaml:"sample_rate"`
	Environment  string  `json:"environment" yaml:"environment"`
}

// RetryConfig holds retry settings for startup infrastructure
type RetryConfig struct {
	InitialBackoffMs int `json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `json:"max_backoff_ms" yaml:"max_backoff_ms"`
	MaxAttempts      int `json:"max_attempts" yaml:"max_attempts"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
