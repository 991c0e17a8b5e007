package config

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"jerosync/internal/constants"
	"jerosync/internal/models"
	"jerosync/internal/security"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingGatewayURL = models.ConfigError{Message: "missing gateway base URL"}
	ErrInvalidGatewayURL = models.ConfigError{Message: "gateway base URL must be an absolute http(s) URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
)

const productionEnv = "JEROSYNC_ENV"

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := decode(path, file, &config); err != nil {
		return nil, err
	}

	// Overrides come first so a gateway URL can be supplied from the environment alone
	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func decode(path string, data []byte, c *models.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return nil
}

func validate(c *models.Config) error {
	if c.Gateway.BaseURL == "" {
		return ErrMissingGatewayURL
	}
	u, err := url.Parse(c.Gateway.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidGatewayURL
	}

	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return models.ConfigError{Message: fmt.Sprintf("invalid log level: %s", c.LogLevel)}
		}
	}

	if c.Status.RequestsPerSecond < 0 {
		return models.ConfigError{Message: "status requests per second cannot be negative"}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sample rate must be between 0 and 1"}
	}

	applyDefaults(c)

	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Gateway.TimeoutSec <= 0 {
		c.Gateway.TimeoutSec = constants.DefaultGatewayTimeoutSec
	}
	if c.Gateway.BreakerMaxFailures <= 0 {
		c.Gateway.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if c.Gateway.BreakerResetTimeSec <= 0 {
		c.Gateway.BreakerResetTimeSec = constants.DefaultBreakerResetSec
	}

	if c.Presence.HeartbeatIntervalSec <= 0 {
		c.Presence.HeartbeatIntervalSec = constants.DefaultHeartbeatIntervalSec
	}
	if c.Presence.RefreshIntervalSec <= 0 {
		c.Presence.RefreshIntervalSec = constants.DefaultPresenceRefreshSec
	}
	if c.Presence.AnnounceTimeoutSec <= 0 {
		c.Presence.AnnounceTimeoutSec = constants.DefaultPresenceAnnounceTimeoutSec
	}

	if c.Conversations.PollIntervalSec <= 0 {
		c.Conversations.PollIntervalSec = constants.DefaultConversationPollSec
	}

	if c.Status.FanOutConcurrency <= 0 {
		c.Status.FanOutConcurrency = constants.DefaultStatusFanOutConcurrency
	}
	if c.Status.RequestsPerSecond == 0 {
		c.Status.RequestsPerSecond = constants.DefaultStatusRequestsPerSecond
	}
	if c.Status.FeedCacheTTLSec <= 0 {
		c.Status.FeedCacheTTLSec = constants.DefaultStatusFeedCacheSec
	}

	if c.Contacts.CacheTTLSec <= 0 {
		c.Contacts.CacheTTLSec = constants.DefaultContactCacheTTLSec
	}

	if c.Connection.CheckIntervalSec <= 0 {
		c.Connection.CheckIntervalSec = constants.DefaultConnectionCheckSec
	}
	if c.Connection.FailureThreshold <= 0 {
		c.Connection.FailureThreshold = constants.DefaultConnectionFailureThreshold
	}

	if c.Database.Path == "" {
		c.Database.Path = constants.DefaultDatabasePath
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = constants.DefaultListenAddr
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if baseURL := os.Getenv("JEROSYNC_GATEWAY_URL"); baseURL != "" {
		c.Gateway.BaseURL = baseURL
	}

	// Identity tokens should not live in config files
	if token := os.Getenv("JEROSYNC_IDENTITY_TOKEN"); token != "" {
		c.Gateway.IdentityToken = token
	}

	if path := os.Getenv("JEROSYNC_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if addr := os.Getenv("JEROSYNC_LISTEN_ADDR"); addr != "" {
		c.Server.ListenAddr = addr
	}
	if level := os.Getenv("JEROSYNC_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if endpoint := os.Getenv("JEROSYNC_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.OTLPEndpoint = endpoint
	}
	if v := os.Getenv("JEROSYNC_HEARTBEAT_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Presence.HeartbeatIntervalSec = n
		}
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv(productionEnv) == "production"

	if isProduction {
		if c.LogLevel == "debug" || c.LogLevel == "trace" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
		if !isLoopback(c.Server.ListenAddr) {
			return models.ConfigError{Message: fmt.Sprintf("listen address %s must be a loopback address in production", c.Server.ListenAddr)}
		}
		if strings.HasPrefix(c.Gateway.BaseURL, "http://") {
			return models.ConfigError{Message: "gateway base URL must use https in production"}
		}
	} else {
		if !isLoopback(c.Server.ListenAddr) {
			fmt.Fprintf(os.Stderr, "WARNING: local API listens on non-loopback address %s.\n", c.Server.ListenAddr)
		}
	}

	return nil
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
