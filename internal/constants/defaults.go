package constants

// Presence timing
const (
	DefaultHeartbeatIntervalSec       = 25
	DefaultPresenceRefreshSec         = 30
	DefaultPresenceAnnounceTimeoutSec = 10
)

// Conversations and statuses
const (
	DefaultConversationPollSec     = 10
	DefaultStatusFanOutConcurrency = 4
	DefaultStatusRequestsPerSecond = 20.0
	DefaultStatusFeedCacheSec      = 30
	DefaultContactCacheTTLSec      = 60
)

// Gateway and connection health
const (
	DefaultGatewayTimeoutSec          = 30
	DefaultBreakerMaxFailures         = 5
	DefaultBreakerResetSec            = 30
	DefaultConnectionCheckSec         = 15
	DefaultConnectionFailureThreshold = 3
)

// Retry defaults for startup infrastructure
const (
	DefaultRetryBackoffMs = 1000
	DefaultMaxBackoffMs   = 60000
	DefaultMaxAttempts    = 5
)

// Local database
const (
	DefaultDatabasePath          = "jerosync.db"
	DefaultDatabaseRetryAttempts = 3
)

// Server defaults
const (
	DefaultListenAddr            = "127.0.0.1:8087"
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// Intro animation gate
const (
	IntroFlagName          = "jero-chat-splash-played"
	IntroMinimumDurationMs = 1800
)

// Status viewer and composer
const (
	SwipeThreshold   = 50.0
	MaxCaptionLength = 160
)

// Audio source limits
const (
	MaxAudioSizeBytes    = 1 << 30
	DefaultAudioFilename = "audio-track.mp3"
	DefaultAudioFetchSec = 60
)

// Privacy settings
const (
	DefaultPrincipalMaskLength = 5
)

// Encryption salts for the identity store
const (
	EncryptionSalt = "jerosync-identity-salt-v1"
)
