package constants

// Default timeout values
const (
	DefaultHTTPTimeoutSec    = 30
	DefaultHistoryTimeoutSec = 10
	DefaultSendTimeoutSec    = 30
	DefaultJoinTimeoutSec    = 5
	DefaultDialTimeoutSec    = 10

	DefaultGracefulShutdownSec   = 10
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// Default reconnect backoff configuration for the live push channel
const (
	DefaultReconnectInitialMs = 500
	DefaultReconnectMaxMs     = 30000
	DefaultReconnectAttempts  = 0 // 0 means retry indefinitely
)

// Default local store configuration
const (
	DefaultProfileCacheMaxEntries = 1024

	DefaultStoreRetryAttempts  = 3
	DefaultStoreRetryBackoffMs = 200
	DefaultStoreMaxBackoffMs   = 2000
)

// Default server configuration
const (
	DefaultStatusPort = 8094
)

// Encryption parameters for the local archive
const (
	StoreSecretEnvVar   = "STUDYCHAT_STORE_SECRET"
	PBKDF2Iterations    = 100000
	EncryptionKeySize   = 32
	EncryptionNonceSize = 12
)
