// Package config defines the immutable configuration snapshot the proxy
// core reads at startup and accepts atomic replacement of for hot reload.
// It also implements a minimal YAML loader and file-mtime watcher so the
// repository is runnable end to end, without claiming to be a
// full-featured configuration management layer.
package config

import "time"

// Default values and ranges for configuration fields.
const (
	DefaultMaxMessageSize      = 1 << 20 // 1 MiB
	MinMaxMessageSize          = 1 << 10 // 1 KiB
	MaxMaxMessageSize          = 100 << 20
	DefaultShutdownTimeout     = 30 * time.Second
	DefaultMessageTimeout      = 5 * time.Second
	DefaultWorkerThreads       = 4
	DefaultMessageBufferSize   = 10000
	DefaultValidationCacheSize = 1000
	DefaultJSONSchemaDraft     = "draft-07"
	DefaultCleanupDays         = 30
	DefaultReaperGracePeriod   = time.Hour
)

// Snapshot is the full, validated, immutable configuration in effect for
// one pipeline generation.
type Snapshot struct {
	Global      Global
	Brokers     Brokers
	Validation  Validation
	Storage     Storage
	Monitoring  Monitoring
	Security    Security
	Performance Performance
}

// Global holds top-level pipeline behavior settings.
type Global struct {
	MaxMessageSize  int
	DryRun          bool
	ShutdownTimeout time.Duration
	MessageTimeout  time.Duration
}

// Brokers holds the subscriber and publisher MQTT connection configs.
type Brokers struct {
	Subscriber Broker
	Publisher  Broker
}

// TransportKind identifies the broker transport.
type TransportKind string

// Supported transports.
const (
	TransportTCP       TransportKind = "tcp"
	TransportTLS       TransportKind = "tls"
	TransportWebSocket TransportKind = "websocket"
)

// Broker holds one MQTT client connection's configuration.
type Broker struct {
	ClientID  string
	Host      string
	Port      string
	Username  string
	Password  string
	Transport TransportKind

	// TLS settings; certificate material itself is loaded by the caller
	// and handed in already-parsed.
	TLS TLSConfig

	// WebSocket settings, used when Transport == TransportWebSocket.
	WebSocketPath    string
	WebSocketHeaders map[string]string

	TopicFilters []string // subscriber only
}

// TLSConfig carries TLS policy. Certificate/key/CA *material* is loaded by
// the caller and handed in already-parsed; this struct intentionally
// holds no file paths.
type TLSConfig struct {
	Enabled       bool
	MinVersion    uint16 // crypto/tls.VersionTLS12, etc.
	CipherSuites  []uint16
	ServerName    string
	SkipVerify    bool
}

// Validation groups topic-pattern and schema binding configuration.
type Validation struct {
	Bindings     []BindingConfig
	SchemaFiles  []SchemaFileConfig
	ClientRules  []ClientRuleConfig
	Mode         string // strict | lenient | warn_only
	CacheSize    int    // validation.cache_size (may be overridden, see Reconcile)
}

// BindingConfig is one (pattern, schema_id) entry, in the order it should
// be evaluated at match time.
type BindingConfig struct {
	Pattern  string `yaml:"pattern"`
	SchemaID string `yaml:"schema_id"`
}

// SchemaFileConfig describes one schema to load.
type SchemaFileConfig struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"`         // json_schema | protobuf
	Path        string `yaml:"path"`         // resolved path; contents read by the caller
	Draft       string `yaml:"draft"`        // json_schema only
	MessageType string `yaml:"message_type"` // protobuf only
}

// ClientRuleConfig restricts one client_id to an allow-list of topics.
type ClientRuleConfig struct {
	ClientID      string   `yaml:"client_id"`
	AllowedTopics []string `yaml:"allowed_topics"`
}

// Storage groups the quarantine metadata index and payload blob store
// configuration.
type Storage struct {
	Quarantine QuarantineConfig
	Payloads   PayloadConfig
}

// StorageDriver identifies the quarantine metadata-index backend.
type StorageDriver string

// Supported (and named-but-unsupported) storage drivers.
const (
	DriverEmbedded StorageDriver = "embedded"
	DriverPostgres StorageDriver = "postgres"
	DriverMySQL    StorageDriver = "mysql" // named for interface completeness; unsupported, see DESIGN.md
)

// QuarantineConfig configures the metadata index.
type QuarantineConfig struct {
	Driver     StorageDriver
	DSN        string
	CleanupDays int
	MaxSizeBytes int64 // soft ceiling; 0 = unbounded
}

// CompressionKind identifies the payload blob compression codec.
type CompressionKind string

// Supported (and named-but-unsupported) compression kinds.
const (
	CompressionNone CompressionKind = "none"
	CompressionGzip CompressionKind = "gzip"
	CompressionZstd CompressionKind = "zstd"
	CompressionLZ4  CompressionKind = "lz4" // named for completeness; unsupported, see DESIGN.md
)

// PayloadConfig configures the blob store.
type PayloadConfig struct {
	RootDir           string
	Compression       CompressionKind
	ReaperGracePeriod time.Duration
}

// Monitoring groups the metrics, health-check, and audit sinks.
type Monitoring struct {
	Metrics     MetricsConfig
	HealthCheck HealthCheckConfig
	Audit       AuditConfig
}

// MetricsConfig configures the /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// HealthCheckConfig configures the /health HTTP endpoint.
type HealthCheckConfig struct {
	Enabled bool
	Port    int
}

// AuditDestinationKind identifies where audit records are written.
type AuditDestinationKind string

// Supported audit destinations.
const (
	AuditFile   AuditDestinationKind = "file"
	AuditStdout AuditDestinationKind = "stdout"
	AuditSyslog AuditDestinationKind = "syslog"
)

// AuditConfig configures the audit sink.
type AuditConfig struct {
	Destination  AuditDestinationKind
	FilePath     string
	MaxSizeBytes int64
	BufferSize   int
}

// Security groups rate limiting configuration.
type Security struct {
	RateLimiting RateLimitingConfig
}

// RateLimitingConfig configures the per-client token bucket.
type RateLimitingConfig struct {
	Enabled    bool
	RatePerSec float64
	WindowSize time.Duration // refill period, see SPEC_FULL.md open question resolution
}

// Performance groups pipeline-level tunables.
type Performance struct {
	WorkerThreads       int
	MessageBufferSize   int
	ValidationCacheSize int // takes precedence over Validation.CacheSize when set
}

// Reconcile applies cross-group defaults and aliasing rules that cannot be
// expressed as a single field default (SPEC_FULL.md §9 Open Questions).
func (s *Snapshot) Reconcile() {
	if s.Performance.ValidationCacheSize > 0 {
		s.Validation.CacheSize = s.Performance.ValidationCacheSize
	} else if s.Validation.CacheSize > 0 {
		s.Performance.ValidationCacheSize = s.Validation.CacheSize
	} else {
		s.Validation.CacheSize = DefaultValidationCacheSize
		s.Performance.ValidationCacheSize = DefaultValidationCacheSize
	}

	if s.Global.MaxMessageSize == 0 {
		s.Global.MaxMessageSize = DefaultMaxMessageSize
	}
	if s.Global.ShutdownTimeout == 0 {
		s.Global.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.Global.MessageTimeout == 0 {
		s.Global.MessageTimeout = DefaultMessageTimeout
	}
	if s.Performance.WorkerThreads == 0 {
		s.Performance.WorkerThreads = DefaultWorkerThreads
	}
	if s.Performance.MessageBufferSize == 0 {
		s.Performance.MessageBufferSize = DefaultMessageBufferSize
	}
	if s.Storage.Quarantine.CleanupDays == 0 {
		s.Storage.Quarantine.CleanupDays = DefaultCleanupDays
	}
	if s.Storage.Payloads.ReaperGracePeriod == 0 {
		s.Storage.Payloads.ReaperGracePeriod = DefaultReaperGracePeriod
	}
	if s.Storage.Payloads.Compression == "" {
		s.Storage.Payloads.Compression = CompressionNone
	}
	if s.Validation.Mode == "" {
		s.Validation.Mode = "strict"
	}
	if s.Storage.Quarantine.Driver == "" {
		s.Storage.Quarantine.Driver = DriverEmbedded
	}
	if s.Security.RateLimiting.WindowSize == 0 {
		s.Security.RateLimiting.WindowSize = time.Second
	}
}
