package config

import (
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlDoc mirrors the top-level YAML groups for decoding before being
// copied into the public Snapshot types. Kept private and separate from
// Snapshot so the on-disk schema (snake_case, string durations) can evolve
// independently of the in-memory representation the rest of the proxy
// depends on.
type yamlDoc struct {
	Global struct {
		MaxMessageSize  int    `yaml:"max_message_size"`
		DryRun          bool   `yaml:"dry_run"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
		MessageTimeout  string `yaml:"message_timeout"`
	} `yaml:"global"`

	Brokers struct {
		Subscriber yamlBroker `yaml:"subscriber"`
		Publisher  yamlBroker `yaml:"publisher"`
	} `yaml:"brokers"`

	Validation struct {
		TopicPatterns  []string          `yaml:"topic_patterns"`
		SchemaMappings map[string]string `yaml:"schema_mappings"` // pattern -> schema_id, insertion order lost; prefer Bindings below
		Bindings       []BindingConfig   `yaml:"bindings"`
		SchemaFiles    []SchemaFileConfig `yaml:"schema_files"`
		ClientRules    []ClientRuleConfig `yaml:"client_rules"`
		ValidationMode string             `yaml:"validation_mode"`
		CacheSize      int                `yaml:"cache_size"`
	} `yaml:"validation"`

	Storage struct {
		Quarantine struct {
			Driver       string `yaml:"driver"`
			DSN          string `yaml:"dsn"`
			CleanupDays  int    `yaml:"cleanup_days"`
			MaxSizeBytes int64  `yaml:"max_size"`
		} `yaml:"quarantine"`
		Payloads struct {
			RootDir           string `yaml:"root_dir"`
			Compression       string `yaml:"compression"`
			ReaperGracePeriod string `yaml:"reaper_grace_period"`
		} `yaml:"payloads"`
	} `yaml:"storage"`

	Monitoring struct {
		Metrics struct {
			Enabled bool   `yaml:"enabled"`
			Port    int    `yaml:"port"`
			Path    string `yaml:"path"`
		} `yaml:"metrics"`
		HealthCheck struct {
			Enabled bool `yaml:"enabled"`
			Port    int  `yaml:"port"`
		} `yaml:"health_check"`
		Audit struct {
			Destination  string `yaml:"destination"`
			FilePath     string `yaml:"file_path"`
			MaxSizeBytes int64  `yaml:"max_size"`
			BufferSize   int    `yaml:"buffer_size"`
		} `yaml:"audit"`
	} `yaml:"monitoring"`

	Security struct {
		RateLimiting struct {
			Enabled    bool    `yaml:"enabled"`
			Rate       float64 `yaml:"rate_limit"`
			WindowSize string  `yaml:"window_size"`
		} `yaml:"rate_limiting"`
	} `yaml:"security"`

	Performance struct {
		WorkerThreads       int `yaml:"worker_threads"`
		MessageBufferSize   int `yaml:"message_buffer_size"`
		ValidationCacheSize int `yaml:"validation_cache_size"`
	} `yaml:"performance"`
}

type yamlBroker struct {
	ClientID         string            `yaml:"client_id"`
	Host             string            `yaml:"host"`
	Port             string            `yaml:"port"`
	Username         string            `yaml:"username"`
	Password         string            `yaml:"password"`
	Transport        string            `yaml:"transport"`
	TLSEnabled       bool              `yaml:"tls_enabled"`
	TLSMinVersion    string            `yaml:"tls_min_version"`
	TLSServerName    string            `yaml:"tls_server_name"`
	TLSSkipVerify    bool              `yaml:"tls_skip_verify"`
	WebSocketPath    string            `yaml:"websocket_path"`
	WebSocketHeaders map[string]string `yaml:"websocket_headers"`
	TopicFilters     []string          `yaml:"topic_filters"`
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

func tlsVersion(s string) uint16 {
	switch s {
	case "1.0":
		return 0x0301
	case "1.1":
		return 0x0302
	case "1.2":
		return 0x0303
	case "1.3":
		return 0x0304
	default:
		return 0x0303 // TLS 1.2 floor by default
	}
}

func toBroker(y yamlBroker) Broker {
	return Broker{
		ClientID:  y.ClientID,
		Host:      y.Host,
		Port:      y.Port,
		Username:  y.Username,
		Password:  y.Password,
		Transport: TransportKind(orDefault(y.Transport, string(TransportTCP))),
		TLS: TLSConfig{
			Enabled:    y.TLSEnabled,
			MinVersion: tlsVersion(y.TLSMinVersion),
			ServerName: y.TLSServerName,
			SkipVerify: y.TLSSkipVerify,
		},
		WebSocketPath:    y.WebSocketPath,
		WebSocketHeaders: y.WebSocketHeaders,
		TopicFilters:     y.TopicFilters,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Decode parses raw YAML bytes into a Snapshot, applying Reconcile but not
// Validate (the caller validates once schema ids are known — see
// Validate's doc comment).
func Decode(b []byte) (*Snapshot, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("config: invalid yaml: %w", err)
	}

	shutdownTimeout, err := parseDuration(doc.Global.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return nil, fmt.Errorf("config: global.shutdown_timeout: %w", err)
	}
	messageTimeout, err := parseDuration(doc.Global.MessageTimeout, DefaultMessageTimeout)
	if err != nil {
		return nil, fmt.Errorf("config: global.message_timeout: %w", err)
	}
	reaperGrace, err := parseDuration(doc.Storage.Payloads.ReaperGracePeriod, DefaultReaperGracePeriod)
	if err != nil {
		return nil, fmt.Errorf("config: storage.payloads.reaper_grace_period: %w", err)
	}
	windowSize, err := parseDuration(doc.Security.RateLimiting.WindowSize, time.Second)
	if err != nil {
		return nil, fmt.Errorf("config: security.rate_limiting.window_size: %w", err)
	}

	bindings := doc.Validation.Bindings
	if len(bindings) == 0 {
		// legacy shape: topic_patterns + schema_mappings, order preserved
		// from topic_patterns since map iteration order is not.
		for _, pattern := range doc.Validation.TopicPatterns {
			bindings = append(bindings, BindingConfig{Pattern: pattern, SchemaID: doc.Validation.SchemaMappings[pattern]})
		}
	}

	snap := &Snapshot{
		Global: Global{
			MaxMessageSize:  doc.Global.MaxMessageSize,
			DryRun:          doc.Global.DryRun,
			ShutdownTimeout: shutdownTimeout,
			MessageTimeout:  messageTimeout,
		},
		Brokers: Brokers{
			Subscriber: toBroker(doc.Brokers.Subscriber),
			Publisher:  toBroker(doc.Brokers.Publisher),
		},
		Validation: Validation{
			Bindings:    bindings,
			SchemaFiles: doc.Validation.SchemaFiles,
			ClientRules: doc.Validation.ClientRules,
			Mode:        orDefault(doc.Validation.ValidationMode, "strict"),
			CacheSize:   doc.Validation.CacheSize,
		},
		Storage: Storage{
			Quarantine: QuarantineConfig{
				Driver:       StorageDriver(orDefault(doc.Storage.Quarantine.Driver, string(DriverEmbedded))),
				DSN:          doc.Storage.Quarantine.DSN,
				CleanupDays:  doc.Storage.Quarantine.CleanupDays,
				MaxSizeBytes: doc.Storage.Quarantine.MaxSizeBytes,
			},
			Payloads: PayloadConfig{
				RootDir:           doc.Storage.Payloads.RootDir,
				Compression:       CompressionKind(orDefault(doc.Storage.Payloads.Compression, string(CompressionNone))),
				ReaperGracePeriod: reaperGrace,
			},
		},
		Monitoring: Monitoring{
			Metrics: MetricsConfig{
				Enabled: doc.Monitoring.Metrics.Enabled,
				Port:    doc.Monitoring.Metrics.Port,
				Path:    orDefault(doc.Monitoring.Metrics.Path, "/metrics"),
			},
			HealthCheck: HealthCheckConfig{
				Enabled: doc.Monitoring.HealthCheck.Enabled,
				Port:    doc.Monitoring.HealthCheck.Port,
			},
			Audit: AuditConfig{
				Destination:  AuditDestinationKind(orDefault(doc.Monitoring.Audit.Destination, string(AuditStdout))),
				FilePath:     doc.Monitoring.Audit.FilePath,
				MaxSizeBytes: doc.Monitoring.Audit.MaxSizeBytes,
				BufferSize:   doc.Monitoring.Audit.BufferSize,
			},
		},
		Security: Security{
			RateLimiting: RateLimitingConfig{
				Enabled:    doc.Security.RateLimiting.Enabled,
				RatePerSec: doc.Security.RateLimiting.Rate,
				WindowSize: windowSize,
			},
		},
		Performance: Performance{
			WorkerThreads:       doc.Performance.WorkerThreads,
			MessageBufferSize:   doc.Performance.MessageBufferSize,
			ValidationCacheSize: doc.Performance.ValidationCacheSize,
		},
	}

	snap.Reconcile()
	return snap, nil
}

// Load reads and decodes the YAML configuration file at path within fsys.
func Load(fsys fs.FS, path string) (*Snapshot, error) {
	b, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Decode(b)
}
