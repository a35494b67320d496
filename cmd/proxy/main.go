// Command proxy runs the MQTT governance and validation proxy: it
// subscribes to an upstream broker, validates every message against its
// topic-bound schema, forwards accepted messages to a second broker
// connection, and quarantines everything else (see SPEC_FULL.md).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/mqttgov/proxy/internal/audit"
	"github.com/mqttgov/proxy/internal/broker"
	"github.com/mqttgov/proxy/internal/config"
	"github.com/mqttgov/proxy/internal/logger"
	"github.com/mqttgov/proxy/internal/message"
	"github.com/mqttgov/proxy/internal/metrics"
	"github.com/mqttgov/proxy/internal/pipeline"
	"github.com/mqttgov/proxy/internal/quarantine"
	"github.com/mqttgov/proxy/internal/quarantine/blobstore"
	"github.com/mqttgov/proxy/internal/quarantine/pgdriver"
	"github.com/mqttgov/proxy/internal/quarantine/sqlitedriver"
	"github.com/mqttgov/proxy/internal/ratelimit"
	"github.com/mqttgov/proxy/internal/schema"
	"github.com/mqttgov/proxy/internal/schema/jsonschema"
	"github.com/mqttgov/proxy/internal/schema/protobuf"
	"github.com/mqttgov/proxy/internal/topic"
)

// Exit codes.
const (
	exitOK           = 0
	exitConfigError  = 2
	exitFatalStartup = 3
	exitInterrupted  = 130
)

type overrideFlags []string

func (o *overrideFlags) String() string { return fmt.Sprint([]string(*o)) }
func (o *overrideFlags) Set(v string) error {
	*o = append(*o, v)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the proxy's YAML configuration file")
	dryRun := flag.Bool("dry-run", false, "validate and forward-would-have messages without publishing")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	validateOnly := flag.Bool("validate-config", false, "load and validate the configuration, then exit")
	var overrides overrideFlags
	flag.Var(&overrides, "override", "dotted key path override, e.g. --override performance.worker_threads=8 (repeatable)")
	flag.Parse()

	lg := logger.New(os.Stderr, *logLevel)

	if *configPath == "" {
		lg.Printf("--config is required")
		return exitConfigError
	}

	snap, registry, err := loadConfiguration(*configPath, overrides)
	if err != nil {
		lg.WithError(err).Printf("configuration error")
		return exitConfigError
	}
	if *dryRun {
		snap.Global.DryRun = true
	}

	if *validateOnly {
		lg.Printf("configuration is valid")
		return exitOK
	}

	return serve(*configPath, snap, registry, lg)
}

// loadConfiguration reads, overrides and validates the configuration file,
// then loads the schema registry so Snapshot.Validate can check that
// every binding's schema id resolves.
func loadConfiguration(path string, overrides overrideFlags) (*config.Snapshot, *schema.Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	if len(overrides) > 0 {
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, nil, fmt.Errorf("parse config for override: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
		for _, o := range overrides {
			if err := applyOverride(doc, o); err != nil {
				return nil, nil, err
			}
		}
		raw, err = yaml.Marshal(doc)
		if err != nil {
			return nil, nil, fmt.Errorf("re-marshal overridden config: %w", err)
		}
	}

	snap, err := config.Decode(raw)
	if err != nil {
		return nil, nil, err
	}

	registry, err := schema.New(snap.Validation.CacheSize)
	if err != nil {
		return nil, nil, err
	}
	registry.RegisterCompiler(jsonschema.New())
	registry.RegisterCompiler(protobuf.New())

	defs := make([]schema.Definition, 0, len(snap.Validation.SchemaFiles))
	for _, f := range snap.Validation.SchemaFiles {
		source, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("read schema file %s: %w", f.Path, err)
		}
		defs = append(defs, schema.Definition{
			ID: f.ID, Kind: schema.Kind(f.Kind), SourcePath: f.Path, Source: source,
			Draft: f.Draft, MessageType: f.MessageType,
		})
	}
	if err := registry.LoadAll(defs); err != nil {
		return nil, nil, err
	}

	schemaIDs := make(map[string]bool, len(defs))
	for _, d := range defs {
		schemaIDs[d.ID] = true
	}
	if err := snap.Validate(schemaIDs); err != nil {
		return nil, nil, err
	}

	return snap, registry, nil
}

func serve(configPath string, snap *config.Snapshot, registry *schema.Registry, lg logger.Logger) int {
	bindings := make([]topic.Binding, 0, len(snap.Validation.Bindings))
	for _, b := range snap.Validation.Bindings {
		p, err := topic.ParsePattern(b.Pattern)
		if err != nil {
			lg.WithError(err).Printf("invalid topic pattern")
			return exitConfigError
		}
		bindings = append(bindings, topic.Binding{Pattern: p, SchemaID: b.SchemaID})
	}
	clientRules := make([]topic.ClientRule, 0, len(snap.Validation.ClientRules))
	for _, r := range snap.Validation.ClientRules {
		clientRules = append(clientRules, topic.ClientRule{ClientID: r.ClientID, AllowedTopics: r.AllowedTopics})
	}
	matcher, err := topic.Build(bindings, clientRules)
	if err != nil {
		lg.WithError(err).Printf("failed to build topic matcher")
		return exitConfigError
	}

	quarantineStore, err := openQuarantineStore(snap.Storage.Quarantine)
	if err != nil {
		lg.WithError(err).Printf("failed to open quarantine store")
		return exitFatalStartup
	}
	defer quarantineStore.Close()

	blobs, err := blobstore.New(snap.Storage.Payloads.RootDir, snap.Storage.Payloads.Compression)
	if err != nil {
		lg.WithError(err).Printf("failed to open payload blob store")
		return exitFatalStartup
	}
	writer := quarantine.NewWriter(quarantineStore, blobs)

	metricsReg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	var metricsSrv *metrics.Server
	if snap.Monitoring.Metrics.Enabled {
		metricsSrv = metrics.NewServer(
			fmt.Sprintf(":%d", snap.Monitoring.Metrics.Port),
			snap.Monitoring.Metrics.Path,
			prometheus.DefaultGatherer,
			lg,
			nil,
		)
		if err := metricsSrv.ListenAndServe(); err != nil {
			lg.WithError(err).Printf("failed to start metrics server")
			return exitFatalStartup
		}
		defer metricsSrv.Close()
	}

	auditSink, err := buildAuditSink(snap.Monitoring.Audit, lg)
	if err != nil {
		lg.WithError(err).Printf("failed to build audit sink")
		return exitFatalStartup
	}
	defer auditSink.Close()

	store := config.NewStore(snap)

	watcher := config.NewWatcher(os.DirFS(filepath.Dir(configPath)), filepath.Base(configPath), store, lg, 0)
	watcher.OnReload(func(reloaded *config.Snapshot) {
		metricsReg.Tick()
		if err := reloadSchemas(registry, reloaded.Validation.SchemaFiles); err != nil {
			lg.WithError(err).Printf("configuration reloaded with schema reload failure")
			return
		}
		lg.Printf("configuration reloaded")
	})

	retention := quarantine.NewRetention(quarantineStore, blobs, lg, 0, snap.Storage.Quarantine.CleanupDays, snap.Storage.Quarantine.MaxSizeBytes)

	sub := broker.New(broker.RoleSubscriber, snap.Brokers.Subscriber, lg)
	pub := broker.New(broker.RolePublisher, snap.Brokers.Publisher, lg)
	// Subscribe to every topic a binding matches, not just the filters
	// named in brokers.subscriber.topic_filters, so adding a binding
	// doesn't silently drop its messages at the broker layer until the
	// config is separately updated. Any explicit topic_filters are
	// subscribed too; messages on topics that no binding matches are
	// quarantined as topic_not_allowed.
	sub.SetTopicFilters(topic.MergeFilters(topic.DeriveFilters(matcher.Bindings()), snap.Brokers.Subscriber.TopicFilters))

	limiter := ratelimit.New(snap.Security.RateLimiting.RatePerSec, snap.Security.RateLimiting.WindowSize.Seconds())

	p := pipeline.New(store, matcher, registry, limiter, writer, pub, auditSink, metricsReg)

	sub.OnMessage(func(t string, payload []byte, qos byte, retain bool) {
		msg, err := message.New(t, payload, message.QoS(qos), retain, "", time.Now())
		if err != nil {
			return
		}
		p.Submit(msg)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sub.Run(ctx)
	go pub.Run(ctx)
	go watcher.Run(ctx)
	go retention.Run(ctx)

	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- p.Run(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sig:
		lg.Println("shutdown signal received")
		cancel()
		<-pipelineDone
		return exitInterrupted
	case err := <-pipelineDone:
		if err != nil {
			lg.WithError(err).Printf("pipeline exited with error")
			return exitFatalStartup
		}
		return exitOK
	}
}

// reloadSchemas re-reads and recompiles every schema file named in files,
// called from the config watcher's reload callback so a hot config
// reload also picks up edited schema documents, off the worker path.
func reloadSchemas(registry *schema.Registry, files []config.SchemaFileConfig) error {
	for _, f := range files {
		source, err := os.ReadFile(f.Path)
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", f.Path, err)
		}
		def := schema.Definition{
			ID: f.ID, Kind: schema.Kind(f.Kind), SourcePath: f.Path, Source: source,
			Draft: f.Draft, MessageType: f.MessageType,
		}
		if err := registry.Reload(def); err != nil {
			return err
		}
	}
	return nil
}

func openQuarantineStore(cfg config.QuarantineConfig) (quarantine.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return pgdriver.Open(context.Background(), cfg.DSN)
	case config.DriverMySQL:
		return nil, config.ErrUnsupportedDriver
	default:
		return sqlitedriver.Open(cfg.DSN)
	}
}

func buildAuditSink(cfg config.AuditConfig, lg logger.Logger) (*audit.Sink, error) {
	var dest audit.Destination
	var err error
	switch cfg.Destination {
	case config.AuditFile:
		dest, err = audit.NewFileDestination(cfg.FilePath, cfg.MaxSizeBytes)
	case config.AuditSyslog:
		dest, err = audit.NewSyslogDestination("mqttgov-proxy")
	default:
		dest = audit.StdoutDestination{}
	}
	if err != nil {
		return nil, err
	}
	return audit.NewSink(dest, cfg.BufferSize, lg), nil
}
