package config

import (
	"testing"
	"testing/fstest"
)

const sampleYAML = `
global:
  max_message_size: 2097152
  dry_run: false
  shutdown_timeout: 30s

brokers:
  subscriber:
    host: broker.local
    port: "1883"
    topic_filters: ["devices/#"]
  publisher:
    host: broker.local
    port: "1883"

validation:
  bindings:
    - pattern: "devices/+/telemetry"
      schema_id: temperature_v1
    - pattern: "devices/#"
      schema_id: catchall_v1
  validation_mode: strict

storage:
  quarantine:
    driver: embedded
    cleanup_days: 14
  payloads:
    root_dir: /var/lib/proxy/payloads
    compression: gzip

performance:
  worker_threads: 8
  validation_cache_size: 5000
`

func testDecode(t *testing.T) {
	snap, err := Decode([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode: %s", err)
	}
	if snap.Global.MaxMessageSize != 2097152 {
		t.Fatalf("unexpected max message size %d", snap.Global.MaxMessageSize)
	}
	if len(snap.Validation.Bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(snap.Validation.Bindings))
	}
	if snap.Validation.Bindings[0].Pattern != "devices/+/telemetry" {
		t.Fatalf("unexpected first binding pattern %s", snap.Validation.Bindings[0].Pattern)
	}
	if snap.Storage.Quarantine.Driver != DriverEmbedded {
		t.Fatalf("unexpected driver %s", snap.Storage.Quarantine.Driver)
	}
}

func testReconcileAliasPrecedence(t *testing.T) {
	snap := &Snapshot{}
	snap.Validation.CacheSize = 500
	snap.Performance.ValidationCacheSize = 9000
	snap.Reconcile()
	if snap.Validation.CacheSize != 9000 {
		t.Fatalf("expected performance.validation_cache_size to take precedence, got %d", snap.Validation.CacheSize)
	}
}

func testReconcileDefaults(t *testing.T) {
	snap := &Snapshot{}
	snap.Reconcile()
	if snap.Global.MaxMessageSize != DefaultMaxMessageSize {
		t.Fatalf("expected default max message size, got %d", snap.Global.MaxMessageSize)
	}
	if snap.Validation.CacheSize != DefaultValidationCacheSize {
		t.Fatalf("expected default validation cache size, got %d", snap.Validation.CacheSize)
	}
}

func testValidateRejectsBadPattern(t *testing.T) {
	snap, err := Decode([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode: %s", err)
	}
	snap.Validation.Bindings = append(snap.Validation.Bindings, BindingConfig{Pattern: "a/", SchemaID: ""})
	if err := snap.Validate(map[string]bool{"temperature_v1": true, "catchall_v1": true}); err == nil {
		t.Fatal("expected validation error for malformed pattern")
	}
}

func testValidateRejectsUnknownSchemaID(t *testing.T) {
	snap, err := Decode([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode: %s", err)
	}
	if err := snap.Validate(map[string]bool{"temperature_v1": true}); err == nil {
		t.Fatal("expected validation error for unresolved schema id")
	}
}

func testValidateRejectsMySQLDriver(t *testing.T) {
	snap, err := Decode([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("decode: %s", err)
	}
	snap.Storage.Quarantine.Driver = DriverMySQL
	if err := snap.Validate(map[string]bool{"temperature_v1": true, "catchall_v1": true}); err == nil {
		t.Fatal("expected validation error for unsupported mysql driver")
	}
}

func testLoadFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"proxy.yaml": {Data: []byte(sampleYAML)},
	}
	snap, err := Load(fsys, "proxy.yaml")
	if err != nil {
		t.Fatalf("load: %s", err)
	}
	if snap.Storage.Payloads.RootDir != "/var/lib/proxy/payloads" {
		t.Fatalf("unexpected root dir %s", snap.Storage.Payloads.RootDir)
	}
}

func testStoreSwapIsAtomic(t *testing.T) {
	snap1 := &Snapshot{}
	snap1.Reconcile()
	store := NewStore(snap1)
	if store.Load() != snap1 {
		t.Fatal("expected initial snapshot")
	}

	snap2 := &Snapshot{}
	snap2.Reconcile()
	store.Swap(snap2)
	if store.Load() != snap2 {
		t.Fatal("expected swapped snapshot")
	}
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"decode", testDecode},
		{"reconcile alias precedence", testReconcileAliasPrecedence},
		{"reconcile defaults", testReconcileDefaults},
		{"validate rejects bad pattern", testValidateRejectsBadPattern},
		{"validate rejects unknown schema id", testValidateRejectsUnknownSchemaID},
		{"validate rejects mysql driver", testValidateRejectsMySQLDriver},
		{"load from fs", testLoadFromFS},
		{"store swap is atomic", testStoreSwapIsAtomic},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}
