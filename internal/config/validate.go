package config

import (
	"fmt"

	"github.com/mqttgov/proxy/internal/schema"
	"github.com/mqttgov/proxy/internal/topic"
)

// Validate checks the snapshot's invariants beyond what YAML decoding
// already enforces structurally: malformed topic patterns, unknown schema
// ids referenced by bindings, and out-of-range sizes.
//
// schemaIDs is the set of schema ids the registry will successfully load;
// Validate is called after LoadAll so every binding's schema id can be
// checked against it: a schema id referenced by any binding must resolve
// in the registry, or startup fails.
func (s *Snapshot) Validate(schemaIDs map[string]bool) error {
	if s.Global.MaxMessageSize < MinMaxMessageSize || s.Global.MaxMessageSize > MaxMaxMessageSize {
		return &ValidationError{Field: "global.max_message_size", Message: fmt.Sprintf("must be between %d and %d bytes", MinMaxMessageSize, MaxMaxMessageSize)}
	}

	for i, b := range s.Validation.Bindings {
		if _, err := topic.ParsePattern(b.Pattern); err != nil {
			return &ValidationError{Field: fmt.Sprintf("validation.bindings[%d].pattern", i), Message: err.Error()}
		}
		if b.SchemaID == "" {
			continue // NoSchemaBound is a per-message rejection reason, not a startup error
		}
		if schemaIDs != nil && !schemaIDs[b.SchemaID] {
			return &ValidationError{Field: fmt.Sprintf("validation.bindings[%d].schema_id", i), Message: fmt.Sprintf("schema id %q does not resolve in the registry", b.SchemaID)}
		}
	}

	for i, f := range s.Validation.SchemaFiles {
		switch schema.Kind(f.Kind) {
		case schema.JSONSchema, schema.Protobuf:
		default:
			return &ValidationError{Field: fmt.Sprintf("validation.schema_files[%d].kind", i), Message: fmt.Sprintf("unknown schema kind %q", f.Kind)}
		}
		if f.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("validation.schema_files[%d].id", i), Message: "id must not be empty"}
		}
	}

	switch s.Validation.Mode {
	case "strict", "lenient", "warn_only":
	default:
		return &ValidationError{Field: "validation.validation_mode", Message: fmt.Sprintf("unknown mode %q", s.Validation.Mode)}
	}

	if s.Storage.Quarantine.Driver == DriverMySQL {
		return &ValidationError{Field: "storage.quarantine.driver", Message: ErrUnsupportedDriver.Error()}
	}
	if s.Storage.Payloads.Compression == CompressionLZ4 {
		return &ValidationError{Field: "storage.payloads.compression", Message: ErrUnsupportedCompression.Error()}
	}

	if s.Performance.WorkerThreads < 1 {
		return &ValidationError{Field: "performance.worker_threads", Message: "must be at least 1"}
	}
	if s.Performance.MessageBufferSize < 1 {
		return &ValidationError{Field: "performance.message_buffer_size", Message: "must be at least 1"}
	}

	return nil
}
