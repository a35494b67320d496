// Package schema implements the multi-format schema registry: loading,
// compiling and caching schemas, and validating payloads against them.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind identifies a schema's wire format.
type Kind string

// Supported schema kinds.
const (
	JSONSchema Kind = "json_schema"
	Protobuf   Kind = "protobuf"
)

// Mode controls how validation failures are treated.
type Mode string

// Validation modes.
const (
	ModeStrict   Mode = "strict"
	ModeLenient  Mode = "lenient"
	ModeWarnOnly Mode = "warn_only"
)

// Code is a stable machine error code for a ValidationError.
type Code string

// Stable validation error codes.
const (
	CodeTypeMismatch       Code = "schema.type_mismatch"
	CodeMissingRequired    Code = "schema.missing_required"
	CodeOutOfRange         Code = "schema.out_of_range"
	CodeAdditionalProperty Code = "schema.additional_property"
	CodeProtobufParseError Code = "protobuf.parse_error"
)

// ValidationError reports why a payload failed to validate against a schema.
type ValidationError struct {
	Path    string
	Message string
	Code    Code
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
}

// LoadError is a fatal startup error: a schema file could not be loaded or
// compiled.
type LoadError struct {
	SchemaID string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("schema: failed to load %s: %s", e.SchemaID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrUnknownSchema is returned when validate/get-kind is called with a
// schema id the registry has no binding for.
var ErrUnknownSchema = errors.New("schema: unknown schema id")

// Compiler compiles a schema's on-disk representation into an immutable
// CompiledSchema for one Kind. Implementations: jsonschema.Compiler,
// protobuf.Compiler.
type Compiler interface {
	Kind() Kind
	Compile(def Definition) (CompiledSchema, error)
}

// Definition describes a schema to be compiled, as read from the
// configuration snapshot.
type Definition struct {
	ID          string
	Kind        Kind
	SourcePath  string
	Source      []byte // raw schema bytes (JSON Schema document or FileDescriptorSet)
	Draft       string // JSON Schema only: draft-04 | draft-06 | draft-07
	MessageType string // Protobuf only: fully-qualified message type name
}

// CompiledSchema is an immutable, kind-specific compiled form capable of
// validating a raw payload. lenient, when true, accepts unknown properties
// even where the schema document itself sets additionalProperties:false
// in lenient mode; Protobuf compiled schemas ignore it.
type CompiledSchema interface {
	Validate(payload []byte, lenient bool) error
}

type schemaEntry struct {
	id       string
	kind     Kind
	compiled CompiledSchema
	loadedAt time.Time
}

type cacheKey struct {
	schemaID    string
	payloadHash [sha256.Size]byte
	lenient     bool
}

// Outcome is the cached result of validating one payload against one schema.
type Outcome struct {
	Err error // nil on success
}

// Registry owns all compiled schemas and the validation outcome cache. All
// methods are safe for concurrent use; compiled schemas are immutable and
// read-only once LoadAll/Reload returns.
type Registry struct {
	mu        sync.RWMutex
	compilers map[Kind]Compiler
	schemas   map[string]*schemaEntry

	cacheSize int
	cache     *lru.Cache[cacheKey, Outcome]
}

// New returns an empty Registry. Register compilers with RegisterCompiler
// before calling LoadAll.
func New(validationCacheSize int) (*Registry, error) {
	if validationCacheSize <= 0 {
		validationCacheSize = 1000
	}
	cache, err := lru.New[cacheKey, Outcome](validationCacheSize)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to create validation cache: %w", err)
	}
	return &Registry{
		compilers: make(map[Kind]Compiler),
		schemas:   make(map[string]*schemaEntry),
		cacheSize: validationCacheSize,
		cache:     cache,
	}, nil
}

// RegisterCompiler registers a compiler for a schema Kind, mirroring the
// per-kind parser registration pattern of a schema-registry service.
func (r *Registry) RegisterCompiler(c Compiler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compilers[c.Kind()] = c
}

// LoadAll compiles every definition and installs it in the registry. It
// fails fast on the first LoadError: a bad schema is fatal at startup.
func (r *Registry) LoadAll(defs []Definition) error {
	entries := make(map[string]*schemaEntry, len(defs))

	r.mu.RLock()
	compilers := make(map[Kind]Compiler, len(r.compilers))
	for k, c := range r.compilers {
		compilers[k] = c
	}
	r.mu.RUnlock()

	for _, def := range defs {
		compiler, ok := compilers[def.Kind]
		if !ok {
			return &LoadError{SchemaID: def.ID, Err: fmt.Errorf("no compiler registered for kind %q", def.Kind)}
		}
		compiled, err := compiler.Compile(def)
		if err != nil {
			return &LoadError{SchemaID: def.ID, Err: err}
		}
		entries[def.ID] = &schemaEntry{id: def.ID, kind: def.Kind, compiled: compiled, loadedAt: time.Now()}
	}

	r.mu.Lock()
	r.schemas = entries
	r.mu.Unlock()
	return nil
}

// Reload recompiles a single schema definition in place, purging its cache
// entries. In-flight validations against the prior compiled form continue
// unaffected: CompiledSchema is immutable, only the map entry is swapped.
func (r *Registry) Reload(def Definition) error {
	r.mu.RLock()
	compiler, ok := r.compilers[def.Kind]
	r.mu.RUnlock()
	if !ok {
		return &LoadError{SchemaID: def.ID, Err: fmt.Errorf("no compiler registered for kind %q", def.Kind)}
	}

	compiled, err := compiler.Compile(def)
	if err != nil {
		return &LoadError{SchemaID: def.ID, Err: err}
	}

	r.mu.Lock()
	r.schemas[def.ID] = &schemaEntry{id: def.ID, kind: def.Kind, compiled: compiled, loadedAt: time.Now()}
	r.mu.Unlock()

	r.purgeCacheFor(def.ID)
	return nil
}

func (r *Registry) purgeCacheFor(schemaID string) {
	for _, key := range r.cache.Keys() {
		if key.schemaID == schemaID {
			r.cache.Remove(key)
		}
	}
}

// GetKind returns the schema kind for a registered schema id.
func (r *Registry) GetKind(schemaID string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.schemas[schemaID]
	if !ok {
		return "", ErrUnknownSchema
	}
	return entry.kind, nil
}

// Exists reports whether schemaID is a known, loaded schema. The pipeline
// checks it for every message before validating.
func (r *Registry) Exists(schemaID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[schemaID]
	return ok
}

// Validate validates payload against schemaID under mode, short-circuiting
// on an identical cached (schema_id, payload_hash) outcome.
//
// warn_only mode always returns nil; callers that need to know about a
// warn-only violation should inspect the returned bool, which reports
// whether a violation occurred regardless of mode.
func (r *Registry) Validate(schemaID string, payload []byte, mode Mode) (violated bool, err error) {
	r.mu.RLock()
	entry, ok := r.schemas[schemaID]
	r.mu.RUnlock()
	if !ok {
		return false, ErrUnknownSchema
	}

	lenient := mode == ModeLenient
	key := cacheKey{schemaID: schemaID, payloadHash: sha256.Sum256(payload), lenient: lenient}
	if outcome, ok := r.cache.Get(key); ok {
		return r.applyMode(outcome.Err, mode)
	}

	verr := entry.compiled.Validate(payload, lenient)
	r.cache.Add(key, Outcome{Err: verr})
	return r.applyMode(verr, mode)
}

func (r *Registry) applyMode(verr error, mode Mode) (violated bool, err error) {
	if verr == nil {
		return false, nil
	}
	if mode == ModeWarnOnly {
		return true, nil
	}
	return true, verr
}

// PayloadHash returns the hex-encoded sha256 of payload, the same content
// address used by the quarantine blob store, so the two components agree
// on identity for a given payload.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
