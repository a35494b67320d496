// Package quarantine defines the rejected-message record and the metadata
// index and blob storage interfaces that persist it.
package quarantine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reason is a stable machine code for why a message was quarantined.
type Reason string

// Quarantine reasons.
const (
	ReasonTopicNotAllowed       Reason = "topic_not_allowed"
	ReasonNoSchemaBound         Reason = "no_schema_bound"
	ReasonSchemaCompileError    Reason = "schema_compile_error"
	ReasonSchemaValidationError Reason = "schema_validation_error"
	ReasonPayloadTooLarge       Reason = "payload_too_large"
	ReasonInternalError         Reason = "internal_error"
	ReasonRateLimited           Reason = "rate_limited"
	ReasonUpstreamUnavailable  Reason = "upstream_unavailable"
)

// Record is one quarantined message, stored independently of its payload
// blob (see Store and blobstore.Store).
type Record struct {
	ID            string
	ReceivedAt    time.Time
	QuarantinedAt time.Time
	Topic         string
	ClientID      string
	QoS           byte
	Retain        bool
	Reason        Reason
	Detail        string
	SchemaID      string
	PayloadRef    string // content address in the blob store, empty if not persisted
	PayloadSize   int
}

// NewRecord builds a Record with a fresh time-ordered id (google/uuid v7,
// so records sort chronologically by id without a separate index).
func NewRecord(topic, clientID string, qos byte, retain bool, reason Reason, detail, schemaID, payloadRef string, payloadSize int, receivedAt time.Time) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:            id.String(),
		ReceivedAt:    receivedAt,
		QuarantinedAt: time.Now().UTC(),
		Topic:         topic,
		ClientID:      clientID,
		QoS:           qos,
		Retain:        retain,
		Reason:        reason,
		Detail:        detail,
		SchemaID:      schemaID,
		PayloadRef:    payloadRef,
		PayloadSize:   payloadSize,
	}, nil
}

// ListFilter narrows a List query.
type ListFilter struct {
	Topic    string // exact match, empty = any
	ClientID string
	Reason   Reason
	Since    time.Time
	Limit    int
}

// Store is the quarantine metadata index. Implementations: sqlitedriver
// (embedded, mattn/go-sqlite3) and pgdriver (jackc/pgx/v5 stdlib driver,
// lib/pq as the database/sql registration, selected by DSN form).
type Store interface {
	Insert(ctx context.Context, rec Record) error
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	// CountByPayloadRef returns how many records still reference ref: a
	// query-time scan rather than a maintained counter column. The
	// retention sweep does not call it; it builds its referenced set
	// from List.
	CountByPayloadRef(ctx context.Context, ref string) (int, error)
	// PurgeOlderThan deletes records quarantined before cutoff and returns
	// the payload refs they held, so the caller can reap now-orphaned blobs.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}
