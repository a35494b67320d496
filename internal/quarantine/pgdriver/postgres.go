// Package pgdriver implements quarantine.Store on Postgres, for multi-node
// deployments that need a shared metadata index (the "postgres"
// driver). It registers through database/sql via jackc/pgx/v5's stdlib
// adapter, with lib/pq kept as the fallback driver name for DSNs written
// in the libpq connection-string form.
package pgdriver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/jmoiron/sqlx"

	"github.com/mqttgov/proxy/internal/quarantine"
)

// driverFor picks the registered database/sql driver for dsn. pgx's stdlib
// adapter handles the usual "postgres://" URL form; DSNs already written
// in libpq key=value form (carried over from existing Postgres tooling)
// are routed to lib/pq, which parses that form natively.
func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx"
	}
	return "postgres"
}

const schema = `
CREATE TABLE IF NOT EXISTS quarantined_messages (
	id             TEXT PRIMARY KEY,
	received_at    TIMESTAMPTZ NOT NULL,
	quarantined_at TIMESTAMPTZ NOT NULL,
	topic          TEXT NOT NULL,
	client_id      TEXT NOT NULL,
	qos            SMALLINT NOT NULL,
	retain         BOOLEAN NOT NULL,
	reason         TEXT NOT NULL,
	detail         TEXT NOT NULL,
	schema_id      TEXT NOT NULL,
	payload_ref    TEXT NOT NULL,
	payload_size   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quarantined_messages_quarantined_at ON quarantined_messages(quarantined_at);
CREATE INDEX IF NOT EXISTS idx_quarantined_messages_reason ON quarantined_messages(reason);
`

// Store is a quarantine.Store backed by Postgres.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres at dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open(driverFor(dsn), dsn)
	if err != nil {
		return nil, fmt.Errorf("pgdriver: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgdriver: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgdriver: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert implements quarantine.Store.
func (s *Store) Insert(ctx context.Context, rec quarantine.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantined_messages
			(id, received_at, quarantined_at, topic, client_id, qos, retain, reason, detail, schema_id, payload_ref, payload_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.ReceivedAt, rec.QuarantinedAt, rec.Topic, rec.ClientID, rec.QoS, rec.Retain,
		rec.Reason, rec.Detail, rec.SchemaID, rec.PayloadRef, rec.PayloadSize)
	if err != nil {
		return fmt.Errorf("pgdriver: insert: %w", err)
	}
	return nil
}

// List implements quarantine.Store.
func (s *Store) List(ctx context.Context, filter quarantine.ListFilter) ([]quarantine.Record, error) {
	query := `SELECT id, received_at, quarantined_at, topic, client_id, qos, retain, reason, detail, schema_id, payload_ref, payload_size
		FROM quarantined_messages WHERE TRUE`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Topic != "" {
		query += " AND topic = " + arg(filter.Topic)
	}
	if filter.ClientID != "" {
		query += " AND client_id = " + arg(filter.ClientID)
	}
	if filter.Reason != "" {
		query += " AND reason = " + arg(filter.Reason)
	}
	if !filter.Since.IsZero() {
		query += " AND quarantined_at >= " + arg(filter.Since)
	}
	query += " ORDER BY quarantined_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("pgdriver: list: %w", err)
	}
	return toRecords(rows), nil
}

// Get implements quarantine.Store.
func (s *Store) Get(ctx context.Context, id string) (quarantine.Record, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT id, received_at, quarantined_at, topic, client_id, qos, retain, reason, detail, schema_id, payload_ref, payload_size
		FROM quarantined_messages WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return quarantine.Record{}, fmt.Errorf("pgdriver: record %s not found", id)
	}
	if err != nil {
		return quarantine.Record{}, fmt.Errorf("pgdriver: get: %w", err)
	}
	return r.toRecord(), nil
}

// CountByPayloadRef implements quarantine.Store.
func (s *Store) CountByPayloadRef(ctx context.Context, ref string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM quarantined_messages WHERE payload_ref = $1`, ref); err != nil {
		return 0, fmt.Errorf("pgdriver: count by payload ref: %w", err)
	}
	return n, nil
}

// PurgeOlderThan implements quarantine.Store.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	var refs []string
	if err := s.db.SelectContext(ctx, &refs, `SELECT DISTINCT payload_ref FROM quarantined_messages WHERE quarantined_at < $1 AND payload_ref != ''`, cutoff); err != nil {
		return nil, fmt.Errorf("pgdriver: purge select: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM quarantined_messages WHERE quarantined_at < $1`, cutoff); err != nil {
		return nil, fmt.Errorf("pgdriver: purge delete: %w", err)
	}
	return refs, nil
}

// Close implements quarantine.Store.
func (s *Store) Close() error { return s.db.Close() }

type row struct {
	ID            string    `db:"id"`
	ReceivedAt    time.Time `db:"received_at"`
	QuarantinedAt time.Time `db:"quarantined_at"`
	Topic         string    `db:"topic"`
	ClientID      string    `db:"client_id"`
	QoS           byte      `db:"qos"`
	Retain        bool      `db:"retain"`
	Reason        string    `db:"reason"`
	Detail        string    `db:"detail"`
	SchemaID      string    `db:"schema_id"`
	PayloadRef    string    `db:"payload_ref"`
	PayloadSize   int       `db:"payload_size"`
}

func (r row) toRecord() quarantine.Record {
	return quarantine.Record{
		ID:            r.ID,
		ReceivedAt:    r.ReceivedAt,
		QuarantinedAt: r.QuarantinedAt,
		Topic:         r.Topic,
		ClientID:      r.ClientID,
		QoS:           r.QoS,
		Retain:        r.Retain,
		Reason:        quarantine.Reason(r.Reason),
		Detail:        r.Detail,
		SchemaID:      r.SchemaID,
		PayloadRef:    r.PayloadRef,
		PayloadSize:   r.PayloadSize,
	}
}

func toRecords(rows []row) []quarantine.Record {
	out := make([]quarantine.Record, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out
}
