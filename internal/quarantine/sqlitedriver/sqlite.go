// Package sqlitedriver implements quarantine.Store on an embedded SQLite
// database via mattn/go-sqlite3, for single-node deployments that don't
// want an external Postgres dependency.
package sqlitedriver

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mqttgov/proxy/internal/quarantine"
)

const schema = `
CREATE TABLE IF NOT EXISTS quarantined_messages (
	id             TEXT PRIMARY KEY,
	received_at    TIMESTAMP NOT NULL,
	quarantined_at TIMESTAMP NOT NULL,
	topic          TEXT NOT NULL,
	client_id      TEXT NOT NULL,
	qos            INTEGER NOT NULL,
	retain         INTEGER NOT NULL,
	reason         TEXT NOT NULL,
	detail         TEXT NOT NULL,
	schema_id      TEXT NOT NULL,
	payload_ref    TEXT NOT NULL,
	payload_size   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quarantined_messages_quarantined_at ON quarantined_messages(quarantined_at);
CREATE INDEX IF NOT EXISTS idx_quarantined_messages_reason ON quarantined_messages(reason);
`

// Store is a quarantine.Store backed by SQLite.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the SQLite database at dsn and ensures
// the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitedriver: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers; avoid SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitedriver: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Insert implements quarantine.Store.
func (s *Store) Insert(ctx context.Context, rec quarantine.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantined_messages
			(id, received_at, quarantined_at, topic, client_id, qos, retain, reason, detail, schema_id, payload_ref, payload_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ReceivedAt, rec.QuarantinedAt, rec.Topic, rec.ClientID, rec.QoS, rec.Retain,
		rec.Reason, rec.Detail, rec.SchemaID, rec.PayloadRef, rec.PayloadSize)
	if err != nil {
		return fmt.Errorf("sqlitedriver: insert: %w", err)
	}
	return nil
}

// List implements quarantine.Store.
func (s *Store) List(ctx context.Context, filter quarantine.ListFilter) ([]quarantine.Record, error) {
	query := `SELECT id, received_at, quarantined_at, topic, client_id, qos, retain, reason, detail, schema_id, payload_ref, payload_size
		FROM quarantined_messages WHERE 1=1`
	var args []any

	if filter.Topic != "" {
		query += " AND topic = ?"
		args = append(args, filter.Topic)
	}
	if filter.ClientID != "" {
		query += " AND client_id = ?"
		args = append(args, filter.ClientID)
	}
	if filter.Reason != "" {
		query += " AND reason = ?"
		args = append(args, filter.Reason)
	}
	if !filter.Since.IsZero() {
		query += " AND quarantined_at >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY quarantined_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlitedriver: list: %w", err)
	}
	return toRecords(rows), nil
}

// Get implements quarantine.Store.
func (s *Store) Get(ctx context.Context, id string) (quarantine.Record, error) {
	var r row
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT id, received_at, quarantined_at, topic, client_id, qos, retain, reason, detail, schema_id, payload_ref, payload_size
		FROM quarantined_messages WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return quarantine.Record{}, fmt.Errorf("sqlitedriver: record %s not found", id)
	}
	if err != nil {
		return quarantine.Record{}, fmt.Errorf("sqlitedriver: get: %w", err)
	}
	return r.toRecord(), nil
}

// CountByPayloadRef implements quarantine.Store.
func (s *Store) CountByPayloadRef(ctx context.Context, ref string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM quarantined_messages WHERE payload_ref = ?`), ref)
	if err != nil {
		return 0, fmt.Errorf("sqlitedriver: count by payload ref: %w", err)
	}
	return n, nil
}

// PurgeOlderThan implements quarantine.Store.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	var refs []string
	if err := s.db.SelectContext(ctx, &refs, s.db.Rebind(`SELECT DISTINCT payload_ref FROM quarantined_messages WHERE quarantined_at < ? AND payload_ref != ''`), cutoff); err != nil {
		return nil, fmt.Errorf("sqlitedriver: purge select: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM quarantined_messages WHERE quarantined_at < ?`), cutoff); err != nil {
		return nil, fmt.Errorf("sqlitedriver: purge delete: %w", err)
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
