// internal/store/sqlite.go

// Package store keeps the delivery ledger: one row per attachment written to
// the sink.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Delivery is one attachment written to disk.
type Delivery struct {
	ID          string    `db:"id"`
	MessageID   string    `db:"message_id"`
	Filename    string    `db:"filename"`  // as sent, untrusted
	StoredAs    string    `db:"stored_as"` // path relative to the sink root
	MimeType    string    `db:"mime_type"`
	Size        int64     `db:"size"`
	SHA256      string    `db:"sha256"`
	DeliveredAt time.Time `db:"delivered_at"`
}

// Filter narrows ListDeliveries.
type Filter struct {
	MessageID string
	Limit     int
}

// SQLiteStore is the ledger backed by a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (or creates) the database at path, enables WAL mode and applies
// pending migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite serialises writers anyway; one connection also keeps ":memory:"
	// databases from splitting per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// RecordDelivery inserts d, filling in the id and timestamp when unset.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, d Delivery) (Delivery, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = s.now()
	}
	d.DeliveredAt = d.DeliveredAt.UTC()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO deliveries (id, message_id, filename, stored_as, mime_type, size, sha256, delivered_at)
		VALUES (:id, :message_id, :filename, :stored_as, :mime_type, :size, :sha256, :delivered_at)`,
		d,
	)
	if err != nil {
		return Delivery{}, fmt.Errorf("recording delivery of %s: %w", d.StoredAs, err)
	}
	return d, nil
}

// ListDeliveries returns deliveries oldest first.
func (s *SQLiteStore) ListDeliveries(ctx context.Context, f Filter) ([]Delivery, error) {
	query := "SELECT id, message_id, filename, stored_as, mime_type, size, sha256, delivered_at FROM deliveries"
	var args []any
	if f.MessageID != "" {
		query += " WHERE message_id = ?"
		args = append(args, f.MessageID)
	}
	query += " ORDER BY delivered_at, rowid"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var out []Delivery
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	return out, nil
}

// HasMessage reports whether any attachment of the message was delivered.
func (s *SQLiteStore) HasMessage(ctx context.Context, messageID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM deliveries WHERE message_id = ?", messageID)
	if err != nil {
		return false, fmt.Errorf("checking deliveries of %s: %w", messageID, err)
	}
	return n > 0, nil
}
