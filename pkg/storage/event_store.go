// Package storage persists session events: state transitions, peer
// links, ping results. SQLite keeps the log across daemon restarts.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event types recorded by the daemon.
const (
	EventStateChange  = "STATE_CHANGE"
	EventPeerLinked   = "PEER_LINKED"
	EventPeerUnlinked = "PEER_UNLINKED"
	EventPingSent     = "PING_SENT"
	EventPingAck      = "PING_ACK"
	EventEngineDied   = "ENGINE_DIED"
	EventConfigChange = "CONFIG_CHANGE"
)

// Event is one row of the session log.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail"`
	Peer      string    `json:"peer,omitempty"`
}

// EventStore is the SQLite-backed session event log with bounded
// retention.
type EventStore struct {
	db        *sql.DB
	dbPath    string
	maxEvents int
}

// NewEventStore opens (or creates) the event database.
func NewEventStore(dbPath string, maxEvents int) (*EventStore, error) {
	store := &EventStore{
		dbPath:    dbPath,
		maxEvents: maxEvents,
	}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize event store: %w", err)
	}
	return store, nil
}

func (es *EventStore) initialize() error {
	if es.dbPath == "" {
		es.dbPath = "./ssdigid.db"
	}

	if err := os.MkdirAll(filepath.Dir(es.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := es.dbPath + "?_busy_timeout=10000&_journal_mode=WAL"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	es.db = db

	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		event_type TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		peer_callsign TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`
	if _, err := es.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Record appends one event and trims the log when it exceeds the
// retention limit.
func (es *EventStore) Record(eventType, detail, peer string) error {
	tx, err := es.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO events (timestamp, event_type, detail, peer_callsign) VALUES (?, ?, ?, ?)`,
		time.Now().UTC(), eventType, detail, peer,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if err := es.trim(tx); err != nil {
		return fmt.Errorf("failed to trim events: %w", err)
	}

	return tx.Commit()
}

// trim deletes the oldest rows beyond the retention limit.
func (es *EventStore) trim(tx *sql.Tx) error {
	if es.maxEvents <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return err
	}
	if count <= es.maxEvents {
		return nil
	}

	_, err := tx.Exec(`
		DELETE FROM events
		WHERE id IN (
			SELECT id FROM events
			ORDER BY id ASC
			LIMIT ?
		)
	`, count-es.maxEvents)
	return err
}

// Recent returns the newest events, most recent first.
func (es *EventStore) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := es.db.Query(`
		SELECT id, timestamp, event_type, detail, peer_callsign
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Type, &ev.Detail, &ev.Peer); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecentByType returns the newest events of one type, most recent first.
func (es *EventStore) RecentByType(eventType string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := es.db.Query(`
		SELECT id, timestamp, event_type, detail, peer_callsign
		FROM events
		WHERE event_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Type, &ev.Detail, &ev.Peer); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Count returns the number of stored events.
func (es *EventStore) Count() (int, error) {
	var count int
	err := es.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (es *EventStore) Close() error {
	if es.db != nil {
		return es.db.Close()
	}
	return nil
}
