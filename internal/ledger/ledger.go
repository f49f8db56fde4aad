// Package ledger provides an append-only history of lighting events.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/idlergb/internal/eventbus"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventStateChanged    EventType = "state_changed"
	EventSDKBound        EventType = "sdk_bound"
	EventSDKLost         EventType = "sdk_lost"
	EventDeviceConnected EventType = "device_connected"
	EventSettingsSaved   EventType = "settings_saved"
	EventControlTaken    EventType = "control_taken"
	EventControlReleased EventType = "control_released"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	SessionID string         `json:"session_id"`
}

// Ledger provides append-only event logging for one process run
type Ledger struct {
	db        *sql.DB
	sessionID string
}

// New creates a new Ledger with a fresh session id
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, sessionID: uuid.New().String()}
}

// SessionID returns the id stamped on every entry of this run
func (l *Ledger) SessionID() string {
	return l.sessionID
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()
	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, session_id) VALUES (?, ?, ?, ?)`,
		string(eventType), now, string(payloadJSON), l.sessionID,
	)
	return err
}

// Subscribe records bus events that belong in the history.
func (l *Ledger) Subscribe(bus *eventbus.Bus) {
	record := func(t EventType) eventbus.Handler {
		return func(e eventbus.Event) {
			if err := l.Append(t, e.Data); err != nil {
				log.Warn().Err(err).Str("event_type", string(t)).Msg("Failed to append ledger entry")
			}
		}
	}

	bus.Subscribe(eventbus.EventTypeStateChanged, record(EventStateChanged))
	bus.Subscribe(eventbus.EventTypeSDKBound, record(EventSDKBound))
	bus.Subscribe(eventbus.EventTypeSDKLost, record(EventSDKLost))
	bus.Subscribe(eventbus.EventTypeDeviceConnected, record(EventDeviceConnected))
	bus.Subscribe(eventbus.EventTypeSettingsSaved, record(EventSettingsSaved))
	bus.Subscribe(eventbus.EventTypeControl, func(e eventbus.Event) {
		t := EventControlReleased
		if e.Data["action"] == "taken" {
			t = EventControlTaken
		}
		record(t)(e)
	})
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, session_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetRecent returns the latest entries of any type, newest first
func (l *Ledger) GetRecent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, session_id
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, session_id
		FROM event_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RunCleanup applies the retention policy on every interval until ctx is cancelled
func (l *Ledger) RunCleanup(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deleted, err := l.DeleteOlderThan(retention)
			if err != nil {
				log.Warn().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Ledger cleanup")
			}
		}
	}
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, sessionID sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &sessionID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if sessionID.Valid {
			entry.SessionID = sessionID.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
