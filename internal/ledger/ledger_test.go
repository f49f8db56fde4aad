package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/idlergb/internal/db"
	"github.com/dokzlo13/idlergb/internal/eventbus"
)

func openLedger(t *testing.T) (*Ledger, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return New(database.DB), database
}

func TestAppendAndGetByType(t *testing.T) {
	l, _ := openLedger(t)

	require.NoError(t, l.Append(EventStateChanged, map[string]any{"from": "normal", "to": "idle"}))
	require.NoError(t, l.Append(EventSDKBound, nil))
	require.NoError(t, l.Append(EventStateChanged, map[string]any{"from": "idle", "to": "normal"}))

	entries, err := l.GetByType(EventStateChanged, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "normal", entries[0].Payload["to"], "newest first")
	assert.Equal(t, l.SessionID(), entries[0].SessionID)

	bound, err := l.GetByType(EventSDKBound, 10)
	require.NoError(t, err)
	require.Len(t, bound, 1)
	assert.Nil(t, bound[0].Payload)
}

func TestGetRecentAndTimeRange(t *testing.T) {
	l, _ := openLedger(t)
	require.NoError(t, l.Append(EventSDKBound, nil))
	require.NoError(t, l.Append(EventDeviceConnected, map[string]any{"devices": 2}))

	recent, err := l.GetRecent(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, EventDeviceConnected, recent[0].EventType)

	now := time.Now()
	inRange, err := l.GetByTimeRange(now.Add(-time.Minute), now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, inRange, 2)

	none, err := l.GetByTimeRange(now.Add(-2*time.Hour), now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteOlderThan(t *testing.T) {
	l, database := openLedger(t)

	old := time.Now().Add(-48 * time.Hour).Unix()
	_, err := database.Exec(`INSERT INTO event_ledger (event_type, timestamp, payload, session_id) VALUES (?, ?, '', 'x')`, string(EventSDKLost), old)
	require.NoError(t, err)
	require.NoError(t, l.Append(EventSDKBound, nil))

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recent, err := l.GetRecent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestSessionsAreDistinct(t *testing.T) {
	l, database := openLedger(t)
	other := New(database.DB)
	assert.NotEqual(t, l.SessionID(), other.SessionID())
}

func TestSubscribe_RecordsBusEvents(t *testing.T) {
	l, _ := openLedger(t)
	bus := eventbus.NewWithConfig(1, 10)
	l.Subscribe(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventTypeStateChanged, Data: map[string]interface{}{"to": "idle"}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeControl, Data: map[string]interface{}{"action": "taken"}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeControl, Data: map[string]interface{}{"action": "released"}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeActivity})
	bus.Close(context.Background())

	recent, err := l.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	types := []EventType{recent[0].EventType, recent[1].EventType, recent[2].EventType}
	assert.ElementsMatch(t, []EventType{EventStateChanged, EventControlTaken, EventControlReleased}, types)
}
