package tracker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skin_tracker/internal/core"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})               {}
func (nopLogger) Info(msg string, f ...interface{})                {}
func (nopLogger) Warn(msg string, f ...interface{})                {}
func (nopLogger) Error(msg string, f ...interface{})               {}
func (nopLogger) Fatal(msg string, f ...interface{})               {}
func (l nopLogger) WithField(k string, v interface{}) core.ILogger { return l }
func (l nopLogger) WithFields(f map[string]interface{}) core.ILogger {
	return l
}

func newTestTracker() *Tracker {
	return New(Config{
		DuplicateCheckWindow: 30 * time.Minute,
		ItemTTL:              2 * time.Hour,
	}, nopLogger{})
}

func testItem(id int64) core.Item {
	return core.Item{ID: id, GameID: 1, Name: "AK-47 | Redline", Price: decimal.NewFromInt(25)}
}

func TestObserveAdded_DedupWindow(t *testing.T) {
	trk := newTestTracker()
	now := time.Now()

	assert.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now))
	trk.MarkNotifiedNew("42", now)

	// Same id inside the window is suppressed
	assert.Equal(t, Suppressed, trk.ObserveAdded("42", testItem(42), now.Add(10*time.Minute)))

	// Outside the window it is fresh again
	assert.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now.Add(31*time.Minute)))
}

func TestObserveAdded_UnnotifiedItemIsNotDeduped(t *testing.T) {
	trk := newTestTracker()
	now := time.Now()

	// Accepted but never notified: no dedup entry, so a replay is
	// accepted again.
	assert.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now))
	assert.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now.Add(time.Minute)))
}

func TestObserveDeleted_Lifecycle(t *testing.T) {
	trk := newTestTracker()
	now := time.Now()

	// Deletion of an id never seen
	decision, entry := trk.ObserveDeleted("7", now)
	assert.Equal(t, Unknown, decision)
	assert.Nil(t, entry)

	// Track, then delete: snapshot comes back and the entry is consumed
	require.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now))
	decision, entry = trk.ObserveDeleted("42", now.Add(10*time.Minute))
	require.Equal(t, Accept, decision)
	require.NotNil(t, entry)
	assert.Equal(t, int64(42), entry.Snapshot.ID)
	assert.Equal(t, now, entry.AppearedAt)

	// Second deletion finds nothing
	decision, _ = trk.ObserveDeleted("42", now.Add(11*time.Minute))
	assert.Equal(t, Unknown, decision)
}

func TestObserveDeleted_SoldDedupWindow(t *testing.T) {
	trk := newTestTracker()
	now := time.Now()

	require.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now))
	decision, _ := trk.ObserveDeleted("42", now.Add(time.Minute))
	require.Equal(t, Accept, decision)
	trk.MarkNotifiedSold("42", now.Add(time.Minute))

	// Replay of the deleted event inside the window
	require.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now.Add(2*time.Minute)))
	decision, entry := trk.ObserveDeleted("42", now.Add(3*time.Minute))
	assert.Equal(t, Suppressed, decision)
	assert.Nil(t, entry)
}

func TestPurgeExpired(t *testing.T) {
	trk := newTestTracker()
	now := time.Now()

	trk.MarkNotifiedNew("old", now.Add(-3*time.Hour))
	trk.MarkNotifiedNew("fresh", now.Add(-time.Hour))
	trk.MarkNotifiedSold("old_sold", now.Add(-3*time.Hour))

	removed := trk.PurgeExpired(now)
	assert.Equal(t, 2, removed)

	_, sentNew, sentSold := trk.Sizes()
	assert.Equal(t, 1, sentNew)
	assert.Equal(t, 0, sentSold)
}

func TestPurgeExpired_TrackedItemTTL(t *testing.T) {
	now := time.Now()

	// Default: tracked items never age out
	trk := newTestTracker()
	require.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now.Add(-24*time.Hour)))
	trk.PurgeExpired(now)
	active, _, _ := trk.Sizes()
	assert.Equal(t, 1, active)

	// Opt-in TTL evicts stale listings
	trk = New(Config{
		DuplicateCheckWindow: 30 * time.Minute,
		ItemTTL:              2 * time.Hour,
		TrackedItemTTL:       12 * time.Hour,
	}, nopLogger{})
	require.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now.Add(-24*time.Hour)))
	require.Equal(t, Accept, trk.ObserveAdded("43", testItem(43), now.Add(-time.Hour)))
	removed := trk.PurgeExpired(now)
	assert.Equal(t, 1, removed)
	active, _, _ = trk.Sizes()
	assert.Equal(t, 1, active)
}

func TestReset_KeepsDedupCaches(t *testing.T) {
	trk := newTestTracker()
	now := time.Now()

	require.Equal(t, Accept, trk.ObserveAdded("42", testItem(42), now))
	trk.MarkNotifiedNew("42", now)

	trk.Reset()

	active, sentNew, _ := trk.Sizes()
	assert.Equal(t, 0, active)
	assert.Equal(t, 1, sentNew)

	// Replayed add after the reconnect stays suppressed
	assert.Equal(t, Suppressed, trk.ObserveAdded("42", testItem(42), now.Add(time.Minute)))
}

func TestFormatDwell(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		dwell    time.Duration
		expected string
	}{
		{"ten minutes", 10 * time.Minute, "0ч 10м 0с"},
		{"mixed", time.Hour + 23*time.Minute + 45*time.Second, "1ч 23м 45с"},
		{"zero", 0, "0ч 0м 0с"},
		{"over a day", 25*time.Hour + 5*time.Second, "25ч 0м 5с"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDwell(base, base.Add(tt.dwell)))
		})
	}

	assert.Equal(t, "N/A", FormatDwell(time.Time{}, base))
	assert.Equal(t, "N/A", FormatDwell(base, time.Time{}))
	assert.Equal(t, "N/A", FormatDwell(base, base.Add(-time.Second)))
}
