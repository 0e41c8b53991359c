// Package tracker maintains the in-memory item lifecycle state: the
// table of currently-listed items and the notification dedup caches.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"skin_tracker/internal/core"
)

// Decision is the outcome of observing a lifecycle event.
type Decision int

const (
	// Accept means the event is fresh and should be processed.
	Accept Decision = iota
	// Suppressed means a notification for this id went out within the
	// duplicate window.
	Suppressed
	// Unknown means a deletion arrived for an id that was never
	// tracked (listed before this process started, or already consumed).
	Unknown
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Suppressed:
		return "suppressed"
	case Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Config holds the tracker timing parameters.
type Config struct {
	// DuplicateCheckWindow suppresses repeat notifications for the
	// same id.
	DuplicateCheckWindow time.Duration
	// ItemTTL is the dedup cache entry lifetime enforced by PurgeExpired.
	ItemTTL time.Duration
	// TrackedItemTTL bounds the active-item table. Zero disables
	// eviction: an item then stays tracked until its deleted event.
	TrackedItemTTL time.Duration
}

// Tracker owns the lifecycle tables. All methods are safe for
// concurrent use; event processing itself is serialized by the router.
type Tracker struct {
	cfg    Config
	logger core.ILogger

	mu       sync.Mutex
	active   map[string]*core.TrackedItem
	sentNew  map[string]time.Time
	sentSold map[string]time.Time
}

// New creates an empty tracker.
func New(cfg Config, logger core.ILogger) *Tracker {
	return &Tracker{
		cfg:      cfg,
		logger:   logger.WithField("component", "tracker"),
		active:   make(map[string]*core.TrackedItem),
		sentNew:  make(map[string]time.Time),
		sentSold: make(map[string]time.Time),
	}
}

// ObserveAdded records an added event. Suppressed when a new-item
// notification for this id is still inside the duplicate window;
// otherwise the item snapshot is stored and the event accepted.
// The dedup timestamp is NOT recorded here: the caller marks it only
// after a notification actually goes out.
func (t *Tracker) ObserveAdded(id string, item core.Item, now time.Time) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sent, ok := t.sentNew[id]; ok && now.Sub(sent) < t.cfg.DuplicateCheckWindow {
		t.logger.Debug("Skipping duplicate new item", "id", id)
		return Suppressed
	}

	t.active[id] = &core.TrackedItem{
		AppearedAt: now,
		Snapshot:   item,
	}
	return Accept
}

// ObserveDeleted records a deleted event. Suppressed under the same
// window rule against the sold cache; Unknown when the id was never
// tracked. Accept consumes and returns the tracked entry.
func (t *Tracker) ObserveDeleted(id string, now time.Time) (Decision, *core.TrackedItem) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sent, ok := t.sentSold[id]; ok && now.Sub(sent) < t.cfg.DuplicateCheckWindow {
		t.logger.Debug("Skipping duplicate sold item", "id", id)
		return Suppressed, nil
	}

	entry, ok := t.active[id]
	if !ok {
		return Unknown, nil
	}

	delete(t.active, id)
	return Accept, entry
}

// MarkNotifiedNew records that a new-item notification went out.
func (t *Tracker) MarkNotifiedNew(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentNew[id] = now
}

// MarkNotifiedSold records that a sold-item notification went out.
func (t *Tracker) MarkNotifiedSold(id string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentSold[id] = now
}

// PurgeExpired sweeps dedup entries older than ItemTTL from both
// caches and, when TrackedItemTTL is set, evicts tracked items that
// aged out without a deleted event. Returns the number of removed
// entries. Safe to call concurrently with event processing.
func (t *Tracker) PurgeExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	cutoff := now.Add(-t.cfg.ItemTTL)

	for id, sent := range t.sentNew {
		if sent.Before(cutoff) {
			delete(t.sentNew, id)
			removed++
		}
	}
	for id, sent := range t.sentSold {
		if sent.Before(cutoff) {
			delete(t.sentSold, id)
			removed++
		}
	}

	if t.cfg.TrackedItemTTL > 0 {
		trackedCutoff := now.Add(-t.cfg.TrackedItemTTL)
		for id, entry := range t.active {
			if entry.AppearedAt.Before(trackedCutoff) {
				delete(t.active, id)
				removed++
			}
		}
	}

	t.logger.Info("Cache cleanup finished",
		"removed", removed,
		"sent_new", len(t.sentNew),
		"sent_sold", len(t.sentSold),
		"active", len(t.active),
	)
	return removed
}

// Reset clears the active-item table. Called on every fresh
// subscription: listings seen before a reconnect cannot be trusted.
// Dedup caches survive resets so notifications stay deduplicated
// across reconnects.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = make(map[string]*core.TrackedItem)
}

// Sizes returns the current table sizes for the observable gauges.
func (t *Tracker) Sizes() (active, sentNew, sentSold int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active), len(t.sentNew), len(t.sentSold)
}

// FormatDwell renders the appeared-to-sold interval as the
// human-readable "NчNмNс" string. Malformed input (zero timestamps or
// a negative interval) yields "N/A" so one broken field never sinks
// the whole notification.
func FormatDwell(appeared, sold time.Time) string {
	if appeared.IsZero() || sold.IsZero() || sold.Before(appeared) {
		return "N/A"
	}

	total := int(sold.Sub(appeared).Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
}
