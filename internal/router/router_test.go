package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skin_tracker/internal/alert"
	"skin_tracker/internal/config"
	"skin_tracker/internal/core"
	"skin_tracker/internal/matcher"
	"skin_tracker/internal/tracker"
	"skin_tracker/pkg/concurrency"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})                 {}
func (nopLogger) Info(msg string, f ...interface{})                  {}
func (nopLogger) Warn(msg string, f ...interface{})                  {}
func (nopLogger) Error(msg string, f ...interface{})                 {}
func (nopLogger) Fatal(msg string, f ...interface{})                 {}
func (l nopLogger) WithField(k string, v interface{}) core.ILogger   { return l }
func (l nopLogger) WithFields(f map[string]interface{}) core.ILogger { return l }

type sentNotification struct {
	Text   string
	Action *core.BuyAction
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (m *mockNotifier) Notify(ctx context.Context, text string, action *core.BuyAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentNotification{Text: text, Action: action})
	return nil
}

func (m *mockNotifier) notifications() []sentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentNotification(nil), m.sent...)
}

type buyCall struct {
	ItemID   int64
	MaxPrice *decimal.Decimal
}

type mockPurchaser struct {
	mu    sync.Mutex
	calls []buyCall
	err   error
}

func (m *mockPurchaser) Buy(ctx context.Context, itemID int64, maxPrice *decimal.Decimal) (*core.PurchaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, buyCall{ItemID: itemID, MaxPrice: maxPrice})
	if m.err != nil {
		return nil, m.err
	}
	return &core.PurchaseResult{PurchaseID: 999}, nil
}

func (m *mockPurchaser) buys() []buyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]buyCall(nil), m.calls...)
}

type mockAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (m *mockAlerter) Alert(ctx context.Context, title, message string, level alert.AlertLevel, fields map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
}

func (m *mockAlerter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.titles)
}

type fixture struct {
	router    *Router
	tracker   *tracker.Tracker
	notifier  *mockNotifier
	purchaser *mockPurchaser
	alerts    *mockAlerter
	stop      func()
}

func testFilters() config.FiltersConfig {
	return config.FiltersConfig{
		GameID: 1,
		FloatRanges: []config.FloatRange{
			{Min: 0.00, Max: 0.01},
			{Min: 0.07, Max: 0.071},
			{Min: 0.99, Max: 1.00},
		},
		StickerKeywords: []string{"Katowice 2014"},
	}
}

func newFixture(t *testing.T, autoBuy config.AutoBuyConfig) *fixture {
	t.Helper()

	logger := nopLogger{}
	trk := tracker.New(tracker.Config{
		DuplicateCheckWindow: 30 * time.Minute,
		ItemTTL:              2 * time.Hour,
	}, logger)

	notifier := &mockNotifier{}
	purchaser := &mockPurchaser{}
	alerts := &mockAlerter{}

	notifyPool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "notify", MaxWorkers: 2, MaxCapacity: 16}, logger)
	purchasePool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "purchase", MaxWorkers: 2, MaxCapacity: 16}, logger)

	rtr := New(testFilters(), autoBuy, Deps{
		Matcher:      matcher.New(testFilters()),
		Tracker:      trk,
		Notifier:     notifier,
		Purchaser:    purchaser,
		Alerts:       alerts,
		Logger:       logger,
		NotifyPool:   notifyPool,
		PurchasePool: purchasePool,
	})

	f := &fixture{
		router:    rtr,
		tracker:   trk,
		notifier:  notifier,
		purchaser: purchaser,
		alerts:    alerts,
		stop: func() {
			notifyPool.Stop()
			purchasePool.Stop()
		},
	}
	t.Cleanup(f.stop)
	return f
}

func addedEvent(id int64, name, itemFloat string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"obtained_skin_added","id":%d,"game_id":1,"name":%q,"price":25.5,"item_float":%q,"item_paint_index":123,"item_paint_seed":456}`,
		id, name, itemFloat))
}

func deletedEvent(id int64, name string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"obtained_skin_deleted","id":%d,"game_id":1,"name":%q,"price":25.5}`, id, name))
}

func TestOnEvent_NewItemNotification(t *testing.T) {
	f := newFixture(t, config.AutoBuyConfig{})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	f.router.OnEvent(addedEvent(42, "AK-47 | Redline (Field-Tested)", "0.005"), now)

	require.Eventually(t, func() bool { return len(f.notifier.notifications()) == 1 }, time.Second, 5*time.Millisecond)

	n := f.notifier.notifications()[0]
	assert.Contains(t, n.Text, "🆕 НОВЫЙ СКИН")
	assert.Contains(t, n.Text, "AK-47 | Redline (Field-Tested)")
	assert.Contains(t, n.Text, "✅ Float: 0.005000")
	assert.Contains(t, n.Text, "Паттерн: 123")
	assert.Contains(t, n.Text, "Seed: 456")
	require.NotNil(t, n.Action)
	assert.Equal(t, int64(42), n.Action.ItemID)
	assert.Equal(t, "25.5", n.Action.Price.String())

	// Dedup is armed only after delivery
	require.Eventually(t, func() bool {
		_, sentNew, _ := f.tracker.Sizes()
		return sentNew == 1
	}, time.Second, 5*time.Millisecond)

	// Replay inside the window is suppressed
	f.router.OnEvent(addedEvent(42, "AK-47 | Redline (Field-Tested)", "0.005"), now.Add(time.Minute))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.notifier.notifications(), 1)
}

func TestOnEvent_SoldItemNotification(t *testing.T) {
	f := newFixture(t, config.AutoBuyConfig{})
	appeared := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sold := appeared.Add(10 * time.Minute)

	f.router.OnEvent(addedEvent(42, "AK-47 | Redline (Field-Tested)", "0.005"), appeared)
	require.Eventually(t, func() bool { return len(f.notifier.notifications()) == 1 }, time.Second, 5*time.Millisecond)

	f.router.OnEvent(deletedEvent(42, "AK-47 | Redline (Field-Tested)"), sold)
	require.Eventually(t, func() bool { return len(f.notifier.notifications()) == 2 }, time.Second, 5*time.Millisecond)

	n := f.notifier.notifications()[1]
	assert.Contains(t, n.Text, "💰 <b>Скин продан</b>")
	assert.Contains(t, n.Text, "⏳ Время на продажу: 0ч 10м 0с")
	// The snapshot from the added event is evaluated, so the float
	// criterion still applies even though deletions carry no float.
	assert.Contains(t, n.Text, "Float: 0.005000")
	assert.Nil(t, n.Action)
}

func TestOnEvent_UnknownDeletionIsIgnored(t *testing.T) {
	f := newFixture(t, config.AutoBuyConfig{})

	f.router.OnEvent(deletedEvent(42, "AK-47 | Redline (Field-Tested)"), time.Now())

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.notifier.notifications())
}

func TestOnEvent_Filters(t *testing.T) {
	f := newFixture(t, config.AutoBuyConfig{})
	now := time.Now()

	t.Run("foreign game ignored", func(t *testing.T) {
		f.router.OnEvent([]byte(`{"event":"obtained_skin_added","id":1,"game_id":2,"name":"Dota Hook","item_float":"0.001"}`), now)
	})

	t.Run("container excluded", func(t *testing.T) {
		f.router.OnEvent(addedEvent(2, "Operation Bravo Case", "0.005"), now)
	})

	t.Run("non matching item dropped", func(t *testing.T) {
		f.router.OnEvent(addedEvent(3, "AWP | Safari Mesh", "0.35"), now)
	})

	t.Run("malformed payload dropped", func(t *testing.T) {
		f.router.OnEvent([]byte(`{not json`), now)
	})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.notifier.notifications())
}

func TestOnEvent_AutoBuy(t *testing.T) {
	autoBuy := config.AutoBuyConfig{
		Enabled:          true,
		FloatThreshold:   0.001,
		MaxPrice:         50,
		ExcludedKeywords: []string{"Souvenir", "StatTrak"},
	}

	t.Run("triggers below threshold", func(t *testing.T) {
		f := newFixture(t, autoBuy)
		f.router.OnEvent(addedEvent(42, "AK-47 | Redline (Factory New)", "0.0005"), time.Now())

		require.Eventually(t, func() bool { return len(f.purchaser.buys()) == 1 }, time.Second, 5*time.Millisecond)
		call := f.purchaser.buys()[0]
		assert.Equal(t, int64(42), call.ItemID)
		require.NotNil(t, call.MaxPrice)
		assert.Equal(t, "25.5", call.MaxPrice.String())

		// Success confirmation rides the notifier too
		require.Eventually(t, func() bool {
			for _, n := range f.notifier.notifications() {
				if n.Action == nil && len(n.Text) > 0 {
					return true
				}
			}
			return false
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("does not trigger at threshold", func(t *testing.T) {
		f := newFixture(t, autoBuy)
		f.router.OnEvent(addedEvent(42, "AK-47 | Redline (Factory New)", "0.001"), time.Now())
		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, f.purchaser.buys())
	})

	t.Run("excluded keyword blocks purchase", func(t *testing.T) {
		f := newFixture(t, autoBuy)
		f.router.OnEvent(addedEvent(42, "StatTrak™ AK-47 | Redline", "0.0005"), time.Now())
		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, f.purchaser.buys())
	})

	t.Run("price above ceiling blocks purchase", func(t *testing.T) {
		cfg := autoBuy
		cfg.MaxPrice = 10
		f := newFixture(t, cfg)
		f.router.OnEvent(addedEvent(42, "AK-47 | Redline (Factory New)", "0.0005"), time.Now())
		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, f.purchaser.buys())
	})

	t.Run("failure raises a warning alert", func(t *testing.T) {
		f := newFixture(t, autoBuy)
		f.purchaser.err = errors.New("insufficient balance")

		f.router.OnEvent(addedEvent(42, "AK-47 | Redline (Factory New)", "0.0005"), time.Now())

		require.Eventually(t, func() bool { return f.alerts.count() == 1 }, time.Second, 5*time.Millisecond)
		// The criteria notification path is unaffected by the failure
		require.Eventually(t, func() bool { return len(f.notifier.notifications()) >= 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestFormatNewItem_NoFloatOmitsPattern(t *testing.T) {
	item := core.Item{
		ID:    7,
		Name:  "Sticker | Titan (Holo) | Katowice 2014",
		Price: decimal.NewFromInt(4000),
		Stickers: []core.Sticker{
			{Name: "Titan (Holo) | Katowice 2014", Wear: decimal.Zero, Slot: 0},
		},
	}
	res := core.MatchResult{
		Matched:  true,
		Stickers: []core.StickerMatch{{Name: "Titan (Holo) | Katowice 2014", Wear: decimal.Zero, Slot: 0}},
	}

	text := formatNewItem(item, time.Now(), res)
	assert.Contains(t, text, "🏷 Стикеры:")
	assert.Contains(t, text, "Float: N/A")
	assert.NotContains(t, text, "Паттерн")
	assert.NotContains(t, text, "Seed")
}

func TestEventDecoding(t *testing.T) {
	var ev core.Event
	require.NoError(t, json.Unmarshal(addedEvent(42, "AK-47", "0.005"), &ev))
	assert.Equal(t, core.EventAdded, ev.Type)
	assert.Equal(t, int64(42), ev.ID)
	fv, ok := ev.FloatValue()
	require.True(t, ok)
	assert.Equal(t, "0.005", fv.String())
}
