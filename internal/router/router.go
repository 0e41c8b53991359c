// Package router turns decoded stream publications into tracker
// updates, notifications and purchases.
package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"skin_tracker/internal/alert"
	"skin_tracker/internal/config"
	"skin_tracker/internal/core"
	"skin_tracker/internal/matcher"
	"skin_tracker/internal/tracker"
	"skin_tracker/pkg/concurrency"
	"skin_tracker/pkg/telemetry"
)

// Alerter is the operational alert surface for purchase failures.
type Alerter interface {
	Alert(ctx context.Context, title, message string, level alert.AlertLevel, fields map[string]string)
}

// Deps bundles the router's collaborators.
type Deps struct {
	Matcher      *matcher.Matcher
	Tracker      *tracker.Tracker
	Notifier     core.Notifier
	Purchaser    core.Purchaser
	Alerts       Alerter
	Logger       core.ILogger
	NotifyPool   *concurrency.WorkerPool
	PurchasePool *concurrency.WorkerPool
}

// Router applies the game filter, the tracker lifecycle and the match
// criteria to every event, then fans notifications and purchases out to
// the worker pools. Event evaluation is serialized; only delivery runs
// concurrently.
type Router struct {
	matcher      *matcher.Matcher
	tracker      *tracker.Tracker
	notifier     core.Notifier
	purchaser    core.Purchaser
	alerts       Alerter
	logger       core.ILogger
	metrics      *telemetry.MetricsHolder
	notifyPool   *concurrency.WorkerPool
	purchasePool *concurrency.WorkerPool

	gameID  int
	autoBuy config.AutoBuyConfig

	mu sync.Mutex
}

func New(filters config.FiltersConfig, autoBuy config.AutoBuyConfig, deps Deps) *Router {
	gameID := filters.GameID
	if gameID == 0 {
		gameID = core.GameCSGO
	}
	return &Router{
		matcher:      deps.Matcher,
		tracker:      deps.Tracker,
		notifier:     deps.Notifier,
		purchaser:    deps.Purchaser,
		alerts:       deps.Alerts,
		logger:       deps.Logger.WithField("component", "router"),
		metrics:      telemetry.GetGlobalMetrics(),
		notifyPool:   deps.NotifyPool,
		purchasePool: deps.PurchasePool,
		gameID:       gameID,
		autoBuy:      autoBuy,
	}
}

// OnEvent handles one publication payload. Malformed or foreign events
// are dropped; the stream must never stall on a bad payload.
func (r *Router) OnEvent(data []byte, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		r.metrics.EventLatency.Record(context.Background(), time.Since(start).Seconds())
	}()

	var ev core.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Warn("Dropping malformed event", "error", err)
		return
	}

	if ev.GameID != r.gameID {
		return
	}

	switch ev.Type {
	case core.EventAdded:
		r.handleAdded(ev.Item, now)
	case core.EventDeleted:
		r.handleDeleted(ev.Item, now)
	}
}

func (r *Router) handleAdded(item core.Item, now time.Time) {
	id := item.Key()
	if r.tracker.ObserveAdded(id, item, now) != tracker.Accept {
		return
	}

	if matcher.IsContainer(item.Name) {
		return
	}

	// The auto-buy path is independent of the notification criteria and
	// must never hold up the event loop.
	r.maybeAutoBuy(item)

	res := r.matcher.Evaluate(item)
	if !res.Matched {
		return
	}
	r.metrics.EventsMatchedTotal.Add(context.Background(), 1)

	r.logger.Info("New item matched",
		"name", item.Name,
		"float", floatDisplay(item),
		"stickers", len(res.Stickers),
		"charms", len(res.Charms))

	message := formatNewItem(item, now, res)
	action := &core.BuyAction{ItemID: item.ID, Price: item.Price}

	if err := r.notifyPool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := r.notifier.Notify(ctx, message, action); err != nil {
			r.logger.Error("Failed to deliver new-item notification", "id", item.ID, "error", err)
			return
		}
		r.tracker.MarkNotifiedNew(item.Key(), time.Now())
		r.metrics.NotificationsTotal.Add(ctx, 1)
	}); err != nil {
		r.logger.Error("Notify pool rejected task", "id", item.ID, "error", err)
	}
}

func (r *Router) handleDeleted(item core.Item, now time.Time) {
	id := item.Key()
	decision, tracked := r.tracker.ObserveDeleted(id, now)
	if decision != tracker.Accept || tracked == nil {
		return
	}

	snapshot := tracked.Snapshot
	if matcher.IsContainer(snapshot.Name) {
		return
	}

	res := r.matcher.Evaluate(snapshot)
	if !res.Matched {
		return
	}
	r.metrics.EventsMatchedTotal.Add(context.Background(), 1)

	r.logger.Info("Tracked item sold", "name", snapshot.Name, "dwell", tracker.FormatDwell(tracked.AppearedAt, now))

	message := formatSoldItem(snapshot, tracked.AppearedAt, now, res)

	if err := r.notifyPool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := r.notifier.Notify(ctx, message, nil); err != nil {
			r.logger.Error("Failed to deliver sold notification", "id", snapshot.ID, "error", err)
			return
		}
		r.tracker.MarkNotifiedSold(snapshot.Key(), time.Now())
		r.metrics.NotificationsTotal.Add(ctx, 1)
	}); err != nil {
		r.logger.Error("Notify pool rejected task", "id", snapshot.ID, "error", err)
	}
}

// maybeAutoBuy fires a purchase when the item clears the auto-buy
// thresholds: float below the cutoff, price at or under the ceiling and
// no excluded keyword in the name.
func (r *Router) maybeAutoBuy(item core.Item) {
	if !r.autoBuy.Enabled || r.purchaser == nil {
		return
	}

	floatVal, ok := item.FloatValue()
	if !ok {
		return
	}

	lowered := strings.ToLower(item.Name)
	for _, kw := range r.autoBuy.ExcludedKeywords {
		if strings.Contains(lowered, strings.ToLower(kw)) {
			return
		}
	}

	threshold := decimal.NewFromFloat(r.autoBuy.FloatThreshold)
	maxPrice := decimal.NewFromFloat(r.autoBuy.MaxPrice)
	if !floatVal.LessThan(threshold) || item.Price.GreaterThan(maxPrice) {
		return
	}

	r.logger.Info("Attempting auto-buy", "name", item.Name, "float", floatVal.String(), "price", item.Price.String())

	price := item.Price
	if err := r.purchasePool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := r.purchaser.Buy(ctx, item.ID, &price)
		if err != nil {
			r.metrics.PurchasesTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("origin", "auto"), attribute.String("outcome", "failure")))
			r.logger.Error("Auto-buy failed", "id", item.ID, "error", err)
			r.alerts.Alert(ctx, "Auto-buy failed", err.Error(), alert.Warning,
				map[string]string{"item": item.Name})
			return
		}

		r.metrics.PurchasesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("origin", "auto"), attribute.String("outcome", "success")))
		r.logger.Info("Auto-buy succeeded", "id", item.ID, "purchase_id", result.PurchaseID)

		if err := r.notifier.Notify(ctx, formatAutoBuySuccess(item), nil); err != nil {
			r.logger.Error("Failed to deliver auto-buy confirmation", "id", item.ID, "error", err)
		}
	}); err != nil {
		r.logger.Error("Purchase pool rejected task", "id", item.ID, "error", err)
	}
}
