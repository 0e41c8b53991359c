package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEventsTotal        = "skin_tracker_events_total"
	MetricEventsMatchedTotal = "skin_tracker_events_matched_total"
	MetricNotificationsTotal = "skin_tracker_notifications_sent_total"
	MetricPurchasesTotal     = "skin_tracker_purchases_total"
	MetricReconnectsTotal    = "skin_tracker_reconnects_total"
	MetricConnectionState    = "skin_tracker_connection_state"
	MetricTrackedItems       = "skin_tracker_tracked_items"
	MetricDedupCacheSize     = "skin_tracker_dedup_cache_size"
	MetricEventLatency       = "skin_tracker_event_processing_latency_seconds"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	EventsTotal        metric.Int64Counter
	EventsMatchedTotal metric.Int64Counter
	NotificationsTotal metric.Int64Counter
	PurchasesTotal     metric.Int64Counter
	ReconnectsTotal    metric.Int64Counter
	ConnectionState    metric.Int64ObservableGauge
	TrackedItems       metric.Int64ObservableGauge
	DedupCacheSize     metric.Int64ObservableGauge
	EventLatency       metric.Float64Histogram

	// State for observable gauges
	mu             sync.RWMutex
	connState      int64
	trackedItems   int64
	dedupCacheSize map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			dedupCacheSize: make(map[string]int64),
		}
		// Instruments start on the ambient (no-op) provider; InitMetrics
		// rebinds them once the exporter is wired.
		_ = globalMetrics.InitMetrics(otel.GetMeterProvider().Meter("skin_tracker_core"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EventsTotal, err = meter.Int64Counter(MetricEventsTotal, metric.WithDescription("Total stream events processed"))
	if err != nil {
		return err
	}

	m.EventsMatchedTotal, err = meter.Int64Counter(MetricEventsMatchedTotal, metric.WithDescription("Events that satisfied the notification criteria"))
	if err != nil {
		return err
	}

	m.NotificationsTotal, err = meter.Int64Counter(MetricNotificationsTotal, metric.WithDescription("Notifications handed to the chat front-end"))
	if err != nil {
		return err
	}

	m.PurchasesTotal, err = meter.Int64Counter(MetricPurchasesTotal, metric.WithDescription("Purchase attempts by origin and outcome"))
	if err != nil {
		return err
	}

	m.ReconnectsTotal, err = meter.Int64Counter(MetricReconnectsTotal, metric.WithDescription("Stream reconnect attempts"))
	if err != nil {
		return err
	}

	m.EventLatency, err = meter.Float64Histogram(MetricEventLatency, metric.WithDescription("Per-event processing latency"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	// Observables
	m.ConnectionState, err = meter.Int64ObservableGauge(MetricConnectionState, metric.WithDescription("Stream connection state as enum ordinal"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.connState)
			return nil
		}))
	if err != nil {
		return err
	}

	m.TrackedItems, err = meter.Int64ObservableGauge(MetricTrackedItems, metric.WithDescription("Items currently tracked as listed"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.trackedItems)
			return nil
		}))
	if err != nil {
		return err
	}

	m.DedupCacheSize, err = meter.Int64ObservableGauge(MetricDedupCacheSize, metric.WithDescription("Entries per dedup cache"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for cache, size := range m.dedupCacheSize {
				obs.Observe(size, metric.WithAttributes(attribute.String("cache", cache)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// SetConnectionState updates the observed connection state ordinal
func (m *MetricsHolder) SetConnectionState(state int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connState = state
}

// SetTableSizes updates the observed tracker table sizes
func (m *MetricsHolder) SetTableSizes(tracked, sentNew, sentSold int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackedItems = int64(tracked)
	m.dedupCacheSize["sent_new"] = int64(sentNew)
	m.dedupCacheSize["sent_sold"] = int64(sentSold)
}
