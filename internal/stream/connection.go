// Package stream owns the lifetime of the marketplace push connection:
// token acquisition, the connect/subscribe handshake, liveness
// supervision and the bounded reconnect loop.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"skin_tracker/internal/alert"
	"skin_tracker/internal/config"
	"skin_tracker/internal/core"
	"skin_tracker/internal/tracker"
	"skin_tracker/pkg/telemetry"
	"skin_tracker/pkg/websocket"
)

// Sink receives the payload of every publication in arrival order.
type Sink interface {
	OnEvent(data []byte, now time.Time)
}

// Alerter is the operational alert surface the connection reports to.
type Alerter interface {
	Alert(ctx context.Context, title, message string, level alert.AlertLevel, fields map[string]string)
}

// transport is one websocket connection. Satisfied by *websocket.Client.
type transport interface {
	Connect(ctx context.Context, header http.Header) error
	Send(message interface{}) error
	Run(ctx context.Context) error
	Close()
}

// Config holds the connection schedule. MaxReconnectDelay caps the
// linear backoff ramp.
type Config struct {
	URL                  string
	Channel              string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	HeartbeatInterval    time.Duration
	NoEventsTimeout      time.Duration
	CacheCleanupInterval time.Duration
	HandshakeTimeout     time.Duration
}

// ConfigFrom derives the connection schedule from the loaded file.
func ConfigFrom(s config.StreamConfig, c config.CacheConfig) Config {
	return Config{
		URL:                  s.URL,
		Channel:              s.Channel,
		MaxReconnectAttempts: s.MaxReconnectAttempts,
		ReconnectDelay:       time.Duration(s.ReconnectDelaySec) * time.Second,
		MaxReconnectDelay:    60 * time.Second,
		HeartbeatInterval:    time.Duration(s.HeartbeatIntervalSec) * time.Second,
		NoEventsTimeout:      time.Duration(s.NoEventsTimeoutSec) * time.Second,
		CacheCleanupInterval: time.Duration(c.CleanupIntervalSec) * time.Second,
		HandshakeTimeout:     10 * time.Second,
	}
}

// Connection is the reconnecting stream client. One Run call drives the
// whole lifecycle until the context is cancelled or the attempt budget
// is exhausted.
type Connection struct {
	cfg     Config
	tokens  core.TokenSource
	sink    Sink
	tracker *tracker.Tracker
	alerts  Alerter
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	// dial is swapped in tests to avoid a live endpoint.
	dial func(url string, handler websocket.MessageHandler) transport

	// sleep is swapped in tests to observe the backoff schedule.
	sleep func(ctx context.Context, d time.Duration) error

	state      atomic.Int32
	lastEvent  atomic.Int64 // unix nano of the last publication
	eventCount atomic.Int64

	mu      sync.Mutex
	client  transport
	replies chan reply
}

// NewConnection wires the connection against its collaborators. sink
// receives publications, trk is reset on every successful subscribe and
// swept on the cleanup interval.
func NewConnection(cfg Config, tokens core.TokenSource, sink Sink, trk *tracker.Tracker, alerts Alerter, logger core.ILogger) *Connection {
	c := &Connection{
		cfg:     cfg,
		tokens:  tokens,
		sink:    sink,
		tracker: trk,
		alerts:  alerts,
		logger:  logger.WithField("component", "stream"),
		metrics: telemetry.GetGlobalMetrics(),
	}
	c.dial = func(url string, handler websocket.MessageHandler) transport {
		return websocket.NewClient(url, handler, logger)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	c.setState(core.StateDisconnected)
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() core.ConnectionState {
	return core.ConnectionState(c.state.Load())
}

// EventCount returns the number of publications seen across the whole
// Run, reconnects included.
func (c *Connection) EventCount() int64 {
	return c.eventCount.Load()
}

// Healthy reports whether the stream is currently subscribed and live.
func (c *Connection) Healthy() error {
	if s := c.State(); s != core.StateLive {
		return fmt.Errorf("stream is %s", s)
	}
	return nil
}

func (c *Connection) setState(s core.ConnectionState) {
	c.state.Store(int32(s))
	if c.metrics != nil {
		c.metrics.SetConnectionState(int64(s))
	}
}

// Run drives connect attempts until ctx is cancelled or the budget runs
// out. A session that reaches the live state resets the attempt counter;
// exhaustion raises a single critical alert and returns an error.
func (c *Connection) Run(ctx context.Context) error {
	attempt := 0
	for {
		attempt++
		if attempt > 1 {
			c.metrics.ReconnectsTotal.Add(ctx, 1)
		}
		c.logger.Info("Connection attempt", "attempt", attempt, "max", c.cfg.MaxReconnectAttempts)

		wasLive, err := c.runSession(ctx)
		if ctx.Err() != nil {
			c.setState(core.StateDisconnected)
			c.logger.Info("Stream stopped", "events", c.eventCount.Load())
			return nil
		}
		if wasLive {
			attempt = 0
		}
		if err != nil {
			c.logger.Warn("Session ended", "error", err, "attempt", attempt)
		} else {
			c.logger.Warn("Session ended without events, reconnecting", "attempt", attempt)
		}

		if attempt >= c.cfg.MaxReconnectAttempts {
			c.setState(core.StateFailedPermanently)
			c.logger.Error("Reconnect attempts exhausted", "attempts", attempt)
			c.alerts.Alert(ctx, "Tracker stopped",
				"❌ <b>Бот остановлен</b>\nПревышено количество попыток переподключения",
				alert.Critical, map[string]string{"attempts": fmt.Sprintf("%d", attempt)})
			return fmt.Errorf("reconnect attempts exhausted after %d tries", attempt)
		}

		c.setState(core.StateReconnecting)
		delay := c.cfg.ReconnectDelay * time.Duration(attempt)
		if delay < c.cfg.ReconnectDelay {
			delay = c.cfg.ReconnectDelay
		}
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
		c.logger.Info("Reconnecting", "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			c.setState(core.StateDisconnected)
			return nil
		}
	}
}

// runSession performs one full connect/subscribe/read cycle. wasLive is
// true once the subscribe handshake completed, whatever ends the
// session afterwards.
func (c *Connection) runSession(ctx context.Context) (wasLive bool, err error) {
	c.setState(core.StateConnecting)

	c.logger.Info("Fetching connection token")
	token, err := c.tokens.WSToken(ctx)
	if err != nil {
		return false, fmt.Errorf("token: %w", err)
	}

	client := c.dial(c.cfg.URL, c.onMessage)
	c.mu.Lock()
	c.client = client
	c.replies = make(chan reply, 16)
	c.mu.Unlock()

	if err := client.Connect(ctx, nil); err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so the read goroutine can always deliver its exit error
	// and terminate, whether or not anyone is left to receive it.
	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(sessionCtx)
	}()
	defer client.Close()

	if err := client.Send(connectCommand{ID: connectCommandID, Connect: connectRequest{Token: token}}); err != nil {
		return false, fmt.Errorf("connect command: %w", err)
	}
	connReply, err := c.awaitReply(sessionCtx, connectCommandID, runErr)
	if err != nil {
		return false, fmt.Errorf("connect handshake: %w", err)
	}
	if connReply.Connect != nil {
		c.logger.Info("Connected", "client_id", connReply.Connect.Client, "server_version", connReply.Connect.Version)
	}

	c.setState(core.StateSubscribing)
	if err := client.Send(subscribeCommand{ID: subscribeCommandID, Subscribe: subscribeRequest{Channel: c.cfg.Channel}}); err != nil {
		return false, fmt.Errorf("subscribe command: %w", err)
	}
	if _, err := c.awaitReply(sessionCtx, subscribeCommandID, runErr); err != nil {
		return false, fmt.Errorf("subscribe handshake: %w", err)
	}
	c.logger.Info("Subscribed", "channel", c.cfg.Channel)

	// A fresh subscription starts from a clean listing table; the dedup
	// caches survive so a replayed event stays suppressed.
	c.tracker.Reset()
	c.lastEvent.Store(time.Now().UnixNano())
	c.setState(core.StateLive)

	var wg sync.WaitGroup
	wg.Add(2)
	go c.superviseLiveness(sessionCtx, &wg, cancel)
	go c.sweepCaches(sessionCtx, &wg)
	defer wg.Wait()
	defer cancel()

	return true, <-runErr
}

// awaitReply waits for the reply matching id, failing fast if the read
// loop dies first.
func (c *Connection) awaitReply(ctx context.Context, id uint32, runErr <-chan error) (reply, error) {
	c.mu.Lock()
	replies := c.replies
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return reply{}, ctx.Err()
		case err := <-runErr:
			if err == nil {
				err = fmt.Errorf("connection closed during handshake")
			}
			return reply{}, err
		case <-timer.C:
			return reply{}, fmt.Errorf("timed out waiting for reply %d", id)
		case r := <-replies:
			if r.ID != id {
				continue
			}
			if r.Error != nil {
				return reply{}, r.Error
			}
			return r, nil
		}
	}
}

// onMessage runs on the transport's read loop.
func (c *Connection) onMessage(message []byte) {
	for _, frame := range splitFrames(message) {
		c.handleFrame(frame)
	}
}

func (c *Connection) handleFrame(frame []byte) {
	c.mu.Lock()
	client := c.client
	replies := c.replies
	c.mu.Unlock()

	if isPing(frame) {
		if client != nil {
			if err := client.Send(struct{}{}); err != nil {
				c.logger.Warn("Failed to answer server ping", "error", err)
			}
		}
		return
	}

	var r reply
	if err := unmarshalFrame(frame, &r); err != nil {
		c.logger.Warn("Dropping malformed frame", "error", err)
		return
	}

	if r.Push != nil && r.Push.Pub != nil {
		now := time.Now()
		c.lastEvent.Store(now.UnixNano())
		n := c.eventCount.Add(1)
		c.metrics.EventsTotal.Add(context.Background(), 1)
		if n%100 == 0 {
			c.logger.Info("Events processed", "count", n)
		}
		c.sink.OnEvent(r.Push.Pub.Data, now)
		return
	}

	if r.ID != 0 {
		select {
		case replies <- r:
		default:
			c.logger.Warn("Reply channel full, dropping reply", "id", r.ID)
		}
	}
}

// superviseLiveness logs a periodic status line and forces a reconnect
// when the channel has been silent past the no-events timeout.
func (c *Connection) superviseLiveness(ctx context.Context, wg *sync.WaitGroup, force context.CancelFunc) {
	defer wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			silence := time.Since(time.Unix(0, c.lastEvent.Load()))
			c.logger.Info("Status",
				"events", c.eventCount.Load(),
				"last_event_ago", silence.Truncate(time.Second),
				"state", c.State().String())

			if silence > c.cfg.NoEventsTimeout {
				c.logger.Warn("No events past timeout, forcing reconnect", "silence", silence.Truncate(time.Second))
				force()
				c.mu.Lock()
				if c.client != nil {
					c.client.Close()
				}
				c.mu.Unlock()
				return
			}
		}
	}
}

// sweepCaches periodically expires dedup entries and publishes table
// sizes to the gauges.
func (c *Connection) sweepCaches(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(c.cfg.CacheCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := c.tracker.PurgeExpired(time.Now())
			active, sentNew, sentSold := c.tracker.Sizes()
			c.metrics.SetTableSizes(active, sentNew, sentSold)
			c.logger.Info("Cache sweep", "removed", removed, "sent_new", sentNew, "sent_sold", sentSold)
		}
	}
}
