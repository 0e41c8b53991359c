// Package websocket provides a single-connection WebSocket transport.
// Reconnect policy belongs to the caller: one Client is one connection.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"skin_tracker/internal/core"
	"skin_tracker/pkg/telemetry"
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler func(message []byte)

// Client wraps one WebSocket connection with ping/pong keepalive and a
// read loop that hands every frame to the message handler.
type Client struct {
	url     string
	handler MessageHandler

	conn *websocket.Conn
	mu   sync.Mutex
	wg   sync.WaitGroup

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	// Logger
	logger core.ILogger

	// OTel
	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a client for url. Connect must be called before Run.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	tracer := telemetry.GetTracer("ws-client")
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	return &Client{
		url:          url,
		handler:      handler,
		pingInterval: 30 * time.Second,
		pingWait:     10 * time.Second,
		pongWait:     60 * time.Second,
		tracer:       tracer,
		msgCounter:   msgCounter,
		connCounter:  connCounter,
		latencyHist:  latencyHist,
		logger:       logger,
	}
}

// Connect dials the endpoint once. header may carry auth material.
func (c *Client) Connect(ctx context.Context, header http.Header) error {
	ctx, span := c.tracer.Start(ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("websocket already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Set pong handler
	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

// Send sends a message over the WebSocket
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	return c.conn.WriteJSON(message)
}

// Run reads frames until the connection drops or ctx is cancelled.
// It returns the read error (nil on clean cancellation) after the
// helper goroutines have exited and the connection is closed.
func (c *Client) Run(ctx context.Context) error {
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	c.mu.Lock()
	pingInterval := c.pingInterval
	c.mu.Unlock()

	if pingInterval > 0 {
		c.wg.Add(1)
		go c.heartbeat(runCtx)
	}

	// ReadMessage only fails, it never polls ctx. Closing the conn on
	// cancellation is what actually unblocks the read loop.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-runCtx.Done()
		c.closeConn()
	}()

	err := c.readLoop(ctx)
	runCancel()
	c.wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close tears the connection down. The read loop observes the closed
// connection and Run returns.
func (c *Client) Close() {
	c.closeConn()
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				// If ping fails, close connection to end the read loop
				c.logger.Warn("Ping failed, closing connection", "error", err)
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	defer c.closeConn()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return fmt.Errorf("websocket closed")
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			start := time.Now()
			c.msgCounter.Add(ctx, 1)

			if c.handler != nil {
				c.handler(message)
			}

			duration := time.Since(start).Seconds()
			c.latencyHist.Record(ctx, duration)
		}
	}
}
