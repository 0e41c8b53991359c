package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
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

var upgrader = websocket.Upgrader{}

// silentServer accepts the upgrade and then never sends a frame.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRun_CancelUnblocksQuietConnection(t *testing.T) {
	srv := silentServer(t)

	client := NewClient(wsURL(srv), nil, nopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.Connect(ctx, nil))

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	// No frames are coming; only conn teardown can unblock the read.
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestRun_CloseUnblocksQuietConnection(t *testing.T) {
	srv := silentServer(t)

	client := NewClient(wsURL(srv), nil, nopLogger{})
	ctx := context.Background()

	require.NoError(t, client.Connect(ctx, nil))

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	client.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRun_DeliversFramesToHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":1}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	received := make(chan []byte, 1)
	client := NewClient(wsURL(srv), func(message []byte) {
		received <- message
	}, nopLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, client.Connect(ctx, nil))

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"hello":1}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("handler never saw the frame")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestSend_RequiresConnection(t *testing.T) {
	client := NewClient("ws://127.0.0.1:0", nil, nopLogger{})
	assert.Error(t, client.Send(struct{}{}))
}
