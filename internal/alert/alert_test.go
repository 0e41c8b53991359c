package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"skin_tracker/internal/core"
)

type mockAlertChannel struct {
	name     string
	sent     []AlertPayload
	sendFunc func(ctx context.Context, alert AlertPayload) error
	mu       sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert AlertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, alert)
	}
	return nil
}

func (m *mockAlertChannel) getSent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]AlertPayload, len(m.sent))
	copy(res, m.sent)
	return res
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func TestAlertManager_Alert(t *testing.T) {
	am := NewAlertManager(&mockLogger{})

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2"}

	am.AddChannel(ch1)
	am.AddChannel(ch2)

	am.Alert(context.Background(), "Stream Terminated", "reconnect attempts exhausted", Critical, map[string]string{"attempts": "10"})

	// Wait for goroutines (Alert is async)
	time.Sleep(100 * time.Millisecond)

	sent1 := ch1.getSent()
	sent2 := ch2.getSent()

	if len(sent1) != 1 {
		t.Errorf("Expected ch1 to receive 1 alert, got %d", len(sent1))
	}
	if len(sent2) != 1 {
		t.Errorf("Expected ch2 to receive 1 alert, got %d", len(sent2))
	}

	payload := sent1[0]
	if payload.Title != "Stream Terminated" {
		t.Errorf("Expected title 'Stream Terminated', got '%s'", payload.Title)
	}
	if payload.Level != Critical {
		t.Errorf("Expected level CRITICAL, got %s", payload.Level)
	}
	if payload.Fields["attempts"] != "10" {
		t.Errorf("Expected field attempts=10, got %s", payload.Fields["attempts"])
	}
}

func TestAlertManager_ChannelFailureIsDropped(t *testing.T) {
	am := NewAlertManager(&mockLogger{})

	failing := &mockAlertChannel{
		name: "failing",
		sendFunc: func(ctx context.Context, alert AlertPayload) error {
			return context.DeadlineExceeded
		},
	}
	healthy := &mockAlertChannel{name: "healthy"}

	am.AddChannel(failing)
	am.AddChannel(healthy)

	am.Alert(context.Background(), "Purchase Failed", "buy request rejected", Warning, nil)

	time.Sleep(100 * time.Millisecond)

	if len(healthy.getSent()) != 1 {
		t.Errorf("Expected healthy channel to still receive the alert, got %d", len(healthy.getSent()))
	}
}
