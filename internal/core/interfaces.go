// Package core defines the shared types and interfaces of the tracker.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// Notifier delivers a rendered notification to the chat front-end.
// A non-nil action attaches an interactive buy button.
type Notifier interface {
	Notify(ctx context.Context, text string, action *BuyAction) error
}

// Purchaser executes a marketplace purchase. maxPrice is an optional
// price ceiling; nil means buy at the current listing price.
type Purchaser interface {
	Buy(ctx context.Context, itemID int64, maxPrice *decimal.Decimal) (*PurchaseResult, error)
}

// TokenSource yields the short-lived credential presented to the
// stream transport. Called once per connection attempt.
type TokenSource interface {
	WSToken(ctx context.Context) (string, error)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
