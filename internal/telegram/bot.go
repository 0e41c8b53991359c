// Package telegram is the chat front-end: it delivers notifications,
// answers the /start command and executes buy-button callbacks.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"skin_tracker/internal/config"
	"skin_tracker/internal/core"
	pkghttp "skin_tracker/pkg/http"
	"skin_tracker/pkg/retry"
	"skin_tracker/pkg/telemetry"
)

const defaultAPIBase = "https://api.telegram.org"

// userBuyCeilingFactor pads the listing price so a manual purchase
// survives minor price movement between the notification and the click.
var userBuyCeilingFactor = decimal.NewFromFloat(1.1)

// pendingTTL bounds how long a buy button stays actionable with its
// remembered price; stale entries are swept on the next Notify.
const pendingTTL = 24 * time.Hour

// pollRetryPolicy absorbs short Telegram API hiccups inside one poll
// cycle before the outer loop's longer backoff kicks in.
var pollRetryPolicy = retry.RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     5 * time.Second,
}

// pendingPurchase is the listing data remembered for a buy button.
type pendingPurchase struct {
	ItemID   int64
	Price    decimal.Decimal
	SavedAt  time.Time
	HasPrice bool
}

// Bot exposes notifications over the Telegram Bot API and runs the
// update loop for interactive purchases.
type Bot struct {
	api          *pkghttp.Client
	chatID       string
	purchaser    core.Purchaser
	limiter      *rate.Limiter
	logger       core.ILogger
	metrics      *telemetry.MetricsHolder
	pollTimeout  time.Duration
	steamPartner string
	steamToken   string

	mu      sync.Mutex
	pending map[int64]pendingPurchase
	offset  int64
}

// Option tweaks Bot construction.
type Option func(*Bot)

// WithAPIBase points the bot at an alternative API host. Used by tests.
func WithAPIBase(base string, token string) Option {
	return func(b *Bot) {
		b.api = pkghttp.NewClient(base+"/bot"+token, 60*time.Second, nil)
	}
}

func NewBot(cfg config.TelegramConfig, api config.APIConfig, purchaser core.Purchaser, logger core.ILogger, opts ...Option) *Bot {
	pollTimeout := time.Duration(cfg.PollTimeoutSec) * time.Second
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	sendRate := cfg.SendRatePerSec
	if sendRate <= 0 {
		sendRate = 1
	}

	b := &Bot{
		api:          pkghttp.NewClient(defaultAPIBase+"/bot"+cfg.BotToken, pollTimeout+30*time.Second, nil),
		chatID:       cfg.ChatID,
		purchaser:    purchaser,
		limiter:      rate.NewLimiter(rate.Limit(sendRate), 4),
		logger:       logger.WithField("component", "telegram"),
		metrics:      telemetry.GetGlobalMetrics(),
		pollTimeout:  pollTimeout,
		steamPartner: api.SteamPartner,
		steamToken:   api.SteamToken,
		pending:      make(map[int64]pendingPurchase),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (b *Bot) call(ctx context.Context, method string, payload interface{}, result interface{}) error {
	raw, err := b.api.Post(ctx, "/"+method, payload)
	if err != nil {
		return err
	}
	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !resp.OK {
		return fmt.Errorf("%s rejected: %s", method, resp.Description)
	}
	if result != nil {
		return json.Unmarshal(resp.Result, result)
	}
	return nil
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Notify sends the rendered message. A non-nil action attaches the buy
// button and remembers the listing for the callback.
func (b *Bot) Notify(ctx context.Context, text string, action *core.BuyAction) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"chat_id":    b.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	if action != nil {
		payload["reply_markup"] = inlineKeyboard{InlineKeyboard: [][]inlineButton{{
			{Text: "🛒 Купить", CallbackData: fmt.Sprintf("buy_%d", action.ItemID)},
		}}}

		now := time.Now()
		b.mu.Lock()
		for id, p := range b.pending {
			if now.Sub(p.SavedAt) > pendingTTL {
				delete(b.pending, id)
			}
		}
		b.pending[action.ItemID] = pendingPurchase{
			ItemID:   action.ItemID,
			Price:    action.Price,
			SavedAt:  now,
			HasPrice: true,
		}
		b.mu.Unlock()
	}

	return b.call(ctx, "sendMessage", payload, nil)
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *message       `json:"message"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      chat   `json:"chat"`
	Text      string `json:"text"`
}

type chat struct {
	ID int64 `json:"id"`
}

type callbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	Message *message `json:"message"`
}

// Run long-polls for updates until the context is cancelled. Poll
// failures back off and retry; the loop itself never gives up.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting update loop", "poll_timeout", b.pollTimeout)

	for {
		if ctx.Err() != nil {
			b.logger.Info("Update loop stopped")
			return nil
		}

		var updates []update
		err := retry.Do(ctx, pollRetryPolicy,
			func(error) bool { return ctx.Err() == nil },
			func() error {
				var pollErr error
				updates, pollErr = b.getUpdates(ctx)
				return pollErr
			})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("getUpdates failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			b.offset = u.UpdateID + 1
			b.dispatch(ctx, u)
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	payload := map[string]interface{}{
		"offset":          b.offset,
		"timeout":         int(b.pollTimeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}

	var updates []update
	if err := b.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (b *Bot) dispatch(ctx context.Context, u update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Text == "/start":
		b.handleStart(ctx, u.Message)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *message) {
	text := "🤖 <b>CS:GO Skin Tracker Bot</b>\n\n" +
		"Бот отслеживает новые скины и отправляет уведомления.\n" +
		"Нажмите кнопку '🛒 Купить' под сообщением для покупки скина.\n\n" +
		"Steam Partner: " + b.steamPartner + "\n" +
		"Steam Token: " + maskToken(b.steamToken)

	err := b.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":    msg.Chat.ID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
	if err != nil {
		b.logger.Error("Failed to answer /start", "error", err)
	}
}

var digitsRe = regexp.MustCompile(`\d+`)

// extractItemID parses the buy_<id> callback payload, falling back to
// the first number in the data for older message formats.
func extractItemID(data string) (int64, bool) {
	if after, found := strings.CutPrefix(data, "buy_"); found {
		if id, err := strconv.ParseInt(after, 10, 64); err == nil {
			return id, true
		}
	}
	if m := digitsRe.FindString(data); m != "" {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

func (b *Bot) handleCallback(ctx context.Context, cb *callbackQuery) {
	b.logger.Info("Buy callback received", "data", cb.Data)

	b.answerCallback(ctx, cb.ID, "Обрабатываю покупку...")

	itemID, ok := extractItemID(cb.Data)
	if !ok {
		b.editMessage(ctx, cb.Message, fmt.Sprintf(
			"❌ Ошибка: не удалось определить ID предмета\nДанные: %s", cb.Data))
		return
	}

	b.mu.Lock()
	pending, hasPending := b.pending[itemID]
	b.mu.Unlock()

	priceText := "N/A"
	if hasPending && pending.HasPrice {
		priceText = pending.Price.String()
	}

	b.editMessage(ctx, cb.Message, fmt.Sprintf(
		"⏳ <b>Покупаю предмет</b>\n\nID: %d\nЦена: $%s\n\nОжидайте...", itemID, priceText))

	var ceiling *decimal.Decimal
	if hasPending && pending.HasPrice {
		c := pending.Price.Mul(userBuyCeilingFactor)
		ceiling = &c
	}

	result, err := b.purchaser.Buy(ctx, itemID, ceiling)
	if err != nil {
		b.metrics.PurchasesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("origin", "manual"), attribute.String("outcome", "failure")))
		b.logger.Error("Purchase failed", "id", itemID, "error", err)
		b.editMessage(ctx, cb.Message, fmt.Sprintf(
			"❌ <b>Ошибка при покупке</b>\n\nДетали: %s", truncate(err.Error(), 200)))
		return
	}

	b.metrics.PurchasesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("origin", "manual"), attribute.String("outcome", "success")))

	b.editMessage(ctx, cb.Message, formatPurchaseResult(result))

	b.mu.Lock()
	delete(b.pending, itemID)
	b.mu.Unlock()
}

func formatPurchaseResult(result *core.PurchaseResult) string {
	if len(result.Skins) == 0 {
		return fmt.Sprintf("✅ Покупка создана! ID: %d", result.PurchaseID)
	}
	skin := result.Skins[0]
	return fmt.Sprintf(
		"✅ <b>Покупка создана!</b>\n\n"+
			"Purchase ID: %d\n"+
			"Название: %s\n"+
			"Цена: USD: %s\n"+
			"Статус: %s\n\n"+
			"⏳ Ожидайте трейд в Steam!",
		result.PurchaseID, skin.Name, skin.Price.String(), skin.Status)
}

func (b *Bot) answerCallback(ctx context.Context, callbackID, text string) {
	err := b.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
	}, nil)
	if err != nil {
		b.logger.Warn("Failed to answer callback", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg *message, text string) {
	if msg == nil {
		return
	}
	err := b.call(ctx, "editMessageText", map[string]interface{}{
		"chat_id":    msg.Chat.ID,
		"message_id": msg.MessageID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
	if err != nil {
		b.logger.Warn("Failed to edit message", "error", err)
	}
}

func maskToken(token string) string {
	if len(token) <= 3 {
		return "***"
	}
	return token[:3] + "***"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
