// Package marketapi is the REST client for the marketplace API: the
// websocket token endpoint and the buy endpoint.
package marketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"skin_tracker/internal/core"
	pkghttp "skin_tracker/pkg/http"
)

// bearerSigner attaches the marketplace API key to every request.
type bearerSigner struct {
	key string
}

func (s *bearerSigner) SignRequest(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	return nil
}

// Client calls the marketplace REST API. It implements both
// core.TokenSource and core.Purchaser.
type Client struct {
	http         *pkghttp.Client
	tokenPath    string
	steamPartner string
	steamToken   string
	logger       core.ILogger
	now          func() time.Time
}

// Config holds the client parameters.
type Config struct {
	BaseURL      string
	TokenURL     string
	APIKey       string
	SteamPartner string
	SteamToken   string
	Timeout      time.Duration
}

// NewClient creates a marketplace API client. The token endpoint is
// expressed as a path under BaseURL so it rides the same resilient
// client as the buy call.
func NewClient(cfg Config, logger core.ILogger) *Client {
	tokenPath := "/user/get-ws-token"
	if cfg.BaseURL != "" && strings.HasPrefix(cfg.TokenURL, cfg.BaseURL) {
		if p := strings.TrimPrefix(cfg.TokenURL, cfg.BaseURL); p != "" {
			tokenPath = p
		}
	}

	return &Client{
		http:         pkghttp.NewClient(cfg.BaseURL, cfg.Timeout, &bearerSigner{key: cfg.APIKey}),
		tokenPath:    tokenPath,
		steamPartner: cfg.SteamPartner,
		steamToken:   cfg.SteamToken,
		logger:       logger.WithField("component", "market_api"),
		now:          time.Now,
	}
}

type wsTokenResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// WSToken fetches a short-lived stream credential. One call per
// connection attempt; failures count as connect failures upstream.
func (c *Client) WSToken(ctx context.Context) (string, error) {
	body, err := c.http.Get(ctx, c.tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to obtain ws token: %w", err)
	}

	var resp wsTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to decode ws token response: %w", err)
	}
	if resp.Data.Token == "" {
		return "", fmt.Errorf("ws token response carried no token")
	}
	return resp.Data.Token, nil
}

type buyRequest struct {
	IDs             []int64          `json:"ids"`
	Partner         string           `json:"partner"`
	Token           string           `json:"token"`
	CustomID        string           `json:"custom_id"`
	SkipUnavailable bool             `json:"skip_unavailable"`
	MaxPrice        *decimal.Decimal `json:"max_price,omitempty"`
}

type buyResponse struct {
	Data core.PurchaseResult `json:"data"`
}

// Buy purchases one item. The generated custom_id makes the call
// idempotent on the marketplace side, so transport-level retries of
// the POST are safe.
func (c *Client) Buy(ctx context.Context, itemID int64, maxPrice *decimal.Decimal) (*core.PurchaseResult, error) {
	customID := fmt.Sprintf("tg_purchase_%d_%s_%s",
		itemID,
		c.now().Format("20060102_150405"),
		uuid.NewString()[:8],
	)

	req := buyRequest{
		IDs:             []int64{itemID},
		Partner:         c.steamPartner,
		Token:           c.steamToken,
		CustomID:        customID,
		SkipUnavailable: true,
		MaxPrice:        maxPrice,
	}

	c.logger.Info("Submitting purchase", "item_id", itemID, "custom_id", customID)

	body, err := c.http.Post(ctx, "/market/buy", req)
	if err != nil {
		return nil, fmt.Errorf("purchase failed: %w", err)
	}

	var resp buyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode purchase response: %w", err)
	}
	return &resp.Data, nil
}
