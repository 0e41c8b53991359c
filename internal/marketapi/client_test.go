package marketapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skin_tracker/internal/core"
)

type nopLogger struct{}

func (nopLogger) Debug(msg string, f ...interface{})                 {}
func (nopLogger) Info(msg string, f ...interface{})                  {}
func (nopLogger) Warn(msg string, f ...interface{})                  {}
func (nopLogger) Error(msg string, f ...interface{})                 {}
func (nopLogger) Fatal(msg string, f ...interface{})                 {}
func (l nopLogger) WithField(k string, v interface{}) core.ILogger   { return l }
func (l nopLogger) WithFields(f map[string]interface{}) core.ILogger { return l }

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/user/get-ws-token",
		APIKey:       "test-api-key",
		SteamPartner: "12345678",
		SteamToken:   "abcdef",
		Timeout:      5 * time.Second,
	}, nopLogger{})
}

func TestWSToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/user/get-ws-token", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"token":"ws-token-123"}}`))
	})

	token, err := client.WSToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ws-token-123", token)
}

func TestWSToken_EmptyToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	})

	_, err := client.WSToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestWSToken_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	})

	_, err := client.WSToken(context.Background())
	require.Error(t, err)
}

var customIDRe = regexp.MustCompile(`^tg_purchase_42_\d{8}_\d{6}_[0-9a-f-]{8}$`)

func TestBuy(t *testing.T) {
	var captured buyRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/market/buy", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"purchase_id":777,"skins":[{"id":42,"name":"AK-47 | Redline","price":25.5,"status":"pending"}]}}`))
	})

	maxPrice := decimal.NewFromFloat(28.05)
	result, err := client.Buy(context.Background(), 42, &maxPrice)
	require.NoError(t, err)

	assert.Equal(t, int64(777), result.PurchaseID)
	require.Len(t, result.Skins, 1)
	assert.Equal(t, "AK-47 | Redline", result.Skins[0].Name)
	assert.Equal(t, "pending", result.Skins[0].Status)

	assert.Equal(t, []int64{42}, captured.IDs)
	assert.Equal(t, "12345678", captured.Partner)
	assert.Equal(t, "abcdef", captured.Token)
	assert.True(t, captured.SkipUnavailable)
	require.NotNil(t, captured.MaxPrice)
	assert.Equal(t, "28.05", captured.MaxPrice.String())
	assert.Regexp(t, customIDRe, captured.CustomID)
}

func TestBuy_CustomIDFormat(t *testing.T) {
	var captured buyRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"data":{"purchase_id":1}}`))
	})
	client.now = func() time.Time {
		return time.Date(2025, 6, 1, 13, 45, 30, 0, time.UTC)
	}

	_, err := client.Buy(context.Background(), 42, nil)
	require.NoError(t, err)

	assert.Contains(t, captured.CustomID, "tg_purchase_42_20250601_134530_")
	// nil ceiling is omitted from the payload entirely
	assert.Nil(t, captured.MaxPrice)
}

func TestBuy_ServerRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"skin unavailable"}`, http.StatusConflict)
	})

	_, err := client.Buy(context.Background(), 42, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "purchase failed")
}
