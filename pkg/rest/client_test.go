package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcompoze/binance-api-client/pkg/logging"
	"github.com/dcompoze/binance-api-client/pkg/market"
	"github.com/dcompoze/binance-api-client/pkg/ratelimit"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(&Config{
		BaseURL:    server.URL,
		APIKey:     "test-api-key",
		Timeout:    5 * time.Second,
		RateLimit:  ratelimit.Rate{Limit: 100, Interval: time.Second},
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		Logger:     logging.Nop(),
	})
}

const depthResponse = `{
	"lastUpdateId": 1027024,
	"bids": [["4.00000000","431.00000000"]],
	"asks": [["4.00000200","12.00000000"]]
}`

func TestDepth(t *testing.T) {
	var gotPath, gotSymbol, gotLimit, gotKey string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSymbol = r.URL.Query().Get("symbol")
		gotLimit = r.URL.Query().Get("limit")
		gotKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(depthResponse))
	})

	book, err := client.Market().Depth(context.Background(), "btcusdt", 100)
	require.NoError(t, err)

	assert.Equal(t, "/api/v3/depth", gotPath)
	assert.Equal(t, "BTCUSDT", gotSymbol)
	assert.Equal(t, "100", gotLimit)
	assert.Equal(t, "test-api-key", gotKey)

	assert.Equal(t, "BTCUSDT", book.Symbol)
	assert.Equal(t, uint64(1027024), book.LastUpdateID)
	require.Len(t, book.Bids, 1)
	assert.Equal(t, 4.0, book.Bids[0].Price)
	assert.Equal(t, 431.0, book.Bids[0].Quantity)
}

func TestDepthEmptySymbol(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.Market().Depth(context.Background(), "", 100)
	assert.ErrorIs(t, err, market.ErrInvalidSymbol)
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(depthResponse))
	})

	book, err := client.Market().Depth(context.Background(), "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(1027024), book.LastUpdateID)
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := client.Market().Depth(context.Background(), "NOSUCH", 0)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Invalid symbol")
}

func TestUserStreamLifecycle(t *testing.T) {
	type call struct {
		method    string
		listenKey string
	}
	var calls []call
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/userDataStream", r.URL.Path)
		require.Equal(t, "test-api-key", r.Header.Get("X-MBX-APIKEY"))
		calls = append(calls, call{r.Method, r.URL.Query().Get("listenKey")})
		if r.Method == http.MethodPost {
			w.Write([]byte(`{"listenKey":"abc123"}`))
		} else {
			w.Write([]byte(`{}`))
		}
	})

	ctx := context.Background()
	svc := client.UserStream()

	key, err := svc.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", key)

	require.NoError(t, svc.Keepalive(ctx, key))
	require.NoError(t, svc.Close(ctx, key))

	require.Len(t, calls, 3)
	assert.Equal(t, call{http.MethodPost, ""}, calls[0])
	assert.Equal(t, call{http.MethodPut, "abc123"}, calls[1])
	assert.Equal(t, call{http.MethodDelete, "abc123"}, calls[2])
}

func TestUserStreamRequiresAPIKey(t *testing.T) {
	client := NewClient(&Config{
		BaseURL: "http://localhost:1",
		Logger:  logging.Nop(),
	})

	ctx := context.Background()
	_, err := client.UserStream().Start(ctx)
	assert.ErrorIs(t, err, market.ErrAuthenticationRequired)
	assert.ErrorIs(t, client.UserStream().Keepalive(ctx, "k"), market.ErrAuthenticationRequired)
	assert.ErrorIs(t, client.UserStream().Close(ctx, "k"), market.ErrAuthenticationRequired)
}
