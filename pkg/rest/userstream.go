package rest

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dcompoze/binance-api-client/pkg/market"
)

const apiV3UserDataStream = "/api/v3/userDataStream"

// UserStreamService manages user data stream listen keys. A listen key is
// required to connect to the user data WebSocket stream and expires after 60
// minutes without a keepalive.
//
// All endpoints require an API key but no request signature.
type UserStreamService struct {
	c *Client
}

// Start opens a new user data stream and returns its listen key.
func (s *UserStreamService) Start(ctx context.Context) (string, error) {
	if s.c.cfg.APIKey == "" {
		return "", market.ErrAuthenticationRequired
	}
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := s.c.do(ctx, http.MethodPost, apiV3UserDataStream, nil, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

// Keepalive extends the expiry of listenKey. Should be called roughly every
// 30 minutes while the stream is in use.
func (s *UserStreamService) Keepalive(ctx context.Context, listenKey string) error {
	if s.c.cfg.APIKey == "" {
		return market.ErrAuthenticationRequired
	}
	query := url.Values{"listenKey": {listenKey}}
	return s.c.do(ctx, http.MethodPut, apiV3UserDataStream, query, nil)
}

// Close invalidates listenKey, ending the user data stream.
func (s *UserStreamService) Close(ctx context.Context, listenKey string) error {
	if s.c.cfg.APIKey == "" {
		return market.ErrAuthenticationRequired
	}
	query := url.Values{"listenKey": {listenKey}}
	return s.c.do(ctx, http.MethodDelete, apiV3UserDataStream, query, nil)
}
