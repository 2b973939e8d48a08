// Package binanceapiclient provides a resilient client for the Binance
// market-data and user-data APIs.
//
// The library is organized around a small set of composable packages:
//
//   - pkg/rest: rate-limited, retrying HTTP client for the REST API
//     (order book snapshots, listen key management)
//   - pkg/websocket: stream event parsing, a single-connection transport
//     and a self-healing ReconnectingConn with jittered exponential backoff
//   - pkg/depthcache: a local order book kept consistent against the diff
//     stream via the snapshot-plus-buffered-replay protocol
//   - pkg/userstream: listen key keepalive and verbatim event forwarding
//     for the authenticated user data stream
//
// Core Features:
//
//   - Automatic reconnection with exponential backoff and a bounded
//     attempt budget
//   - Local depth cache with sequence gap detection and automatic
//     resynchronization
//   - Listen key lifecycle management with rotation on refresh failure
//   - Rate limiting protection for REST requests
//
// # Standard Errors
//
// The library defines standardized errors in pkg/market for consistent
// error handling:
//
//   - ErrNotConnected: Returned when an operation is attempted on a closed
//     or never-opened stream
//
//   - ErrStreamClosed: Returned when a stream has permanently closed after
//     exhausting its reconnect attempt budget
//
//   - ErrManagerStopped: Returned when waiting on a manager that has
//     stopped
//
//   - ErrInvalidSymbol: Returned when an invalid trading pair symbol is
//     provided
//
//   - ErrAuthenticationRequired: Returned when attempting an operation
//     that requires an API key without providing one
//
//   - ErrSnapshotUnavailable: Returned when an order book snapshot cannot
//     be fetched
//
// Additionally, pkg/market provides a SymbolError type for symbol-specific
// error conditions, created with NewSymbolError(symbol, message, err).
//
// # Examples
//
// Keeping a local depth cache synchronized:
//
//	client := rest.NewClient(rest.DefaultConfig())
//	manager := depthcache.NewManager("BTCUSDT", client.Market(), depthcache.DefaultConfig())
//
//	ctx := context.Background()
//	if err := manager.Start(ctx); err != nil {
//	    log.Fatalf("failed to start: %v", err)
//	}
//	defer manager.Stop()
//
//	if err := manager.WaitForSync(ctx); err != nil {
//	    log.Fatalf("failed to sync: %v", err)
//	}
//
//	for book := range manager.Updates() {
//	    fmt.Println(book.BestBid())
//	}
//
// Streaming authenticated account events:
//
//	cfg := rest.DefaultConfig()
//	cfg.APIKey = os.Getenv("BINANCE_API_KEY")
//	client := rest.NewClient(cfg)
//
//	stream := userstream.NewManager(client.UserStream(), userstream.DefaultConfig())
//	if err := stream.Start(ctx); err != nil {
//	    log.Fatalf("failed to start: %v", err)
//	}
//	defer stream.Stop()
//
//	for ev := range stream.Events() {
//	    // ev.Kind distinguishes execution reports, balance updates, ...
//	}
//
// Every manager exposes a non-blocking State method and an idempotent stop;
// a stopped manager cannot be restarted, create a new instance instead.
package binanceapiclient
