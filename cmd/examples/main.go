package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dcompoze/binance-api-client/pkg/depthcache"
	"github.com/dcompoze/binance-api-client/pkg/logging"
	"github.com/dcompoze/binance-api-client/pkg/rest"
	"github.com/dcompoze/binance-api-client/pkg/userstream"
)

func main() {
	// Optional .env with BINANCE_API_KEY
	_ = godotenv.Load()

	logger := logging.NewLogger()
	logger.SetLevel(logging.DEBUG)

	cfg := rest.DefaultConfig()
	cfg.APIKey = os.Getenv("BINANCE_API_KEY")
	cfg.Logger = logger
	client := rest.NewClient(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fetch a one-off order book snapshot
	logger.Info("fetching order book snapshot")
	book, err := client.Market().Depth(ctx, "BTCUSDT", 20)
	if err != nil {
		logger.Error("failed to fetch depth", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("order book snapshot",
		logging.String("symbol", book.Symbol),
		logging.Uint64("last_update_id", book.LastUpdateID),
		logging.Int("bid_levels", len(book.Bids)),
		logging.Int("ask_levels", len(book.Asks)),
	)

	// Keep a local depth cache synchronized against the diff stream
	mgrCfg := depthcache.DefaultConfig()
	mgrCfg.FastUpdates = true
	mgrCfg.Logger = logger
	manager := depthcache.NewManager("BTCUSDT", client.Market(), mgrCfg)

	logger.Info("starting depth cache manager")
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start depth cache manager", logging.Error(err))
		os.Exit(1)
	}
	defer manager.Stop()

	syncCtx, syncCancel := context.WithTimeout(ctx, 30*time.Second)
	defer syncCancel()
	if err := manager.WaitForSync(syncCtx); err != nil {
		logger.Error("failed to sync depth cache", logging.Error(err))
		os.Exit(1)
	}

	go func() {
		for book := range manager.Updates() {
			bid, okB := book.BestBid()
			ask, okA := book.BestAsk()
			if !okB || !okA {
				continue
			}
			logger.Info("book update",
				logging.Float64("best_bid", bid.Price),
				logging.Float64("best_ask", ask.Price),
				logging.Float64("spread", ask.Price-bid.Price),
			)
		}
	}()

	// Stream authenticated account events when an API key is configured
	if cfg.APIKey != "" {
		stream := userstream.NewManager(client.UserStream(), userstream.DefaultConfig())
		logger.Info("starting user data stream")
		if err := stream.Start(ctx); err != nil {
			logger.Error("failed to start user data stream", logging.Error(err))
			os.Exit(1)
		}
		defer stream.Stop()

		go func() {
			for ev := range stream.Events() {
				logger.Info("user data event", logging.String("type", ev.Kind.String()))
			}
		}()
	}

	// Run until interrupted
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}
