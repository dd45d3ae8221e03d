// Command engine is the daytrader process entry point: load configuration,
// open the Store, wire the Engine, expose Prometheus metrics, and run
// until SIGINT/SIGTERM, flushing a final status snapshot on the way out.
// Grounded on original_source/python/kiwoom/main.py's process bootstrap
// and SynapseStrike's cmd-style main wiring.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kiwoom-bot/daytrader/internal/config"
	"github.com/kiwoom-bot/daytrader/internal/engine"
	"github.com/kiwoom-bot/daytrader/internal/logger"
	"github.com/kiwoom-bot/daytrader/internal/metrics"
	"github.com/kiwoom-bot/daytrader/internal/notify"
	"github.com/kiwoom-bot/daytrader/internal/store"
	"github.com/kiwoom-bot/daytrader/internal/vision"
)

func main() {
	cfg := config.Load()

	if err := logger.Init(cfg.DataDir, cfg.DebugMode); err != nil {
		panic(err)
	}
	metrics.Init()

	sto, err := store.Open(cfg.DataDir + "/daytrader.db")
	if err != nil {
		logger.Errorf("main: failed to open store: %v", err)
		os.Exit(1)
	}
	defer sto.Close()

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID)
	}

	// The vision gate's concrete model client is an external collaborator
	// this module doesn't own; run with NoopClient (always rejects) until
	// one is configured, so the pipeline's other gates remain exercisable
	// without a live vision API key.
	visionClient := vision.NoopClient{}

	eng := engine.New(cfg, sto, visionClient, notifier)

	go serveMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("main: daytrader engine starting, mock_trade=%v", cfg.MockTrade)
	eng.Run(ctx)
	logger.Infof("main: daytrader engine stopped")
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              ":9090",
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warnf("main: metrics server stopped: %v", err)
	}
}
