package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"leakwatch/internal/api"
	"leakwatch/internal/config"
	"leakwatch/internal/logging"
	"leakwatch/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	idx, err := store.OpenIndex(cfg.Store.Path(cfg.Store.IndexDir))
	if err != nil {
		logger.Fatal("❌ Failed to open index", zap.Error(err))
	}
	defer idx.Close()

	srv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           api.New(idx, cfg.API.AllowedOrigins, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("🔎 Starting leakwatch search API", zap.String("addr", cfg.API.Listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("❌ Search API failed", zap.Error(err))
		return
	}
	logger.Info("🛑 Search API stopped")
}
