package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"leakwatch/internal/config"
	"leakwatch/internal/feed"
	"leakwatch/internal/logging"
)

// producer publishes raw feed messages from a file or directory onto the
// raw-message topic the runner consumes in kafka mode.
func main() {
	configPath := flag.String("config", "", "path to YAML config")
	input := flag.String("input", "", "NDJSON file or directory of messages (default feed.path)")
	channel := flag.String("channel", "", "channel for messages that do not name one (default feed.channel)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "producer: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "producer: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	path := cfg.Feed.Path
	if *input != "" {
		path = *input
	}
	ch := cfg.Feed.Channel
	if *channel != "" {
		ch = *channel
	}

	logger.Info("Starting leakwatch producer",
		zap.String("broker", cfg.Kafka.Broker),
		zap.String("topic", cfg.Kafka.RawTopic),
		zap.String("input", path),
	)

	src, err := feed.OpenFile(path, ch)
	if err != nil {
		logger.Fatal("❌ Failed to open input", zap.Error(err))
	}
	defer src.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pub := feed.NewPublisher(cfg.Kafka.Broker, cfg.Kafka.RawTopic)
	defer pub.Close()

	logger.Info("📁 Publishing messages to Kafka...")
	sent, err := pub.Forward(ctx, src, logger)
	if err != nil {
		logger.Error("❌ Publishing stopped", zap.Int("sent", sent), zap.Error(err))
		return
	}
	logger.Info("✅ Finished publishing messages", zap.Int("sent", sent))
}
