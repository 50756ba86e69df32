package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"leakwatch/internal/config"
	"leakwatch/internal/enrich"
	"leakwatch/internal/feed"
	"leakwatch/internal/leakcore"
	"leakwatch/internal/logging"
	"leakwatch/internal/metrics"
	"leakwatch/internal/pipeline"
	"leakwatch/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	feedPath := flag.String("feed", "", "override feed.path with a file or directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leakwatch: %v\n", err)
		os.Exit(1)
	}
	if *feedPath != "" {
		cfg.Feed.Type = "file"
		cfg.Feed.Path = *feedPath
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "leakwatch: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("❌ Runner failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("Starting leakwatch runner",
		zap.String("feed", cfg.Feed.Type),
		zap.String("data_dir", cfg.Store.DataDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		metrics.Serve(ctx, cfg.Metrics.Listen, logger)
	}

	registry := leakcore.DefaultRegistry()
	for _, b := range cfg.Feed.Channels {
		if err := registry.Bind(b.Channel, b.Format); err != nil {
			return fmt.Errorf("bind channel %s: %w", b.Channel, err)
		}
	}

	seen, err := store.OpenDeduplicator(cfg.Store.Path(cfg.Store.DedupFile), cfg.Store.BloomCapacity)
	if err != nil {
		return err
	}
	defer seen.Close()
	if n, err := seen.Len(); err != nil {
		logger.Warn("Could not count dedup keys", zap.Error(err))
	} else {
		logger.Info("📚 Dedup store opened", zap.Int("keys", n))
	}

	sinks, err := openSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			logger.Warn("Closing sinks", zap.Error(err))
		}
	}()

	src, err := openSource(cfg, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	p := pipeline.New(registry, enrich.NewChain(logger, stages(cfg, logger)...), seen, sinks, logger)
	stats, err := p.Run(ctx, src)
	if errors.Is(err, context.Canceled) {
		logger.Info("🛑 Shutting down", zap.Int("messages", stats.Total()))
		return nil
	}
	return err
}

func stages(cfg config.Config, logger *zap.Logger) []enrich.Stage {
	var out []enrich.Stage
	if cfg.Malpedia.Enable {
		if cfg.Malpedia.Token == "" {
			logger.Warn("LEAKWATCH_MALPEDIA_TOKEN not set, querying the actor-profile service anonymously")
		}
		out = append(out, enrich.NewActorProfileStage(enrich.NewMalpediaClient(cfg.Malpedia), logger))
	}
	out = append(out, enrich.NewHeuristicStage(nil))
	if cfg.KnowledgeBase.Enable {
		kb := cfg.KnowledgeBase
		kb.Path = cfg.Store.Path(kb.Path)
		out = append(out, enrich.NewKnowledgeStage(enrich.NewKnowledgeBase(kb, logger)))
	}
	return out
}

func openSinks(cfg config.Config, logger *zap.Logger) (*store.Multi, error) {
	sinks := []store.Sink{
		store.NewJSONFile(cfg.Store.Path(cfg.Store.JSONFile), logger),
		store.NewCSVFile(cfg.Store.Path(cfg.Store.CSVFile)),
	}
	if cfg.Store.IndexDir != "" {
		idx, err := store.OpenIndex(cfg.Store.Path(cfg.Store.IndexDir))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, idx)
	}
	if cfg.Store.PublishRecords {
		logger.Info("Publishing records to Kafka",
			zap.String("broker", cfg.Kafka.Broker),
			zap.String("topic", cfg.Kafka.RecordTopic),
		)
		sinks = append(sinks, store.NewPublisher(cfg.Kafka.Broker, cfg.Kafka.RecordTopic))
	}
	sinks = append(sinks, store.NewNotifier(logger))
	return store.NewMulti(sinks...), nil
}

func openSource(cfg config.Config, logger *zap.Logger) (feed.Source, error) {
	if cfg.Feed.Type == "kafka" {
		logger.Info("Starting Kafka consumer",
			zap.String("broker", cfg.Kafka.Broker),
			zap.String("topic", cfg.Kafka.RawTopic),
		)
		return feed.NewKafkaSource(cfg.Kafka.Broker, cfg.Kafka.RawTopic, cfg.Kafka.GroupID, logger), nil
	}
	logger.Info("📁 Reading feed file", zap.String("path", cfg.Feed.Path))
	return feed.OpenFile(cfg.Feed.Path, cfg.Feed.Channel)
}
