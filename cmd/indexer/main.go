package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"leakwatch/internal/config"
	"leakwatch/internal/logging"
	"leakwatch/internal/store"
)

// indexer rebuilds the search index from the JSON record collection.
func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indexer: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indexer: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	jsonPath := cfg.Store.Path(cfg.Store.JSONFile)
	records, err := store.NewJSONFile(jsonPath, logger).Load()
	if err != nil {
		logger.Fatal("❌ Failed to load records", zap.String("path", jsonPath), zap.Error(err))
	}
	logger.Info("Loaded records", zap.String("path", jsonPath), zap.Int("records", len(records)))

	indexPath := cfg.Store.Path(cfg.Store.IndexDir)
	idx, err := store.OpenIndex(indexPath)
	if err != nil {
		logger.Fatal("❌ Failed to open index", zap.Error(err))
	}
	defer idx.Close()

	logger.Info("Indexing documents...", zap.String("index", indexPath))
	n, err := idx.IndexAll(records)
	if err != nil {
		logger.Error("❌ Indexing stopped", zap.Int("indexed", n), zap.Error(err))
		return
	}
	count, err := idx.Count()
	if err != nil {
		logger.Warn("Could not count documents", zap.Error(err))
	}
	logger.Info("✅ Indexing complete", zap.Int("indexed", n), zap.Uint64("documents", count))
}
