// Package pipeline drives feed messages through extraction, enrichment,
// normalization and deduplication into the record sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"leakwatch/internal/enrich"
	"leakwatch/internal/feed"
	"leakwatch/internal/leakcore"
	"leakwatch/internal/metrics"
	"leakwatch/internal/store"
)

// SeenStore remembers the identity keys of persisted records.
type SeenStore interface {
	Seen(key string) (bool, error)
	Mark(key string) error
}

// Stats counts message outcomes for one run.
type Stats struct {
	Persisted int
	Duplicate int
	Rejected  int
	Empty     int
	Errors    int
}

func (s *Stats) add(outcome string) {
	switch outcome {
	case metrics.OutcomePersisted:
		s.Persisted++
	case metrics.OutcomeDuplicate:
		s.Duplicate++
	case metrics.OutcomeRejected:
		s.Rejected++
	case metrics.OutcomeEmpty:
		s.Empty++
	default:
		s.Errors++
	}
}

func (s Stats) Total() int {
	return s.Persisted + s.Duplicate + s.Rejected + s.Empty + s.Errors
}

// Pipeline processes one message at a time.
type Pipeline struct {
	registry *leakcore.Registry
	builder  *leakcore.Builder
	chain    *enrich.Chain
	seen     SeenStore
	sink     store.Sink
	logger   *zap.Logger
	runID    string
}

// New assembles a pipeline. A nil chain skips enrichment.
func New(registry *leakcore.Registry, chain *enrich.Chain, seen SeenStore, sink store.Sink, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if chain == nil {
		chain = enrich.NewChain(logger)
	}
	runID := uuid.NewString()
	return &Pipeline{
		registry: registry,
		builder:  leakcore.NewBuilder(),
		chain:    chain,
		seen:     seen,
		sink:     sink,
		logger:   logger.With(zap.String("run_id", runID)),
		runID:    runID,
	}
}

func (p *Pipeline) RunID() string { return p.runID }

// Process handles a single message and returns its outcome. The record is
// returned for every outcome that got as far as building one. Duplicates
// are an outcome, not an error.
func (p *Pipeline) Process(ctx context.Context, msg feed.Message) (string, *leakcore.Record, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return metrics.OutcomeEmpty, nil, nil
	}

	ev := p.registry.Extract(msg.Channel, msg.Text, msg.ID, msg.URL)
	rec, err := p.builder.Build(ev)
	if errors.Is(err, leakcore.ErrNotActionable) {
		return metrics.OutcomeRejected, nil, nil
	}
	if err != nil {
		return metrics.OutcomeError, nil, fmt.Errorf("build record: %w", err)
	}
	if rec.Author == "" {
		rec.Author = msg.Author
	}
	if rec.PostedAt.IsZero() {
		rec.PostedAt = leakcore.NewDate(msg.PostedAt)
	}
	rec.SetSeed("run_id", p.runID)

	rec = p.chain.Run(ctx, rec)
	leakcore.Normalize(rec)

	key := rec.IdentityKey()
	seen, err := p.seen.Seen(key)
	if err != nil {
		return metrics.OutcomeError, rec, fmt.Errorf("dedup check: %w", err)
	}
	if seen {
		return metrics.OutcomeDuplicate, rec, nil
	}

	// A record is marked even when a sink failed so that a replay does not
	// append it twice to the sinks that did accept it.
	writeErr := p.sink.Write(ctx, rec)
	if err := p.seen.Mark(key); err != nil {
		return metrics.OutcomeError, rec, errors.Join(writeErr, fmt.Errorf("mark persisted: %w", err))
	}
	if writeErr != nil {
		return metrics.OutcomeError, rec, fmt.Errorf("persist: %w", writeErr)
	}
	return metrics.OutcomePersisted, rec, nil
}

// Run processes messages from src until it is exhausted or ctx is done.
// Cancellation takes effect between messages; a message already being
// processed runs to completion.
func (p *Pipeline) Run(ctx context.Context, src feed.Source) (Stats, error) {
	var stats Stats
	p.logger.Info("🚀 Pipeline run started")
	for {
		if err := ctx.Err(); err != nil {
			p.logger.Info("Pipeline run stopped", zap.Int("messages", stats.Total()))
			return stats, err
		}
		msg, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, feed.ErrBadMessage) {
			p.logger.Warn("Skipping undecodable message", zap.Error(err))
			metrics.Messages.WithLabelValues("", metrics.OutcomeError).Inc()
			stats.add(metrics.OutcomeError)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return stats, fmt.Errorf("read feed: %w", err)
		}

		outcome, rec, err := p.Process(context.WithoutCancel(ctx), msg)
		metrics.Messages.WithLabelValues(msg.Channel, outcome).Inc()
		stats.add(outcome)
		p.logOutcome(msg, outcome, rec, err)
	}
	p.logger.Info("✅ Pipeline run finished",
		zap.Int("persisted", stats.Persisted),
		zap.Int("duplicate", stats.Duplicate),
		zap.Int("rejected", stats.Rejected),
		zap.Int("empty", stats.Empty),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

func (p *Pipeline) logOutcome(msg feed.Message, outcome string, rec *leakcore.Record, err error) {
	fields := []zap.Field{
		zap.String("channel", msg.Channel),
		zap.String("message_id", msg.ID),
	}
	if rec != nil {
		fields = append(fields, zap.String("post_title", rec.PostTitle))
	}
	switch outcome {
	case metrics.OutcomeError:
		p.logger.Error("❌ Message failed", append(fields, zap.Error(err))...)
	case metrics.OutcomeRejected:
		p.logger.Info("Message names no group or victim, dropped", fields...)
	case metrics.OutcomeDuplicate:
		p.logger.Debug("Duplicate record skipped", fields...)
	case metrics.OutcomeEmpty:
		p.logger.Debug("Empty message skipped", fields...)
	}
}
