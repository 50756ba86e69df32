// Package store persists normalized leak records and remembers which ones
// were already persisted.
package store

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"leakwatch/internal/leakcore"
	"leakwatch/internal/metrics"
)

// Sink receives normalized records.
type Sink interface {
	Name() string
	Write(ctx context.Context, r *leakcore.Record) error
	Close() error
}

// Multi writes every record to all of its sinks. A failing sink does not
// stop the others.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Write(ctx context.Context, r *leakcore.Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, r); err != nil {
			metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Notifier logs a one-line summary of every persisted record.
type Notifier struct {
	logger *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger}
}

func (n *Notifier) Name() string { return "notifier" }

func (n *Notifier) Write(_ context.Context, r *leakcore.Record) error {
	n.logger.Info("🚨 New leak record",
		zap.String("source", r.Source),
		zap.String("post_title", r.PostTitle),
		zap.String("target_service", r.TargetService),
		zap.Strings("domains", r.Domains),
		zap.Strings("leak_types", r.LeakTypes),
		zap.String("estimated_volume", r.EstimatedVolume.String()),
		zap.String("confidence", string(r.Confidence)),
	)
	return nil
}

func (n *Notifier) Close() error { return nil }
