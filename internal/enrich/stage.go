// Package enrich adds external and heuristic context to leak records.
//
// Stages run in a fixed order over one record at a time. Every stage is
// fail-soft: an error or panic inside a stage rolls the record back to the
// state it entered the stage with, and the next stage still runs.
//
// Field policy, per stage:
//   - osint_seeds: additive; each stage writes only its own keys.
//   - osint_seeds["ttps"]: replaced by the knowledge-base stage.
//   - domains, leak_types: unioned by the actor-profile stage.
//   - every other derived field: written only while still empty.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"leakwatch/internal/leakcore"
	"leakwatch/internal/metrics"
)

// ErrSkipped reports that a stage had nothing to work with. It is not a
// failure.
var ErrSkipped = errors.New("stage skipped")

// Stage is one enrichment step. Enrich mutates r in place.
type Stage interface {
	Name() string
	Enrich(ctx context.Context, r *leakcore.Record) error
}

// Chain runs stages in order.
type Chain struct {
	stages []Stage
	logger *zap.Logger
}

func NewChain(logger *zap.Logger, stages ...Stage) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	names := make([]string, 0, len(stages))
	for _, s := range stages {
		names = append(names, s.Name())
	}
	logger.Info("Enrichment chain initialized", zap.Strings("stages", names))
	return &Chain{stages: stages, logger: logger}
}

// Run passes r through every stage and returns it. It never fails.
func (c *Chain) Run(ctx context.Context, r *leakcore.Record) *leakcore.Record {
	for _, s := range c.stages {
		before := cloneRecord(r)
		start := time.Now()
		err := runStage(ctx, s, r)
		metrics.StageDuration.WithLabelValues(s.Name()).Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			metrics.StageResults.WithLabelValues(s.Name(), metrics.StageOK).Inc()
		case errors.Is(err, ErrSkipped):
			*r = before
			metrics.StageResults.WithLabelValues(s.Name(), metrics.StageSkipped).Inc()
		default:
			*r = before
			metrics.StageResults.WithLabelValues(s.Name(), metrics.StageFailed).Inc()
			c.logger.Warn("Enrichment stage failed",
				zap.String("stage", s.Name()),
				zap.String("post_title", r.PostTitle),
				zap.Error(err),
			)
		}
	}
	return r
}

func runStage(ctx context.Context, s Stage, r *leakcore.Record) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s: %v", s.Name(), p)
		}
	}()
	return s.Enrich(ctx, r)
}

func cloneRecord(r *leakcore.Record) leakcore.Record {
	c := *r
	c.LeakTypes = cloneStrings(r.LeakTypes)
	c.Domains = cloneStrings(r.Domains)
	c.FileFormats = cloneStrings(r.FileFormats)
	c.ScreenshotRefs = cloneStrings(r.ScreenshotRefs)
	if r.OSINTSeeds != nil {
		c.OSINTSeeds = cloneValue(r.OSINTSeeds).(map[string]any)
	}
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []string:
		return cloneStrings(t)
	case []map[string]any:
		s := make([]map[string]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e).(map[string]any)
		}
		return s
	}
	return v
}

// unionInto appends values missing from dst, comparing case-insensitively.
func unionInto(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, d := range dst {
		seen[lower(d)] = true
	}
	for _, v := range values {
		if k := lower(v); k != "" && !seen[k] {
			seen[k] = true
			dst = append(dst, v)
		}
	}
	return dst
}
