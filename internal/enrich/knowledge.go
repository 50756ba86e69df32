package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"leakwatch/internal/config"
	"leakwatch/internal/leakcore"
	"leakwatch/internal/metrics"
)

// AttackBundle is the top level of an ATT&CK STIX bundle such as
// enterprise-attack.json.
type AttackBundle struct {
	Objects []AttackObject `json:"objects"`
}

// AttackObject is one bundle entry. Only the fields used for actor
// cross-referencing are decoded.
type AttackObject struct {
	Type               string              `json:"type"`
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Aliases            []string            `json:"aliases"`
	SourceRef          string              `json:"source_ref"`
	TargetRef          string              `json:"target_ref"`
	RelationshipType   string              `json:"relationship_type"`
	ExternalReferences []ExternalReference `json:"external_references"`
}

// ExternalReference maps an object to its ATT&CK id, e.g. "G0032".
type ExternalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
}

func (o AttackObject) attackID() string {
	for _, ref := range o.ExternalReferences {
		if ref.SourceName == "mitre-attack" {
			return ref.ExternalID
		}
	}
	return ""
}

// Match is the result of cross-referencing one actor name.
type Match struct {
	GroupID    string
	GroupName  string
	AttackID   string
	Techniques []string
}

// AttackIndex answers actor lookups over a loaded bundle.
type AttackIndex struct {
	groups   []AttackObject
	uses     map[string]map[string]bool
	patterns []AttackObject
}

func NewAttackIndex(bundle AttackBundle) *AttackIndex {
	ix := &AttackIndex{uses: make(map[string]map[string]bool)}
	for _, o := range bundle.Objects {
		switch o.Type {
		case "intrusion-set":
			if o.Name != "" {
				ix.groups = append(ix.groups, o)
			}
		case "attack-pattern":
			ix.patterns = append(ix.patterns, o)
		case "relationship":
			if !strings.Contains(o.TargetRef, "attack-pattern") {
				continue
			}
			if ix.uses[o.SourceRef] == nil {
				ix.uses[o.SourceRef] = make(map[string]bool)
			}
			ix.uses[o.SourceRef][o.TargetRef] = true
		}
	}
	return ix
}

// Lookup finds the first intrusion set, in bundle order, whose name
// contains name case-insensitively, and resolves its techniques in bundle
// order.
func (ix *AttackIndex) Lookup(name string) (Match, bool) {
	q := lower(name)
	if q == "" {
		return Match{}, false
	}
	for _, g := range ix.groups {
		if !strings.Contains(strings.ToLower(g.Name), q) {
			continue
		}
		m := Match{GroupID: g.ID, GroupName: g.Name, AttackID: g.attackID(), Techniques: []string{}}
		targets := ix.uses[g.ID]
		for _, p := range ix.patterns {
			if targets[p.ID] {
				m.Techniques = append(m.Techniques, p.Name)
			}
		}
		return m, true
	}
	return Match{}, false
}

// KnowledgeBase is the process-wide ATT&CK cache. The bundle is read from
// the local cache file, downloading it first when absent, at most once per
// process. A failed load is remembered and not retried.
type KnowledgeBase struct {
	cfg    config.KnowledgeBaseConfig
	client *http.Client
	logger *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	done  bool
	index *AttackIndex
	err   error
}

func NewKnowledgeBase(cfg config.KnowledgeBaseConfig, logger *zap.Logger) *KnowledgeBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeBase{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Ensure returns the loaded index, loading it on first use. Concurrent
// first callers share one load.
func (kb *KnowledgeBase) Ensure(ctx context.Context) (*AttackIndex, error) {
	kb.mu.RLock()
	if kb.done {
		defer kb.mu.RUnlock()
		return kb.index, kb.err
	}
	kb.mu.RUnlock()

	v, err, _ := kb.group.Do("load", func() (any, error) {
		kb.mu.RLock()
		if kb.done {
			defer kb.mu.RUnlock()
			return kb.index, kb.err
		}
		kb.mu.RUnlock()

		ix, err := kb.load(ctx)
		kb.mu.Lock()
		kb.done, kb.index, kb.err = true, ix, err
		kb.mu.Unlock()
		return ix, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*AttackIndex), nil
}

func (kb *KnowledgeBase) load(ctx context.Context) (*AttackIndex, error) {
	bundle, err := kb.readCache()
	switch {
	case err == nil:
		metrics.KnowledgeBaseFetches.WithLabelValues("cached").Inc()
	case errors.Is(err, os.ErrNotExist):
		kb.logger.Info("Knowledge base not cached, downloading",
			zap.String("url", kb.cfg.URL),
			zap.String("path", kb.cfg.Path),
		)
	default:
		// An unreadable cache is replaced, not kept.
		kb.logger.Warn("Knowledge base cache unusable, downloading again",
			zap.String("path", kb.cfg.Path),
			zap.Error(err),
		)
	}
	if err != nil {
		if bundle, err = kb.download(ctx); err != nil {
			metrics.KnowledgeBaseFetches.WithLabelValues("failed").Inc()
			return nil, err
		}
		metrics.KnowledgeBaseFetches.WithLabelValues("downloaded").Inc()
	}

	ix := NewAttackIndex(bundle)
	kb.logger.Info("Knowledge base loaded",
		zap.Int("objects", len(bundle.Objects)),
		zap.Int("intrusion_sets", len(ix.groups)),
	)
	return ix, nil
}

func (kb *KnowledgeBase) readCache() (AttackBundle, error) {
	var bundle AttackBundle
	data, err := os.ReadFile(kb.cfg.Path)
	if err != nil {
		return bundle, err
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		return bundle, fmt.Errorf("decode knowledge base %s: %w", kb.cfg.Path, err)
	}
	return bundle, nil
}

// download fetches the bundle with bounded exponential retry on transport
// errors and 429/5xx responses. Only a body that decodes is written to the
// cache path.
func (kb *KnowledgeBase) download(ctx context.Context) (AttackBundle, error) {
	var bundle AttackBundle
	b := backoff.NewExponentialBackOff()
	if kb.cfg.Backoff > 0 {
		b.InitialInterval = kb.cfg.Backoff
	}
	if kb.cfg.MaxBackoff > 0 {
		b.MaxInterval = kb.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(kb.cfg.MaxRetries, 0))), ctx)

	var data []byte
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		body, err := getBody(ctx, kb.client, kb.cfg.URL, nil, 0)
		if err != nil {
			var he *HTTPError
			if errors.As(err, &he) && !he.Retryable() {
				return backoff.Permanent(err)
			}
			kb.logger.Warn("Knowledge base download failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		data = body
		return nil
	}, policy)
	if err != nil {
		return bundle, fmt.Errorf("download knowledge base: %w", err)
	}
	if err := json.Unmarshal(data, &bundle); err != nil {
		return bundle, fmt.Errorf("decode downloaded knowledge base %s: %w", kb.cfg.URL, err)
	}

	if err := writeFileAtomic(kb.cfg.Path, data); err != nil {
		kb.logger.Warn("Knowledge base not cached", zap.Error(err))
	}
	return bundle, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".kb-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// KnowledgeStage cross-references the claimed actor against ATT&CK.
type KnowledgeStage struct {
	kb *KnowledgeBase
}

func NewKnowledgeStage(kb *KnowledgeBase) *KnowledgeStage {
	return &KnowledgeStage{kb: kb}
}

func (s *KnowledgeStage) Name() string { return "mitre" }

func (s *KnowledgeStage) Enrich(ctx context.Context, r *leakcore.Record) error {
	if strings.TrimSpace(r.ThreatClaim) == "" {
		return ErrSkipped
	}
	ix, err := s.kb.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("knowledge base unavailable: %w", err)
	}
	m, ok := ix.Lookup(r.ThreatClaim)
	if !ok {
		return ErrSkipped
	}

	r.SetSeed("ttps", m.Techniques)
	r.SetSeed("mitre", map[string]any{
		"intrusion_set": m.GroupName,
		"id":            m.GroupID,
		"attack_id":     m.AttackID,
	})
	if len(r.LeakTypes) == 0 {
		r.LeakTypes = []string{"APT-attributed leak"}
	}
	if r.Country == "" {
		r.Country = "unknown"
	}
	if r.TargetService == "" {
		r.TargetService = "unknown service"
	}
	return nil
}
