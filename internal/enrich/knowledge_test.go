package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leakwatch/internal/config"
	"leakwatch/internal/leakcore"
)

const testBundle = `{"type":"bundle","objects":[
 {"type":"attack-pattern","id":"attack-pattern--1","name":"Data Encrypted for Impact"},
 {"type":"intrusion-set","id":"intrusion-set--a","name":"Sinobi Team","external_references":[{"source_name":"mitre-attack","external_id":"G9999"}]},
 {"type":"attack-pattern","id":"attack-pattern--2","name":"Exfiltration Over Web Service"},
 {"type":"attack-pattern","id":"attack-pattern--3","name":"Phishing"},
 {"type":"relationship","source_ref":"intrusion-set--a","target_ref":"attack-pattern--2","relationship_type":"uses"},
 {"type":"relationship","source_ref":"intrusion-set--a","target_ref":"attack-pattern--1","relationship_type":"uses"},
 {"type":"relationship","source_ref":"intrusion-set--a","target_ref":"malware--x","relationship_type":"uses"},
 {"type":"relationship","source_ref":"intrusion-set--b","target_ref":"attack-pattern--3","relationship_type":"uses"},
 {"type":"intrusion-set","id":"intrusion-set--b","name":"Other Sinobi"}
]}`

func kbConfig(t *testing.T, url string, retries int) config.KnowledgeBaseConfig {
	t.Helper()
	return config.KnowledgeBaseConfig{
		URL:        url,
		Path:       filepath.Join(t.TempDir(), "cache", "enterprise-attack.json"),
		Timeout:    2 * time.Second,
		MaxRetries: retries,
		Backoff:    time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
	}
}

func TestAttackIndexLookup(t *testing.T) {
	kb := NewKnowledgeBase(kbConfig(t, "", 0), nil)
	if err := os.MkdirAll(filepath.Dir(kb.cfg.Path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(kb.cfg.Path, []byte(testBundle), 0o644); err != nil {
		t.Fatal(err)
	}
	ix, err := kb.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	m, ok := ix.Lookup("SINOBI")
	if !ok {
		t.Fatal("no match for SINOBI")
	}
	if m.GroupName != "Sinobi Team" || m.AttackID != "G9999" {
		t.Errorf("match = %+v", m)
	}
	want := []string{"Data Encrypted for Impact", "Exfiltration Over Web Service"}
	if !reflect.DeepEqual(m.Techniques, want) {
		t.Errorf("techniques = %v, want %v", m.Techniques, want)
	}

	if _, ok := ix.Lookup("lazarus"); ok {
		t.Error("unexpected match for lazarus")
	}
	if _, ok := ix.Lookup("  "); ok {
		t.Error("blank name matched")
	}
}

func TestKnowledgeBaseDownloadRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(testBundle))
	}))
	defer srv.Close()

	cfg := kbConfig(t, srv.URL, 5)
	kb := NewKnowledgeBase(cfg, nil)
	if _, err := kb.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if _, err := kb.Ensure(context.Background()); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("second Ensure refetched: calls = %d", got)
	}

	srv.Close()
	cached := NewKnowledgeBase(cfg, nil)
	ix, err := cached.Ensure(context.Background())
	if err != nil {
		t.Fatalf("cached Ensure: %v", err)
	}
	if _, ok := ix.Lookup("sinobi"); !ok {
		t.Error("cached bundle missing intrusion set")
	}
}

func TestKnowledgeBaseGivesUp(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retries   int
		wantCalls int32
	}{
		{"not found is permanent", http.StatusNotFound, 5, 1},
		{"server errors exhaust retries", http.StatusBadGateway, 2, 3},
		{"rate limited exhausts retries", http.StatusTooManyRequests, 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			kb := NewKnowledgeBase(kbConfig(t, srv.URL, tt.retries), nil)
			if _, err := kb.Ensure(context.Background()); err == nil {
				t.Fatal("Ensure succeeded")
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if _, err := kb.Ensure(context.Background()); err == nil {
				t.Error("failure was not remembered")
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("failed load retried on next Ensure: calls = %d", got)
			}
		})
	}
}

func TestKnowledgeBaseDoesNotCacheUndecodableBody(t *testing.T) {
	var calls atomic.Int32
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if !healthy.Load() {
			w.Write([]byte("<html>rate limited</html>"))
			return
		}
		w.Write([]byte(testBundle))
	}))
	defer srv.Close()

	cfg := kbConfig(t, srv.URL, 0)
	if _, err := NewKnowledgeBase(cfg, nil).Ensure(context.Background()); err == nil {
		t.Fatal("Ensure accepted an HTML body")
	}
	if _, err := os.Stat(cfg.Path); !os.IsNotExist(err) {
		t.Fatalf("undecodable body was cached: stat err = %v", err)
	}

	healthy.Store(true)
	ix, err := NewKnowledgeBase(cfg, nil).Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure after recovery: %v", err)
	}
	if _, ok := ix.Lookup("sinobi"); !ok {
		t.Error("recovered bundle missing intrusion set")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestKnowledgeBaseReplacesCorruptCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(testBundle))
	}))
	defer srv.Close()

	cfg := kbConfig(t, srv.URL, 0)
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Path, []byte("<html>proxy error</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	ix, err := NewKnowledgeBase(cfg, nil).Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, ok := ix.Lookup("sinobi"); !ok {
		t.Error("bundle missing intrusion set")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	data, err := os.ReadFile(cfg.Path)
	if err != nil || string(data) != testBundle {
		t.Errorf("cache not replaced: %q, %v", data, err)
	}
}

func TestKnowledgeBaseSingleFlight(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(testBundle))
	}))
	defer srv.Close()

	kb := NewKnowledgeBase(kbConfig(t, srv.URL, 0), nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := kb.Ensure(context.Background()); err != nil {
				t.Errorf("Ensure: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := calls.Load(); got != 1 {
		t.Errorf("downloads = %d, want 1", got)
	}
}

func TestKnowledgeStage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testBundle))
	}))
	defer srv.Close()
	stage := NewKnowledgeStage(NewKnowledgeBase(kbConfig(t, srv.URL, 0), nil))

	r := &leakcore.Record{ThreatClaim: "sinobi", OSINTSeeds: map[string]any{"ttps": []string{"stale"}}}
	if err := stage.Enrich(context.Background(), r); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if !reflect.DeepEqual(r.OSINTSeeds["ttps"], []string{"Data Encrypted for Impact", "Exfiltration Over Web Service"}) {
		t.Errorf("ttps = %v", r.OSINTSeeds["ttps"])
	}
	if !reflect.DeepEqual(r.LeakTypes, []string{"APT-attributed leak"}) || r.Country != "unknown" || r.TargetService != "unknown service" {
		t.Errorf("fill-if-empty defaults not applied: %+v", r)
	}

	r = &leakcore.Record{
		ThreatClaim:   "sinobi",
		LeakTypes:     []string{"email"},
		Country:       "KR",
		TargetService: "Example Service",
	}
	if err := stage.Enrich(context.Background(), r); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if !reflect.DeepEqual(r.LeakTypes, []string{"email"}) || r.Country != "KR" || r.TargetService != "Example Service" {
		t.Errorf("populated fields overwritten: %+v", r)
	}

	r = &leakcore.Record{ThreatClaim: "lazarus"}
	if err := stage.Enrich(context.Background(), r); err != ErrSkipped {
		t.Errorf("unmatched claim: err = %v", err)
	}
	if r.Country != "" || r.OSINTSeeds != nil {
		t.Errorf("unmatched claim changed record: %+v", r)
	}
}

func TestKnowledgeStageUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	stage := NewKnowledgeStage(NewKnowledgeBase(kbConfig(t, srv.URL, 0), nil))

	r := sampleRecord()
	want := cloneRecord(r)
	NewChain(nil, stage).Run(context.Background(), r)
	if !reflect.DeepEqual(*r, want) {
		t.Errorf("record changed with knowledge base unavailable: %+v", *r)
	}
}
