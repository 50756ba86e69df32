package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"leakwatch/internal/leakcore"
)

const (
	docType   = "leak"
	batchSize = 10
)

// SearchDocument is what gets indexed for each record. The full record is
// kept in a stored, unindexed field.
type SearchDocument struct {
	Source        string   `json:"source"`
	PostTitle     string   `json:"post_title"`
	TargetService string   `json:"target_service"`
	ThreatClaim   string   `json:"threat_claim"`
	Domains       []string `json:"domains"`
	LeakTypes     []string `json:"leak_types"`
	Country       string   `json:"country"`
	Confidence    string   `json:"confidence"`
	CollectedAt   string   `json:"collected_at"`
	TTPs          []string `json:"ttps"`
	AllText       string   `json:"all_text"`
	Record        string   `json:"record"`
}

// Type lets bleve pick the "leak" document mapping.
func (SearchDocument) Type() string { return docType }

// SearchHit is one search result.
type SearchHit struct {
	ID            string  `json:"id"`
	Source        string  `json:"source"`
	PostTitle     string  `json:"post_title"`
	ThreatClaim   string  `json:"threat_claim,omitempty"`
	TargetService string  `json:"target_service,omitempty"`
	Score         float64 `json:"score"`
}

// Index is the full-text record index.
type Index struct {
	index bleve.Index
}

// OpenIndex opens the index at path, creating it when it does not exist.
func OpenIndex(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &Index{index: idx}, nil
}

// NewMemIndex returns an index that lives only in memory.
func NewMemIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create memory index: %w", err)
	}
	return &Index{index: idx}, nil
}

// NewIndexMapping maps identifiers as keywords and prose as text.
func NewIndexMapping() *mapping.IndexMappingImpl {
	keyword := bleve.NewKeywordFieldMapping()
	text := bleve.NewTextFieldMapping()
	stored := bleve.NewTextFieldMapping()
	stored.Index = false
	stored.IncludeInAll = false
	stored.IncludeTermVectors = false

	doc := bleve.NewDocumentMapping()
	for _, f := range []string{"source", "threat_claim", "domains", "leak_types", "country", "confidence", "collected_at", "ttps"} {
		doc.AddFieldMappingsAt(f, keyword)
	}
	for _, f := range []string{"post_title", "target_service", "all_text"} {
		doc.AddFieldMappingsAt(f, text)
	}
	doc.AddFieldMappingsAt("record", stored)

	m := bleve.NewIndexMapping()
	m.AddDocumentMapping(docType, doc)
	m.DefaultType = docType
	return m
}

// DocID is the index id of a record, derived from its identity key.
func DocID(r *leakcore.Record) string {
	sum := sha256.Sum256([]byte(r.IdentityKey()))
	return hex.EncodeToString(sum[:8])
}

func newSearchDocument(r *leakcore.Record) (SearchDocument, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return SearchDocument{}, fmt.Errorf("encode record: %w", err)
	}
	return SearchDocument{
		Source:        r.Source,
		PostTitle:     r.PostTitle,
		TargetService: r.TargetService,
		ThreatClaim:   r.ThreatClaim,
		Domains:       r.Domains,
		LeakTypes:     r.LeakTypes,
		Country:       r.Country,
		Confidence:    string(r.Confidence),
		CollectedAt:   r.CollectedAt.String(),
		TTPs:          seedStrings(r.OSINTSeeds["ttps"]),
		AllText: strings.Join([]string{
			r.PostTitle, r.TargetService, r.ThreatClaim, r.DealTerms,
			strings.Join(r.Domains, " "), strings.Join(r.LeakTypes, " "),
		}, "\n"),
		Record: string(raw),
	}, nil
}

func (i *Index) Name() string { return "index" }

func (i *Index) Write(_ context.Context, r *leakcore.Record) error {
	doc, err := newSearchDocument(r)
	if err != nil {
		return err
	}
	if err := i.index.Index(DocID(r), doc); err != nil {
		return fmt.Errorf("index %s: %w", DocID(r), err)
	}
	return nil
}

// IndexAll indexes records in batches and returns how many were indexed.
func (i *Index) IndexAll(records []leakcore.Record) (int, error) {
	batch := i.index.NewBatch()
	count := 0
	for k := range records {
		r := &records[k]
		doc, err := newSearchDocument(r)
		if err != nil {
			return count, err
		}
		if err := batch.Index(DocID(r), doc); err != nil {
			return count, fmt.Errorf("batch %s: %w", DocID(r), err)
		}
		if batch.Size() >= batchSize {
			if err := i.index.Batch(batch); err != nil {
				return count, fmt.Errorf("index batch: %w", err)
			}
			count += batch.Size()
			batch = i.index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := i.index.Batch(batch); err != nil {
			return count, fmt.Errorf("index final batch: %w", err)
		}
		count += batch.Size()
	}
	return count, nil
}

// Search runs a match query, over every field or only field when set.
func (i *Index) Search(text, field string, size int) ([]SearchHit, error) {
	q := bleve.NewMatchQuery(text)
	if field != "" {
		q.SetField(field)
	}
	req := bleve.NewSearchRequest(q)
	req.Fields = []string{"source", "post_title", "threat_claim", "target_service"}
	if size > 0 {
		req.Size = size
	}
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", text, err)
	}
	hits := make([]SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, SearchHit{
			ID:            h.ID,
			Source:        fieldString(h.Fields["source"]),
			PostTitle:     fieldString(h.Fields["post_title"]),
			ThreatClaim:   fieldString(h.Fields["threat_claim"]),
			TargetService: fieldString(h.Fields["target_service"]),
			Score:         h.Score,
		})
	}
	return hits, nil
}

// Get returns the stored record for id. ok is false when id is unknown.
func (i *Index) Get(id string) (rec leakcore.Record, ok bool, err error) {
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{id}))
	req.Fields = []string{"record"}
	res, err := i.index.Search(req)
	if err != nil {
		return rec, false, fmt.Errorf("get %s: %w", id, err)
	}
	if len(res.Hits) == 0 {
		return rec, false, nil
	}
	if err := json.Unmarshal([]byte(fieldString(res.Hits[0].Fields["record"])), &rec); err != nil {
		return rec, false, fmt.Errorf("decode stored record %s: %w", id, err)
	}
	return rec, true, nil
}

func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

func (i *Index) Close() error {
	return i.index.Close()
}

// fieldString flattens a stored field, which bleve returns as a string or,
// for multi-valued fields, a slice.
func fieldString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// seedStrings reads a list seed, which is a []string when freshly enriched
// and a []interface{} once a record has been through JSON.
func seedStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
