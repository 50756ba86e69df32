package leakcore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Confidence is the canonical confidence label carried by a Record.
type Confidence string

const (
	ConfidenceLow     Confidence = "low"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceHigh    Confidence = "high"
	ConfidenceUnknown Confidence = "unknown"
)

// Valid reports whether c is one of the four canonical values.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh, ConfidenceUnknown:
		return true
	}
	return false
}

// Unset reports whether an enrichment stage may still fill c.
func (c Confidence) Unset() bool {
	return c == "" || c == ConfidenceUnknown
}

// ParseConfidence maps free-text confidence wording from a feed onto a
// canonical value. Unrecognized wording maps to unknown.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "very high", "strong", "certain", "confirmed":
		return ConfidenceHigh
	case "medium", "moderate", "likely", "probably", "probable":
		return ConfidenceMedium
	case "low", "weak":
		return ConfidenceLow
	}
	return ConfidenceUnknown
}

// Volume is an estimated leak magnitude. Some feeds report a record count,
// others a free-form size such as "1.2 TB"; Text wins when both are set.
type Volume struct {
	Count int64
	Text  string
}

func (v Volume) IsZero() bool { return v.Count == 0 && v.Text == "" }

func (v Volume) String() string {
	if v.Text != "" {
		return v.Text
	}
	if v.Count != 0 {
		return strconv.FormatInt(v.Count, 10)
	}
	return ""
}

// ParseCount reads a digit string with optional thousands separators.
func ParseCount(s string) (Volume, bool) {
	n, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 10, 64)
	if err != nil {
		return Volume{}, false
	}
	return Volume{Count: n}, true
}

func (v Volume) MarshalJSON() ([]byte, error) {
	switch {
	case v.Text != "":
		return json.Marshal(v.Text)
	case v.Count != 0:
		return []byte(strconv.FormatInt(v.Count, 10)), nil
	}
	return []byte("null"), nil
}

func (v *Volume) UnmarshalJSON(data []byte) error {
	*v = Volume{}
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		return json.Unmarshal(data, &v.Text)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("estimated_volume: %w", err)
	}
	v.Count = int64(f)
	return nil
}

const dateLayout = "2006-01-02"

// Date is a calendar day serialized as YYYY-MM-DD, or null when zero.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	if t.IsZero() {
		return Date{}
	}
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	*d = Date{}
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		return nil
	}
	for _, layout := range []string{dateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			*d = NewDate(t)
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", s)
}

// Hints are values an extractor located directly in the message text. The
// Record Builder prefers them over its derived defaults.
type Hints struct {
	Title          string
	SourceLabel    string
	Domains        []string
	LeakTypes      []string
	Volume         Volume
	Confidence     Confidence
	Country        string
	FileFormats    []string
	DealTerms      string
	ScreenshotRefs []string
	PostedAt       time.Time
}

// IntermediateEvent is the per-message extraction result. Nothing in it is
// validated and any field may be empty.
type IntermediateEvent struct {
	SourceChannel   string
	RawText         string
	MessageID       string
	MessageURL      string
	GroupName       string
	VictimName      string
	PublishedAtText string
	URLs            []string
	Tags            []string

	Hints Hints
}

// Actionable reports whether the event names an actor or a victim.
func (e IntermediateEvent) Actionable() bool {
	return strings.TrimSpace(e.GroupName) != "" || strings.TrimSpace(e.VictimName) != ""
}

// Record is the canonical leak record handed to persistence.
type Record struct {
	CollectedAt     Date           `json:"collected_at"`
	Source          string         `json:"source"`
	PostTitle       string         `json:"post_title"`
	PostID          string         `json:"post_id"`
	MessageURL      string         `json:"message_url,omitempty"`
	Author          string         `json:"author,omitempty"`
	PostedAt        Date           `json:"posted_at"`
	LeakTypes       []string       `json:"leak_types"`
	EstimatedVolume Volume         `json:"estimated_volume"`
	FileFormats     []string       `json:"file_formats"`
	TargetService   string         `json:"target_service"`
	Domains         []string       `json:"domains"`
	Country         string         `json:"country"`
	ThreatClaim     string         `json:"threat_claim"`
	DealTerms       string         `json:"deal_terms"`
	Confidence      Confidence     `json:"confidence"`
	ScreenshotRefs  []string       `json:"screenshot_refs"`
	OSINTSeeds      map[string]any `json:"osint_seeds"`
}

// Seeds returns the provenance sub-map stored under name, creating it when
// absent. A non-map value already stored under name is left untouched and
// a detached map is returned.
func (r *Record) Seeds(name string) map[string]any {
	if r.OSINTSeeds == nil {
		r.OSINTSeeds = make(map[string]any)
	}
	if existing, ok := r.OSINTSeeds[name]; ok {
		if m, ok := existing.(map[string]any); ok {
			return m
		}
		return make(map[string]any)
	}
	m := make(map[string]any)
	r.OSINTSeeds[name] = m
	return m
}

// SetSeed stores v under name, replacing any earlier contribution.
func (r *Record) SetSeed(name string, v any) {
	if r.OSINTSeeds == nil {
		r.OSINTSeeds = make(map[string]any)
	}
	r.OSINTSeeds[name] = v
}

// IdentityKey is the deduplication key: the post id when present,
// otherwise source and title. Post ids are only unique within a feed, so
// they are scoped by source.
func (r *Record) IdentityKey() string {
	if id := strings.TrimSpace(r.PostID); id != "" {
		return "id\x00" + r.Source + "\x00" + id
	}
	return "st\x00" + r.Source + "\x00" + r.PostTitle
}
