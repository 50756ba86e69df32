package leakcore

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// ErrNotActionable marks an event that names neither an actor nor a victim.
var ErrNotActionable = errors.New("event has no group or victim")

// Builder maps intermediate events onto canonical records.
type Builder struct {
	now func() time.Time
}

// NewBuilder returns a Builder stamping records with the current day.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// Build returns the Record for ev. Events that name neither an actor nor a
// victim are rejected with ErrNotActionable.
func (b *Builder) Build(ev IntermediateEvent) (*Record, error) {
	if !ev.Actionable() {
		return nil, ErrNotActionable
	}
	return b.build(ev), nil
}

func (b *Builder) build(ev IntermediateEvent) *Record {
	group := strings.TrimSpace(ev.GroupName)
	victim := strings.TrimSpace(ev.VictimName)
	h := ev.Hints

	r := &Record{
		CollectedAt:     NewDate(b.now()),
		Source:          firstNonEmpty(h.SourceLabel, ev.SourceChannel),
		PostTitle:       firstNonEmpty(h.Title, group+" → "+victim),
		PostID:          ev.MessageID,
		MessageURL:      ev.MessageURL,
		PostedAt:        NewDate(h.PostedAt),
		LeakTypes:       append([]string(nil), h.LeakTypes...),
		EstimatedVolume: h.Volume,
		FileFormats:     append([]string(nil), h.FileFormats...),
		TargetService:   victim,
		Domains:         hostsOf(ev.URLs, h.Domains),
		Country:         h.Country,
		ThreatClaim:     group,
		DealTerms:       h.DealTerms,
		Confidence:      h.Confidence,
		ScreenshotRefs:  append([]string(nil), h.ScreenshotRefs...),
		OSINTSeeds:      make(map[string]any),
	}
	if r.Confidence == "" {
		r.Confidence = ConfidenceMedium
	}

	r.SetSeed("urls", append([]string{}, ev.URLs...))
	if len(ev.Tags) > 0 {
		r.SetSeed("tags", append([]string(nil), ev.Tags...))
	}
	return r
}

// hostsOf collects the unique hosts of urls followed by any extra domains.
// Unparseable URLs are skipped.
func hostsOf(urls, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(h string) {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	for _, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		add(u.Hostname())
	}
	for _, d := range extra {
		add(d)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
