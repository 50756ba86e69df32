package enrich

import (
	"context"
	"strings"

	"leakwatch/internal/leakcore"
)

// tldCountries is checked in order, longest suffixes first.
var tldCountries = []struct {
	suffix  string
	country string
}{
	{".co.kr", "KR"},
	{".go.kr", "KR"},
	{".kr", "KR"},
	{".jp", "JP"},
	{".com", "Unknown"},
	{".net", "Unknown"},
	{".org", "Unknown"},
}

var sectorKeywords = []struct {
	keyword string
	sector  string
}{
	{"university", "Education"},
	{"college", "Education"},
	{"school", "Education"},
	{"hospital", "Healthcare"},
	{"clinic", "Healthcare"},
	{"gov", "Government"},
	{"bank", "Finance"},
}

// GroupProfile is a static description of a known actor's operating model.
type GroupProfile struct {
	Model          string
	TypicalSectors []string
	RansomStyle    string
}

func (p GroupProfile) seed() map[string]any {
	return map[string]any{
		"model":           p.Model,
		"typical_sectors": append([]string{}, p.TypicalSectors...),
		"ransom_style":    p.RansomStyle,
	}
}

// DefaultGroupProfiles is keyed by lower-cased actor name.
var DefaultGroupProfiles = map[string]GroupProfile{
	"sinobi": {
		Model:          "double extortion",
		TypicalSectors: []string{"Manufacturing", "Services"},
		RansomStyle:    "Data theft + encryption",
	},
}

// HeuristicStage infers country, sector and actor profile from what the
// record already holds. It does no I/O.
type HeuristicStage struct {
	profiles map[string]GroupProfile
}

// NewHeuristicStage uses DefaultGroupProfiles when profiles is nil.
func NewHeuristicStage(profiles map[string]GroupProfile) *HeuristicStage {
	if profiles == nil {
		profiles = DefaultGroupProfiles
	}
	return &HeuristicStage{profiles: profiles}
}

func (s *HeuristicStage) Name() string { return "heuristics" }

func (s *HeuristicStage) Enrich(_ context.Context, r *leakcore.Record) error {
	if r.Country == "" {
		r.Country = countryFromDomains(r.Domains)
	}

	sector := sectorOf(r.TargetService, r.Domains)
	if sector != "" || r.Country != "" {
		profile := r.Seeds("victim_profile")
		if sector != "" {
			profile["sector"] = sector
		}
		if r.Country != "" {
			profile["country"] = r.Country
		}
	}

	if p, ok := s.profiles[lower(r.ThreatClaim)]; ok {
		r.SetSeed("group_profile", p.seed())
	}
	return nil
}

func countryFromDomains(domains []string) string {
	for _, d := range domains {
		d = lower(d)
		for _, t := range tldCountries {
			if strings.HasSuffix(d, t.suffix) {
				return t.country
			}
		}
	}
	return ""
}

func sectorOf(victim string, domains []string) string {
	text := lower(victim + " " + strings.Join(domains, " "))
	for _, k := range sectorKeywords {
		if strings.Contains(text, k.keyword) {
			return k.sector
		}
	}
	return ""
}
