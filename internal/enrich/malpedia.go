package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"leakwatch/internal/config"
	"leakwatch/internal/leakcore"
)

const maxProfileBytes = 4 << 20

// MalpediaClient talks to the actor-profile service: a quicksearch JSON
// endpoint and per-actor HTML pages.
type MalpediaClient struct {
	baseURL string
	client  *http.Client
	header  http.Header
}

// SearchResult is one quicksearch hit.
type SearchResult struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Profile is what the actor page yields.
type Profile struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description"`
	References  []string `json:"references"`
}

func NewMalpediaClient(cfg config.MalpediaConfig) *MalpediaClient {
	header := make(http.Header)
	if cfg.UserAgent != "" {
		header.Set("User-Agent", cfg.UserAgent)
	}
	if cfg.Token != "" {
		header.Set("Authorization", "apitoken "+cfg.Token)
	}
	if cfg.Cookie != "" {
		header.Set("Cookie", cfg.Cookie)
	}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	return &MalpediaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		header:  header,
	}
}

// Search runs a quicksearch for needle.
func (c *MalpediaClient) Search(ctx context.Context, needle string) ([]SearchResult, error) {
	u := c.baseURL + "/backend/quicksearch?" + url.Values{"needle": {needle}}.Encode()
	body, err := getBody(ctx, c.client, u, c.header, maxProfileBytes)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []SearchResult `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode quicksearch response: %w", err)
	}
	return resp.Data, nil
}

// Profile fetches and scrapes the page of a search hit.
func (c *MalpediaClient) Profile(ctx context.Context, hit SearchResult) (Profile, error) {
	p := Profile{Name: hit.Name, URL: c.baseURL + hit.URL}
	body, err := getBody(ctx, c.client, p.URL, c.header, maxProfileBytes)
	if err != nil {
		return p, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return p, fmt.Errorf("parse profile page: %w", err)
	}
	p.Description = strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	doc.Find("tr.clickable-row.clickable-row-newtab").Each(func(_ int, row *goquery.Selection) {
		if href, ok := row.Attr("data-href"); ok && href != "" {
			p.References = append(p.References, href)
		}
	})
	return p, nil
}

var (
	basedInPattern   = regexp.MustCompile(`\b(?:based|located|operating) in ((?:the )?[A-Z][\w-]*(?: [A-Z][\w-]*)*)`)
	inPattern        = regexp.MustCompile(`\bin ((?:the )?[A-Z][\w-]*(?: [A-Z][\w-]*)*)`)
	targetingPattern = regexp.MustCompile(`(?i)targeting ([\w\s&]+?)(?:\.|,| and|$)`)
	descDomain       = regexp.MustCompile(`\b(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}\b`)
)

var leakVocabulary = []string{
	"defacement attacks",
	"distributed denial-of-service attacks",
	"data leaks",
	"email",
	"password",
	"credential",
	"database",
}

// ActorProfileStage looks the claimed actor up in the profile service and
// derives country, target, domains, leak types and confidence from the
// profile description.
type ActorProfileStage struct {
	client *MalpediaClient
	logger *zap.Logger
}

func NewActorProfileStage(client *MalpediaClient, logger *zap.Logger) *ActorProfileStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActorProfileStage{client: client, logger: logger}
}

func (s *ActorProfileStage) Name() string { return "malpedia" }

func (s *ActorProfileStage) Enrich(ctx context.Context, r *leakcore.Record) error {
	claim := strings.TrimSpace(r.ThreatClaim)
	if claim == "" {
		return ErrSkipped
	}

	hits, err := s.client.Search(ctx, claim)
	if err != nil {
		return fmt.Errorf("quicksearch %q: %w", claim, err)
	}
	if len(hits) == 0 || hits[0].URL == "" {
		s.logger.Debug("No actor profile found", zap.String("claim", claim))
		return ErrSkipped
	}
	profile, err := s.client.Profile(ctx, hits[0])
	if err != nil {
		return fmt.Errorf("profile %s: %w", hits[0].URL, err)
	}

	r.Seeds("malpedia")[claim] = map[string]any{
		"original_data": []map[string]any{{
			"name":        profile.Name,
			"url":         profile.URL,
			"description": profile.Description,
			"references":  append([]string{}, profile.References...),
		}},
	}
	applyDescription(r, profile.Description)
	return nil
}

// applyDescription derives record fields from free-text actor prose.
func applyDescription(r *leakcore.Record, desc string) {
	if desc == "" {
		return
	}

	if r.Country == "" {
		if m := basedInPattern.FindStringSubmatch(desc); m != nil {
			r.Country = strings.TrimPrefix(m[1], "the ")
		} else if m := inPattern.FindStringSubmatch(desc); m != nil {
			r.Country = strings.TrimPrefix(m[1], "the ")
		}
	}

	if r.TargetService == "" {
		if m := targetingPattern.FindStringSubmatch(desc); m != nil {
			r.TargetService = strings.TrimSpace(m[1])
		}
	}

	r.Domains = unionInto(r.Domains, descDomain.FindAllString(desc, -1)...)

	lowered := strings.ToLower(desc)
	for _, kw := range leakVocabulary {
		if strings.Contains(lowered, kw) {
			r.LeakTypes = unionInto(r.LeakTypes, kw)
		}
	}

	if r.Confidence.Unset() {
		switch {
		case containsAny(lowered, "observed", "demonstrated", "confirmed"):
			r.Confidence = leakcore.ConfidenceHigh
		case strings.Contains(lowered, "suspected"):
			r.Confidence = leakcore.ConfidenceMedium
		default:
			r.Confidence = leakcore.ConfidenceLow
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
