package leakcore

import (
	"sort"
	"strings"
)

const defaultLeakType = "unknown"

// Normalize brings r into canonical shape in place and returns it. It is
// idempotent.
func Normalize(r *Record) *Record {
	if r == nil {
		return nil
	}
	r.LeakTypes = canonicalSet(r.LeakTypes)
	if len(r.LeakTypes) == 0 {
		r.LeakTypes = []string{defaultLeakType}
	}
	r.Domains = canonicalSet(r.Domains)
	r.FileFormats = canonicalSet(r.FileFormats)
	r.ScreenshotRefs = canonicalSet(r.ScreenshotRefs)
	r.Confidence = canonicalConfidence(r.Confidence)
	if r.OSINTSeeds == nil {
		r.OSINTSeeds = make(map[string]any)
	}
	return r
}

// canonicalSet trims, lower-cases, deduplicates and sorts values. The result
// is never nil.
func canonicalSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func canonicalConfidence(c Confidence) Confidence {
	v := Confidence(strings.ToLower(strings.TrimSpace(string(c))))
	switch {
	case v == "":
		return ConfidenceMedium
	case v.Valid():
		return v
	}
	return ParseConfidence(string(v))
}
