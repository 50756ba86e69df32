package leakcore

import (
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	r := &Record{
		LeakTypes:      []string{" Email", "email", "", "Password"},
		Domains:        []string{"B.example", "a.example", "b.example "},
		FileFormats:    []string{"CSV", "csv", "SQL"},
		ScreenshotRefs: []string{"Shot.PNG", "shot.png"},
		Confidence:     "Strong",
	}
	Normalize(r)

	if !reflect.DeepEqual(r.LeakTypes, []string{"email", "password"}) {
		t.Errorf("leak types = %v", r.LeakTypes)
	}
	if !reflect.DeepEqual(r.Domains, []string{"a.example", "b.example"}) {
		t.Errorf("domains = %v", r.Domains)
	}
	if !reflect.DeepEqual(r.FileFormats, []string{"csv", "sql"}) {
		t.Errorf("file formats = %v", r.FileFormats)
	}
	if !reflect.DeepEqual(r.ScreenshotRefs, []string{"shot.png"}) {
		t.Errorf("screenshot refs = %v", r.ScreenshotRefs)
	}
	if r.Confidence != ConfidenceHigh {
		t.Errorf("confidence = %q", r.Confidence)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	r := Normalize(&Record{})
	if !reflect.DeepEqual(r.LeakTypes, []string{"unknown"}) {
		t.Errorf("leak types = %v", r.LeakTypes)
	}
	if r.Confidence != ConfidenceMedium {
		t.Errorf("confidence = %q", r.Confidence)
	}
	if r.Domains == nil || r.FileFormats == nil || r.ScreenshotRefs == nil || r.OSINTSeeds == nil {
		t.Errorf("nil collections after normalize: %+v", r)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []*Record{
		{},
		{Confidence: "garbage", LeakTypes: []string{"", " "}},
		{Confidence: "LOW", Domains: []string{"X.example", "x.example", "y.example"}},
		{Confidence: ConfidenceUnknown, LeakTypes: []string{"APT-attributed leak"}},
	}
	for _, in := range inputs {
		once := Normalize(in)
		snapshot := *once
		snapshot.LeakTypes = append([]string(nil), once.LeakTypes...)
		snapshot.Domains = append([]string(nil), once.Domains...)
		twice := Normalize(once)
		if !reflect.DeepEqual(snapshot.LeakTypes, twice.LeakTypes) ||
			!reflect.DeepEqual(snapshot.Domains, twice.Domains) ||
			snapshot.Confidence != twice.Confidence {
			t.Errorf("normalize not idempotent: %+v vs %+v", snapshot, *twice)
		}
		if !twice.Confidence.Valid() {
			t.Errorf("non-canonical confidence %q", twice.Confidence)
		}
	}
}
