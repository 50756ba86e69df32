package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"leakwatch/internal/config"
	"leakwatch/internal/leakcore"
)

const profilePage = `<html><head>
<meta name="description" content="Sinobi is a financially motivated group based in Eastern Europe, targeting manufacturing companies. It has been observed running data leaks of email and database dumps on sinobi-news.com.">
</head><body><table>
<tr class="clickable-row clickable-row-newtab" data-href="https://ref.example/a"><td>a</td></tr>
<tr class="clickable-row" data-href="https://ref.example/ignored"><td>x</td></tr>
<tr class="clickable-row clickable-row-newtab" data-href="https://ref.example/b"><td>b</td></tr>
</table></body></html>`

func newProfileServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/backend/quicksearch", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "apitoken test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Query().Get("needle") {
		case "sinobi":
			fmt.Fprint(w, `{"data":[{"name":"Sinobi","url":"/actor/sinobi"},{"name":"Other","url":"/actor/other"}]}`)
		default:
			fmt.Fprint(w, `{"data":[]}`)
		}
	})
	mux.HandleFunc("/actor/sinobi", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, profilePage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func profileStage(baseURL string) *ActorProfileStage {
	client := NewMalpediaClient(config.MalpediaConfig{
		BaseURL: baseURL,
		Token:   "test-token",
		Timeout: 2 * time.Second,
	})
	return NewActorProfileStage(client, nil)
}

func TestActorProfileStage(t *testing.T) {
	srv := newProfileServer(t)
	r := &leakcore.Record{
		ThreatClaim: "sinobi",
		Domains:     []string{"www.ransomfeed.it"},
	}

	if err := profileStage(srv.URL).Enrich(context.Background(), r); err != nil {
		t.Fatalf("Enrich: %v", err)
	}

	if r.Country != "Eastern Europe" {
		t.Errorf("country = %q", r.Country)
	}
	if r.TargetService != "manufacturing companies" {
		t.Errorf("target service = %q", r.TargetService)
	}
	if !reflect.DeepEqual(r.Domains, []string{"www.ransomfeed.it", "sinobi-news.com"}) {
		t.Errorf("domains = %v", r.Domains)
	}
	if !reflect.DeepEqual(r.LeakTypes, []string{"data leaks", "email", "database"}) {
		t.Errorf("leak types = %v", r.LeakTypes)
	}
	if r.Confidence != leakcore.ConfidenceHigh {
		t.Errorf("confidence = %q", r.Confidence)
	}

	seed := r.OSINTSeeds["malpedia"].(map[string]any)["sinobi"].(map[string]any)
	data := seed["original_data"].([]map[string]any)
	if len(data) != 1 {
		t.Fatalf("original_data = %v", data)
	}
	if data[0]["url"] != srv.URL+"/actor/sinobi" || data[0]["name"] != "Sinobi" {
		t.Errorf("provenance = %v", data[0])
	}
	if refs := data[0]["references"].([]string); !reflect.DeepEqual(refs, []string{"https://ref.example/a", "https://ref.example/b"}) {
		t.Errorf("references = %v", refs)
	}
}

func TestActorProfileStageFillIfEmpty(t *testing.T) {
	srv := newProfileServer(t)
	r := &leakcore.Record{
		ThreatClaim:   "sinobi",
		Country:       "US",
		TargetService: "Quality Companies, USA",
		Confidence:    leakcore.ConfidenceMedium,
	}
	if err := profileStage(srv.URL).Enrich(context.Background(), r); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if r.Country != "US" || r.TargetService != "Quality Companies, USA" || r.Confidence != leakcore.ConfidenceMedium {
		t.Errorf("populated fields overwritten: %+v", r)
	}
	if _, ok := r.OSINTSeeds["malpedia"]; !ok {
		t.Error("provenance not recorded")
	}
}

func TestActorProfileStageSkips(t *testing.T) {
	srv := newProfileServer(t)
	stage := profileStage(srv.URL)

	for _, claim := range []string{"", "nobody-knows"} {
		r := &leakcore.Record{ThreatClaim: claim}
		if err := stage.Enrich(context.Background(), r); err != ErrSkipped {
			t.Errorf("claim %q: err = %v, want ErrSkipped", claim, err)
		}
		if r.OSINTSeeds != nil {
			t.Errorf("claim %q: seeds written: %v", claim, r.OSINTSeeds)
		}
	}
}

func TestActorProfileStageFailureLeavesRecord(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	gone := httptest.NewServer(http.NotFoundHandler())
	gone.Close()

	for _, base := range []string{broken.URL, gone.URL} {
		r := sampleRecord()
		want := cloneRecord(r)
		NewChain(nil, profileStage(base)).Run(context.Background(), r)
		if !reflect.DeepEqual(*r, want) {
			t.Errorf("%s: record changed after failed lookup: %+v", base, *r)
		}
	}
}
