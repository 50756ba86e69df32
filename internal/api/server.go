// Package api serves read-only search over the record index.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"leakwatch/internal/leakcore"
	"leakwatch/internal/store"
)

const (
	defaultSize = 10
	maxSize     = 100
)

// Searcher is the part of the record index the API reads.
type Searcher interface {
	Search(text, field string, size int) ([]store.SearchHit, error)
	Get(id string) (leakcore.Record, bool, error)
	Count() (uint64, error)
}

// searchableFields may be passed as ?field=.
var searchableFields = map[string]bool{
	"source":         true,
	"post_title":     true,
	"threat_claim":   true,
	"target_service": true,
	"domains":        true,
	"leak_types":     true,
	"country":        true,
	"confidence":     true,
	"ttps":           true,
}

type Server struct {
	index  Searcher
	logger *zap.Logger
	router *mux.Router
	cors   *cors.Cors
}

func New(index Searcher, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	s := &Server{
		index:  index,
		logger: logger,
		router: mux.NewRouter(),
		cors: cors.New(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type"},
		}),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/search", s.handleSearch).Methods(http.MethodGet)
	s.router.HandleFunc("/api/records/{id}", s.handleRecord).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the router wrapped in the CORS handler.
func (s *Server) Handler() http.Handler {
	return s.cors.Handler(s.router)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("query"))
	if text == "" {
		http.Error(w, "Query parameter 'query' is required", http.StatusBadRequest)
		return
	}
	field := q.Get("field")
	if field != "" && !searchableFields[field] {
		http.Error(w, "Unknown search field "+strconv.Quote(field), http.StatusBadRequest)
		return
	}
	size := defaultSize
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "Parameter 'size' must be a positive integer", http.StatusBadRequest)
			return
		}
		size = min(n, maxSize)
	}

	hits, err := s.index.Search(text, field, size)
	if err != nil {
		s.logger.Error("Search failed", zap.String("query", text), zap.Error(err))
		http.Error(w, "Internal server error: search failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, hits)
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok, err := s.index.Get(id)
	if err != nil {
		s.logger.Error("Record lookup failed", zap.String("id", id), zap.Error(err))
		http.Error(w, "Internal server error: lookup failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	count, err := s.index.Count()
	if err != nil {
		http.Error(w, "index unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]any{"status": "ok", "documents": count})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
