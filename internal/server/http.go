package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"hodler/internal/query"
	"hodler/internal/state"
)

// Source is the read side of the oracle state.
type Source interface {
	Snapshot() state.Snapshot
	Status() map[string]bool
}

type HTTPServer struct {
	src  Source
	opts query.Options
	hub  *Hub
	log  *slog.Logger
	mux  *http.ServeMux
}

func NewHTTPServer(src Source, opts query.Options, logger *slog.Logger) *HTTPServer {
	s := &HTTPServer{
		src:  src,
		opts: opts,
		hub:  newHub(src, logger),
		log:  logger,
		mux:  http.NewServeMux(),
	}
	s.routes()
	go s.hub.run()
	return s
}

// Router wraps every route with permissive CORS.
func (s *HTTPServer) Router() http.Handler { return cors(s.mux) }

// Hub is the websocket fan-out; it doubles as a signal sink.
func (s *HTTPServer) Hub() *Hub { return s.hub }

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("/", s.apiHealth)
	s.mux.HandleFunc("/api/health", s.apiHealth)
	s.mux.HandleFunc("/bases", s.apiBases)
	s.mux.HandleFunc("/currencies", s.apiCurrencies)
	s.mux.HandleFunc("/cryptocurrencies", s.apiCryptocurrencies)
	s.mux.HandleFunc("/oracles", s.apiOracles)
	s.mux.HandleFunc("/overviews", s.apiOverviews)
	s.mux.HandleFunc("/insights", s.apiInsights)
	s.mux.HandleFunc("/ws", s.hub.serveWS)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func getOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "GET required", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/api/health" {
		http.NotFound(w, r)
		return
	}
	if !getOnly(w, r) {
		return
	}
	snap := s.src.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"exchanges": s.src.Status(),
		"bases":     len(snap.Bases),
		"symbols":   len(snap.Entries),
		"time":      snap.Taken.UTC().Format(time.RFC3339Nano),
	})
}

func (s *HTTPServer) apiBases(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, query.Bases(s.src.Snapshot()))
}

func (s *HTTPServer) apiCurrencies(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, query.Currencies(s.src.Snapshot(), s.opts))
}

func (s *HTTPServer) apiCryptocurrencies(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, query.Cryptocurrencies(s.src.Snapshot()))
}

func (s *HTTPServer) apiOracles(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, query.Oracles(s.src.Snapshot(), s.opts))
}

func (s *HTTPServer) apiOverviews(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, query.Overviews(s.src.Snapshot(), s.opts))
}

// GET /insights?symbol=eth
func (s *HTTPServer) apiInsights(w http.ResponseWriter, r *http.Request) {
	if !getOnly(w, r) {
		return
	}
	sym := strings.TrimSpace(r.URL.Query().Get("symbol"))
	if sym == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}
	in, ok := query.InsightFor(s.src.Snapshot(), sym, s.opts)
	if !ok {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
