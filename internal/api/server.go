// Package api exposes the read-only HTTP surface over stored videos and
// their recommendations. Every endpoint is a GET and nothing here mutates
// the store.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"stocksight/internal/stats"
	"stocksight/internal/storage"
)

type Deps struct {
	Store *storage.Store
	Stats *stats.Aggregator
}

// NewHandler builds the router. API responses carry Cache-Control: no-store
// so clients always see the latest sync state.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(noStore)
		r.Get("/channels", handleChannels(deps))
		r.Get("/videos", handleVideos(deps))
		r.Get("/videos/{id}", handleVideo(deps))
		r.Get("/stats", handleStats(deps))
		r.Get("/stock/{ticker}", handleStockMentions(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"message": msg},
	})
}

// parseBool interprets the analyzed query parameter; "" means unset.
func parseBool(s string) (*bool, error) {
	switch strings.ToLower(s) {
	case "":
		return nil, nil
	case "true", "1":
		b := true
		return &b, nil
	case "false", "0":
		b := false
		return &b, nil
	default:
		return nil, fmt.Errorf("invalid boolean %q", s)
	}
}
