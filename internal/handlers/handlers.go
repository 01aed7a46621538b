// Package handlers exposes the HTTP API: creating episodes, starting and
// canceling downloads, observing progress and serving feeds.
package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"podcast-service/internal/config"
	"podcast-service/internal/db"
	"podcast-service/internal/jobs"
	"podcast-service/internal/media"
	"podcast-service/internal/middleware"
	"podcast-service/internal/progress"
	"podcast-service/pkg/tasks"
)

// SourceExtractor resolves media metadata from a watch URL. Implemented by
// media.Downloader.
type SourceExtractor interface {
	Extract(ctx context.Context, sourceURL string) (*media.SourceInfo, error)
}

type Handlers struct {
	store     *db.Store
	progress  *progress.Store
	registry  *jobs.Registry
	client    tasks.TaskEnqueuer
	extractor SourceExtractor
	cfg       *config.Config
}

func New(store *db.Store, progressStore *progress.Store, registry *jobs.Registry,
	client tasks.TaskEnqueuer, extractor SourceExtractor, cfg *config.Config) *Handlers {
	return &Handlers{
		store:     store,
		progress:  progressStore,
		registry:  registry,
		client:    client,
		extractor: extractor,
		cfg:       cfg,
	}
}

// Router builds the API routes with rate limiting applied to the mutating
// endpoints.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	limiter := middleware.NewRateLimiterMiddleware(rate.Limit(1), 5)
	api := r.PathPrefix("/").Subrouter()
	api.Use(limiter.Middleware)

	api.HandleFunc("/episodes", h.CreateEpisode).Methods(http.MethodPost)
	api.HandleFunc("/episodes/{id:[0-9]+}/download", h.StartDownload).Methods(http.MethodPost)
	api.HandleFunc("/episodes/{id:[0-9]+}/download", h.CancelDownload).Methods(http.MethodDelete)

	r.HandleFunc("/progress", h.GetProgress).Methods(http.MethodGet)
	r.HandleFunc("/progress/wait", h.WaitProgress).Methods(http.MethodGet)
	r.HandleFunc("/podcasts/{id:[0-9]+}/rss", h.GetRSSFeed).Methods(http.MethodGet)

	return r
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
