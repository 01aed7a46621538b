package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"

	"podcast-service/internal/media"
	"podcast-service/internal/models"
	"podcast-service/pkg/tasks"
)

type createEpisodeRequest struct {
	PodcastID int64  `json:"podcast_id"`
	WatchURL  string `json:"watch_url"`
}

// CreateEpisode registers a new episode for a podcast from a watch URL.
// Metadata comes from a fresh extraction; if episodes for the same source
// already exist in other podcasts, their chapters are carried over so the
// new copy matches what was already published.
func (h *Handlers) CreateEpisode(w http.ResponseWriter, r *http.Request) {
	var req createEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PodcastID == 0 || req.WatchURL == "" {
		respondError(w, http.StatusBadRequest, "podcast_id and watch_url are required")
		return
	}

	ctx := r.Context()
	q := h.store.DB()

	podcast, err := h.store.PodcastByID(ctx, q, req.PodcastID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "podcast not found")
			return
		}
		log.Printf("Error getting podcast %d: %v", req.PodcastID, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sourceType := models.SourceYoutube

	info, err := h.extractor.Extract(ctx, req.WatchURL)
	if err != nil {
		// The platform may refuse extraction for content another podcast
		// already processed. An existing episode for the same URL carries
		// everything needed to create the copy.
		log.Printf("Error extracting source info from %s: %v", req.WatchURL, err)
		sibling, ok := h.siblingByWatchURL(w, r, req.WatchURL)
		if !ok {
			return
		}
		info = &media.SourceInfo{
			SourceID:    sibling.SourceID,
			Title:       sibling.Title,
			Description: sibling.Description,
			WatchURL:    sibling.WatchURL,
			Duration:    float64(sibling.Duration),
		}
		sourceType = sibling.SourceType
	}

	existing, err := h.store.EpisodesByPodcastInSource(ctx, q, podcast.ID, info.SourceID, sourceType)
	if err != nil {
		log.Printf("Error checking existing episodes: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(existing) > 0 {
		respondJSON(w, http.StatusConflict, existing[0])
		return
	}

	episode := models.Episode{
		PodcastID:   podcast.ID,
		SourceID:    info.SourceID,
		SourceType:  sourceType,
		Status:      models.EpisodeNew,
		Title:       info.Title,
		Description: info.Description,
		WatchURL:    info.WatchURL,
		Duration:    int(info.Duration),
	}

	// Siblings are ordered oldest first; the oldest one carries the
	// chapters that were parsed when the source was first processed.
	siblings, err := h.store.EpisodesBySource(ctx, q, info.SourceID, sourceType)
	if err != nil {
		log.Printf("Error listing sibling episodes: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(siblings) > 0 {
		episode.Chapters = siblings[0].Chapters
	}

	audio, err := h.store.CreateFile(ctx, q, models.File{
		Type:    models.FileAudio,
		OwnerID: podcast.OwnerID,
	})
	if err != nil {
		log.Printf("Error creating audio file record: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	episode.AudioID = audio.ID

	created, err := h.store.CreateEpisode(ctx, q, episode)
	if err != nil {
		log.Printf("Error creating episode: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// siblingByWatchURL returns the earliest-created episode sharing the watch
// URL, writing the HTTP error response when there is none.
func (h *Handlers) siblingByWatchURL(w http.ResponseWriter, r *http.Request, watchURL string) (models.Episode, bool) {
	siblings, err := h.store.EpisodesByWatchURL(r.Context(), h.store.DB(), watchURL)
	if err != nil {
		log.Printf("Error looking up episodes by watch URL: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return models.Episode{}, false
	}
	if len(siblings) == 0 {
		respondError(w, http.StatusBadRequest, "invalid or unsupported watch URL")
		return models.Episode{}, false
	}
	return siblings[0], true
}

type startDownloadRequest struct {
	TmpPath string `json:"tmp_path"`
}

// StartDownload enqueues the processing task for an episode. Duplicate
// submissions while a job is queued or running are reported as accepted.
func (h *Handlers) StartDownload(w http.ResponseWriter, r *http.Request) {
	episode, ok := h.episodeFromRequest(w, r)
	if !ok {
		return
	}

	var task *asynq.Task
	var opts []asynq.Option
	var err error
	if episode.SourceType.RequiresFetch() {
		task, opts, err = tasks.NewDownloadEpisodeTask(episode.ID)
	} else {
		var req startDownloadRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil || req.TmpPath == "" {
			respondError(w, http.StatusBadRequest, "tmp_path is required for uploaded episodes")
			return
		}
		task, opts, err = tasks.NewUploadedEpisodeTask(episode.ID, req.TmpPath)
	}
	if err != nil {
		log.Printf("Error creating task for episode %d: %v", episode.ID, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if _, err := tasks.Enqueue(h.client, task, opts); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			respondJSON(w, http.StatusAccepted, map[string]string{"status": "already queued"})
			return
		}
		log.Printf("Error enqueuing task for episode %d: %v", episode.ID, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// CancelDownload requests cancellation of a running episode job. The request
// is asynchronous: the worker observes the flag and winds the episode back.
func (h *Handlers) CancelDownload(w http.ResponseWriter, r *http.Request) {
	episode, ok := h.episodeFromRequest(w, r)
	if !ok {
		return
	}

	jobID := tasks.DownloadEpisodeJobID(episode.ID)
	if !episode.SourceType.RequiresFetch() {
		jobID = tasks.UploadedEpisodeJobID(episode.ID)
	}
	tasks.RequestCancel(r.Context(), h.registry, jobID)

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) episodeFromRequest(w http.ResponseWriter, r *http.Request) (models.Episode, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid episode ID")
		return models.Episode{}, false
	}

	episode, err := h.store.EpisodeByID(r.Context(), h.store.DB(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "episode not found")
			return models.Episode{}, false
		}
		log.Printf("Error getting episode %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return models.Episode{}, false
	}
	return episode, true
}
