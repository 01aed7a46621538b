package handlers

import (
	"log"
	"net/http"
	"time"

	"podcast-service/internal/models"
	"podcast-service/internal/progress"
)

const waitTimeout = 30 * time.Second

// ProgressItem is the per-episode view of the processing state, merging the
// database status with the live progress record when one exists.
type ProgressItem struct {
	EpisodeID      int64           `json:"episode_id"`
	PodcastID      int64           `json:"podcast_id"`
	Title          string          `json:"title"`
	Status         progress.Status `json:"status"`
	ProcessedBytes int64           `json:"processed_bytes"`
	TotalBytes     int64           `json:"total_bytes"`
}

// GetProgress reports every episode currently moving through the pipeline.
// Episodes whose progress record expired or never appeared fall back to a
// status derived from their database state.
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	items, err := h.progressItems(r)
	if err != nil {
		log.Printf("Error building progress view: %v", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, items)
}

// WaitProgress long-polls for a progress change: it returns the current view
// as soon as any worker publishes an update signal, or after a timeout.
func (h *Handlers) WaitProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub := h.progress.Subscribe(ctx)
	defer sub.Close()

	select {
	case <-ctx.Done():
		return
	case <-time.After(waitTimeout):
	case <-sub.Channel():
	}

	h.GetProgress(w, r)
}

func (h *Handlers) progressItems(r *http.Request) ([]ProgressItem, error) {
	ctx := r.Context()

	episodes, err := h.store.EpisodesInProgress(ctx, h.store.DB())
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(episodes))
	for i := range episodes {
		keys[i] = progress.KeyByFilename(episodes[i].AudioFilename())
	}
	records, err := h.progress.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	items := make([]ProgressItem, 0, len(episodes))
	for i := range episodes {
		e := &episodes[i]
		item := ProgressItem{
			EpisodeID: e.ID,
			PodcastID: e.PodcastID,
			Title:     e.Title,
			Status:    progress.StatusPending,
		}
		if record, ok := records[keys[i]]; ok {
			item.Status = record.Status
			item.ProcessedBytes = record.ProcessedBytes
			item.TotalBytes = record.TotalBytes
		} else if e.Status == models.EpisodeError {
			item.Status = progress.StatusError
		}
		items = append(items, item)
	}
	return items, nil
}
