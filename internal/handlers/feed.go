package handlers

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"podcast-service/internal/feed"
)

// GetRSSFeed renders a podcast feed on the fly from the database. The
// generation task keeps a copy in object storage; this endpoint exists for
// clients that read feeds straight from the service.
func (h *Handlers) GetRSSFeed(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid podcast ID")
		return
	}

	ctx := r.Context()
	podcast, err := h.store.PodcastByID(ctx, h.store.DB(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "podcast not found")
			return
		}
		log.Printf("Error getting podcast %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	items, err := h.store.PublishedEpisodeItems(ctx, h.store.DB(), podcast.ID)
	if err != nil {
		log.Printf("Error getting episodes for podcast %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	rss, err := feed.Generate(&podcast, items, h.cfg.MediaBaseURL)
	if err != nil {
		log.Printf("Error generating RSS for podcast %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml")
	w.Write([]byte(rss))
}
