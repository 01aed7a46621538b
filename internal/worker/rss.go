package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"

	"podcast-service/internal/feed"
	"podcast-service/internal/models"
	"podcast-service/pkg/tasks"
)

// HandleGenerateRSS rebuilds and re-uploads the feed of each requested
// podcast. An empty podcast list means all podcasts.
func (h *TaskHandler) HandleGenerateRSS(ctx context.Context, t *asynq.Task) error {
	var p tasks.GenerateRSSPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := tasks.GenerateRSSJobID(p.PodcastIDs)
	code, runErr := h.execute(ctx, jobID, func(ctx context.Context, tx *sqlx.Tx) (ResultCode, error) {
		return h.generateRSS(ctx, tx, p.PodcastIDs)
	})
	if runErr != nil {
		return fmt.Errorf("rss generation: %w", runErr)
	}
	if code == ResultError {
		return fmt.Errorf("rss generation finished with ERROR: %w", asynq.SkipRetry)
	}
	return nil
}

// generateRSS regenerates feeds for the given podcasts, or every podcast if
// none are given. One bad podcast does not stop the others; the run as a
// whole reports ERROR if any of them failed.
func (h *TaskHandler) generateRSS(ctx context.Context, tx *sqlx.Tx, podcastIDs []int64) (ResultCode, error) {
	podcasts, err := h.deps.Store.Podcasts(ctx, tx, podcastIDs)
	if err != nil {
		return ResultError, fmt.Errorf("failed to list podcasts: %w", err)
	}

	failed := 0
	for i := range podcasts {
		if err := h.generatePodcastRSS(ctx, tx, &podcasts[i]); err != nil {
			log.Printf("Failed to generate RSS for podcast %d: %v", podcasts[i].ID, err)
			failed++
		}
	}

	log.Printf("RSS generation done: %d ok, %d failed", len(podcasts)-failed, failed)
	if failed > 0 {
		return ResultError, nil
	}
	return ResultSuccess, nil
}

func (h *TaskHandler) generatePodcastRSS(ctx context.Context, tx *sqlx.Tx, p *models.Podcast) error {
	log.Printf("Generating RSS for podcast %d (%s)", p.ID, p.Name)

	items, err := h.deps.Store.PublishedEpisodeItems(ctx, tx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to list published episodes: %w", err)
	}

	content, err := feed.Generate(p, items, h.deps.Config.MediaBaseURL)
	if err != nil {
		return fmt.Errorf("failed to render feed: %w", err)
	}

	dir, err := os.MkdirTemp(h.deps.Config.TmpRSSDir, "rss_")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	localPath := filepath.Join(dir, p.RSSFilename())
	if err := os.WriteFile(localPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write feed file: %w", err)
	}

	remotePath, err := h.deps.Storage.Upload(ctx, localPath, h.deps.Config.S3.RSSPath, nil)
	if err != nil {
		return fmt.Errorf("failed to upload feed: %w", err)
	}

	size := fileSize(localPath)
	if p.RSSID == nil {
		created, err := h.deps.Store.CreateFile(ctx, tx, models.File{
			Type:      models.FileRSS,
			Path:      remotePath,
			Size:      size,
			Available: true,
			OwnerID:   p.OwnerID,
		})
		if err != nil {
			return fmt.Errorf("failed to create feed record: %w", err)
		}
		if err := h.deps.Store.SetPodcastRSS(ctx, tx, p.ID, created.ID); err != nil {
			return fmt.Errorf("failed to link feed to podcast: %w", err)
		}
		p.RSSID = &created.ID
	} else if err := h.deps.Store.UpdateFile(ctx, tx, *p.RSSID, remotePath, size, true); err != nil {
		return fmt.Errorf("failed to update feed record: %w", err)
	}

	log.Printf("RSS for podcast %d uploaded to %s", p.ID, remotePath)
	return nil
}
