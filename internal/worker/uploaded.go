package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"

	"podcast-service/internal/models"
	"podcast-service/internal/progress"
	"podcast-service/pkg/tasks"
)

// HandleUploadedEpisode publishes an episode whose media the user already
// uploaded to temporary object storage. No fetching or transcoding happens
// here: the object is verified against the recorded size and moved to its
// canonical location with a server-side copy.
func (h *TaskHandler) HandleUploadedEpisode(ctx context.Context, t *asynq.Task) error {
	var p tasks.UploadedEpisodePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := tasks.UploadedEpisodeJobID(p.EpisodeID)
	code, runErr := h.execute(ctx, jobID, func(ctx context.Context, tx *sqlx.Tx) (ResultCode, error) {
		return h.uploadedEpisode(ctx, tx, p.EpisodeID, p.TmpPath)
	})
	return h.finishEpisodeTask(ctx, "uploaded", p.EpisodeID, code, runErr)
}

func (h *TaskHandler) uploadedEpisode(ctx context.Context, tx *sqlx.Tx, episodeID int64, tmpPath string) (ResultCode, error) {
	store := h.deps.Store

	episode, err := store.EpisodeByID(ctx, tx, episodeID)
	if err != nil {
		return ResultError, fmt.Errorf("failed to get episode %d: %w", episodeID, err)
	}
	audio, err := store.FileByID(ctx, tx, episode.AudioID)
	if err != nil {
		return ResultError, fmt.Errorf("failed to get audio file %d: %w", episode.AudioID, err)
	}

	filename := episode.AudioFilename()
	log.Printf("=== [%s] START processing uploaded episode | tmp: %s ===", episode.SourceID, tmpPath)
	h.reportProgress(ctx, progress.StatusPending, filename, audio.Size, 0)

	// The canonical object already matches: previous run got all the way
	// through, nothing left to do.
	canonicalPath := path.Join(h.deps.Config.S3.AudioPath, filename)
	if episode.Status == models.EpisodePublished {
		if size := h.deps.Storage.Size(ctx, canonicalPath); size > 0 && size == audio.Size {
			log.Printf("[%s] Uploaded episode already processed, skipping", episode.SourceID)
			return ResultSkip, nil
		}
	}

	// The size recorded at upload time is the only integrity check we have
	// for user-provided media. A mismatch means a truncated or missing
	// object; the episode stays as it is so the user can upload again.
	tmpSize := h.deps.Storage.Size(ctx, tmpPath)
	if tmpSize != audio.Size {
		log.Printf("[%s] Size mismatch for %s: got %d, expected %d", episode.SourceID, tmpPath, tmpSize, audio.Size)
		return ResultError, NewInterrupt(ResultError,
			fmt.Sprintf("uploaded file size mismatch: got %d, expected %d", tmpSize, audio.Size))
	}

	if err := store.UpdateSiblingsStatus(ctx, tx, episode.SourceID, episode.SourceType, models.EpisodeDownloading); err != nil {
		return ResultError, fmt.Errorf("failed to mark episodes downloading: %w", err)
	}

	h.reportProgress(ctx, progress.StatusUploading, filename, audio.Size, 0)
	// The temp object's name is caller-chosen; the copy always lands at the
	// canonical audio key so a rerun finds it there.
	if err := h.deps.Storage.Copy(ctx, tmpPath, canonicalPath); err != nil {
		if ctx.Err() != nil {
			return ResultError, h.cancelSiblings(ctx, tx, &episode, filename)
		}
		return ResultError, h.failSiblings(ctx, tx, &episode, filename,
			fmt.Sprintf("could not copy uploaded file: %v", err))
	}

	if size := h.deps.Storage.Size(ctx, canonicalPath); size != audio.Size {
		return ResultError, h.failSiblings(ctx, tx, &episode, filename,
			fmt.Sprintf("copied file size mismatch: got %d, expected %d", size, audio.Size))
	}

	if err := h.deps.Storage.Delete(ctx, tmpPath); err != nil {
		log.Printf("[%s] Failed to delete temporary object %s: %v", episode.SourceID, tmpPath, err)
	}

	if err := h.finalizeSiblings(ctx, tx, &episode, canonicalPath, audio.Size); err != nil {
		return ResultError, err
	}

	log.Printf("=== [%s] Uploaded episode processed ===", episode.SourceID)
	return ResultSuccess, nil
}
