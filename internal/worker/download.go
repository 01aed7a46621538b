package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"

	"podcast-service/internal/media"
	"podcast-service/internal/models"
	"podcast-service/internal/progress"
	"podcast-service/pkg/tasks"
)

const maxUploadAttempts = 5

// HandleDownloadEpisode turns a pending episode into a published one:
// fetch, post-process, upload, publish, regenerate feeds.
func (h *TaskHandler) HandleDownloadEpisode(ctx context.Context, t *asynq.Task) error {
	var p tasks.DownloadEpisodePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := tasks.DownloadEpisodeJobID(p.EpisodeID)
	code, runErr := h.execute(ctx, jobID, func(ctx context.Context, tx *sqlx.Tx) (ResultCode, error) {
		return h.downloadEpisode(ctx, tx, jobID, p.EpisodeID)
	})
	return h.finishEpisodeTask(ctx, "download", p.EpisodeID, code, runErr)
}

func (h *TaskHandler) downloadEpisode(ctx context.Context, tx *sqlx.Tx, jobID string, episodeID int64) (ResultCode, error) {
	store := h.deps.Store

	episode, err := store.EpisodeByID(ctx, tx, episodeID)
	if err != nil {
		return ResultError, fmt.Errorf("failed to get episode %d: %w", episodeID, err)
	}
	if _, err := store.PodcastByID(ctx, tx, episode.PodcastID); err != nil {
		return ResultError, fmt.Errorf("failed to resolve podcast %d: %w", episode.PodcastID, err)
	}
	audio, err := store.FileByID(ctx, tx, episode.AudioID)
	if err != nil {
		return ResultError, fmt.Errorf("failed to get audio file %d: %w", episode.AudioID, err)
	}

	filename := episode.AudioFilename()
	log.Printf("=== [%s] START downloading | url: %s | file: %s ===", episode.SourceID, episode.WatchURL, filename)

	// Bind the job to the file name so progress observers and the cancel
	// endpoint can find this execution.
	if err := h.deps.Registry.BindFile(ctx, progress.KeyByFilename(filename), jobID); err != nil {
		log.Printf("[%s] Failed to bind job to file: %v", episode.SourceID, err)
	}
	h.reportProgress(ctx, progress.StatusPending, filename, 0, 0)

	// Already fetched and uploaded with the right size: converge to a no-op.
	// This is what makes the whole pipeline idempotent under retry.
	if audio.Path != "" {
		if remoteSize := h.deps.Storage.Size(ctx, audio.Path); remoteSize > 0 && remoteSize == audio.Size {
			log.Printf("[%s] Episode already downloaded and file correct, skipping", episode.SourceID)
			if err := h.finalizeSiblings(ctx, tx, &episode, audio.Path, remoteSize); err != nil {
				return ResultError, err
			}
			return ResultSkip, nil
		}
	}

	// A leftover object from an earlier broken attempt would otherwise sit
	// in storage forever next to the fresh upload.
	if audio.Path != "" && episode.Status != models.EpisodeNew && episode.Status != models.EpisodeDownloading {
		log.Printf("[%s] Episode is %s with wrong-sized file %s, removing it before re-fetch",
			episode.SourceID, episode.Status, audio.Path)
		if err := h.deps.Storage.Delete(ctx, audio.Path); err != nil {
			log.Printf("[%s] Failed to delete stale object: %v", episode.SourceID, err)
		}
	}

	if err := store.UpdateSiblingsStatus(ctx, tx, episode.SourceID, episode.SourceType, models.EpisodeDownloading); err != nil {
		return ResultError, fmt.Errorf("failed to mark episodes downloading: %w", err)
	}

	localPath, err := h.fetchMedia(ctx, tx, &episode, filename)
	if err != nil {
		return ResultError, err
	}

	if episode.SourceType.RequiresPostProcessing() {
		if err := h.postProcess(ctx, tx, &episode, localPath, filename); err != nil {
			return ResultError, err
		}
	}

	remotePath, err := h.uploadEpisode(ctx, tx, &episode, localPath, filename)
	if err != nil {
		return ResultError, err
	}

	remoteSize := h.deps.Storage.Size(ctx, remotePath)
	if err := h.finalizeSiblings(ctx, tx, &episode, remotePath, remoteSize); err != nil {
		return ResultError, err
	}

	if err := os.Remove(localPath); err != nil {
		log.Printf("[%s] Could not delete local file %s: %v", episode.SourceID, localPath, err)
	}
	os.Remove(filepath.Dir(localPath)) // per-run work dir, empty now

	log.Printf("=== [%s] DOWNLOADING finished ===", episode.SourceID)
	return ResultSuccess, nil
}

// fetchMedia obtains the local audio file: downloaded from the external
// platform for remote sources, or the already-present local bytes for
// uploaded ones.
func (h *TaskHandler) fetchMedia(ctx context.Context, tx *sqlx.Tx, episode *models.Episode, filename string) (string, error) {
	if !episode.SourceType.RequiresFetch() {
		localPath := filepath.Join(h.deps.Config.TmpAudioDir, filename)
		if _, err := os.Stat(localPath); err != nil {
			return "", h.failSiblings(ctx, tx, episode, filename, fmt.Sprintf("local media missing for uploaded episode: %v", err))
		}
		return localPath, nil
	}

	// Each run downloads into its own work dir so concurrent jobs for the
	// same source never stomp on each other's partial files.
	localPath := filepath.Join(h.deps.Config.TmpAudioDir, uuid.NewString()[:8], filename)
	err := h.deps.Downloader.DownloadAudio(ctx, episode.WatchURL, localPath, func(processed, total int64) {
		h.reportProgress(ctx, progress.StatusDownloading, filename, total, processed)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", h.cancelSiblings(ctx, tx, episode, filename)
		}
		var extractErr *media.ExtractError
		if errors.As(err, &extractErr) {
			log.Printf("=== [%s] Downloading FAILED: %v | output: %s ===", episode.SourceID, extractErr, extractErr.Output)
		}
		return "", h.failSiblings(ctx, tx, episode, filename, fmt.Sprintf("could not fetch media: %v", err))
	}

	log.Printf("=== [%s] DOWNLOADING was done ===", episode.SourceID)
	return localPath, nil
}

// postProcess re-encodes the fetched media and embeds episode metadata.
func (h *TaskHandler) postProcess(ctx context.Context, tx *sqlx.Tx, episode *models.Episode, localPath, filename string) error {
	log.Printf("=== [%s] POST PROCESSING ===", episode.SourceID)

	err := h.deps.Transcoder.Convert(ctx, localPath, func(processed, total int64) {
		h.reportProgress(ctx, progress.StatusPostProcessing, filename, total, processed)
	})
	if err == nil {
		err = h.deps.Transcoder.SetMetadata(ctx, localPath, episode.Title, episode.Chapters)
	}
	if err != nil {
		if ctx.Err() != nil {
			return h.cancelSiblings(ctx, tx, episode, filename)
		}
		var ffErr *media.FFMpegError
		if errors.As(err, &ffErr) {
			log.Printf("[%s] ffmpeg output: %s", episode.SourceID, ffErr.Output)
		}
		return h.failSiblings(ctx, tx, episode, filename, fmt.Sprintf("post-processing failed: %v", err))
	}

	log.Printf("=== [%s] POST PROCESSING was done ===", episode.SourceID)
	return nil
}

// uploadEpisode pushes the prepared file to object storage with bounded
// retries and linear backoff.
func (h *TaskHandler) uploadEpisode(ctx context.Context, tx *sqlx.Tx, episode *models.Episode, localPath, filename string) (string, error) {
	log.Printf("=== [%s] UPLOADING ===", episode.SourceID)
	h.reportProgress(ctx, progress.StatusUploading, filename, fileSize(localPath), 0)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		remotePath, err := h.deps.Storage.Upload(ctx, localPath, h.deps.Config.S3.AudioPath, func(chunk int64) {
			h.reportChunk(ctx, progress.StatusUploading, filename, chunk)
		})
		if err == nil {
			log.Printf("=== [%s] UPLOADING was done ===", episode.SourceID)
			return remotePath, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", h.cancelSiblings(ctx, tx, episode, filename)
		}
		log.Printf("[%s] Upload attempt %d/%d failed: %v", episode.SourceID, attempt, maxUploadAttempts, err)
		if attempt < maxUploadAttempts {
			if err := h.sleep(ctx, attempt); err != nil {
				return "", h.cancelSiblings(ctx, tx, episode, filename)
			}
		}
	}

	return "", h.failSiblings(ctx, tx, episode, filename, fmt.Sprintf("could not upload episode: %v", lastErr))
}

// finalizeSiblings publishes every episode sharing the source and records
// the verified remote object against their file records. Publish time stays
// pinned to each episode's creation time.
func (h *TaskHandler) finalizeSiblings(ctx context.Context, tx *sqlx.Tx, episode *models.Episode, remotePath string, remoteSize int64) error {
	store := h.deps.Store
	if err := store.PublishSiblings(ctx, tx, episode.SourceID, episode.SourceType); err != nil {
		return fmt.Errorf("failed to publish episodes: %w", err)
	}
	if err := store.UpdateSiblingAudioFiles(ctx, tx, episode.SourceID, episode.SourceType, remotePath, remoteSize, true); err != nil {
		return fmt.Errorf("failed to update audio files: %w", err)
	}
	return h.regenerateSiblingFeeds(ctx, tx, episode)
}

// regenerateSiblingFeeds rebuilds the feed of every distinct podcast that
// references the source. Feed failures are logged, not fatal: the episode is
// published either way and the next regeneration picks it up.
func (h *TaskHandler) regenerateSiblingFeeds(ctx context.Context, tx *sqlx.Tx, episode *models.Episode) error {
	siblings, err := h.deps.Store.EpisodesBySource(ctx, tx, episode.SourceID, episode.SourceType)
	if err != nil {
		return fmt.Errorf("failed to list sibling episodes: %w", err)
	}

	seen := map[int64]bool{}
	var podcastIDs []int64
	for _, sibling := range siblings {
		if !seen[sibling.PodcastID] {
			seen[sibling.PodcastID] = true
			podcastIDs = append(podcastIDs, sibling.PodcastID)
		}
	}
	sort.Slice(podcastIDs, func(i, j int) bool { return podcastIDs[i] < podcastIDs[j] })

	log.Printf("[%s] Regenerating feeds for podcasts %v", episode.SourceID, podcastIDs)
	if code, err := h.generateRSS(ctx, tx, podcastIDs); err != nil {
		return err
	} else if code == ResultError {
		log.Printf("[%s] Some feeds failed to regenerate", episode.SourceID)
	}
	return nil
}

// failSiblings moves every sibling episode to ERROR and interrupts the run.
func (h *TaskHandler) failSiblings(ctx context.Context, tx *sqlx.Tx, episode *models.Episode, filename, message string) error {
	cleanupCtx := context.WithoutCancel(ctx)
	h.reportProgress(cleanupCtx, progress.StatusError, filename, 0, 0)
	if err := h.deps.Store.UpdateSiblingsStatus(cleanupCtx, tx, episode.SourceID, episode.SourceType, models.EpisodeError); err != nil {
		return fmt.Errorf("failed to mark episodes failed: %w", err)
	}
	return NewInterrupt(ResultError, message)
}

// cancelSiblings rolls the siblings back to NEW after an observed cancel
// request, so a canceled download stays retryable instead of sticking in
// DOWNLOADING.
func (h *TaskHandler) cancelSiblings(ctx context.Context, tx *sqlx.Tx, episode *models.Episode, filename string) error {
	cleanupCtx := context.WithoutCancel(ctx)
	log.Printf("=== [%s] Downloading canceled, rolling episodes back to NEW ===", episode.SourceID)

	store := h.deps.Store
	if err := store.UpdateSiblingsStatus(cleanupCtx, tx, episode.SourceID, episode.SourceType, models.EpisodeCanceling); err != nil {
		return fmt.Errorf("failed to mark episodes canceling: %w", err)
	}
	if err := store.UpdateSiblingsStatus(cleanupCtx, tx, episode.SourceID, episode.SourceType, models.EpisodeNew); err != nil {
		return fmt.Errorf("failed to reset episodes: %w", err)
	}
	h.reportProgress(cleanupCtx, progress.StatusPending, filename, 0, 0)
	return NewInterrupt(ResultCancel, fmt.Sprintf("downloading was canceled for source %s", episode.SourceID))
}

func (h *TaskHandler) reportProgress(ctx context.Context, status progress.Status, filename string, total, processed int64) {
	if err := h.deps.Progress.Hook(ctx, status, filename, total, processed); err != nil {
		log.Printf("Failed to report progress for %s: %v", filename, err)
	}
}

func (h *TaskHandler) reportChunk(ctx context.Context, status progress.Status, filename string, chunk int64) {
	if err := h.deps.Progress.AddChunk(ctx, status, filename, chunk); err != nil {
		log.Printf("Failed to report progress for %s: %v", filename, err)
	}
}

// sleep waits for the linear-backoff delay of the given attempt, aborting
// early on context cancellation.
func (h *TaskHandler) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(time.Duration(attempt) * h.uploadBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		log.Printf("File %s not found, using size 0", path)
		return 0
	}
	return info.Size()
}
