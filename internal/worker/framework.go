// Package worker implements the background task framework and the episode
// processing pipeline that runs inside it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"

	"podcast-service/internal/config"
	"podcast-service/internal/db"
	"podcast-service/internal/models"
	"podcast-service/internal/progress"
	"podcast-service/pkg/tasks"
)

// ResultCode is the uniform outcome of one task execution.
type ResultCode int

const (
	ResultSuccess ResultCode = iota
	ResultSkip
	ResultError
	ResultCancel
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "SUCCESS"
	case ResultSkip:
		return "SKIP"
	case ResultError:
		return "ERROR"
	case ResultCancel:
		return "CANCEL"
	}
	return fmt.Sprintf("ResultCode(%d)", int(c))
}

// Interrupt is an expected early exit from a task: skip, duplicate, upstream
// failure already handled, or user cancellation. It carries the result code
// the execution should report and is not treated as a bug: the state the
// task wrote before interrupting is committed.
type Interrupt struct {
	Code    ResultCode
	Message string
}

func (e *Interrupt) Error() string {
	return fmt.Sprintf("task interrupted with %s: %s", e.Code, e.Message)
}

func NewInterrupt(code ResultCode, message string) *Interrupt {
	return &Interrupt{Code: code, Message: message}
}

// MediaStorage is the object-storage surface the pipeline needs.
// Implemented by storage.Client.
type MediaStorage interface {
	Upload(ctx context.Context, srcPath, remoteDir string, callback func(chunk int64)) (string, error)
	Copy(ctx context.Context, srcPath, remotePath string) error
	Size(ctx context.Context, remotePath string) int64
	Delete(ctx context.Context, remotePath string) error
}

// AudioDownloader fetches media audio from external platforms.
// Implemented by media.Downloader.
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, sourceURL, dstPath string, onProgress func(processed, total int64)) error
}

// AudioTranscoder post-processes fetched media. Implemented by
// media.Transcoder.
type AudioTranscoder interface {
	Convert(ctx context.Context, srcPath string, onProgress func(processed, total int64)) error
	SetMetadata(ctx context.Context, srcPath, title string, chapters []models.EpisodeChapter) error
}

// JobRegistry tracks job state and cancellation requests. Implemented by
// jobs.Registry.
type JobRegistry interface {
	Register(ctx context.Context, jobID string) error
	IsCanceled(ctx context.Context, jobID string) (bool, error)
	BindFile(ctx context.Context, fileKey, jobID string) error
}

// Deps is the composition-root wiring for the task handler: every external
// collaborator is injected, nothing is a process-wide singleton.
type Deps struct {
	Store      *db.Store
	Progress   *progress.Store
	Registry   JobRegistry
	Storage    MediaStorage
	Downloader AudioDownloader
	Transcoder AudioTranscoder
	Config     *config.Config
}

type TaskHandler struct {
	deps Deps

	// cancellationPollInterval trades cancellation latency for registry
	// load; uploadBackoff is the linear retry step for storage uploads.
	cancellationPollInterval time.Duration
	uploadBackoff            time.Duration
}

func NewTaskHandler(deps Deps) *TaskHandler {
	return &TaskHandler{
		deps:                     deps,
		cancellationPollInterval: time.Second,
		uploadBackoff:            time.Second,
	}
}

// Register wires the task types to their handlers. This is the static task
// registry: all dispatch goes through this map, built once at startup.
func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(tasks.TypeDownloadEpisode, h.HandleDownloadEpisode)
	mux.HandleFunc(tasks.TypeUploadedEpisode, h.HandleUploadedEpisode)
	mux.HandleFunc(tasks.TypeGenerateRSS, h.HandleGenerateRSS)
}

type runFunc func(ctx context.Context, tx *sqlx.Tx) (ResultCode, error)

// execute wraps one task run with the framework contract: a dedicated
// transaction (commit on any ResultCode, rollback on unexpected failure), a
// cancellation supervisor polling the job registry, and a final progress
// signal on every exit path. The returned error is non-nil only for
// unexpected failures.
func (h *TaskHandler) execute(ctx context.Context, jobID string, run runFunc) (ResultCode, error) {
	log.Printf("==== STARTED job %s ====", jobID)

	if err := h.deps.Registry.Register(ctx, jobID); err != nil {
		log.Printf("Failed to register job %s: %v", jobID, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.superviseCancellation(runCtx, jobID, cancel)

	code, runErr := h.runInTransaction(runCtx, run)

	if err := h.deps.Progress.PublishSignal(context.WithoutCancel(ctx)); err != nil {
		log.Printf("Failed to publish progress signal: %v", err)
	}

	log.Printf("==== FINISHED job %s | result %s ====", jobID, code)
	return code, runErr
}

func (h *TaskHandler) runInTransaction(ctx context.Context, run runFunc) (ResultCode, error) {
	tx, err := h.deps.Store.Begin()
	if err != nil {
		return ResultError, fmt.Errorf("failed to begin transaction: %w", err)
	}

	code, runErr := run(ctx, tx)

	var interrupt *Interrupt
	switch {
	case runErr == nil:
	case errors.As(runErr, &interrupt):
		log.Printf("Task interrupted: %s", interrupt.Message)
		code, runErr = interrupt.Code, nil
	default:
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("Rollback failed: %v", rbErr)
		}
		return ResultError, runErr
	}

	if err := tx.Commit(); err != nil {
		return ResultError, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return code, nil
}

// superviseCancellation polls the job registry until the run finishes. When
// a cancel request shows up it cancels the run context, which force-kills
// any subprocess started under it. The ~1s latency is the price of being
// able to stop a stuck external tool at all.
func (h *TaskHandler) superviseCancellation(ctx context.Context, jobID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(h.cancellationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			canceled, err := h.deps.Registry.IsCanceled(ctx, jobID)
			if err != nil {
				log.Printf("Cancellation check failed for job %s: %v", jobID, err)
				continue
			}
			if canceled {
				log.Printf("Job %s marked as canceled, terminating", jobID)
				cancel()
				return
			}
		}
	}
}

// finishEpisodeTask maps the framework outcome onto asynq semantics.
// Unexpected failures (transaction already rolled back) still force the
// episode to ERROR so it never sticks in DOWNLOADING, and keep queue-level
// retry. Expected ERROR outcomes already wrote their state, so re-running
// them is pointless.
func (h *TaskHandler) finishEpisodeTask(ctx context.Context, taskType string, episodeID int64, code ResultCode, runErr error) error {
	if runErr != nil {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := h.deps.Store.UpdateEpisodeStatus(cleanupCtx, h.deps.Store.DB(), episodeID, models.EpisodeError); err != nil {
			log.Printf("Failed to mark episode %d as failed: %v", episodeID, err)
		}
		return fmt.Errorf("%s for episode %d: %w", taskType, episodeID, runErr)
	}
	if code == ResultError {
		return fmt.Errorf("%s for episode %d finished with ERROR: %w", taskType, episodeID, asynq.SkipRetry)
	}
	return nil
}
