// Package jobs tracks background job identity and cancellation requests.
// Jobs are keyed by their deterministic ID (see pkg/tasks), so re-submitting
// identical work maps to the same registry entry, and a separate process can
// request cancellation without holding any reference to the worker.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	stateStarted  = "started"
	stateCanceled = "canceled"

	fileKeyPattern = "jobid_for_file__%s"
	jobKeyPattern  = "job__%s"
)

type Registry struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Registry {
	return &Registry{rdb: rdb, ttl: ttl}
}

// Register marks the job as started. Called by the worker at the beginning of
// an execution; overwrites any stale entry from a previous attempt.
func (r *Registry) Register(ctx context.Context, jobID string) error {
	return r.rdb.Set(ctx, r.jobKey(jobID), stateStarted, r.ttl).Err()
}

// RequestCancel records a cancellation request for the job. It does not wait
// for the worker to observe it.
func (r *Registry) RequestCancel(ctx context.Context, jobID string) error {
	if err := r.rdb.Set(ctx, r.jobKey(jobID), stateCanceled, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to request cancel for job %s: %w", jobID, err)
	}
	return nil
}

// IsCanceled reports whether a cancellation was requested for the job.
func (r *Registry) IsCanceled(ctx context.Context, jobID string) (bool, error) {
	state, err := r.rdb.Get(ctx, r.jobKey(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state == stateCanceled, nil
}

// BindFile saves the job ID under the episode's file key so progress
// observers (and cancel endpoints) can find the job for a given file.
func (r *Registry) BindFile(ctx context.Context, fileKey, jobID string) error {
	return r.rdb.Set(ctx, fmt.Sprintf(fileKeyPattern, fileKey), jobID, r.ttl).Err()
}

// JobForFile resolves the job ID bound to a file key. Returns an empty string
// when no job is bound.
func (r *Registry) JobForFile(ctx context.Context, fileKey string) (string, error) {
	jobID, err := r.rdb.Get(ctx, fmt.Sprintf(fileKeyPattern, fileKey)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return jobID, err
}

func (r *Registry) jobKey(jobID string) string {
	return fmt.Sprintf(jobKeyPattern, jobID)
}
