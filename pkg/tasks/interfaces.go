package tasks

import (
	"context"
	"log"

	"github.com/hibiken/asynq"
)

// TaskEnqueuer defines the interface for enqueuing tasks.
// It's implemented by asynq.Client, and can be mocked for testing.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// CancelRequester is the job-registry side of cancellation; implemented by
// jobs.Registry.
type CancelRequester interface {
	RequestCancel(ctx context.Context, jobID string) error
}

// RequestCancel asks the registry to cancel the job identified by jobID.
// Fire-and-forget: only the success of the cancel request itself is logged,
// the worker observes the request on its own schedule.
func RequestCancel(ctx context.Context, registry CancelRequester, jobID string) {
	if err := registry.RequestCancel(ctx, jobID); err != nil {
		log.Printf("Failed to request cancel for job %s: %v", jobID, err)
		return
	}
	log.Printf("Cancel requested for job %s", jobID)
}
