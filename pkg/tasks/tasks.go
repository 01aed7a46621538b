package tasks

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	TypeDownloadEpisode = "episode:download"
	TypeUploadedEpisode = "episode:uploaded"
	TypeGenerateRSS     = "rss:generate"
)

// JobID builds the deterministic job identity for a task type and argument
// set. The same work always maps to the same ID, so it doubles as the queue
// task ID (duplicate submissions conflict instead of running twice) and as
// the cancellation lookup key.
func JobID(taskType string, kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+kv[k])
	}
	return taskType + "?" + strings.Join(pairs, "&")
}

func DownloadEpisodeJobID(episodeID int64) string {
	return JobID(TypeDownloadEpisode, map[string]string{"episode_id": strconv.FormatInt(episodeID, 10)})
}

func UploadedEpisodeJobID(episodeID int64) string {
	return JobID(TypeUploadedEpisode, map[string]string{"episode_id": strconv.FormatInt(episodeID, 10)})
}

func GenerateRSSJobID(podcastIDs []int64) string {
	ids := make([]string, len(podcastIDs))
	for i, id := range podcastIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	sort.Strings(ids)
	return JobID(TypeGenerateRSS, map[string]string{"podcast_ids": strings.Join(ids, ",")})
}

type DownloadEpisodePayload struct {
	EpisodeID int64
}

func NewDownloadEpisodeTask(episodeID int64) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(DownloadEpisodePayload{EpisodeID: episodeID})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{asynq.TaskID(DownloadEpisodeJobID(episodeID)), asynq.Queue("high")}
	return asynq.NewTask(TypeDownloadEpisode, payload), opts, nil
}

// UploadedEpisodePayload carries the episode and the temporary object the
// user's media was uploaded to. The job ID is keyed by episode only, so a
// re-submission with a fresh temp path still dedups against a running job.
type UploadedEpisodePayload struct {
	EpisodeID int64
	TmpPath   string
}

func NewUploadedEpisodeTask(episodeID int64, tmpPath string) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(UploadedEpisodePayload{EpisodeID: episodeID, TmpPath: tmpPath})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{asynq.TaskID(UploadedEpisodeJobID(episodeID)), asynq.Queue("high")}
	return asynq.NewTask(TypeUploadedEpisode, payload), opts, nil
}

// GenerateRSSPayload with no podcast IDs means "regenerate every feed".
type GenerateRSSPayload struct {
	PodcastIDs []int64
}

func NewGenerateRSSTask(podcastIDs ...int64) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(GenerateRSSPayload{PodcastIDs: podcastIDs})
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{asynq.TaskID(GenerateRSSJobID(podcastIDs))}
	return asynq.NewTask(TypeGenerateRSS, payload), opts, nil
}

// Enqueue submits the task with its deterministic ID. A duplicate submission
// surfaces as asynq.ErrTaskIDConflict, which callers treat as "already
// queued" rather than an error.
func Enqueue(client TaskEnqueuer, task *asynq.Task, opts []asynq.Option) (*asynq.TaskInfo, error) {
	info, err := client.Enqueue(task, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}
