package tasks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobIDIsDeterministic(t *testing.T) {
	a := JobID("episode:download", map[string]string{"episode_id": "1", "source": "yt"})
	b := JobID("episode:download", map[string]string{"source": "yt", "episode_id": "1"})

	assert.Equal(t, a, b)
	assert.Equal(t, "episode:download?episode_id=1&source=yt", a)
}

func TestJobIDDiffersPerArguments(t *testing.T) {
	assert.NotEqual(t, DownloadEpisodeJobID(1), DownloadEpisodeJobID(2))
	assert.NotEqual(t, DownloadEpisodeJobID(1), UploadedEpisodeJobID(1))
}

func TestGenerateRSSJobID(t *testing.T) {
	assert.Equal(t, GenerateRSSJobID([]int64{2, 1}), GenerateRSSJobID([]int64{1, 2}))
	assert.Equal(t, "rss:generate?podcast_ids=", GenerateRSSJobID(nil))
}

func TestNewDownloadEpisodeTask(t *testing.T) {
	task, opts, err := NewDownloadEpisodeTask(42)
	require.NoError(t, err)

	assert.Equal(t, TypeDownloadEpisode, task.Type())
	assert.Len(t, opts, 2)

	var payload DownloadEpisodePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(42), payload.EpisodeID)
}

func TestNewUploadedEpisodeTask(t *testing.T) {
	task, _, err := NewUploadedEpisodeTask(42, "tmp/upload.mp3")
	require.NoError(t, err)

	var payload UploadedEpisodePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(42), payload.EpisodeID)
	assert.Equal(t, "tmp/upload.mp3", payload.TmpPath)
}
