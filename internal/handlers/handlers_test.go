package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcast-service/internal/config"
	"podcast-service/internal/db"
	"podcast-service/internal/jobs"
	"podcast-service/internal/media"
	"podcast-service/internal/models"
	"podcast-service/internal/progress"
	"podcast-service/pkg/tasks"
)

type mockEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (m *mockEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tasks = append(m.tasks, task)
	return &asynq.TaskInfo{ID: "test-task-id", Queue: "high"}, nil
}

type mockExtractor struct {
	info *media.SourceInfo
	err  error
}

func (m *mockExtractor) Extract(ctx context.Context, sourceURL string) (*media.SourceInfo, error) {
	return m.info, m.err
}

type handlersEnv struct {
	h         *Handlers
	mock      sqlmock.Sqlmock
	enqueuer  *mockEnqueuer
	extractor *mockExtractor
	registry  *jobs.Registry
	progress  *progress.Store
}

func newHandlersEnv(t *testing.T) *handlersEnv {
	t.Helper()

	mockDb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDb.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	enqueuer := &mockEnqueuer{}
	extractor := &mockExtractor{info: &media.SourceInfo{
		SourceID: "src1",
		Title:    "A Video",
		WatchURL: "https://youtube.com/watch?v=src1",
		Duration: 120,
	}}
	registry := jobs.New(rdb, time.Hour)
	progressStore := progress.New(rdb, time.Minute, "progress:test")

	cfg := &config.Config{MediaBaseURL: "http://media.test"}
	h := New(db.New(sqlx.NewDb(mockDb, "sqlmock")), progressStore, registry, enqueuer, extractor, cfg)

	return &handlersEnv{h: h, mock: mock, enqueuer: enqueuer, extractor: extractor, registry: registry, progress: progressStore}
}

var episodeColumns = []string{
	"id", "podcast_id", "source_id", "source_type", "status", "title",
	"description", "watch_url", "audio_id", "image_id", "chapters",
	"duration", "published_at", "created_at",
}

func episodeRow(e models.Episode) *sqlmock.Rows {
	return episodeRows(e)
}

func episodeRows(episodes ...models.Episode) *sqlmock.Rows {
	rows := sqlmock.NewRows(episodeColumns)
	for _, e := range episodes {
		rows.AddRow(
			e.ID, e.PodcastID, e.SourceID, string(e.SourceType), e.Status, e.Title,
			e.Description, e.WatchURL, e.AudioID, e.ImageID, []byte("[]"),
			e.Duration, e.PublishedAt, e.CreatedAt,
		)
	}
	return rows
}

func testEpisode() models.Episode {
	return models.Episode{
		ID:         1,
		PodcastID:  5,
		SourceID:   "src1",
		SourceType: models.SourceYoutube,
		Status:     models.EpisodeNew,
		Title:      "A Video",
		WatchURL:   "https://youtube.com/watch?v=src1",
		AudioID:    10,
		CreatedAt:  time.Now(),
	}
}

func TestCreateEpisode(t *testing.T) {
	env := newHandlersEnv(t)

	podcastRows := sqlmock.NewRows([]string{"id", "publish_id", "name", "description", "rss_id", "owner_id", "created_at"}).
		AddRow(5, "pub-uuid", "Test Podcast", "", nil, int64(1), time.Now())
	env.mock.ExpectQuery(`SELECT \* FROM podcasts WHERE id = \$1`).
		WithArgs(int64(5)).WillReturnRows(podcastRows)
	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE podcast_id = \$1 AND source_id = \$2`).
		WithArgs(int64(5), "src1", "YOUTUBE").
		WillReturnRows(episodeRows())
	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE source_id = \$1`).
		WithArgs("src1", "YOUTUBE", models.EpisodeArchived).
		WillReturnRows(episodeRows())
	fileRows := sqlmock.NewRows([]string{"id", "type", "path", "size", "available", "hash", "owner_id", "created_at"}).
		AddRow(10, "AUDIO", "", int64(0), false, "", int64(1), time.Now())
	env.mock.ExpectQuery(`INSERT INTO files`).WillReturnRows(fileRows)
	env.mock.ExpectQuery(`INSERT INTO episodes`).WillReturnRows(episodeRow(testEpisode()))

	body := bytes.NewBufferString(`{"podcast_id": 5, "watch_url": "https://youtube.com/watch?v=src1"}`)
	req := httptest.NewRequest(http.MethodPost, "/episodes", body)
	rr := httptest.NewRecorder()
	env.h.CreateEpisode(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	var created models.Episode
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, "src1", created.SourceID)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateEpisodeConflict(t *testing.T) {
	env := newHandlersEnv(t)

	podcastRows := sqlmock.NewRows([]string{"id", "publish_id", "name", "description", "rss_id", "owner_id", "created_at"}).
		AddRow(5, "pub-uuid", "Test Podcast", "", nil, int64(1), time.Now())
	env.mock.ExpectQuery(`SELECT \* FROM podcasts WHERE id = \$1`).
		WithArgs(int64(5)).WillReturnRows(podcastRows)
	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE podcast_id = \$1 AND source_id = \$2`).
		WithArgs(int64(5), "src1", "YOUTUBE").
		WillReturnRows(episodeRow(testEpisode()))

	body := bytes.NewBufferString(`{"podcast_id": 5, "watch_url": "https://youtube.com/watch?v=src1"}`)
	req := httptest.NewRequest(http.MethodPost, "/episodes", body)
	rr := httptest.NewRecorder()
	env.h.CreateEpisode(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestCreateEpisodeInvalidURL(t *testing.T) {
	env := newHandlersEnv(t)
	env.extractor.err = &media.ExtractError{URL: "bad"}

	podcastRows := sqlmock.NewRows([]string{"id", "publish_id", "name", "description", "rss_id", "owner_id", "created_at"}).
		AddRow(5, "pub-uuid", "Test Podcast", "", nil, int64(1), time.Now())
	env.mock.ExpectQuery(`SELECT \* FROM podcasts WHERE id = \$1`).
		WithArgs(int64(5)).WillReturnRows(podcastRows)
	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE watch_url = \$1`).
		WithArgs("bad", models.EpisodeArchived).
		WillReturnRows(episodeRows())

	body := bytes.NewBufferString(`{"podcast_id": 5, "watch_url": "bad"}`)
	req := httptest.NewRequest(http.MethodPost, "/episodes", body)
	rr := httptest.NewRecorder()
	env.h.CreateEpisode(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateEpisodeFallsBackToSiblingOnExtractionFailure(t *testing.T) {
	env := newHandlersEnv(t)
	env.extractor.err = &media.ExtractError{URL: "https://youtube.com/watch?v=src1"}

	sibling := testEpisode()
	sibling.PodcastID = 7 // earlier copy lives in another podcast

	podcastRows := sqlmock.NewRows([]string{"id", "publish_id", "name", "description", "rss_id", "owner_id", "created_at"}).
		AddRow(5, "pub-uuid", "Test Podcast", "", nil, int64(1), time.Now())
	env.mock.ExpectQuery(`SELECT \* FROM podcasts WHERE id = \$1`).
		WithArgs(int64(5)).WillReturnRows(podcastRows)
	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE watch_url = \$1`).
		WithArgs(sibling.WatchURL, models.EpisodeArchived).
		WillReturnRows(episodeRow(sibling))
	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE podcast_id = \$1 AND source_id = \$2`).
		WithArgs(int64(5), "src1", "YOUTUBE").
		WillReturnRows(episodeRows())
	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE source_id = \$1`).
		WithArgs("src1", "YOUTUBE", models.EpisodeArchived).
		WillReturnRows(episodeRow(sibling))
	fileRows := sqlmock.NewRows([]string{"id", "type", "path", "size", "available", "hash", "owner_id", "created_at"}).
		AddRow(11, "AUDIO", "", int64(0), false, "", int64(1), time.Now())
	env.mock.ExpectQuery(`INSERT INTO files`).WillReturnRows(fileRows)
	env.mock.ExpectQuery(`INSERT INTO episodes`).WillReturnRows(episodeRow(testEpisode()))

	body := bytes.NewBufferString(`{"podcast_id": 5, "watch_url": "https://youtube.com/watch?v=src1"}`)
	req := httptest.NewRequest(http.MethodPost, "/episodes", body)
	rr := httptest.NewRecorder()
	env.h.CreateEpisode(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.NoError(t, env.mock.ExpectationsWereMet())
}

func TestStartDownloadEnqueuesTask(t *testing.T) {
	env := newHandlersEnv(t)

	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).
		WithArgs(int64(1)).WillReturnRows(episodeRow(testEpisode()))

	req := httptest.NewRequest(http.MethodPost, "/episodes/1/download", nil)
	rr := httptest.NewRecorder()
	env.h.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, env.enqueuer.tasks, 1)
	assert.Equal(t, tasks.TypeDownloadEpisode, env.enqueuer.tasks[0].Type())
}

func TestStartDownloadDuplicateIsAccepted(t *testing.T) {
	env := newHandlersEnv(t)
	env.enqueuer.err = asynq.ErrTaskIDConflict

	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).
		WithArgs(int64(1)).WillReturnRows(episodeRow(testEpisode()))

	req := httptest.NewRequest(http.MethodPost, "/episodes/1/download", nil)
	rr := httptest.NewRecorder()
	env.h.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), "already queued")
}

func TestStartDownloadUploadedEpisodeRequiresTmpPath(t *testing.T) {
	env := newHandlersEnv(t)

	episode := testEpisode()
	episode.SourceType = models.SourceUpload
	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).
		WithArgs(int64(1)).WillReturnRows(episodeRow(episode))

	req := httptest.NewRequest(http.MethodPost, "/episodes/1/download", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	env.h.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelDownloadMarksJobCanceled(t *testing.T) {
	env := newHandlersEnv(t)

	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE id = \$1`).
		WithArgs(int64(1)).WillReturnRows(episodeRow(testEpisode()))

	req := httptest.NewRequest(http.MethodDelete, "/episodes/1/download", nil)
	rr := httptest.NewRecorder()
	env.h.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)

	canceled, err := env.registry.IsCanceled(context.Background(), tasks.DownloadEpisodeJobID(1))
	require.NoError(t, err)
	assert.True(t, canceled)
}

func TestGetProgressMergesRecords(t *testing.T) {
	env := newHandlersEnv(t)

	downloading := testEpisode()
	downloading.Status = models.EpisodeDownloading

	failed := testEpisode()
	failed.ID = 2
	failed.SourceID = "src2"
	failed.Status = models.EpisodeError

	env.mock.ExpectQuery(`SELECT \* FROM episodes WHERE status IN`).
		WillReturnRows(episodeRows(downloading, failed))

	require.NoError(t, env.progress.Hook(context.Background(), progress.StatusDownloading, "episode_src1.mp3", 100, 40))

	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	rr := httptest.NewRecorder()
	env.h.GetProgress(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var items []ProgressItem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
	require.Len(t, items, 2)

	assert.Equal(t, progress.StatusDownloading, items[0].Status)
	assert.Equal(t, int64(40), items[0].ProcessedBytes)
	assert.Equal(t, int64(100), items[0].TotalBytes)

	// No live record for the failed episode: status falls back to the
	// database state.
	assert.Equal(t, progress.StatusError, items[1].Status)
}

func TestGetRSSFeed(t *testing.T) {
	env := newHandlersEnv(t)

	podcastRows := sqlmock.NewRows([]string{"id", "publish_id", "name", "description", "rss_id", "owner_id", "created_at"}).
		AddRow(5, "pub-uuid", "Test Podcast", "desc", nil, int64(1), time.Now())
	env.mock.ExpectQuery(`SELECT \* FROM podcasts WHERE id = \$1`).
		WithArgs(int64(5)).WillReturnRows(podcastRows)
	env.mock.ExpectQuery(`SELECT e\.\*`).
		WithArgs(int64(5), models.EpisodePublished).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/podcasts/5/rss", nil)
	rr := httptest.NewRecorder()
	env.h.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/rss+xml", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "Test Podcast")
}
