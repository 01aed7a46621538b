package db

import (
	"context"

	"github.com/jmoiron/sqlx"

	"podcast-service/internal/models"
)

func (s *Store) EpisodeByID(ctx context.Context, q sqlx.ExtContext, id int64) (models.Episode, error) {
	episode := models.Episode{}
	err := sqlx.GetContext(ctx, q, &episode, "SELECT * FROM episodes WHERE id = $1", id)
	return episode, err
}

// EpisodesBySource returns all non-archived episodes sharing the same
// external source, ordered by creation time so callers picking a single
// sibling get a deterministic one.
func (s *Store) EpisodesBySource(ctx context.Context, q sqlx.ExtContext, sourceID string, sourceType models.SourceType) ([]models.Episode, error) {
	var episodes []models.Episode
	err := sqlx.SelectContext(ctx, q, &episodes,
		"SELECT * FROM episodes WHERE source_id = $1 AND source_type = $2 AND status <> $3 ORDER BY created_at",
		sourceID, sourceType, models.EpisodeArchived)
	return episodes, err
}

// EpisodesByWatchURL finds non-archived episodes created from the same watch
// URL. Used as a metadata fallback when fresh extraction is unavailable.
func (s *Store) EpisodesByWatchURL(ctx context.Context, q sqlx.ExtContext, watchURL string) ([]models.Episode, error) {
	var episodes []models.Episode
	err := sqlx.SelectContext(ctx, q, &episodes,
		"SELECT * FROM episodes WHERE watch_url = $1 AND status <> $2 ORDER BY created_at",
		watchURL, models.EpisodeArchived)
	return episodes, err
}

func (s *Store) EpisodesByPodcastInSource(ctx context.Context, q sqlx.ExtContext, podcastID int64, sourceID string, sourceType models.SourceType) ([]models.Episode, error) {
	var episodes []models.Episode
	err := sqlx.SelectContext(ctx, q, &episodes,
		"SELECT * FROM episodes WHERE podcast_id = $1 AND source_id = $2 AND source_type = $3 ORDER BY created_at",
		podcastID, sourceID, sourceType)
	return episodes, err
}

func (s *Store) CreateEpisode(ctx context.Context, q sqlx.ExtContext, e models.Episode) (models.Episode, error) {
	created := models.Episode{}
	err := sqlx.GetContext(ctx, q, &created, `
		INSERT INTO episodes (podcast_id, source_id, source_type, status, title, description, watch_url, audio_id, image_id, chapters, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING *`,
		e.PodcastID, e.SourceID, e.SourceType, e.Status, e.Title, e.Description,
		e.WatchURL, e.AudioID, e.ImageID, e.Chapters, e.Duration)
	return created, err
}

func (s *Store) UpdateEpisodeStatus(ctx context.Context, q sqlx.ExtContext, id int64, status string) error {
	_, err := q.ExecContext(ctx, "UPDATE episodes SET status = $1 WHERE id = $2", status, id)
	return err
}

// UpdateSiblingsStatus moves every non-archived episode with the same source
// to the given status. All podcasts referencing the same external content
// move together.
func (s *Store) UpdateSiblingsStatus(ctx context.Context, q sqlx.ExtContext, sourceID string, sourceType models.SourceType, status string) error {
	_, err := q.ExecContext(ctx,
		"UPDATE episodes SET status = $1 WHERE source_id = $2 AND source_type = $3 AND status <> $4",
		status, sourceID, sourceType, models.EpisodeArchived)
	return err
}

// PublishSiblings marks all non-archived episodes of the source as published.
// The publish time is pinned to each episode's creation time, not the upload
// completion time, so episode ordering stays stable across re-downloads.
func (s *Store) PublishSiblings(ctx context.Context, q sqlx.ExtContext, sourceID string, sourceType models.SourceType) error {
	_, err := q.ExecContext(ctx,
		"UPDATE episodes SET status = $1, published_at = created_at WHERE source_id = $2 AND source_type = $3 AND status <> $4",
		models.EpisodePublished, sourceID, sourceType, models.EpisodeArchived)
	return err
}

// EpisodeItem joins an episode with its audio file for feed rendering and
// progress views.
type EpisodeItem struct {
	models.Episode
	Audio models.File `db:"audio"`
}

func (s *Store) PublishedEpisodeItems(ctx context.Context, q sqlx.ExtContext, podcastID int64) ([]EpisodeItem, error) {
	var items []EpisodeItem
	err := sqlx.SelectContext(ctx, q, &items, `
		SELECT e.*,
		       f.id AS "audio.id", f.type AS "audio.type", f.path AS "audio.path",
		       f.size AS "audio.size", f.available AS "audio.available",
		       f.hash AS "audio.hash", f.owner_id AS "audio.owner_id", f.created_at AS "audio.created_at"
		FROM episodes e
		JOIN files f ON f.id = e.audio_id
		WHERE e.podcast_id = $1 AND e.status = $2 AND e.published_at IS NOT NULL
		ORDER BY e.published_at DESC`,
		podcastID, models.EpisodePublished)
	return items, err
}

// EpisodesInProgress lists episodes shown in the progress view: everything
// being processed plus recent failures, which render as an error state.
func (s *Store) EpisodesInProgress(ctx context.Context, q sqlx.ExtContext) ([]models.Episode, error) {
	var episodes []models.Episode
	err := sqlx.SelectContext(ctx, q, &episodes,
		"SELECT * FROM episodes WHERE status IN ($1, $2, $3, $4) ORDER BY created_at",
		models.EpisodeNew, models.EpisodeDownloading, models.EpisodeCanceling, models.EpisodeError)
	return episodes, err
}
