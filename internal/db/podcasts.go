package db

import (
	"context"

	"github.com/jmoiron/sqlx"

	"podcast-service/internal/models"
)

func (s *Store) PodcastByID(ctx context.Context, q sqlx.ExtContext, id int64) (models.Podcast, error) {
	podcast := models.Podcast{}
	err := sqlx.GetContext(ctx, q, &podcast, "SELECT * FROM podcasts WHERE id = $1", id)
	return podcast, err
}

// Podcasts returns podcasts with the given IDs, or every podcast when no IDs
// are supplied (full feed regeneration).
func (s *Store) Podcasts(ctx context.Context, q sqlx.ExtContext, ids []int64) ([]models.Podcast, error) {
	var podcasts []models.Podcast
	if len(ids) == 0 {
		err := sqlx.SelectContext(ctx, q, &podcasts, "SELECT * FROM podcasts ORDER BY id")
		return podcasts, err
	}

	query, args, err := sqlx.In("SELECT * FROM podcasts WHERE id IN (?) ORDER BY id", ids)
	if err != nil {
		return nil, err
	}
	err = sqlx.SelectContext(ctx, q, &podcasts, q.Rebind(query), args...)
	return podcasts, err
}

func (s *Store) SetPodcastRSS(ctx context.Context, q sqlx.ExtContext, podcastID, fileID int64) error {
	_, err := q.ExecContext(ctx, "UPDATE podcasts SET rss_id = $1 WHERE id = $2", fileID, podcastID)
	return err
}
