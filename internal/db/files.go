package db

import (
	"context"

	"github.com/jmoiron/sqlx"

	"podcast-service/internal/models"
)

func (s *Store) FileByID(ctx context.Context, q sqlx.ExtContext, id int64) (models.File, error) {
	file := models.File{}
	err := sqlx.GetContext(ctx, q, &file, "SELECT * FROM files WHERE id = $1", id)
	return file, err
}

func (s *Store) CreateFile(ctx context.Context, q sqlx.ExtContext, f models.File) (models.File, error) {
	created := models.File{}
	err := sqlx.GetContext(ctx, q, &created, `
		INSERT INTO files (type, path, size, available, hash, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING *`,
		f.Type, f.Path, f.Size, f.Available, f.Hash, f.OwnerID)
	return created, err
}

func (s *Store) UpdateFile(ctx context.Context, q sqlx.ExtContext, id int64, path string, size int64, available bool) error {
	_, err := q.ExecContext(ctx,
		"UPDATE files SET path = $1, size = $2, available = $3 WHERE id = $4",
		path, size, available, id)
	return err
}

// UpdateSiblingAudioFiles writes the canonical remote path/size to the audio
// file record of every non-archived episode sharing the source. Sibling
// episodes keep separate File rows but the object behind them is one.
func (s *Store) UpdateSiblingAudioFiles(ctx context.Context, q sqlx.ExtContext, sourceID string, sourceType models.SourceType, path string, size int64, available bool) error {
	_, err := q.ExecContext(ctx, `
		UPDATE files SET path = $1, size = $2, available = $3
		WHERE id IN (
			SELECT audio_id FROM episodes
			WHERE source_id = $4 AND source_type = $5 AND status <> $6
		)`,
		path, size, available, sourceID, sourceType, models.EpisodeArchived)
	return err
}
