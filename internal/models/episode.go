package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Episode statuses the processing pipeline moves an episode through.
const (
	EpisodeNew         = "NEW"
	EpisodeDownloading = "DOWNLOADING"
	EpisodeCanceling   = "CANCELING"
	EpisodePublished   = "PUBLISHED"
	EpisodeArchived    = "ARCHIVED"
	EpisodeError       = "ERROR"
)

// SourceType identifies the platform the episode media comes from.
type SourceType string

const (
	SourceYoutube SourceType = "YOUTUBE"
	SourceYandex  SourceType = "YANDEX"
	SourceUpload  SourceType = "UPLOAD"
)

// RequiresFetch reports whether media for this source has to be downloaded
// from a remote platform. Uploaded episodes already have local bytes.
func (s SourceType) RequiresFetch() bool {
	return s != SourceUpload
}

// RequiresPostProcessing reports whether fetched media should be re-encoded
// and tagged. Uploaded files are published as-is.
func (s SourceType) RequiresPostProcessing() bool {
	return s != SourceUpload
}

type Episode struct {
	ID          int64       `db:"id"`
	PodcastID   int64       `db:"podcast_id"`
	SourceID    string      `db:"source_id"`
	SourceType  SourceType  `db:"source_type"`
	Status      string      `db:"status"`
	Title       string      `db:"title"`
	Description string      `db:"description"`
	WatchURL    string      `db:"watch_url"`
	AudioID     int64       `db:"audio_id"`
	ImageID     *int64      `db:"image_id"`
	Chapters    ChapterList `db:"chapters"`
	Duration    int         `db:"duration"`
	PublishedAt *time.Time  `db:"published_at"`
	CreatedAt   time.Time   `db:"created_at"`
}

// AudioFilename is the canonical audio object name shared by every episode
// with the same source, which is what makes cross-podcast dedup possible.
func (e *Episode) AudioFilename() string {
	return fmt.Sprintf("episode_%s.mp3", e.SourceID)
}

type EpisodeChapter struct {
	Title string `json:"title"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// ChapterList stores episode chapters as a JSON column.
type ChapterList []EpisodeChapter

func (c ChapterList) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

func (c *ChapterList) Scan(src interface{}) error {
	if src == nil {
		*c = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported chapters column type %T", src)
	}
	return json.Unmarshal(b, c)
}
