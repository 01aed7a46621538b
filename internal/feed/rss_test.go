package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcast-service/internal/db"
	"podcast-service/internal/models"
)

func testItems() (*models.Podcast, []db.EpisodeItem) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	published := created

	p := &models.Podcast{
		ID:          1,
		PublishID:   "pub-uuid",
		Name:        "My Podcast",
		Description: "A feed about things",
		CreatedAt:   created,
	}
	items := []db.EpisodeItem{
		{
			Episode: models.Episode{
				ID: 1, Title: "Published Episode", Description: "ep desc",
				Duration: 120, PublishedAt: &published, CreatedAt: created,
			},
			Audio: models.File{Path: "audio/episode_a.mp3", Size: 1000, Available: true},
		},
		{
			Episode: models.Episode{
				ID: 2, Title: "Unverified Episode", PublishedAt: &published, CreatedAt: created,
			},
			Audio: models.File{Path: "audio/episode_b.mp3", Size: 1000, Available: false},
		},
		{
			Episode: models.Episode{
				ID: 3, Title: "Never Published", CreatedAt: created,
			},
			Audio: models.File{Path: "audio/episode_c.mp3", Size: 1000, Available: true},
		},
	}
	return p, items
}

func TestGenerate(t *testing.T) {
	p, items := testItems()

	rss, err := Generate(p, items, "http://media.test")
	require.NoError(t, err)

	assert.Contains(t, rss, "<title>My Podcast</title>")
	assert.Contains(t, rss, "Published Episode")
	assert.Contains(t, rss, "http://media.test/audio/episode_a.mp3")
	// Episodes without verified audio or a publish time stay out of the feed.
	assert.NotContains(t, rss, "Unverified Episode")
	assert.NotContains(t, rss, "Never Published")
}

func TestGenerateEmptyPodcast(t *testing.T) {
	p := &models.Podcast{ID: 1, PublishID: "pub-uuid", Name: "Empty", Description: "d", CreatedAt: time.Now()}

	rss, err := Generate(p, nil, "http://media.test")
	require.NoError(t, err)
	assert.Contains(t, rss, "<title>Empty</title>")
	assert.NotContains(t, rss, "<enclosure")
}
