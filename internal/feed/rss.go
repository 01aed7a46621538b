package feed

import (
	"fmt"
	"time"

	"github.com/eduncan911/podcast"

	"podcast-service/internal/db"
	"podcast-service/internal/models"
)

// Generate renders the feed document for a podcast from its published
// episodes. Episodes whose audio file is not verified available are left out:
// a feed must never reference an object that may not exist.
func Generate(p *models.Podcast, items []db.EpisodeItem, mediaBaseURL string) (string, error) {
	now := time.Now()
	feed := podcast.New(
		p.Name,
		fmt.Sprintf("%s/rss/%s", mediaBaseURL, p.RSSFilename()),
		p.Description,
		&p.CreatedAt, &now,
	)

	for _, item := range items {
		if !item.Audio.Available || item.PublishedAt == nil {
			continue
		}

		entry := podcast.Item{
			Title:       item.Title,
			Description: item.Description,
			PubDate:     item.PublishedAt,
		}
		if item.Duration > 0 {
			entry.AddDuration(int64(item.Duration))
		}
		entry.AddEnclosure(
			fmt.Sprintf("%s/%s", mediaBaseURL, item.Audio.Path),
			podcast.MP3,
			item.Audio.Size,
		)
		if _, err := feed.AddItem(entry); err != nil {
			return "", fmt.Errorf("failed to add episode %d to feed: %w", item.ID, err)
		}
	}

	return feed.String(), nil
}
