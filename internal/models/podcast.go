package models

import "time"

type Podcast struct {
	ID          int64     `db:"id"`
	PublishID   string    `db:"publish_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	RSSID       *int64    `db:"rss_id"`
	OwnerID     int64     `db:"owner_id"`
	CreatedAt   time.Time `db:"created_at"`
}

// RSSFilename is the name under which the podcast's feed document is stored.
func (p *Podcast) RSSFilename() string {
	return p.PublishID + ".xml"
}
