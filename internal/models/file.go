package models

import "time"

// FileType is the logical kind of a stored object.
type FileType string

const (
	FileAudio FileType = "AUDIO"
	FileImage FileType = "IMAGE"
	FileRSS   FileType = "RSS"
)

// File is a record of an object kept (or expected) in remote storage.
// It starts as a placeholder with an empty path and becomes available only
// after the object is verified present remotely.
type File struct {
	ID        int64     `db:"id"`
	Type      FileType  `db:"type"`
	Path      string    `db:"path"`
	Size      int64     `db:"size"`
	Available bool      `db:"available"`
	Hash      string    `db:"hash"`
	OwnerID   int64     `db:"owner_id"`
	CreatedAt time.Time `db:"created_at"`
}
