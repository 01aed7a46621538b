// Package progress keeps per-file transfer state in Redis so a separate
// process can observe job progress without shared memory. Every write also
// publishes a lightweight "something changed" signal that progress observers
// use to re-poll.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status of a single file transfer, as shown to progress observers.
type Status string

const (
	StatusPending        Status = "pending"
	StatusDownloading    Status = "downloading"
	StatusPostProcessing Status = "post-processing"
	StatusUploading      Status = "uploading"
	StatusError          Status = "error"
)

// Signal is the message published on the broadcast channel.
const Signal = "ping"

// Record is the progress state kept for one file. It is overwritten on every
// hook call and expires after the store's TTL, so stale jobs disappear from
// progress views on their own.
type Record struct {
	EventKey       string `json:"event_key"`
	Status         Status `json:"status"`
	ProcessedBytes int64  `json:"processed_bytes"`
	TotalBytes     int64  `json:"total_bytes"`
}

type Store struct {
	rdb     *redis.Client
	ttl     time.Duration
	channel string
}

func New(rdb *redis.Client, ttl time.Duration, channel string) *Store {
	return &Store{rdb: rdb, ttl: ttl, channel: channel}
}

// KeyByFilename normalizes a file name into the progress key: the base name
// without its extension.
func KeyByFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Hook records absolute progress for a file and publishes the broadcast
// signal. A zero totalBytes keeps the previously recorded total.
func (s *Store) Hook(ctx context.Context, status Status, filename string, totalBytes, processedBytes int64) error {
	return s.update(ctx, status, filename, totalBytes, processedBytes, 0)
}

// AddChunk merges a byte-count delta into the previous record for the file.
// Used by upload callbacks that only know how much they just sent.
func (s *Store) AddChunk(ctx context.Context, status Status, filename string, chunk int64) error {
	return s.update(ctx, status, filename, 0, -1, chunk)
}

func (s *Store) update(ctx context.Context, status Status, filename string, totalBytes, processedBytes, chunk int64) error {
	key := KeyByFilename(filename)

	current := Record{}
	if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		_ = json.Unmarshal(raw, &current)
	}

	if totalBytes == 0 {
		totalBytes = current.TotalBytes
	}
	if processedBytes < 0 {
		processedBytes = current.ProcessedBytes + chunk
	}

	record := Record{
		EventKey:       key,
		Status:         status,
		ProcessedBytes: processedBytes,
		TotalBytes:     totalBytes,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store progress for %s: %w", key, err)
	}
	return s.PublishSignal(ctx)
}

// GetMany fetches progress records for the given keys in a single round trip
// and reshapes them into a map keyed by each record's event key.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string]Record, error) {
	if len(keys) == 0 {
		return map[string]Record{}, nil
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch progress records: %w", err)
	}

	result := make(map[string]Record, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		record := Record{}
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		result[record.EventKey] = record
	}
	return result, nil
}

// PublishSignal notifies connected observers that some progress changed.
func (s *Store) PublishSignal(ctx context.Context) error {
	return s.rdb.Publish(ctx, s.channel, Signal).Err()
}

// Subscribe returns a subscription on the broadcast channel. The caller owns
// closing it.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, s.channel)
}
