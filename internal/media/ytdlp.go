// Package media wraps the external tools the pipeline shells out to:
// yt-dlp for source extraction/fetching and ffmpeg for post-processing.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Swappable for tests.
var execCommandContext = exec.CommandContext

// SourceInfo is the metadata the extraction tool resolves for a source URL.
type SourceInfo struct {
	SourceID     string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	WatchURL     string  `json:"webpage_url"`
	ThumbnailURL string  `json:"thumbnail"`
	Author       string  `json:"uploader"`
	Duration     float64 `json:"duration"`
}

// ExtractError is a typed failure of the media-extraction tool, carrying its
// combined output for the logs.
type ExtractError struct {
	URL    string
	Output string
	Err    error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.URL, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// Downloader fetches source metadata and audio via the yt-dlp binary.
type Downloader struct {
	bin         string
	cookiesPath string
	proxyURL    string
}

func NewDownloader(bin, cookiesPath, proxyURL string) *Downloader {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &Downloader{bin: bin, cookiesPath: cookiesPath, proxyURL: proxyURL}
}

// Extract resolves metadata for the source URL without downloading media.
func (d *Downloader) Extract(ctx context.Context, sourceURL string) (*SourceInfo, error) {
	args := append(d.commonArgs(), "-J", "--no-playlist", sourceURL)
	cmd := execCommandContext(ctx, d.bin, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &ExtractError{URL: sourceURL, Output: string(output), Err: err}
	}

	info, err := parseSourceInfo(output)
	if err != nil {
		return nil, &ExtractError{URL: sourceURL, Output: string(output), Err: err}
	}
	return info, nil
}

// DownloadAudio fetches the source and extracts its audio track into
// dstPath. The optional onProgress callback is fed from a watcher goroutine
// that stats the growing file once per second.
func (d *Downloader) DownloadAudio(ctx context.Context, sourceURL, dstPath string, onProgress func(processed, total int64)) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}
	args := append(d.commonArgs(),
		"-x",
		"--audio-format", "mp3",
		"-o", dstPath,
		sourceURL,
	)
	cmd := execCommandContext(ctx, d.bin, args...)

	stopWatcher := watchFileProgress(dstPath, 0, onProgress)
	output, err := cmd.CombinedOutput()
	stopWatcher()
	if err != nil {
		return &ExtractError{URL: sourceURL, Output: string(output), Err: err}
	}

	if _, err := os.Stat(dstPath); err != nil {
		return &ExtractError{URL: sourceURL, Output: string(output), Err: fmt.Errorf("result file missing: %w", err)}
	}
	return nil
}

func (d *Downloader) commonArgs() []string {
	var args []string
	if d.cookiesPath != "" {
		args = append(args, "--cookies", d.cookiesPath)
	}
	if d.proxyURL != "" {
		args = append(args, "--proxy", d.proxyURL)
	}
	return args
}

// parseSourceInfo extracts the first JSON object from tool output.
// yt-dlp sometimes prints other things to stdout before the JSON.
func parseSourceInfo(output []byte) (*SourceInfo, error) {
	jsonStart := strings.Index(string(output), "{")
	if jsonStart == -1 {
		return nil, fmt.Errorf("no JSON found in output")
	}
	info := SourceInfo{}
	if err := json.Unmarshal(output[jsonStart:], &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source info: %w", err)
	}
	return &info, nil
}

// watchFileProgress polls the target file's size once per second and reports
// it through onProgress until the returned stop func is called.
func watchFileProgress(path string, totalBytes int64, onProgress func(processed, total int64)) func() {
	if onProgress == nil {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if info, err := os.Stat(path); err == nil {
					onProgress(info.Size(), totalBytes)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
