package media

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"podcast-service/internal/models"
)

const maxChapterTitleLen = 100

// minFreeMemory below which transcoding is refused outright.
const minFreeMemory = 256 << 20

// FFMpegError is a typed transcoder failure carrying the tool's combined
// output.
type FFMpegError struct {
	Output string
	Err    error
}

func (e *FFMpegError) Error() string {
	return fmt.Sprintf("ffmpeg failed: %v", e.Err)
}

func (e *FFMpegError) Unwrap() error { return e.Err }

// Transcoder runs ffmpeg with a hard wall-clock timeout. The subprocess is
// force-killed when the surrounding context is canceled, which is how
// mid-download cancellation reaches a stuck external tool.
type Transcoder struct {
	bin       string
	tmpDir    string
	timeout   time.Duration
	extraArgs []string
}

func NewTranscoder(bin, tmpDir string, timeout time.Duration, extraArgs []string) *Transcoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Transcoder{bin: bin, tmpDir: tmpDir, timeout: timeout, extraArgs: extraArgs}
}

// Convert re-encodes the audio at srcPath in place into a consistent
// container/bitrate. Progress is reported by watching the output file grow.
func (t *Transcoder) Convert(ctx context.Context, srcPath string, onProgress func(processed, total int64)) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("source file missing: %w", err)
	}
	if err := t.checkResources(srcInfo.Size()); err != nil {
		return fmt.Errorf("insufficient resources for transcoding: %w", err)
	}

	tmpPath := filepath.Join(t.tmpDir, "tmp_"+filepath.Base(srcPath))
	args := []string{"-y", "-i", srcPath, "-vn", "-acodec", "libmp3lame", "-q:a", "5"}
	args = append(args, t.extraArgs...)
	args = append(args, tmpPath)

	stopWatcher := watchFileProgress(tmpPath, srcInfo.Size(), onProgress)
	output, err := t.run(ctx, args)
	stopWatcher()
	if err != nil {
		os.Remove(tmpPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FFMpegError{Output: output, Err: err}
	}

	if _, err := os.Stat(tmpPath); err != nil {
		return &FFMpegError{Output: output, Err: fmt.Errorf("prepared file was not created: %w", err)}
	}
	if err := os.Remove(srcPath); err != nil {
		return fmt.Errorf("failed to remove source file: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		return fmt.Errorf("failed to rename prepared file: %w", err)
	}
	return nil
}

// SetMetadata embeds the episode title and chapter marks into the audio file.
// Chapter titles are length-clamped before embedding.
func (t *Transcoder) SetMetadata(ctx context.Context, srcPath, title string, chapters []models.EpisodeChapter) error {
	metaFile, err := os.CreateTemp(t.tmpDir, "ffmetadata_*.txt")
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer os.Remove(metaFile.Name())

	if _, err := metaFile.WriteString(buildFFMetadata(title, chapters)); err != nil {
		metaFile.Close()
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	metaFile.Close()

	tmpPath := filepath.Join(t.tmpDir, "meta_"+filepath.Base(srcPath))
	args := []string{
		"-y",
		"-i", srcPath,
		"-i", metaFile.Name(),
		"-map_metadata", "1",
		"-codec", "copy",
		tmpPath,
	}
	output, err := t.run(ctx, args)
	if err != nil {
		os.Remove(tmpPath)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &FFMpegError{Output: output, Err: err}
	}

	if err := os.Rename(tmpPath, srcPath); err != nil {
		return fmt.Errorf("failed to replace audio with tagged file: %w", err)
	}
	log.Printf("Metadata set for %s (%d chapters)", filepath.Base(srcPath), len(chapters))
	return nil
}

func (t *Transcoder) run(ctx context.Context, args []string) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	cmd := execCommandContext(ctx, t.bin, args...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// checkResources refuses to start a transcode that would exhaust the host:
// the temp dir needs room for the re-encoded copy next to the source.
func (t *Transcoder) checkResources(srcSize int64) error {
	usage, err := disk.Usage(t.tmpDir)
	if err == nil && usage.Free < uint64(2*srcSize) {
		return fmt.Errorf("not enough disk space in %s: %d bytes free", t.tmpDir, usage.Free)
	}
	vm, err := mem.VirtualMemory()
	if err == nil && vm.Available < minFreeMemory {
		return fmt.Errorf("not enough memory: %d bytes available", vm.Available)
	}
	return nil
}

// buildFFMetadata renders the ffmetadata document consumed via
// `-map_metadata`. Chapter times are in milliseconds (TIMEBASE 1/1000).
func buildFFMetadata(title string, chapters []models.EpisodeChapter) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	b.WriteString("title=" + escapeFFMetadata(title) + "\n")
	for _, chapter := range chapters {
		b.WriteString("\n[CHAPTER]\n")
		b.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", chapter.Start*1000)
		fmt.Fprintf(&b, "END=%d\n", chapter.End*1000)
		b.WriteString("title=" + escapeFFMetadata(clampTitle(chapter.Title)) + "\n")
	}
	return b.String()
}

func clampTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= maxChapterTitleLen {
		return title
	}
	return string(runes[:maxChapterTitleLen])
}

// escapeFFMetadata escapes the characters the ffmetadata format treats
// specially.
func escapeFFMetadata(value string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`=`, `\=`,
		`;`, `\;`,
		`#`, `\#`,
		"\n", `\`+"\n",
	)
	return replacer.Replace(value)
}
