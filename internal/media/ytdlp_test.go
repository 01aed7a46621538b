package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockExecCommandContext reroutes subprocess calls into TestHelperProcess.
func mockExecCommandContext(t *testing.T, env ...string) {
	t.Helper()
	original := execCommandContext
	execCommandContext = func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		cs := []string{"-test.run=TestHelperProcess", "--", name}
		cs = append(cs, arg...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append([]string{"GO_WANT_HELPER_PROCESS=1"}, env...)
		return cmd
	}
	t.Cleanup(func() { execCommandContext = original })
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	if path := os.Getenv("HELPER_CREATE_FILE"); path != "" {
		if err := os.WriteFile(path, []byte("mp3-bytes"), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if output := os.Getenv("HELPER_STDOUT"); output != "" {
		fmt.Print(output)
	}
	if os.Getenv("HELPER_FAIL") == "1" {
		os.Exit(1)
	}
}

func TestExtract(t *testing.T) {
	mockExecCommandContext(t, `HELPER_STDOUT={"id":"abc123","title":"A Video","description":"desc","webpage_url":"https://example.com/watch?v=abc123","duration":321.5}`)

	d := NewDownloader("yt-dlp", "", "")
	info, err := d.Extract(context.Background(), "https://example.com/watch?v=abc123")

	require.NoError(t, err)
	assert.Equal(t, "abc123", info.SourceID)
	assert.Equal(t, "A Video", info.Title)
	assert.Equal(t, "https://example.com/watch?v=abc123", info.WatchURL)
	assert.Equal(t, 321.5, info.Duration)
}

func TestExtractToolFailure(t *testing.T) {
	mockExecCommandContext(t, "HELPER_STDOUT=ERROR: video unavailable", "HELPER_FAIL=1")

	d := NewDownloader("yt-dlp", "", "")
	_, err := d.Extract(context.Background(), "https://example.com/bad")

	var extractErr *ExtractError
	require.ErrorAs(t, err, &extractErr)
	assert.Contains(t, extractErr.Output, "video unavailable")
}

func TestDownloadAudioCreatesFile(t *testing.T) {
	dstPath := t.TempDir() + "/sub/episode_abc.mp3"
	mockExecCommandContext(t, "HELPER_CREATE_FILE="+dstPath)

	d := NewDownloader("yt-dlp", "", "")
	err := d.DownloadAudio(context.Background(), "https://example.com/watch?v=abc", dstPath, nil)

	require.NoError(t, err)
	_, statErr := os.Stat(dstPath)
	assert.NoError(t, statErr)
}

func TestDownloadAudioMissingResultFile(t *testing.T) {
	dstPath := t.TempDir() + "/episode_abc.mp3"
	mockExecCommandContext(t) // tool "succeeds" but writes nothing

	d := NewDownloader("yt-dlp", "", "")
	err := d.DownloadAudio(context.Background(), "https://example.com/watch?v=abc", dstPath, nil)

	var extractErr *ExtractError
	assert.ErrorAs(t, err, &extractErr)
}

func TestParseSourceInfoIgnoresLeadingNoise(t *testing.T) {
	output := []byte("WARNING: something\n{\"id\":\"xyz\",\"title\":\"T\"}")

	info, err := parseSourceInfo(output)
	require.NoError(t, err)
	assert.Equal(t, "xyz", info.SourceID)
}

func TestParseSourceInfoNoJSON(t *testing.T) {
	_, err := parseSourceInfo([]byte("nothing useful"))
	assert.Error(t, err)
}
