package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "media"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{AccessKeyID: "key", SecretAccessKey: "secret"})
	assert.Error(t, err)
}

func TestProgressReaderReportsChunks(t *testing.T) {
	var total int64
	var chunks int
	reader := &progressReader{
		r: strings.NewReader(strings.Repeat("x", 100)),
		fn: func(chunk int64) {
			total += chunk
			chunks++
		},
	}

	data, err := io.ReadAll(reader)
	require.NoError(t, err)

	assert.Len(t, data, 100)
	assert.Equal(t, int64(100), total)
	assert.GreaterOrEqual(t, chunks, 1)
}
