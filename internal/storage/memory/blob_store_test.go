package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore()
	payload := []byte("content")
	uri, err := blobs.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	stored, ok := blobs.Get("path/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	stored[0] = 'X'
	again, _ := blobs.Get("path/page.html")
	require.Equal(t, "content", string(again))
	require.Equal(t, []string{"path/page.html"}, blobs.Keys())
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()

	_, ok := NewBlobStore().Get("nope")
	require.False(t, ok)
}
