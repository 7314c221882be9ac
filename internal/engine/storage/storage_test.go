package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_media/internal/engine"
)

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "tiktok/j1.mp4")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "tiktok/j1.mp4", strings.NewReader("video"), 5, "video/mp4"))
	ok, _ = s.Exists(ctx, "tiktok/j1.mp4")
	assert.True(t, ok)

	rc, size, err := s.Get(ctx, "tiktok/j1.mp4")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "video", string(data))
	assert.Equal(t, int64(5), size)

	require.NoError(t, s.Delete(ctx, "tiktok/j1.mp4"))
	require.NoError(t, s.Delete(ctx, "tiktok/j1.mp4"), "deleting twice is fine")
	_, _, err = s.Get(ctx, "tiktok/j1.mp4")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	err = s.Put(context.Background(), "../escape", strings.NewReader("x"), 1, "")
	assert.Error(t, err)
}
