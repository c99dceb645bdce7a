package grantstore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permgate/internal/domain"
)

func TestFileStore_LoadMissing(t *testing.T) {
	s := NewFileStore(WithPath(filepath.Join(t.TempDir(), "grants.yaml")))
	g, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, g.Granted)
}

func TestFileStore_SaveDeduplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "grants.yaml")
	s := NewFileStore(WithPath(path))

	require.NoError(t, s.Save(&GrantSet{Granted: []string{"downloads", "notifications", "downloads"}}))
	g, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"downloads", "notifications"}, g.Granted)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.Equal(t, path, s.ConfigPath())
}

func TestFileStore_GrantRevokeContains(t *testing.T) {
	s := NewFileStore(WithPath(filepath.Join(t.TempDir(), "grants.yaml")))

	require.NoError(t, s.Grant("downloads"))
	ok, err := s.Contains("downloads")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Revoke("downloads"))
	ok, err = s.Contains("downloads")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("granted: {not: [a list"), 0o600))

	_, err := NewFileStore(WithPath(path)).Load()
	assert.ErrorIs(t, err, domain.ErrGrantStore)
}

func TestFeed_ReportsNewGrants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	s := NewFileStore(WithPath(path))
	require.NoError(t, s.Grant("notifications"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := NewFeed(s, 50*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ch, err := feed.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Grant("downloads"))
	select {
	case got := <-ch:
		assert.Equal(t, []string{"downloads"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no grant reported")
	}
}
