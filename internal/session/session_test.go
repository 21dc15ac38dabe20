package session

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"bringmeimage/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	original := Session{
		SaveDir:    "/tmp/images",
		SourceSite: true,
		Categorize: true,
		Items: []models.Item{
			{
				SourceURL: "https://civitai.com/images/123?modelVersionId=456&postId=789",
				AssetID:   "123",
				VersionID: "456",
				PostID:    "789",
			},
			{
				SourceURL:   "https://example.com/pics/cat.png",
				ResolvedURL: "https://example.com/pics/cat.png",
				Resolved:    true,
			},
		},
	}

	path, err := Save(filepath.Join(t.TempDir(), "work"), original)
	require.NoError(t, err)
	assert.Equal(t, Extension, filepath.Ext(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, original, loaded)
}

func TestForItemsDerivesSourceSite(t *testing.T) {
	gallery := models.Item{SourceURL: "https://civitai.com/images/123?postId=55", AssetID: "123", PostID: "55"}
	generic := models.Item{SourceURL: "https://example.com/cat.png", ResolvedURL: "https://example.com/cat.png", Resolved: true}

	s := ForItems("/tmp/images", true, []models.Item{generic, gallery})
	assert.True(t, s.SourceSite)
	assert.True(t, s.Categorize)
	assert.Equal(t, "/tmp/images", s.SaveDir)

	s = ForItems("/tmp/images", false, []models.Item{generic})
	assert.False(t, s.SourceSite, "a batch of plain file URLs is not a gallery batch")
}

func TestSessionFileIsCompressed(t *testing.T) {
	path, err := Save(filepath.Join(t.TempDir(), "work"+Extension), Session{SaveDir: "/tmp"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = gzip.NewReader(bytes.NewReader(data))
	assert.NoError(t, err, "session files are gzip streams")
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken"+Extension)
	require.NoError(t, os.WriteFile(path, []byte("not a session"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}
