package classify

import (
	"testing"

	"bringmeimage/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRecognizers(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
		want   *models.Item
	}{
		{
			name:   "Page with version and post ids",
			rawURL: "https://civitai.com/images/123?modelVersionId=456&postId=789",
			want: &models.Item{
				SourceURL: "https://civitai.com/images/123?modelVersionId=456&postId=789",
				AssetID:   "123",
				VersionID: "456",
				PostID:    "789",
			},
		},
		{
			name:   "Page with version id only",
			rawURL: "https://civitai.com/images/321?modelVersionId=654",
			want: &models.Item{
				SourceURL: "https://civitai.com/images/321?modelVersionId=654",
				AssetID:   "321",
				VersionID: "654",
			},
		},
		{
			name:   "Page with post id only",
			rawURL: "https://civitai.com/images/123?postId=55",
			want: &models.Item{
				SourceURL: "https://civitai.com/images/123?postId=55",
				AssetID:   "123",
				PostID:    "55",
			},
		},
		{
			name:   "Query parameter order does not matter",
			rawURL: "https://civitai.com/images/9?postId=2&modelVersionId=1",
			want: &models.Item{
				SourceURL: "https://civitai.com/images/9?postId=2&modelVersionId=1",
				AssetID:   "9",
				VersionID: "1",
				PostID:    "2",
			},
		},
		{
			name:   "Generic image file",
			rawURL: "https://example.com/pics/cat.png",
			want: &models.Item{
				SourceURL:   "https://example.com/pics/cat.png",
				ResolvedURL: "https://example.com/pics/cat.png",
				Resolved:    true,
			},
		},
		{
			name:   "Bare image page without scoping params",
			rawURL: "https://civitai.com/images/123",
			want: &models.Item{
				SourceURL: "https://civitai.com/images/123",
				AssetID:   "123",
			},
		},
		{
			name:   "Unrelated URL",
			rawURL: "https://civitai.com/models/10364",
			want:   nil,
		},
		{
			name:   "Not a URL",
			rawURL: "hello world",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBatch()
			got := b.Classify(tt.rawURL)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestClassifyDeduplicates(t *testing.T) {
	b := NewBatch()
	rawURL := "https://civitai.com/images/123?modelVersionId=456&postId=789"

	first := b.Classify(rawURL)
	require.NotNil(t, first)
	assert.Equal(t, 1, b.Len())

	second := b.Classify(rawURL)
	assert.Nil(t, second, "same URL within one batch must be rejected")
	assert.Equal(t, 1, b.Len())

	// A different URL is still accepted afterwards.
	other := b.Classify("https://example.com/pics/dog.jpg")
	require.NotNil(t, other)
	assert.Equal(t, 2, b.Len())
}
