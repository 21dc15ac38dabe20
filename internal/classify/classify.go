// Package classify turns raw captured URLs into pipeline Items.
//
// Supported formats:
//
//	image detail pages: "https://civitai.com/images/<id>" with optional
//	  modelVersionId / postId query parameters
//	general picture files: "http....(png|jpeg|jpg)"
package classify

import (
	"net/url"
	"regexp"

	"bringmeimage/internal/models"

	log "github.com/sirupsen/logrus"
)

var (
	imagePagePattern    = regexp.MustCompile(`^https://civitai\.com/images/(\d+)`)
	genericImagePattern = regexp.MustCompile(`^http.+\.(png|jpeg|jpg)$`)
)

// recognizer builds an Item from a raw URL, or returns nil when the
// URL does not match its shape.
type recognizer func(rawURL string) *models.Item

// Ordered most specific first; the first match wins.
var recognizers = []recognizer{
	matchPageWithVersionAndPost,
	matchPageWithVersion,
	matchPageWithPost,
	matchBarePage,
	matchGenericImage,
}

// pageIDs extracts the asset id plus whatever scoping query
// parameters an image detail page carries.
func pageIDs(rawURL string) (assetID, versionID, postID string, ok bool) {
	m := imagePagePattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", "", "", false
	}
	assetID = m[1]
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", "", false
	}
	q := u.Query()
	return assetID, q.Get("modelVersionId"), q.Get("postId"), true
}

func matchPageWithVersionAndPost(rawURL string) *models.Item {
	assetID, versionID, postID, ok := pageIDs(rawURL)
	if !ok || versionID == "" || postID == "" {
		return nil
	}
	return &models.Item{SourceURL: rawURL, AssetID: assetID, VersionID: versionID, PostID: postID}
}

func matchPageWithVersion(rawURL string) *models.Item {
	assetID, versionID, _, ok := pageIDs(rawURL)
	if !ok || versionID == "" {
		return nil
	}
	return &models.Item{SourceURL: rawURL, AssetID: assetID, VersionID: versionID}
}

func matchPageWithPost(rawURL string) *models.Item {
	assetID, _, postID, ok := pageIDs(rawURL)
	if !ok || postID == "" {
		return nil
	}
	return &models.Item{SourceURL: rawURL, AssetID: assetID, PostID: postID}
}

// matchBarePage accepts an image detail page carrying no scoping query
// parameters. Only the browser scrape can resolve such an item.
func matchBarePage(rawURL string) *models.Item {
	assetID, _, _, ok := pageIDs(rawURL)
	if !ok {
		return nil
	}
	return &models.Item{SourceURL: rawURL, AssetID: assetID}
}

// matchGenericImage accepts plain picture-file URLs. There is nothing
// left to resolve, so the item starts out resolved.
func matchGenericImage(rawURL string) *models.Item {
	if !genericImagePattern.MatchString(rawURL) {
		return nil
	}
	return &models.Item{SourceURL: rawURL, ResolvedURL: rawURL, Resolved: true}
}

// Batch tracks the source URLs already accepted into the working set,
// so the same URL captured twice yields a single Item.
type Batch struct {
	seen map[string]struct{}
}

// NewBatch returns an empty classification batch.
func NewBatch() *Batch {
	return &Batch{seen: make(map[string]struct{})}
}

// Classify applies the recognizers in order and returns the resulting
// Item, or nil when the URL is unrecognized or already in the batch.
func (b *Batch) Classify(rawURL string) *models.Item {
	if _, dup := b.seen[rawURL]; dup {
		log.Infof("URL already exists in the list: %s", rawURL)
		return nil
	}

	for _, recognize := range recognizers {
		if item := recognize(rawURL); item != nil {
			b.seen[rawURL] = struct{}{}
			return item
		}
	}

	log.Infof("URL cannot parse: %s", rawURL)
	return nil
}

// Len returns the number of accepted URLs.
func (b *Batch) Len() int {
	return len(b.seen)
}
