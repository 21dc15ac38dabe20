// Package locate turns resolvable Items into direct download URLs,
// either through the images API or by scraping the page in a headless
// browser.
package locate

import (
	"errors"
	"fmt"
	"strconv"

	"bringmeimage/internal/api"
	"bringmeimage/internal/browser"
	"bringmeimage/internal/models"

	log "github.com/sirupsen/logrus"
)

// ErrAssetNotFound is returned when the lookup succeeded but no entry
// matched the item's asset id.
var ErrAssetNotFound = errors.New("no downloadable asset located")

// maxPageSize is the largest listing page the images API serves.
const maxPageSize = 200

// ImageLister is the API surface the locator needs.
type ImageLister interface {
	GetImages(query api.ImageQuery) ([]models.ImageApiItem, error)
}

// MetadataCache exposes already-resolved version metadata; the creator
// handle it carries backs the username fallback query.
type MetadataCache interface {
	Cached(versionID string) (models.VersionInfo, bool)
}

// Locator picks a strategy per item: items carrying a version id go
// through the images API, the rest are scraped in the browser. The
// input item is never mutated; callers get an updated copy.
type Locator struct {
	images   ImageLister
	fetcher  browser.PageFetcher
	metadata MetadataCache
}

// NewLocator creates a Locator. fetcher may be nil when no item in the
// batch needs the scrape strategy.
func NewLocator(images ImageLister, fetcher browser.PageFetcher, metadata MetadataCache) *Locator {
	return &Locator{images: images, fetcher: fetcher, metadata: metadata}
}

// Locate resolves the item's download URL. Already-resolved items pass
// through untouched.
func (l *Locator) Locate(item models.Item) (models.Item, error) {
	if item.Resolved {
		return item, nil
	}
	if item.VersionID != "" {
		return l.locateViaApi(item)
	}
	return l.locateViaBrowser(item)
}

// locateViaApi scans the version-scoped image listing for the item's
// asset id, falling back to a creator-scoped query when the version
// listing misses (gallery entries sometimes only surface under the
// uploader's feed).
func (l *Locator) locateViaApi(item models.Item) (models.Item, error) {
	found, err := l.scanListing(item, api.ImageQuery{
		VersionID: item.VersionID,
		PostID:    item.PostID,
		Limit:     maxPageSize,
	})
	if err != nil {
		return item, err
	}
	if found == nil && l.metadata != nil {
		if info, ok := l.metadata.Cached(item.VersionID); ok && info.Creator != "" {
			log.Debugf("Asset %s not in version listing, retrying via creator %s", item.AssetID, info.Creator)
			found, err = l.scanListing(item, api.ImageQuery{
				Username: info.Creator,
				PostID:   item.PostID,
				Limit:    maxPageSize,
			})
			if err != nil {
				return item, err
			}
		}
	}
	if found == nil {
		return item, fmt.Errorf("%w: image %s (version %s)", ErrAssetNotFound, item.AssetID, item.VersionID)
	}

	item.ResolvedURL = found.URL
	item.Resolved = true
	return item, nil
}

func (l *Locator) scanListing(item models.Item, query api.ImageQuery) (*models.ImageApiItem, error) {
	entries, err := l.images.GetImages(query)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for i := range entries {
		if strconv.Itoa(entries[i].ID) == item.AssetID {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// locateViaBrowser scrapes the item's detail page. The page also
// reveals the version id the captured URL lacked, which lets the item
// be categorized after the fact.
func (l *Locator) locateViaBrowser(item models.Item) (models.Item, error) {
	if l.fetcher == nil {
		return item, fmt.Errorf("no browser available for %s", item.SourceURL)
	}

	result, err := l.fetcher.FetchImagePage(item.SourceURL)
	if err != nil {
		if errors.Is(err, browser.ErrNoImage) {
			return item, fmt.Errorf("%w: %s", ErrAssetNotFound, item.SourceURL)
		}
		return item, err
	}

	item.ResolvedURL = result.ImageSrc
	if item.VersionID == "" && result.VersionID != "" {
		item.VersionID = result.VersionID
	}
	item.Resolved = true
	return item, nil
}
