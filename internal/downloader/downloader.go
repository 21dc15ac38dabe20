// Package downloader streams resolved image URLs to disk.
package downloader

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"bringmeimage/internal/helpers"
	"bringmeimage/internal/models"

	log "github.com/sirupsen/logrus"
)

// ErrDownloadFailed is returned for any transport error or non-success
// status while fetching an image.
var ErrDownloadFailed = errors.New("download failed")

// maxStemLength caps the filename stem so deep save paths stay under
// filesystem limits.
const maxStemLength = 20

// UncategorizedDir collects items whose grouping metadata is unknown
// when categorization is on.
const UncategorizedDir = "UNCATEGORIZED"

// Result describes one stored download.
type Result struct {
	Path     string
	Filename string
	Size     uint64
}

// Downloader fetches resolved image URLs over a shared http.Client.
type Downloader struct {
	HttpClient *http.Client
}

// NewDownloader creates a Downloader sharing the given http.Client.
func NewDownloader(httpClient *http.Client) *Downloader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Downloader{HttpClient: httpClient}
}

// BuildDestDir computes the directory an item's file belongs in.
// Categorized items land under <base>/<model>/<version>/gallery;
// items without metadata share a single fallback folder.
func BuildDestDir(base string, categorize bool, info *models.VersionInfo) string {
	if !categorize {
		return base
	}
	if info == nil {
		return filepath.Join(base, UncategorizedDir, "gallery")
	}
	return filepath.Join(base,
		helpers.SanitizePathComponent(info.ModelName),
		helpers.SanitizePathComponent(info.VersionName),
		"gallery")
}

// filenameFromURL derives a filename from the final path segment of a
// resolved URL, truncating long stems while keeping the extension.
func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return ""
	}
	name = helpers.SanitizePathComponent(name)

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if len(stem) > maxStemLength {
		stem = stem[:maxStemLength]
	}
	return stem + ext
}

// createUnique opens a new file under dir, numbering the stem until a
// free name is found. O_EXCL makes each name reservation atomic, so
// concurrent downloads whose URLs share a final path segment still get
// distinct files and nothing on disk is ever overwritten.
func createUnique(dir, filename string) (*os.File, string, error) {
	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	name := filename
	for n := 1; ; n++ {
		destPath := filepath.Join(dir, name)
		f, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return f, destPath, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
		name = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
}

// DownloadImage streams the item's resolved URL into destDir. A failed
// transfer leaves whatever partial file was written; it is reported,
// not cleaned up.
func (d *Downloader) DownloadImage(destDir string, item models.Item) (Result, error) {
	if !item.Resolved || item.ResolvedURL == "" {
		return Result{}, fmt.Errorf("%w: item %s has no resolved URL", ErrDownloadFailed, item.SourceURL)
	}
	if !helpers.CheckAndMakeDir(destDir) {
		return Result{}, fmt.Errorf("%w: could not create %s", ErrDownloadFailed, destDir)
	}

	filename := filenameFromURL(item.ResolvedURL)
	if filename == "" {
		filename = helpers.SanitizePathComponent(item.AssetID)
		if filename == "_" {
			filename = "image"
		}
		filename += ".jpeg"
	}
	resp, err := d.HttpClient.Get(item.ResolvedURL)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: status %d from %s", ErrDownloadFailed, resp.StatusCode, item.ResolvedURL)
	}

	out, destPath, err := createUnique(destDir, filename)
	if err != nil {
		return Result{}, fmt.Errorf("%w: creating %s in %s: %v", ErrDownloadFailed, filename, destDir, err)
	}

	counter := &helpers.CounterWriter{Writer: out}
	_, copyErr := io.Copy(counter, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		return Result{}, fmt.Errorf("%w: writing %s: %v", ErrDownloadFailed, destPath, copyErr)
	}
	if closeErr != nil {
		return Result{}, fmt.Errorf("%w: closing %s: %v", ErrDownloadFailed, destPath, closeErr)
	}

	log.Debugf("Downloaded %s (%s)", destPath, helpers.BytesToSize(counter.Total))
	return Result{
		Path:     destPath,
		Filename: filepath.Base(destPath),
		Size:     counter.Total,
	}, nil
}
