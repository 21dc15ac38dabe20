// Package session persists an in-progress batch so a capture list can
// be picked up again in a later run.
package session

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"bringmeimage/internal/models"

	log "github.com/sirupsen/logrus"
)

// Extension marks saved session files.
const Extension = ".bringmeimage"

// Session is everything needed to resume a batch: the destination,
// the two capture-mode flags, and the classified items themselves.
type Session struct {
	SaveDir    string        `json:"saveDir"`
	SourceSite bool          `json:"civitaiMode"`
	Categorize bool          `json:"categorize"`
	Items      []models.Item `json:"items"`
}

// ForItems builds a Session for the working set. The source-site flag
// is derived from the items: gallery page references carry an asset
// id, plain picture-file URLs do not.
func ForItems(saveDir string, categorize bool, items []models.Item) Session {
	sourceSite := false
	for _, item := range items {
		if item.AssetID != "" {
			sourceSite = true
			break
		}
	}
	return Session{
		SaveDir:    saveDir,
		SourceSite: sourceSite,
		Categorize: categorize,
		Items:      items,
	}
}

// Save writes the session as gzipped JSON. The Extension is appended
// when the path does not already carry it.
func Save(path string, s Session) (string, error) {
	if !strings.HasSuffix(path, Extension) {
		path += Extension
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("error marshalling session: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("error compressing session: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("error compressing session: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return "", fmt.Errorf("error writing session file %s: %w", path, err)
	}
	log.Infof("Saved session with %d items to %s", len(s.Items), path)
	return path, nil
}

// Load reads a session file written by Save.
func Load(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("error reading session file %s: %w", path, err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return Session{}, fmt.Errorf("error decompressing session file %s: %w", path, err)
	}
	defer zr.Close()

	var s Session
	if err := json.NewDecoder(zr).Decode(&s); err != nil {
		return Session{}, fmt.Errorf("error parsing session file %s: %w", path, err)
	}
	return s, nil
}
