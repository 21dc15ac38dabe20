// Package meta resolves model version ids to grouping metadata.
package meta

import (
	"strconv"
	"sync"

	"bringmeimage/internal/database"
	"bringmeimage/internal/models"

	log "github.com/sirupsen/logrus"
)

// VersionClient is the API surface the resolver needs.
type VersionClient interface {
	GetModelVersion(versionID string) (models.VersionResponse, error)
	GetModel(modelID string) (models.ModelResponse, error)
}

// Resolver resolves version ids through two chained API lookups and
// caches the result so items sharing an id cost one lookup pair per
// batch. An optional database gives the cache write-through
// persistence across runs; version ids are stable, so entries are
// never invalidated.
type Resolver struct {
	client VersionClient
	db     *database.DB

	mu    sync.RWMutex
	cache map[string]models.VersionInfo
}

// NewResolver creates a Resolver. db may be nil to keep the cache
// in-memory only.
func NewResolver(client VersionClient, db *database.DB) *Resolver {
	return &Resolver{
		client: client,
		db:     db,
		cache:  make(map[string]models.VersionInfo),
	}
}

// Cached returns the resolution for versionID if one is already known,
// checking memory first and then the persistent cache.
func (r *Resolver) Cached(versionID string) (models.VersionInfo, bool) {
	r.mu.RLock()
	info, ok := r.cache[versionID]
	r.mu.RUnlock()
	if ok {
		return info, true
	}

	if r.db != nil {
		if info, ok := r.db.GetVersionInfo(versionID); ok {
			r.mu.Lock()
			r.cache[versionID] = info
			r.mu.Unlock()
			return info, true
		}
	}
	return models.VersionInfo{}, false
}

// ResolveVersion resolves versionID to full grouping metadata. Both
// chained lookups must succeed; nothing partial is ever cached.
func (r *Resolver) ResolveVersion(versionID string) (models.VersionInfo, error) {
	if info, ok := r.Cached(versionID); ok {
		return info, nil
	}

	version, err := r.client.GetModelVersion(versionID)
	if err != nil {
		return models.VersionInfo{}, err
	}

	modelID := strconv.Itoa(version.ModelID)
	model, err := r.client.GetModel(modelID)
	if err != nil {
		return models.VersionInfo{}, err
	}

	info := models.VersionInfo{
		VersionName: version.Name,
		ModelID:     modelID,
		ModelName:   model.Name,
		Creator:     model.Creator.Username,
	}

	// Concurrent resolutions of the same id produce equivalent values,
	// so last-write-wins is safe.
	r.mu.Lock()
	r.cache[versionID] = info
	r.mu.Unlock()

	if r.db != nil {
		if err := r.db.PutVersionInfo(versionID, info); err != nil {
			log.WithError(err).Warnf("Failed to persist version info for %s", versionID)
		}
	}

	log.Debugf("Resolved version %s: %s / %s (by %s)", versionID, info.ModelName, info.VersionName, info.Creator)
	return info, nil
}
