package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bringmeimage/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// gzipMagicBytes are the first two bytes of a gzip file.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// Key prefixes for the record families stored in one bitcask.
const (
	failurePrefix = "failure_"
	versionPrefix = "version_"
	historyPrefix = "history_"
)

// DB wraps the bitcask database instance and provides helper methods.
type DB struct {
	db           *bitcask.Bitcask
	sync.RWMutex // Embed mutex for concurrent access control
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Infof("Database opened successfully at %s", path)
	return &DB{db: dbInstance}, nil
}

// Close safely closes the database connection.
func (d *DB) Close() error {
	log.Info("Closing database...")
	d.Lock()
	defer d.Unlock()
	return d.db.Close()
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key and decompresses it if necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	value, err := d.db.Get(key)
	d.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}

	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair in the database.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.Lock()
	err = d.db.Put(key, compressedValue)
	d.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key from the database.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	err := d.db.Delete(key)
	d.Unlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// Fold iterates over all key-value pairs, decompresses the value,
// and calls the provided function.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	return d.db.Fold(func(key []byte) error {
		rawValue, err := d.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error getting value for key %s", string(key))
			return nil
		}

		value, err := decompressIfGzipped(rawValue)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error decompressing value for key %s", string(key))
			return nil
		}

		return fn(key, value)
	})
}

// --- Compression Helpers ---

// decompressIfGzipped decompresses the value if it is gzipped.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if bytes.HasPrefix(value, gzipMagicBytes) {
		bReader := bytes.NewReader(value)
		gReader, err := gzip.NewReader(bReader)
		if err != nil {
			log.WithError(err).Warnf("Error creating gzip reader for value, returning raw data.")
			return value, nil
		}
		defer gReader.Close()

		decompressedValue, err := io.ReadAll(gReader)
		if err != nil {
			log.WithError(err).Warnf("Error decompressing value, returning raw data.")
			return value, nil
		}
		return decompressedValue, nil
	}

	return value, nil
}

// compressGzip compresses the value using gzip with the specified compression level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	_, err = gWriter.Write(value)
	if err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	// Close *must* be called to flush buffers.
	if err = gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}

	return buf.Bytes(), nil
}

// --- Failure history helpers ---

// PutFailure records a failed item, keyed by its source URL.
func (d *DB) PutFailure(rec models.FailureRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error marshalling failure record for %s: %w", rec.SourceURL, err)
	}
	return d.Put([]byte(failurePrefix+rec.SourceURL), data)
}

// DeleteFailure removes a recorded failure, e.g. after a successful retry.
func (d *DB) DeleteFailure(sourceURL string) error {
	err := d.Delete([]byte(failurePrefix + sourceURL))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Failures returns all recorded failure records.
func (d *DB) Failures() ([]models.FailureRecord, error) {
	var records []models.FailureRecord
	err := d.Fold(func(key []byte, value []byte) error {
		if !strings.HasPrefix(string(key), failurePrefix) {
			return nil
		}
		var rec models.FailureRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			log.WithError(err).Warnf("Skipping unreadable failure record %s", string(key))
			return nil
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// --- Version metadata cache helpers ---

// GetVersionInfo retrieves a cached version resolution, if present.
func (d *DB) GetVersionInfo(versionID string) (models.VersionInfo, bool) {
	value, err := d.Get([]byte(versionPrefix + versionID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.WithError(err).Warnf("Error reading cached version info for %s", versionID)
		}
		return models.VersionInfo{}, false
	}
	var info models.VersionInfo
	if err := json.Unmarshal(value, &info); err != nil {
		log.WithError(err).Warnf("Discarding unreadable cached version info for %s", versionID)
		return models.VersionInfo{}, false
	}
	return info, true
}

// PutVersionInfo stores a version resolution for reuse by later runs.
// Version ids are content-addressed upstream, so entries never go stale.
func (d *DB) PutVersionInfo(versionID string, info models.VersionInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("error marshalling version info for %s: %w", versionID, err)
	}
	return d.Put([]byte(versionPrefix+versionID), data)
}

// --- Download history helpers ---

// PutHistory records a completed download, keyed by source URL.
func (d *DB) PutHistory(entry models.HistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error marshalling history entry for %s: %w", entry.SourceURL, err)
	}
	return d.Put([]byte(historyPrefix+entry.SourceURL), data)
}
