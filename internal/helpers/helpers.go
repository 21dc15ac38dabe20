package helpers

import (
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"lukechampine.com/blake3"
)

// SanitizePathComponent makes a display name safe to use as a single
// directory component by replacing path separators with underscores.
// Other characters are kept so folder names stay recognizable.
func SanitizePathComponent(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.TrimSpace(name)
	if name == "" {
		return "_"
	}
	return name
}

// CounterWriter tracks the number of bytes written to the underlying writer.
// It's used for download progress accounting.
type CounterWriter struct {
	Total  uint64
	Writer io.Writer
}

// Write implements the io.Writer interface for CounterWriter.
func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	return n, err
}

// BytesToSize converts a byte count into a human-readable string (KB, MB, GB, etc.).
func BytesToSize(bytes uint64) string {
	sizes := []string{"B", "KB", "MB", "GB", "TB"}
	if bytes == 0 {
		return "0B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	return fmt.Sprintf("%.2f%s", float64(bytes)/math.Pow(1024, float64(i)), sizes[i])
}

// CheckAndMakeDir ensures a directory exists, creating it if necessary.
// Uses standard directory permissions (0700).
func CheckAndMakeDir(dir string) bool {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		log.WithError(err).Errorf("Error creating directory %s", dir)
		return false
	}
	return true
}

// FileBlake3 returns the lowercase hex BLAKE3-256 digest of a file on
// disk. Used to record a fingerprint of each stored download.
func FileBlake3(filepath string) (string, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return "", fmt.Errorf("reading %s for hashing: %w", filepath, err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
