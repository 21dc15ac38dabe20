package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingTransport wraps an http.RoundTripper and appends request and
// response details to a log file. Shared by the API client, the
// downloader, and the browser cookie check when LogApiRequests is on.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	mu        sync.Mutex
	writer    *bufio.Writer
}

// NewLoggingTransport opens logFilePath for appending and returns the
// wrapping transport.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", logFilePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	startTime := time.Now()

	reqDump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		log.WithError(err).Error("Failed to dump API request for logging")
	} else {
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s\n", startTime.Format(time.RFC3339), string(reqDump)))
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(startTime)

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (%s, Duration: %v) ---\n%s\n",
			time.Now().Format(time.RFC3339), duration, err.Error()))
		t.writer.Flush()
		return resp, err
	}

	// Only JSON bodies are worth replaying into the log; image payloads
	// would bloat it.
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			log.WithError(readErr).Error("Failed to read response body for logging")
			t.writeLog(fmt.Sprintf("--- Response (%s, Duration: %v) ---\nStatus: %s\n(body read failed)\n",
				time.Now().Format(time.RFC3339), duration, resp.Status))
		} else {
			// Restore the body so the caller can read it.
			resp.Body.Close()
			resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			headerDump, dumpErr := httputil.DumpResponse(resp, false)
			if dumpErr != nil {
				t.writeLog(fmt.Sprintf("--- Response (%s, Duration: %v) ---\nStatus: %s\n%s\n",
					time.Now().Format(time.RFC3339), duration, resp.Status, string(bodyBytes)))
			} else {
				t.writeLog(fmt.Sprintf("--- Response Headers (%s, Duration: %v) ---\n%s\n--- Response Body ---\n%s\n",
					time.Now().Format(time.RFC3339), duration, string(headerDump), string(bodyBytes)))
			}
		}
	} else {
		headerDump, dumpErr := httputil.DumpResponse(resp, false)
		if dumpErr != nil {
			t.writeLog(fmt.Sprintf("--- Response Headers (%s, Duration: %v, Type: %s) ---\nStatus: %s\n(failed to dump headers)\n",
				time.Now().Format(time.RFC3339), duration, contentType, resp.Status))
		} else {
			t.writeLog(fmt.Sprintf("--- Response Headers (%s, Duration: %v, Type: %s) ---\n%s\n(body not logged)\n",
				time.Now().Format(time.RFC3339), duration, contentType, string(headerDump)))
		}
	}

	t.writer.Flush()
	return resp, err
}

// writeLog writes a string to the buffered writer.
func (t *LoggingTransport) writeLog(logString string) {
	if _, err := t.writer.WriteString(logString + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\nLog message: %s\n", err, logString)
	}
}

// Close flushes the buffer and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	errFlush := t.writer.Flush()
	errClose := t.logFile.Close()
	if errFlush != nil {
		return fmt.Errorf("failed to flush API log buffer: %w", errFlush)
	}
	return errClose
}
