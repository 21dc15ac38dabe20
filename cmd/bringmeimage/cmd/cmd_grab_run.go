package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/google/uuid"
	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bringmeimage/index"
	"bringmeimage/internal/api"
	"bringmeimage/internal/batch"
	"bringmeimage/internal/browser"
	"bringmeimage/internal/classify"
	"bringmeimage/internal/database"
	"bringmeimage/internal/downloader"
	"bringmeimage/internal/helpers"
	"bringmeimage/internal/locate"
	"bringmeimage/internal/meta"
	"bringmeimage/internal/models"
	"bringmeimage/internal/session"
)

// runGrab classifies the captured URLs (or loads a saved session) and
// hands the resulting batch to the pipeline.
func runGrab(cmd *cobra.Command, args []string) {
	urlFile := viper.GetString("grab.file")
	sessionFile := viper.GetString("grab.session")
	saveSessionPath := viper.GetString("grab.save_session")
	numWorkers := viper.GetInt("grab.concurrency")
	skipConfirm := viper.GetBool("grab.yes") || globalConfig.SkipConfirmation

	categorize := globalConfig.Categorize
	if cmd.Flags().Changed("categorize") {
		categorize = viper.GetBool("grab.categorize")
	}

	saveDir := globalConfig.SavePath
	var items []models.Item

	if sessionFile != "" {
		sess, err := session.Load(sessionFile)
		if err != nil {
			log.WithError(err).Fatalf("Could not load session %s", sessionFile)
		}
		items = sess.Items
		categorize = sess.Categorize
		if sess.SaveDir != "" {
			saveDir = sess.SaveDir
		}
		log.Infof("Resumed session %s with %d items (gallery items: %t, categorize: %t)",
			sessionFile, len(items), sess.SourceSite, sess.Categorize)
	} else {
		rawURLs, err := collectRawURLs(args, urlFile)
		if err != nil {
			log.WithError(err).Fatal("Could not read capture list")
		}

		b := classify.NewBatch()
		for _, rawURL := range rawURLs {
			if item := b.Classify(rawURL); item != nil {
				items = append(items, *item)
			}
		}
		log.Infof("Classified %d of %d captured URLs", len(items), len(rawURLs))
	}

	if len(items) == 0 {
		log.Fatal("No usable URLs to process")
	}
	if saveDir == "" {
		log.Fatal("Required configuration 'SavePath' is not set and --save-path flag was not provided.")
	}

	if saveSessionPath != "" {
		path, err := session.Save(saveSessionPath, session.ForItems(saveDir, categorize, items))
		if err != nil {
			log.WithError(err).Fatal("Could not save session")
		}
		fmt.Printf("Saved %d items to %s. Run 'bringmeimage grab --session %s' to download them.\n", len(items), path, path)
		return
	}

	db := openDatabase(false)
	if db != nil {
		defer func() {
			if err := db.Close(); err != nil {
				log.WithError(err).Error("Error closing database")
			}
		}()
	}

	runBatch(db, items, saveDir, categorize, numWorkers, skipConfirm)
}

// collectRawURLs merges positional arguments with the lines of the
// optional capture file. Blank lines and '#' comments are skipped.
func collectRawURLs(args []string, urlFile string) ([]string, error) {
	urls := append([]string{}, args...)
	if urlFile == "" {
		return urls, nil
	}

	f, err := os.Open(urlFile)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", urlFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", urlFile, err)
	}
	return urls, nil
}

// openDatabase opens the configured bitcask database. With required
// set, a missing DatabasePath is fatal; otherwise the command runs
// without persistence.
func openDatabase(required bool) *database.DB {
	if globalConfig.DatabasePath == "" {
		if required {
			log.Fatal("Required configuration 'DatabasePath' is not set.")
		}
		log.Warn("DatabasePath not set, failure history and version cache disabled for this run")
		return nil
	}
	db, err := database.Open(globalConfig.DatabasePath)
	if err != nil {
		if required {
			log.WithError(err).Fatal("Could not open database")
		}
		log.WithError(err).Warn("Could not open database, continuing without persistence")
		return nil
	}
	return db
}

// runBatch wires the pipeline components together and drives one
// coordinator run, then persists the outcome.
func runBatch(db *database.DB, items []models.Item, saveDir string, categorize bool, numWorkers int, skipConfirm bool) {
	if globalHttpTransport == nil {
		log.Warn("Global HTTP transport not initialized, using default.")
		globalHttpTransport = http.DefaultTransport
	}
	apiHttpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(globalConfig.ApiClientTimeoutSec) * time.Second,
	}
	apiClient := api.NewClient(globalConfig.ApiKey, apiHttpClient)
	resolver := meta.NewResolver(apiClient, db)

	// The browser is only launched when some item actually needs the
	// scrape strategy.
	needsBrowser := false
	for _, item := range items {
		if !item.Resolved && item.VersionID == "" {
			needsBrowser = true
			break
		}
	}
	var fetcher browser.PageFetcher
	if needsBrowser {
		br, err := browser.Launch(browser.Options{
			ChromePath:  globalConfig.ChromePath,
			CookieFile:  globalConfig.CookieFile,
			Headless:    true,
			WaitTimeout: time.Duration(globalConfig.BrowserWaitTimeoutSec) * time.Second,
		})
		if err != nil {
			log.WithError(err).Fatal("Could not launch headless browser (needed for items without a version id)")
		}
		defer br.Close()
		fetcher = br
	}

	locator := locate.NewLocator(apiClient, fetcher, resolver)
	// Image fetches get a generous timeout independent of the API client.
	dl := downloader.NewDownloader(&http.Client{
		Transport: globalHttpTransport,
		Timeout:   10 * time.Minute,
	})

	writer := uilive.New()
	writer.Start()
	events := make(chan batch.Event, 256)
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderEvents(writer, events)
	}()

	coordinator := batch.New(resolver, locator, dl, batch.Options{
		SaveDir:     saveDir,
		Categorize:  categorize,
		Concurrency: numWorkers,
		Decide:      decisionPrompt(skipConfirm),
		Events:      events,
	})
	summary := coordinator.Run(items)
	close(events)
	<-renderDone
	writer.Stop()

	if summary.Aborted {
		handleAbort(summary, saveDir, categorize)
		return
	}

	persistResults(db, summary)

	fmt.Printf("Finished: %d attempted, %d downloaded, %d failed.\n",
		summary.Attempted, summary.Succeeded, len(summary.Failures))
	for _, f := range summary.Failures {
		name := f.ModelName
		if name == "" {
			name = "(unknown)"
		}
		fmt.Printf("  failed [%s] %s (%s)\n", f.Reason, f.SourceURL, name)
	}
	if len(summary.Failures) > 0 && db != nil {
		fmt.Println("Failed items recorded. Run 'bringmeimage retry' to re-attempt them.")
	}
}

// renderEvents drives the live progress line from coordinator events.
func renderEvents(writer *uilive.Writer, events <-chan batch.Event) {
	for ev := range events {
		switch ev.Kind {
		case batch.EventTaskCompleted:
			fmt.Fprintf(writer, "%s: %d/%d done, %d ok\n",
				ev.Progress.Label, ev.Progress.Attempted, ev.Progress.Target, ev.Progress.Succeeded)
		case batch.EventStageCompleted:
			if ev.Err != nil {
				fmt.Fprintf(writer.Bypass(), "%s finished with errors: %v\n", ev.Progress.Label, ev.Err)
			} else if ev.Progress.Target > 0 {
				fmt.Fprintf(writer.Bypass(), "%s finished: %d/%d ok\n",
					ev.Progress.Label, ev.Progress.Succeeded, ev.Progress.Target)
			}
		case batch.EventBatchCompleted:
			// Terminal summary is printed by the caller.
		}
	}
}

// decisionPrompt returns the DecideFunc consulted when a stage ends
// with failures: proceed with the partial batch or abort and keep the
// items for a later retry.
func decisionPrompt(skipConfirm bool) batch.DecideFunc {
	return func(stage batch.Stage, failures []models.FailureRecord) batch.Decision {
		if skipConfirm {
			log.Infof("%s: %d failures, proceeding automatically", stage, len(failures))
			return batch.Proceed
		}

		fmt.Printf("\n%s finished with %d failed item(s):\n", stage, len(failures))
		for _, f := range failures {
			fmt.Printf("  [%s] %s\n", f.Reason, f.SourceURL)
		}
		fmt.Print("Continue with the remaining items? [y = continue / n = abort and keep everything for retry]: ")

		reader := bufio.NewReader(os.Stdin)
		answer, err := reader.ReadString('\n')
		if err != nil {
			log.WithError(err).Warn("Could not read answer, aborting batch")
			return batch.Abort
		}
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
			return batch.Proceed
		}
		return batch.Abort
	}
}

// handleAbort saves the untouched batch so the run can be repeated.
func handleAbort(summary batch.Summary, saveDir string, categorize bool) {
	path := filepath.Join(saveDir, "aborted")
	saved, err := session.Save(path, session.ForItems(saveDir, categorize, summary.Returned))
	if err != nil {
		log.WithError(err).Error("Could not save aborted batch")
		fmt.Printf("Batch aborted during %s; %d items were NOT saved.\n", summary.AbortStage, len(summary.Returned))
		return
	}
	fmt.Printf("Batch aborted during %s. %d items saved to %s for a later run.\n",
		summary.AbortStage, len(summary.Returned), saved)
}

// persistResults records history, failures, and search-index entries
// for one completed run.
func persistResults(db *database.DB, summary batch.Summary) {
	batchID := uuid.New().String()

	bleveIndex := openIndex()
	if bleveIndex != nil {
		defer func() {
			if err := bleveIndex.Close(); err != nil {
				log.WithError(err).Error("Error closing search index")
			}
		}()
	}

	now := time.Now()
	for _, d := range summary.Downloads {
		digest, err := helpers.FileBlake3(d.Result.Path)
		if err != nil {
			log.WithError(err).Warnf("Could not hash %s", d.Result.Path)
		}

		entry := models.HistoryEntry{
			SourceURL:   d.Item.SourceURL,
			ResolvedURL: d.Item.ResolvedURL,
			Filename:    d.Result.Filename,
			Folder:      filepath.Dir(d.Result.Path),
			BLAKE3:      digest,
			Timestamp:   now.Unix(),
			BatchID:     batchID,
		}
		if d.Info != nil {
			entry.ModelName = d.Info.ModelName
			entry.VersionName = d.Info.VersionName
			entry.Creator = d.Info.Creator
		}

		if db != nil {
			if err := db.PutHistory(entry); err != nil {
				log.WithError(err).Warnf("Could not record history for %s", d.Item.SourceURL)
			}
			// A success clears any failure recorded by an earlier run.
			if err := db.DeleteFailure(d.Item.SourceURL); err != nil {
				log.WithError(err).Warnf("Could not clear old failure for %s", d.Item.SourceURL)
			}
		}

		if bleveIndex != nil {
			id := d.Item.SourceURL
			if d.Item.AssetID != "" {
				id = "img_" + d.Item.AssetID
			}
			item := index.Item{
				ID:           id,
				SourceURL:    d.Item.SourceURL,
				ResolvedURL:  d.Item.ResolvedURL,
				FilePath:     d.Result.Path,
				Folder:       entry.Folder,
				ModelName:    entry.ModelName,
				VersionName:  entry.VersionName,
				CreatorName:  entry.Creator,
				BLAKE3:       digest,
				BatchID:      batchID,
				DownloadedAt: now,
			}
			if err := index.IndexItem(bleveIndex, item); err != nil {
				log.WithError(err).Warnf("Could not index %s", d.Result.Path)
			}
		}
	}

	if db != nil {
		for _, f := range summary.Failures {
			if err := db.PutFailure(f); err != nil {
				log.WithError(err).Warnf("Could not record failure for %s", f.SourceURL)
			}
		}
	}
}

// openIndex opens the configured bleve index, or returns nil when
// indexing is disabled.
func openIndex() bleve.Index {
	if globalConfig.BleveIndexPath == "" {
		return nil
	}
	idx, err := index.OpenOrCreateIndex(globalConfig.BleveIndexPath)
	if err != nil {
		log.WithError(err).Warn("Could not open search index, skipping indexing")
		return nil
	}
	return idx
}
