// Package batch runs one capture list through the pipeline stages:
// metadata resolution, asset location, download. A bounded worker pool
// executes the per-item tasks while a single control loop owns the
// working item set and all progress counts.
package batch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"bringmeimage/internal/api"
	"bringmeimage/internal/downloader"
	"bringmeimage/internal/locate"
	"bringmeimage/internal/models"

	log "github.com/sirupsen/logrus"
)

// MetadataResolver is the resolver surface the coordinator needs.
type MetadataResolver interface {
	Cached(versionID string) (models.VersionInfo, bool)
	ResolveVersion(versionID string) (models.VersionInfo, error)
}

// AssetLocator resolves one item to a downloadable URL.
type AssetLocator interface {
	Locate(item models.Item) (models.Item, error)
}

// Executor fetches one resolved item into a destination directory.
type Executor interface {
	DownloadImage(destDir string, item models.Item) (downloader.Result, error)
}

// Options configures one coordinator run.
type Options struct {
	SaveDir     string
	Categorize  bool
	Concurrency int
	Decide      DecideFunc   // nil means always proceed
	Events      chan<- Event // nil disables event delivery
}

// Download records one stored file together with the grouping metadata
// it was filed under.
type Download struct {
	Item   models.Item
	Result downloader.Result
	Info   *models.VersionInfo
}

// Summary is the terminal report of a run.
type Summary struct {
	Attempted int
	Succeeded int
	Downloads []Download
	Failures  []models.FailureRecord

	// Aborted is set when a decision point chose Abort; Returned then
	// holds every original item, unprocessed, for a later retry.
	Aborted    bool
	AbortStage Stage
	Returned   []models.Item
}

// Coordinator drives the stage state machine for one batch.
type Coordinator struct {
	resolver MetadataResolver
	locator  AssetLocator
	executor Executor
	opts     Options

	failures []models.FailureRecord
}

// New creates a Coordinator.
func New(resolver MetadataResolver, locator AssetLocator, executor Executor, opts Options) *Coordinator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	return &Coordinator{
		resolver: resolver,
		locator:  locator,
		executor: executor,
		opts:     opts,
	}
}

func (c *Coordinator) emit(ev Event) {
	if c.opts.Events != nil {
		c.opts.Events <- ev
	}
}

func (c *Coordinator) decide(stage Stage, stageFailures []models.FailureRecord) Decision {
	if c.opts.Decide == nil {
		return Proceed
	}
	return c.opts.Decide(stage, stageFailures)
}

// Run processes items through every stage and returns the terminal
// summary. The input slice is not mutated.
func (c *Coordinator) Run(items []models.Item) Summary {
	original := make([]models.Item, len(items))
	copy(original, items)
	working := make([]models.Item, len(items))
	copy(working, items)
	c.failures = nil

	abort := func(stage Stage) Summary {
		log.Warnf("Batch aborted during %s, returning %d items unprocessed", stage, len(original))
		c.emit(Event{Kind: EventBatchCompleted, Stage: stage, Failures: nil})
		return Summary{Aborted: true, AbortStage: stage, Returned: original}
	}

	working, ok := c.resolveMetadataStage(working)
	if !ok {
		return abort(StageResolvingMetadata)
	}

	working, ok = c.locateAssetsStage(working)
	if !ok {
		return abort(StageLocatingAssets)
	}

	downloads, ok := c.downloadStage(working)
	if !ok {
		return abort(StageDownloading)
	}

	summary := Summary{
		Attempted: len(original),
		Succeeded: len(downloads),
		Downloads: downloads,
		Failures:  c.failures,
	}
	log.Infof("Batch complete: %d attempted, %d succeeded, %d failed",
		summary.Attempted, summary.Succeeded, len(summary.Failures))
	c.emit(Event{Kind: EventBatchCompleted, Stage: StageDone, Failures: summary.Failures})
	return summary
}

// distinctVersionIDs returns the version ids needing resolution, in
// first-seen order so dispatch is deterministic.
func distinctVersionIDs(items []models.Item) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range items {
		if !item.NeedsMetadata() {
			continue
		}
		if _, ok := seen[item.VersionID]; ok {
			continue
		}
		seen[item.VersionID] = struct{}{}
		ids = append(ids, item.VersionID)
	}
	return ids
}

type metaResult struct {
	versionID string
	err       error
	cancelled bool
}

// resolveMetadataStage resolves each distinct version id once. A
// lookup_unreachable failure cancels the not-yet-started lookups,
// since a broken network condition would fail them all, and the stage
// surfaces one aggregated error. Returns the surviving items and false
// when the decision point chose Abort.
func (c *Coordinator) resolveMetadataStage(items []models.Item) ([]models.Item, bool) {
	ids := distinctVersionIDs(items)
	if len(ids) == 0 {
		log.Debug("No items need metadata, skipping resolution stage")
		return items, true
	}

	progress := Progress{Label: StageResolvingMetadata.String(), Target: len(ids)}
	failedIDs := make(map[string]bool)

	// Cached ids complete immediately without occupying a worker.
	var pending []string
	for _, id := range ids {
		if _, ok := c.resolver.Cached(id); ok {
			progress.Attempted++
			progress.Succeeded++
			c.emit(Event{Kind: EventTaskCompleted, Stage: StageResolvingMetadata, Progress: progress, ID: id})
			continue
		}
		pending = append(pending, id)
	}

	var cancelled atomic.Bool
	jobs := make(chan string)
	results := make(chan metaResult)
	var wg sync.WaitGroup

	for w := 0; w < c.opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if cancelled.Load() {
					results <- metaResult{versionID: id, cancelled: true}
					continue
				}
				_, err := c.resolver.ResolveVersion(id)
				if err != nil && errors.Is(err, api.ErrUnreachable) {
					cancelled.Store(true)
				}
				results <- metaResult{versionID: id, err: err}
			}
		}()
	}
	go func() {
		for _, id := range pending {
			jobs <- id
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for res := range results {
		progress.Attempted++
		if res.err == nil && !res.cancelled {
			progress.Succeeded++
		} else {
			failedIDs[res.versionID] = true
			if res.err != nil && firstErr == nil {
				firstErr = res.err
			}
		}
		c.emit(Event{Kind: EventTaskCompleted, Stage: StageResolvingMetadata, Progress: progress, ID: res.versionID, Err: res.err})
	}

	var stageErr error
	if len(failedIDs) > 0 {
		stageErr = fmt.Errorf("%d of %d metadata lookups failed: %w", len(failedIDs), len(ids), firstErr)
		log.WithError(stageErr).Warn("Metadata resolution stage finished with failures")
	}
	c.emit(Event{Kind: EventStageCompleted, Stage: StageResolvingMetadata, Progress: progress, Err: stageErr})

	if len(failedIDs) == 0 {
		return items, true
	}

	// Items referencing a failed id become failure records when the
	// caller chooses to proceed with the partial batch.
	var stageFailures []models.FailureRecord
	var survivors []models.Item
	for _, item := range items {
		if item.NeedsMetadata() && failedIDs[item.VersionID] {
			stageFailures = append(stageFailures, failureFor(item, nil, models.ReasonLookupUnreachable))
			continue
		}
		survivors = append(survivors, item)
	}

	if c.decide(StageResolvingMetadata, stageFailures) == Abort {
		return nil, false
	}
	c.failures = append(c.failures, stageFailures...)
	return survivors, true
}

type locateResult struct {
	item models.Item
	err  error
}

// locateAssetsStage resolves download URLs for every unresolved item.
// Tasks return updated copies; only the control loop writes the
// working set. Browser-strategy locates serialize inside the browser
// itself, so the pool stays fully loaded with API-strategy work.
func (c *Coordinator) locateAssetsStage(items []models.Item) ([]models.Item, bool) {
	var pending []models.Item
	for _, item := range items {
		if !item.Resolved {
			pending = append(pending, item)
		}
	}
	if len(pending) == 0 {
		log.Debug("All items already resolved, skipping locate stage")
		return items, true
	}

	progress := Progress{Label: StageLocatingAssets.String(), Target: len(pending)}
	located := make(map[string]models.Item)
	failed := make(map[string]error)

	jobs := make(chan models.Item)
	results := make(chan locateResult)
	var wg sync.WaitGroup

	for w := 0; w < c.opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				updated, err := c.locator.Locate(item)
				results <- locateResult{item: updated, err: err}
			}
		}()
	}
	go func() {
		for _, item := range pending {
			jobs <- item
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		progress.Attempted++
		if res.err == nil {
			progress.Succeeded++
			located[res.item.SourceURL] = res.item
		} else {
			failed[res.item.SourceURL] = res.err
		}
		c.emit(Event{Kind: EventTaskCompleted, Stage: StageLocatingAssets, Progress: progress, ID: res.item.SourceURL, Err: res.err})
	}
	c.emit(Event{Kind: EventStageCompleted, Stage: StageLocatingAssets, Progress: progress})

	var stageFailures []models.FailureRecord
	var survivors []models.Item
	for _, item := range items {
		if updated, ok := located[item.SourceURL]; ok {
			survivors = append(survivors, updated)
			continue
		}
		if err, ok := failed[item.SourceURL]; ok {
			reason := models.ReasonLookupUnreachable
			if errors.Is(err, locate.ErrAssetNotFound) {
				reason = models.ReasonAssetNotFound
			}
			stageFailures = append(stageFailures, failureFor(item, c.infoFor(item), reason))
			continue
		}
		survivors = append(survivors, item)
	}

	if len(stageFailures) > 0 {
		log.Warnf("Asset location stage finished with %d failures", len(stageFailures))
		if c.decide(StageLocatingAssets, stageFailures) == Abort {
			return nil, false
		}
		c.failures = append(c.failures, stageFailures...)
	}
	return survivors, true
}

type downloadResult struct {
	download Download
	err      error
}

// downloadStage fetches every resolved item to disk.
func (c *Coordinator) downloadStage(items []models.Item) ([]Download, bool) {
	if len(items) == 0 {
		return nil, true
	}

	progress := Progress{Label: StageDownloading.String(), Target: len(items)}

	jobs := make(chan models.Item)
	results := make(chan downloadResult)
	var wg sync.WaitGroup

	for w := 0; w < c.opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				info := c.infoFor(item)
				destDir := downloader.BuildDestDir(c.opts.SaveDir, c.opts.Categorize, info)
				result, err := c.executor.DownloadImage(destDir, item)
				results <- downloadResult{
					download: Download{Item: item, Result: result, Info: info},
					err:      err,
				}
			}
		}()
	}
	go func() {
		for _, item := range items {
			jobs <- item
		}
		close(jobs)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var downloads []Download
	var stageFailures []models.FailureRecord
	for res := range results {
		progress.Attempted++
		if res.err == nil {
			progress.Succeeded++
			downloads = append(downloads, res.download)
		} else {
			stageFailures = append(stageFailures, failureFor(res.download.Item, res.download.Info, models.ReasonDownloadFailed))
		}
		c.emit(Event{Kind: EventTaskCompleted, Stage: StageDownloading, Progress: progress, ID: res.download.Item.SourceURL, Err: res.err})
	}
	c.emit(Event{Kind: EventStageCompleted, Stage: StageDownloading, Progress: progress})

	if len(stageFailures) > 0 {
		log.Warnf("Download stage finished with %d failures", len(stageFailures))
		if c.decide(StageDownloading, stageFailures) == Abort {
			return nil, false
		}
		c.failures = append(c.failures, stageFailures...)
	}
	return downloads, true
}

// infoFor returns the grouping metadata for an item. Version ids the
// browser scrape discovered after the metadata stage already ran are
// resolved here on demand; a failed late resolution just leaves the
// item uncategorized.
func (c *Coordinator) infoFor(item models.Item) *models.VersionInfo {
	if item.VersionID == "" {
		return nil
	}
	if info, ok := c.resolver.Cached(item.VersionID); ok {
		return &info
	}
	info, err := c.resolver.ResolveVersion(item.VersionID)
	if err != nil {
		log.WithError(err).Debugf("Could not resolve late-discovered version %s", item.VersionID)
		return nil
	}
	return &info
}

func failureFor(item models.Item, info *models.VersionInfo, reason string) models.FailureRecord {
	record := models.FailureRecord{
		SourceURL: item.SourceURL,
		VersionID: item.VersionID,
		PostID:    item.PostID,
		AssetID:   item.AssetID,
		Reason:    reason,
	}
	if info != nil {
		record.ModelName = info.ModelName
		record.VersionName = info.VersionName
	}
	return record
}
