package batch

import (
	"fmt"
	"sync"
	"testing"

	"bringmeimage/internal/api"
	"bringmeimage/internal/downloader"
	"bringmeimage/internal/locate"
	"bringmeimage/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu    sync.Mutex
	cache map[string]models.VersionInfo
	errs  map[string]error
	calls map[string]int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		cache: make(map[string]models.VersionInfo),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeResolver) Cached(versionID string) (models.VersionInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.cache[versionID]
	return info, ok
}

func (f *fakeResolver) ResolveVersion(versionID string) (models.VersionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[versionID]++
	if err, ok := f.errs[versionID]; ok {
		return models.VersionInfo{}, err
	}
	info := models.VersionInfo{
		VersionName: "v" + versionID,
		ModelID:     versionID,
		ModelName:   "model-" + versionID,
		Creator:     "artist",
	}
	f.cache[versionID] = info
	return info, nil
}

type fakeLocator struct {
	fn func(models.Item) (models.Item, error)
}

func (f *fakeLocator) Locate(item models.Item) (models.Item, error) {
	if f.fn != nil {
		return f.fn(item)
	}
	item.ResolvedURL = "https://cdn.example.com/" + item.AssetID + ".jpeg"
	item.Resolved = true
	return item, nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	fail  map[string]bool
	dests []string
}

func (f *fakeExecutor) DownloadImage(destDir string, item models.Item) (downloader.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dests = append(f.dests, destDir)
	if f.fail[item.SourceURL] {
		return downloader.Result{}, downloader.ErrDownloadFailed
	}
	return downloader.Result{Path: destDir + "/file.jpeg", Filename: "file.jpeg", Size: 10}, nil
}

func pageItem(assetID, versionID string) models.Item {
	return models.Item{
		SourceURL: fmt.Sprintf("https://civitai.com/images/%s?modelVersionId=%s", assetID, versionID),
		AssetID:   assetID,
		VersionID: versionID,
	}
}

func TestRunHappyPath(t *testing.T) {
	resolver := newFakeResolver()
	executor := &fakeExecutor{}
	c := New(resolver, &fakeLocator{}, executor, Options{SaveDir: "base", Categorize: true, Concurrency: 2})

	items := []models.Item{
		pageItem("1", "100"),
		pageItem("2", "100"), // shares a version with item 1
		{SourceURL: "https://example.com/cat.png", ResolvedURL: "https://example.com/cat.png", Resolved: true},
	}
	summary := c.Run(items)

	assert.False(t, summary.Aborted)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Len(t, summary.Downloads, 3)
	assert.Empty(t, summary.Failures)

	// One chained lookup for the shared version id, not two.
	assert.Equal(t, 1, resolver.calls["100"])

	// The generic item has no metadata and lands in the fallback dir.
	var sawUncategorized bool
	for _, dest := range executor.dests {
		if dest == downloader.BuildDestDir("base", true, nil) {
			sawUncategorized = true
		}
	}
	assert.True(t, sawUncategorized)
}

func TestMetadataFailureOffersDecision(t *testing.T) {
	resolver := newFakeResolver()
	resolver.errs["300"] = api.ErrUnreachable

	var decidedStage Stage
	var decidedFailures []models.FailureRecord
	events := make(chan Event, 64)

	c := New(resolver, &fakeLocator{}, &fakeExecutor{}, Options{
		SaveDir:     "base",
		Concurrency: 1, // deterministic dispatch order
		Events:      events,
		Decide: func(stage Stage, failures []models.FailureRecord) Decision {
			decidedStage = stage
			decidedFailures = failures
			return Proceed
		},
	})

	// Three distinct version ids; the failing one dispatches last, so
	// two lookups succeed before the stage ends with one failure.
	summary := c.Run([]models.Item{
		pageItem("1", "100"),
		pageItem("2", "200"),
		pageItem("3", "300"),
	})
	close(events)

	assert.Equal(t, StageResolvingMetadata, decidedStage)
	require.Len(t, decidedFailures, 1)
	assert.Equal(t, models.ReasonLookupUnreachable, decidedFailures[0].Reason)

	assert.False(t, summary.Aborted)
	assert.Equal(t, 2, summary.Succeeded)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "https://civitai.com/images/3?modelVersionId=300", summary.Failures[0].SourceURL)

	// The stage event carries one aggregated error, not one per task.
	var stageErrs int
	for ev := range events {
		if ev.Kind == EventStageCompleted && ev.Stage == StageResolvingMetadata && ev.Err != nil {
			stageErrs++
		}
	}
	assert.Equal(t, 1, stageErrs)
}

func TestMetadataAbortReturnsAllItems(t *testing.T) {
	resolver := newFakeResolver()
	resolver.errs["100"] = api.ErrUnreachable
	executor := &fakeExecutor{}

	c := New(resolver, &fakeLocator{}, executor, Options{
		SaveDir:     "base",
		Concurrency: 1,
		Decide: func(Stage, []models.FailureRecord) Decision {
			return Abort
		},
	})

	items := []models.Item{pageItem("1", "100"), pageItem("2", "200")}
	summary := c.Run(items)

	assert.True(t, summary.Aborted)
	assert.Equal(t, StageResolvingMetadata, summary.AbortStage)
	assert.Equal(t, items, summary.Returned)
	assert.Empty(t, executor.dests, "no download may start after an abort")
}

func TestMetadataUnreachableCancelsPendingLookups(t *testing.T) {
	resolver := newFakeResolver()
	resolver.errs["100"] = api.ErrUnreachable

	c := New(resolver, &fakeLocator{}, &fakeExecutor{}, Options{
		SaveDir:     "base",
		Concurrency: 1, // the failing id dispatches first
		Decide: func(Stage, []models.FailureRecord) Decision {
			return Proceed
		},
	})

	summary := c.Run([]models.Item{
		pageItem("1", "100"),
		pageItem("2", "200"),
		pageItem("3", "300"),
	})

	// The remaining lookups were cancelled before starting.
	assert.Equal(t, 1, resolver.calls["100"])
	assert.Equal(t, 0, resolver.calls["200"])
	assert.Equal(t, 0, resolver.calls["300"])

	// Cancelled ids fail their items too.
	assert.Len(t, summary.Failures, 3)
	assert.Equal(t, 0, summary.Succeeded)
}

func TestScrapeDiscoveredVersionIsCategorized(t *testing.T) {
	// The page scrape supplies a version id the captured URL lacked;
	// its metadata must still be resolved so the file is filed under
	// the model folder instead of the fallback dir.
	locator := &fakeLocator{fn: func(item models.Item) (models.Item, error) {
		item.ResolvedURL = "https://cdn.example.com/" + item.AssetID + ".jpeg"
		item.VersionID = "456"
		item.Resolved = true
		return item, nil
	}}
	resolver := newFakeResolver()
	executor := &fakeExecutor{}
	c := New(resolver, locator, executor, Options{SaveDir: "base", Categorize: true, Concurrency: 2})

	summary := c.Run([]models.Item{{
		SourceURL: "https://civitai.com/images/123?postId=55",
		AssetID:   "123",
		PostID:    "55",
	}})

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, resolver.calls["456"])

	want := downloader.BuildDestDir("base", true, &models.VersionInfo{
		ModelName:   "model-456",
		VersionName: "v456",
	})
	require.Len(t, executor.dests, 1)
	assert.Equal(t, want, executor.dests[0])
}

func TestLocateFailureReasons(t *testing.T) {
	locator := &fakeLocator{fn: func(item models.Item) (models.Item, error) {
		switch item.AssetID {
		case "1":
			return item, fmt.Errorf("wrapped: %w", locate.ErrAssetNotFound)
		case "2":
			return item, api.ErrUnreachable
		}
		item.ResolvedURL = "https://cdn.example.com/" + item.AssetID + ".jpeg"
		item.Resolved = true
		return item, nil
	}}

	resolver := newFakeResolver()
	c := New(resolver, locator, &fakeExecutor{}, Options{SaveDir: "base", Concurrency: 2})

	summary := c.Run([]models.Item{
		pageItem("1", "100"),
		pageItem("2", "100"),
		pageItem("3", "100"),
	})

	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failures, 2)
	reasons := map[string]string{}
	for _, f := range summary.Failures {
		reasons[f.AssetID] = f.Reason
	}
	assert.Equal(t, models.ReasonAssetNotFound, reasons["1"])
	assert.Equal(t, models.ReasonLookupUnreachable, reasons["2"])
}

func TestDownloadFailuresRecorded(t *testing.T) {
	executor := &fakeExecutor{fail: map[string]bool{
		"https://example.com/b.png": true,
	}}
	c := New(newFakeResolver(), &fakeLocator{}, executor, Options{SaveDir: "base", Concurrency: 2})

	summary := c.Run([]models.Item{
		{SourceURL: "https://example.com/a.png", ResolvedURL: "https://example.com/a.png", Resolved: true},
		{SourceURL: "https://example.com/b.png", ResolvedURL: "https://example.com/b.png", Resolved: true},
	})

	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, models.ReasonDownloadFailed, summary.Failures[0].Reason)
	assert.Equal(t, "https://example.com/b.png", summary.Failures[0].SourceURL)
}

func TestProgressInvariantUnderConcurrency(t *testing.T) {
	const n = 50

	executor := &fakeExecutor{fail: map[string]bool{}}
	items := make([]models.Item, 0, n)
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("https://example.com/%d.png", i)
		items = append(items, models.Item{SourceURL: url, ResolvedURL: url, Resolved: true})
		if i%3 == 0 {
			executor.fail[url] = true
		}
	}

	events := make(chan Event, 4*n)
	c := New(newFakeResolver(), &fakeLocator{}, executor, Options{
		SaveDir:     "base",
		Concurrency: 8,
		Events:      events,
	})
	c.Run(items)
	close(events)

	var final Progress
	for ev := range events {
		p := ev.Progress
		assert.GreaterOrEqual(t, p.Succeeded, 0)
		assert.GreaterOrEqual(t, p.Attempted, p.Succeeded)
		assert.GreaterOrEqual(t, p.Target, p.Attempted)
		if ev.Kind == EventStageCompleted && ev.Stage == StageDownloading {
			final = p
		}
	}
	assert.Equal(t, n, final.Target)
	assert.True(t, final.Complete())
	assert.Equal(t, n-len(executor.fail), final.Succeeded)
}
