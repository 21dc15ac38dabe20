package models

type (
	Config struct {
		// Connection/Auth
		ApiKey     string `toml:"ApiKey"`
		CookieFile string `toml:"CookieFile"`

		// Paths
		SavePath       string `toml:"SavePath"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`
		ChromePath     string `toml:"ChromePath"`

		// Pipeline behavior
		Categorize       bool `toml:"Categorize"`
		Concurrency      int  `toml:"Concurrency"`
		SkipConfirmation bool `toml:"SkipConfirmation"` // answer "proceed" at failure decision points

		// Network behavior
		ApiClientTimeoutSec   int `toml:"ApiClientTimeoutSec"`
		BrowserWaitTimeoutSec int `toml:"BrowserWaitTimeoutSec"`

		// Other
		LogApiRequests bool `toml:"LogApiRequests"`
	}

	// Item is one classified, trackable reference to a candidate image.
	// SourceURL is the identity within a batch; the locator fills
	// ResolvedURL and VersionID and flips Resolved.
	Item struct {
		SourceURL   string `json:"sourceUrl"`
		ResolvedURL string `json:"resolvedUrl,omitempty"`
		VersionID   string `json:"modelVersionId,omitempty"`
		PostID      string `json:"postId,omitempty"`
		AssetID     string `json:"imageId,omitempty"`
		Resolved    bool   `json:"resolved"`
	}

	// VersionInfo is the resolved grouping metadata for one model
	// version id: the version's own name plus its parent model and
	// the model creator's handle.
	VersionInfo struct {
		VersionName string `json:"versionName"`
		ModelID     string `json:"modelId"`
		ModelName   string `json:"modelName"`
		Creator     string `json:"creator"`
	}

	// FailureRecord captures one item that could not be fully
	// processed, with enough of the original parameters to rebuild an
	// Item for a retry batch.
	FailureRecord struct {
		SourceURL   string `json:"sourceUrl"`
		VersionID   string `json:"modelVersionId,omitempty"`
		PostID      string `json:"postId,omitempty"`
		AssetID     string `json:"imageId,omitempty"`
		ModelName   string `json:"modelName,omitempty"`
		VersionName string `json:"versionName,omitempty"`
		Reason      string `json:"reason"`
	}

	// --- Civitai API response structures ---

	// VersionResponse is the subset of GET /model-versions/{id} the
	// resolver consumes.
	VersionResponse struct {
		ID      int    `json:"id"`
		ModelID int    `json:"modelId"`
		Name    string `json:"name"`
	}

	Creator struct {
		Username string `json:"username"`
		Image    string `json:"image"`
	}

	// ModelResponse is the subset of GET /models/{id} the resolver
	// consumes.
	ModelResponse struct {
		ID      int     `json:"id"`
		Name    string  `json:"name"`
		Type    string  `json:"type"`
		Creator Creator `json:"creator"`
	}

	// ImageApiItem is a single entry from the /api/v1/images listing.
	ImageApiItem struct {
		ID       int    `json:"id"`
		URL      string `json:"url"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		PostID   *int   `json:"postId"`
		Username string `json:"username"`
	}

	ImageApiResponse struct {
		Items    []ImageApiItem   `json:"items"`
		Metadata MetadataNextPage `json:"metadata"`
	}

	MetadataNextPage struct {
		NextCursor string `json:"nextCursor,omitempty"`
		NextPage   string `json:"nextPage,omitempty"`
	}

	// HistoryEntry is the database record kept for each completed
	// download, keyed by source URL.
	HistoryEntry struct {
		SourceURL   string `json:"sourceUrl"`
		ResolvedURL string `json:"resolvedUrl"`
		Filename    string `json:"filename"`
		Folder      string `json:"folder"`
		ModelName   string `json:"modelName,omitempty"`
		VersionName string `json:"versionName,omitempty"`
		Creator     string `json:"creator,omitempty"`
		BLAKE3      string `json:"blake3,omitempty"`
		Timestamp   int64  `json:"timestamp"`
		BatchID     string `json:"batchId"`
	}
)

// Failure reason codes, shared by every pipeline stage.
const (
	ReasonLookupUnreachable = "lookup_unreachable"
	ReasonAssetNotFound     = "asset_not_found"
	ReasonDownloadFailed    = "download_failed"
)

// ToItem rebuilds a working Item from a recorded failure so it can be
// re-submitted as part of a fresh batch.
func (f FailureRecord) ToItem() Item {
	return Item{
		SourceURL: f.SourceURL,
		VersionID: f.VersionID,
		PostID:    f.PostID,
		AssetID:   f.AssetID,
	}
}

// NeedsMetadata reports whether the item references a model version
// whose grouping metadata must be resolved before categorization.
func (i Item) NeedsMetadata() bool {
	return i.VersionID != ""
}
