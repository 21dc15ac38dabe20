package index

import (
	"log"
	"os"
	"time"

	"github.com/blevesearch/bleve/v2"
)

const defaultIndexPath = "bringmeimage.bleve"

// Item represents one downloaded image in the search index.
// All fields are indexed and searchable using their lowercase JSON tag
// names (e.g., query '+creatorName:someuser' or '+modelName:somemodel').
type Item struct {
	ID           string    `json:"id"`                    // Unique ID (img_<image_id> or the source URL for generic files)
	SourceURL    string    `json:"sourceUrl"`             // The captured page or file URL
	ResolvedURL  string    `json:"resolvedUrl,omitempty"` // The direct asset URL that was downloaded
	FilePath     string    `json:"filePath"`              // Path where the image is stored
	Folder       string    `json:"folder,omitempty"`      // Directory containing the file
	ModelName    string    `json:"modelName,omitempty"`   // Name of the parent model
	VersionName  string    `json:"versionName,omitempty"` // Name of the model version
	CreatorName  string    `json:"creatorName,omitempty"` // Username of the creator
	BLAKE3       string    `json:"blake3,omitempty"`      // Content fingerprint of the stored file
	BatchID      string    `json:"batchId,omitempty"`     // Run the download belonged to
	DownloadedAt time.Time `json:"downloadedAt,omitempty"`
}

// OpenOrCreateIndex opens an existing Bleve index or creates a new one if it doesn't exist.
func OpenOrCreateIndex(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Printf("Creating new index at: %s", indexPath)
		mapping := bleve.NewIndexMapping()
		index, err = bleve.New(indexPath, mapping)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err // Other error opening index
	} else {
		log.Printf("Opened existing index at: %s", indexPath)
	}
	return index, nil
}

// IndexItem adds or updates an item in the Bleve index.
func IndexItem(index bleve.Index, item Item) error {
	return index.Index(item.ID, item)
}

// SearchIndex performs a search query against the index.
func SearchIndex(index bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"} // Request all stored fields
	searchResults, err := index.Search(searchRequest)
	if err != nil {
		return nil, err
	}
	return searchResults, nil
}

// DeleteIndex removes the index directory. Use with caution!
func DeleteIndex(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Printf("Attempting to delete index at: %s", indexPath)
	return os.RemoveAll(indexPath)
}
