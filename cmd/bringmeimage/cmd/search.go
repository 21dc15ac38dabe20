package cmd

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bringmeimage/index"
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index of downloaded images",
	Long: `Searches the Bleve index built during downloads. Fields are
queryable by their lowercase names, e.g.:

  bringmeimage search '+creatorName:someuser'
  bringmeimage search '+modelName:somemodel +versionName:v2'`,
	Args: cobra.MinimumNArgs(1),
	Run:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	indexPath := globalConfig.BleveIndexPath
	if indexPath == "" {
		log.Fatal("Required configuration 'BleveIndexPath' is not set.")
	}

	// Use Open instead of OpenOrCreateIndex to avoid creating an index
	// during search.
	bleveIndex, err := bleve.Open(indexPath)
	if err != nil {
		if err == bleve.ErrorIndexPathDoesNotExist {
			log.Fatalf("Search index not found at %s. Run 'bringmeimage grab' first to create it.", indexPath)
		}
		log.WithError(err).Fatalf("Failed to open search index at %s", indexPath)
	}
	defer func() {
		if err := bleveIndex.Close(); err != nil {
			log.WithError(err).Error("Error closing search index")
		}
	}()

	searchResults, err := index.SearchIndex(bleveIndex, query)
	if err != nil {
		log.WithError(err).Fatal("Error performing search")
	}

	log.Infof("Search finished. Hits: %d, Total: %d, Took: %s",
		len(searchResults.Hits), searchResults.Total, searchResults.Took)

	if searchResults.Total == 0 {
		fmt.Println("No results found matching your query.")
		return
	}

	fmt.Println("--- Search Results ---")
	for i, hit := range searchResults.Hits {
		fmt.Printf("[%d] ID: %s (Score: %.2f)\n", i+1, hit.ID, hit.Score)
		for field, value := range hit.Fields {
			fmt.Printf("  %s: %v\n", field, value)
		}
		fmt.Println("---")
	}
}
