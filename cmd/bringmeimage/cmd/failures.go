package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// failuresCmd represents the failures command
var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List items that failed in previous runs",
	Run:   runFailures,
}

func init() {
	rootCmd.AddCommand(failuresCmd)
}

func runFailures(cmd *cobra.Command, args []string) {
	db := openDatabase(true)
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("Error closing database")
		}
	}()

	records, err := db.Failures()
	if err != nil {
		log.WithError(err).Fatal("Could not read failure history")
	}
	if len(records) == 0 {
		fmt.Println("No failed items recorded.")
		return
	}

	fmt.Printf("%d failed item(s):\n", len(records))
	for _, rec := range records {
		name := rec.ModelName
		if name != "" && rec.VersionName != "" {
			name = name + " / " + rec.VersionName
		}
		if name == "" {
			name = "(unknown)"
		}
		fmt.Printf("  [%s] %s (%s)\n", rec.Reason, rec.SourceURL, name)
	}
	fmt.Println("Run 'bringmeimage retry' to re-attempt them.")
}
