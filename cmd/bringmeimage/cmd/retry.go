package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bringmeimage/internal/models"
)

// retryCmd represents the retry command
var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run previously failed items as a fresh batch",
	Long: `Rebuilds items from the recorded failure history and runs them
through the full pipeline again. Items that succeed are removed from
the failure history; items that fail again stay recorded.`,
	Run: runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)

	retryCmd.Flags().BoolP("categorize", "k", false, "Group downloads into <model>/<version>/gallery folders.")
	retryCmd.Flags().IntP("concurrency", "c", 4, "Number of concurrent pipeline workers")
	retryCmd.Flags().BoolP("yes", "y", false, "Proceed automatically at failure decision points instead of prompting.")

	_ = viper.BindPFlag("retry.categorize", retryCmd.Flags().Lookup("categorize"))
	_ = viper.BindPFlag("retry.concurrency", retryCmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("retry.yes", retryCmd.Flags().Lookup("yes"))
}

func runRetry(cmd *cobra.Command, args []string) {
	numWorkers := viper.GetInt("retry.concurrency")
	skipConfirm := viper.GetBool("retry.yes") || globalConfig.SkipConfirmation

	categorize := globalConfig.Categorize
	if cmd.Flags().Changed("categorize") {
		categorize = viper.GetBool("retry.categorize")
	}

	if globalConfig.SavePath == "" {
		log.Fatal("Required configuration 'SavePath' is not set and --save-path flag was not provided.")
	}

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
		fmt.Println("No failed items recorded. Nothing to retry.")
		return
	}

	items := make([]models.Item, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.ToItem())
	}
	log.Infof("Retrying %d previously failed items", len(items))

	runBatch(db, items, globalConfig.SavePath, categorize, numWorkers, skipConfirm)
}
