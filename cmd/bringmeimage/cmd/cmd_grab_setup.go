package cmd

import (
	"github.com/spf13/viper"
)

func init() {
	// grabCmd is defined in grab.go
	rootCmd.AddCommand(grabCmd)

	// --- Flags for Grab Command ---
	grabCmd.Flags().StringP("file", "f", "", "File containing captured URLs, one per line.")
	grabCmd.Flags().String("session", "", "Resume a previously saved session file.")
	grabCmd.Flags().String("save-session", "", "Classify the URLs, save them as a session file, and exit without downloading.")
	grabCmd.Flags().BoolP("categorize", "k", false, "Group downloads into <model>/<version>/gallery folders (requires metadata resolution).")
	grabCmd.Flags().IntP("concurrency", "c", 4, "Number of concurrent pipeline workers")
	grabCmd.Flags().BoolP("yes", "y", false, "Proceed automatically at failure decision points instead of prompting.")

	// Bind flags to Viper
	_ = viper.BindPFlag("grab.file", grabCmd.Flags().Lookup("file"))
	_ = viper.BindPFlag("grab.session", grabCmd.Flags().Lookup("session"))
	_ = viper.BindPFlag("grab.save_session", grabCmd.Flags().Lookup("save-session"))
	_ = viper.BindPFlag("grab.categorize", grabCmd.Flags().Lookup("categorize"))
	_ = viper.BindPFlag("grab.concurrency", grabCmd.Flags().Lookup("concurrency"))
	_ = viper.BindPFlag("grab.yes", grabCmd.Flags().Lookup("yes"))
}
