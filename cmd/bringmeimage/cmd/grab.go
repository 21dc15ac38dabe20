package cmd

import (
	"github.com/spf13/cobra"
)

// grabCmd represents the grab command
var grabCmd = &cobra.Command{
	Use:   "grab [urls...]",
	Short: "Classify captured URLs and download the images they reference",
	Long: `Classifies a list of captured URLs, resolves each one to a direct
image asset, and downloads them concurrently into the save folder.

URLs are taken from the command line, from a file (one per line), or
from a previously saved session.

Examples:
  # Download two captured image pages
  bringmeimage grab "https://civitai.com/images/123?modelVersionId=456" "https://example.com/cat.png"

  # Download everything listed in a capture file, grouped by model/version
  bringmeimage grab --file captures.txt --categorize

  # Resume a saved session
  bringmeimage grab --session work.bringmeimage

  # Classify and save for later without downloading anything
  bringmeimage grab --file captures.txt --save-session work`,
	Run: runGrab,
}
