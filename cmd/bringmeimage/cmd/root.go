package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"bringmeimage/internal/api"
	"bringmeimage/internal/config"
	"bringmeimage/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// savePathFlag holds the value of the --save-path flag
var savePathFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// verboseFlag holds the value of the --verbose flag
var verboseFlag bool

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bringmeimage",
	Short: "A tool to collect and bulk-download gallery images",
	Long: `BringMeImage resolves captured image-page URLs to downloadable
assets, groups them by model and version, and downloads them
concurrently to a local folder.`,
	PersistentPreRunE: loadGlobalConfig, // Load config before any command runs
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Defer closing the API logging transport if it was initialized
	defer func() {
		if loggingTransport, ok := globalHttpTransport.(*api.LoggingTransport); ok && loggingTransport != nil {
			log.Debug("Closing API logging transport file.")
			if err := loggingTransport.Close(); err != nil {
				log.WithError(err).Error("Error closing API log file")
			}
		}
	}()

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags that apply to all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory to save images (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for API HTTP client in seconds (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}

// loadGlobalConfig attempts to load the configuration and applies flag overrides.
// It also sets up the global HTTP transport based on logging settings.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		// Not fatal; commands check the fields they need from globalConfig.
		log.WithError(err).Warnf("Failed to load configuration from %s", cfgFile)
	}

	// Override LogApiRequests if flag was used
	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
		log.Debugf("Overriding LogApiRequests based on --log-api flag: %t", logApiFlag)
	}

	// Override SavePath if flag was used
	if cmd.Flags().Changed("save-path") {
		if savePathFlag != "" {
			globalConfig.SavePath = savePathFlag
			log.Debugf("Overriding SavePath based on --save-path flag: %s", savePathFlag)
		} else {
			log.Warn("--save-path flag provided but value is empty, ignoring.")
		}
	}

	// Override ApiClientTimeoutSec if flag was used and valid
	if cmd.Flags().Changed("api-timeout") {
		if apiTimeoutFlag > 0 {
			globalConfig.ApiClientTimeoutSec = apiTimeoutFlag
			log.Debugf("Overriding ApiClientTimeoutSec based on --api-timeout flag: %d sec", apiTimeoutFlag)
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec", apiTimeoutFlag, globalConfig.ApiClientTimeoutSec)
		}
	}

	// Ensure default timeout if not set or invalid
	if globalConfig.ApiClientTimeoutSec <= 0 {
		globalConfig.ApiClientTimeoutSec = 60
	}
	if globalConfig.BrowserWaitTimeoutSec <= 0 {
		globalConfig.BrowserWaitTimeoutSec = 60
	}
	if globalConfig.Concurrency <= 0 {
		globalConfig.Concurrency = 4
	}

	// --- Setup Global HTTP Transport ---
	baseTransport := http.DefaultTransport
	globalHttpTransport = baseTransport
	if globalConfig.LogApiRequests {
		log.Debug("API request logging enabled, wrapping global HTTP transport.")
		logFilePath := "api.log"
		if globalConfig.SavePath != "" {
			if _, statErr := os.Stat(globalConfig.SavePath); statErr == nil {
				logFilePath = filepath.Join(globalConfig.SavePath, logFilePath)
			} else {
				log.Warnf("SavePath '%s' not found, saving api.log to current directory.", globalConfig.SavePath)
			}
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}

	return nil
}
