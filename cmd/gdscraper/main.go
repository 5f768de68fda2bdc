package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/cmd/gdscraper/commands"
	"github.com/teranos/gdscraper/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gdscraper",
	Short: "gdscraper - Glassdoor profile and resume scraper",
	Long: `gdscraper - Glassdoor profile and resume scraper.

Consumes login requests from the input topic, logs into Glassdoor with a
headless browser, retrieves the profile and resumes, stores the resumes and
publishes the outcome to the success or failure topic.

Available commands:
  run      - Start the scraper service (intake, workers, status server)
  enqueue  - Publish a scrape request to the input topic
  results  - Show published outcomes
  jobs     - Show scrape jobs and queue statistics
  am       - Manage gdscraper configuration
  db       - Manage the gdscraper database

Examples:
  gdscraper run -v                              # Start the service with job lifecycle logs
  gdscraper enqueue --email yugi@domino.jp      # Queue a scrape (password from GDSCRAPER_PASSWORD)
  gdscraper results --failures --limit 10       # Last ten failures
  gdscraper am show --format yaml               # Effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")

		configured := logger.ParseLevel("info")
		if cfg, err := am.Load(); err == nil {
			configured = logger.ParseLevel(cfg.Log.Level)
			jsonLogs = jsonLogs || cfg.Log.JSON
		}

		if err := logger.Initialize(jsonLogs, logger.VerbosityToLevel(verbosity, configured)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v job lifecycle, -vv state transitions)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.EnqueueCmd)
	rootCmd.AddCommand(commands.ResultsCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		os.Exit(1)
	}
}
