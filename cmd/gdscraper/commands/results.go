package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/bus"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
	"github.com/teranos/gdscraper/message"
)

// ResultsCmd shows published outcomes
var ResultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show published outcomes",
	Long: `Show the newest outcomes published to the success topic, or to the
failure topic with --failures.

Examples:
  gdscraper results                       # Last 20 successes
  gdscraper results --failures --limit 5  # Last 5 failures`,
	RunE: runResults,
}

var (
	resultsFailures bool
	resultsLimit    int
)

func init() {
	ResultsCmd.Flags().BoolVar(&resultsFailures, "failures", false, "Show the failure topic")
	ResultsCmd.Flags().IntVar(&resultsLimit, "limit", 20, "Number of outcomes to show")
}

func runResults(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if resultsLimit <= 0 || resultsLimit > bus.MaxListLimit {
		return errors.Newf("--limit must be between 1 and %d", bus.MaxListLimit)
	}

	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	topic := cfg.Bus.OutputSuccessTopic
	if resultsFailures {
		topic = cfg.Bus.OutputFailureTopic
	}

	msgs, err := bus.New(database, logger.Logger).Latest(context.Background(), topic, resultsLimit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		pterm.Info.Printfln("No outcomes on %s", topic)
		return nil
	}

	results := make([]message.Result, 0, len(msgs))
	for _, msg := range msgs {
		result, err := message.Decode(msg)
		if err != nil {
			logger.Logger.Warnw("Skipping undecodable result", logger.FieldMessageID, msg.ID, logger.FieldError, err)
			continue
		}
		results = append(results, result)
	}

	pterm.DefaultSection.Println(topic)
	return pterm.DefaultTable.WithHasHeader().WithData(resultsTable(results)).Render()
}

// resultsTable lays out outcomes one per row, in the order given
func resultsTable(results []message.Result) pterm.TableData {
	data := pterm.TableData{{"ID", "Key", "Outcome", "Detail", "Elapsed", "Published"}}
	for _, r := range results {
		data = append(data, []string{
			fmt.Sprintf("%d", r.ID),
			r.Key,
			r.Outcome,
			resultDetail(r),
			fmt.Sprintf("%.0fms", r.Meta.MS),
			r.PublishedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return data
}

// resultDetail summarizes the payload: the failure reason, or who was scraped
// and how many resumes were stored
func resultDetail(r message.Result) string {
	switch {
	case r.Failure != nil:
		return r.Failure.Reason
	case r.Success != nil:
		u := r.Success.UserData
		name := strings.TrimSpace(u.Firstname + " " + u.Lastname)
		if name == "" {
			name = "(no name)"
		}
		return fmt.Sprintf("%s, %d resume(s)", name, len(r.Success.ResumeURLs))
	}
	return ""
}
