package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/pulse/async"
)

// JobsCmd shows scrape jobs and queue statistics
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Show scrape jobs and queue statistics",
	Long: `List the most recent scrape jobs with their outcome, followed by the
job counts per status.

Examples:
  gdscraper jobs                    # Most recent 20 jobs
  gdscraper jobs --status failed    # Only failed jobs`,
	RunE: runJobs,
}

var (
	jobsStatus string
	jobsLimit  int
)

func init() {
	JobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status: queued, running, completed, failed, cancelled")
	JobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Number of jobs to show")
}

func runJobs(cmd *cobra.Command, args []string) error {
	var status *async.JobStatus
	if jobsStatus != "" {
		if !async.IsValidStatus(jobsStatus) {
			return errors.Newf("unknown job status %q", jobsStatus)
		}
		s := async.JobStatus(jobsStatus)
		status = &s
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	queue := async.NewQueue(database)
	jobs, err := queue.ListJobs(status, jobsLimit)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}
	stats, err := queue.GetStats()
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		pterm.Info.Println("No jobs")
	} else {
		if err := pterm.DefaultTable.WithHasHeader().WithData(jobsTable(jobs)).Render(); err != nil {
			return err
		}
	}

	pterm.Println()
	pterm.Printf("Queued %s  Running %s  Completed %s  Failed %s  Cancelled %s  Total %d\n",
		pterm.Yellow(stats.Queued),
		pterm.Cyan(stats.Running),
		pterm.Green(stats.Completed),
		pterm.Red(stats.Failed),
		pterm.Gray(stats.Cancelled),
		stats.Total)
	return nil
}

// jobsTable lays out jobs one per row
func jobsTable(jobs []*async.Job) pterm.TableData {
	data := pterm.TableData{{"ID", "Key", "Status", "Outcome", "Duration", "Created"}}
	for _, job := range jobs {
		outcome := job.Outcome
		if outcome == "" && job.Error != "" {
			outcome = job.Error
		}
		duration := "-"
		if job.StartedAt != nil && job.CompletedAt != nil {
			duration = job.Duration().Round(time.Millisecond).String()
		}
		data = append(data, []string{
			job.ID,
			job.Source,
			string(job.Status),
			outcome,
			duration,
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return data
}
