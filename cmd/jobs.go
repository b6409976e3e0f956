package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/placeforge/ingest-cli/internal/model"
	"github.com/placeforge/ingest-cli/internal/store"
)

var (
	jobsStatus string
	jobsKind   string
	jobsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage queued jobs",
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts per status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		statuses := []model.JobStatus{
			model.JobStatusPending,
			model.JobStatusProcessing,
			model.JobStatusCompleted,
			model.JobStatusFailed,
			model.JobStatusCancelled,
		}
		for _, status := range statuses {
			jobs, err := e.Store.ListJobs(ctx, store.JobFilter{Status: status, Limit: 10000})
			if err != nil {
				return err
			}
			cmd.Printf("%-12s %d\n", status, len(jobs))
		}
		return nil
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		jobs, err := e.Store.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(jobsStatus),
			Kind:   model.JobKind(jobsKind),
			Limit:  jobsLimit,
		})
		if err != nil {
			return err
		}

		for _, job := range jobs {
			line := fmt.Sprintf("%s  %-9s %-10s p%d a%d/%d",
				job.ID, job.Kind, job.Status, job.Priority, job.Attempts, job.MaxAttempts)
			if job.Error != "" {
				line += "  " + job.Error
			}
			cmd.Println(line)
		}
		cmd.Printf("%d job(s)\n", len(jobs))
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		job, err := e.Store.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(job, "", "  ")
		if err != nil {
			return err
		}
		cmd.Println(string(out))
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or processing job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Store.CancelJob(ctx, args[0]); err != nil {
			return err
		}
		cmd.Printf("cancelled %s\n", args[0])
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsListCmd.Flags().StringVar(&jobsKind, "kind", "", "filter by kind")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "maximum jobs to list")

	jobsCmd.AddCommand(jobsStatsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}
