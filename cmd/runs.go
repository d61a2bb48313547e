package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/saleslist-enrich/internal/model"
	"github.com/sells-group/saleslist-enrich/internal/store"
)

var runsOpts struct {
	jobName string
	status  string
	limit   int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the job ledger",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.Store.ListRuns(ctx, store.RunFilter{
			JobName: runsOpts.jobName,
			Status:  model.RunStatus(runsOpts.status),
			Limit:   runsOpts.limit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "UUID\tJOB\tSTATUS\tSTARTED\tDURATION\tIN\tINSERTED\tSKIPPED\tERRORS")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.ExecutionUUID, r.JobName, r.Status,
				formatTime(r.StartedAt), formatDuration(r.DurationSeconds),
				r.InputCount, r.InsertedCount, r.SkippedCount, r.ErrorCount)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <execution-uuid>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Store.GetRunByUUID(ctx, args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return eris.Errorf("run not found: %s", args[0])
		}

		fmt.Printf("execution_uuid: %s\n", run.ExecutionUUID)
		fmt.Printf("job:            %s\n", run.JobName)
		fmt.Printf("status:         %s\n", run.Status)
		fmt.Printf("sources:        %v\n", run.DataSource)
		fmt.Printf("started:        %s\n", formatTime(run.StartedAt))
		fmt.Printf("finished:       %s\n", formatTime(run.FinishedAt))
		fmt.Printf("duration:       %s\n", formatDuration(run.DurationSeconds))
		fmt.Printf("counts:         input=%d inserted=%d skipped=%d errors=%d\n",
			run.InputCount, run.InsertedCount, run.SkippedCount, run.ErrorCount)
		if len(run.SkipBreakdown) > 0 {
			fmt.Printf("skip_breakdown: %v\n", run.SkipBreakdown)
		}
		if run.ErrorSummary != "" {
			fmt.Printf("error_summary:  %s\n", run.ErrorSummary)
		}
		if run.NextScheduledFor != nil {
			fmt.Printf("next_scheduled: %s\n", run.NextScheduledFor.Format(time.RFC3339))
		}
		return nil
	},
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func formatDuration(secs *int) string {
	if secs == nil {
		return "-"
	}
	return fmt.Sprintf("%ds", *secs)
}

func init() {
	runsListCmd.Flags().StringVar(&runsOpts.jobName, "job", "", "filter by job name")
	runsListCmd.Flags().StringVar(&runsOpts.status, "status", "", "filter by status")
	runsListCmd.Flags().IntVar(&runsOpts.limit, "limit", 20, "max rows")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
