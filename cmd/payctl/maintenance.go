package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"payflow.app/resolver/internal/app"
	"payflow.app/resolver/internal/audit"
	"payflow.app/resolver/internal/maintenance"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/store"
)

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Archive, purge and partition jobs",
	}
	cmd.AddCommand(maintenanceRunCmd())
	cmd.AddCommand(maintenanceEnqueueCmd())
	cmd.AddCommand(partitionPlanCmd())
	return cmd
}

func kindsUsage() string {
	kinds := make([]string, len(maintenance.Kinds))
	for i, k := range maintenance.Kinds {
		kinds[i] = string(k)
	}
	return strings.Join(kinds, "|")
}

func maintenanceRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("run <%s>", kindsUsage()),
		Short: "Run a maintenance job now, in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := maintenance.ParseKind(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx, needs{db: true, redis: true})
			if err != nil {
				return err
			}
			defer e.Close()

			stores := store.NewStores(e.db.Querier())
			jobs := maintenance.NewJobs(
				stores.Archive(),
				stores.Partitions(),
				audit.NewRedisSink(e.redis, e.cfg.Redis.Prefix),
				maintenance.JobsConfigFrom(e.cfg.Maintenance),
			)

			report, runErr := jobs.Run(ctx, kind)
			if jsonOutput(cmd) {
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}
			return runErr
		},
	}
}

func maintenanceEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("enqueue <%s>", kindsUsage()),
		Short: "Queue a maintenance job for the scheduler's worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := maintenance.ParseKind(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx, needs{redis: true})
			if err != nil {
				return err
			}
			defer e.Close()

			q := app.NewQueue(e.redis, e.cfg, queue.MaintenanceQueue)
			jobID, enqueued, err := q.Enqueue(ctx, queue.NewMaintenanceTask(string(kind)))
			if err != nil {
				return err
			}
			if !enqueued {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already queued\n", jobID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", jobID)
			return nil
		},
	}
}

func partitionPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partition-plan",
		Short: "Print the monthly partitions create_partitions would ensure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ahead, _ := cmd.Flags().GetInt("months-ahead")
			plan := maintenance.MonthlyPlan(time.Now(), ahead)
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), plan)
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "PARTITION\tFROM\tTO")
			for _, p := range plan {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.From.Format(time.DateOnly), p.To.Format(time.DateOnly))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("months-ahead", 3, "Months after the current one")
	return cmd
}

func printReport(w io.Writer, r maintenance.Report) {
	fmt.Fprintf(w, "job:      %s\n", r.Kind)
	fmt.Fprintf(w, "rows:     %d\n", r.Rows)
	fmt.Fprintf(w, "batches:  %d\n", r.Batches)
	if len(r.Created) > 0 {
		fmt.Fprintf(w, "created:  %s\n", strings.Join(r.Created, ", "))
	}
	if len(r.Skipped) > 0 {
		fmt.Fprintf(w, "existing: %s\n", strings.Join(r.Skipped, ", "))
	}
}
