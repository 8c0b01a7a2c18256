package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"payflow.app/resolver/internal/app"
	"payflow.app/resolver/internal/queue"
)

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queues",
	}
	cmd.PersistentFlags().StringP("queue", "q", queue.IssueQueue, "Queue name (issues, maintenance)")
	cmd.AddCommand(queueStatsCmd())
	cmd.AddCommand(queueDLQCmd())
	return cmd
}

func queueName(cmd *cobra.Command) (string, error) {
	name, _ := cmd.Flags().GetString("queue")
	switch name {
	case queue.IssueQueue, queue.MaintenanceQueue:
		return name, nil
	}
	return "", fmt.Errorf("unknown queue %q", name)
}

func queueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show waiting, delayed, active and dead-lettered counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := queueName(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx, needs{redis: true})
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := app.NewQueue(e.redis, e.cfg, name).Stats(ctx)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			printStats(cmd.OutOrStdout(), name, stats)
			return nil
		},
	}
}

func queueDLQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "List the most recent dead-lettered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := queueName(cmd)
			if err != nil {
				return err
			}
			count, _ := cmd.Flags().GetInt64("count")

			ctx := cmd.Context()
			e, err := openEnv(ctx, needs{redis: true})
			if err != nil {
				return err
			}
			defer e.Close()

			letters, err := app.NewQueue(e.redis, e.cfg, name).DeadLetters(ctx, count)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), letters)
			}
			return printDeadLetters(cmd.OutOrStdout(), letters)
		},
	}
	cmd.Flags().Int64P("count", "n", 20, "Maximum entries")
	return cmd
}

func printStats(w io.Writer, name string, s queue.Stats) {
	fmt.Fprintf(w, "queue:        %s\n", name)
	fmt.Fprintf(w, "waiting:      %d\n", s.Waiting)
	fmt.Fprintf(w, "delayed:      %d\n", s.Delayed)
	fmt.Fprintf(w, "active:       %d\n", s.Active)
	fmt.Fprintf(w, "dead letters: %d\n", s.DeadLetters)
}

func printDeadLetters(w io.Writer, letters []queue.DeadLetter) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "FAILED AT\tJOB\tATTEMPTS\tERROR")
	for _, l := range letters {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", l.FailedAt.Format(time.RFC3339), l.JobID, l.Attempts, l.Error)
	}
	return tw.Flush()
}
