package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"payflow.app/resolver/common/id"
	"payflow.app/resolver/internal/app"
	"payflow.app/resolver/internal/audit"
	"payflow.app/resolver/internal/model"
	"payflow.app/resolver/internal/queue"
	"payflow.app/resolver/internal/service"
	"payflow.app/resolver/internal/store"
)

func issuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Find and recover stuck issues",
	}
	cmd.AddCommand(issuesStaleCmd())
	cmd.AddCommand(issuesRequeueCmd())
	return cmd
}

func openIssueService(cmd *cobra.Command) (service.IssueService, *env, error) {
	e, err := openEnv(cmd.Context(), needs{db: true, redis: true})
	if err != nil {
		return nil, nil, err
	}
	svc := service.NewIssueService(
		store.NewStores(e.db.Querier()),
		service.NewTxRunner(e.db),
		app.NewQueue(e.redis, e.cfg, queue.IssueQueue),
		audit.NewRedisSink(e.redis, e.cfg.Redis.Prefix),
	)
	return svc, e, nil
}

func issuesStaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List issues stuck in one status, optionally requeueing pending ones",
		Long: `List issues whose status has not changed for longer than --older-than.

Pending issues whose job was dead-lettered stay pending with an elevated
retry count; --requeue puts each listed pending issue back on the queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			limit, _ := cmd.Flags().GetInt("limit")
			requeue, _ := cmd.Flags().GetBool("requeue")
			if requeue && model.IssueStatus(status) != model.IssueStatusPending {
				return fmt.Errorf("--requeue only applies to pending issues")
			}

			svc, e, err := openIssueService(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			issues, err := svc.ListStale(ctx, model.IssueStatus(status), olderThan, limit)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				if err := writeJSON(cmd.OutOrStdout(), issues); err != nil {
					return err
				}
			} else if err := printIssues(cmd.OutOrStdout(), issues); err != nil {
				return err
			}

			if !requeue {
				return nil
			}
			requeued := 0
			for _, issue := range issues {
				ok, err := svc.Requeue(ctx, issue.ID, "")
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "issue %d: %v\n", issue.ID, err)
					continue
				}
				if ok {
					requeued++
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "requeued %d of %d issues\n", requeued, len(issues))
			return nil
		},
	}
	cmd.Flags().String("status", string(model.IssueStatusPending), "Status to scan (pending, processing, awaiting_review)")
	cmd.Flags().Duration("older-than", time.Hour, "Minimum time since the last status change")
	cmd.Flags().Int("limit", 100, "Maximum issues")
	cmd.Flags().Bool("requeue", false, "Requeue every listed pending issue")
	return cmd
}

func issuesRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <issue-id>",
		Short: "Put a pending issue back on the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issueID, err := id.Parse(args[0])
			if err != nil {
				return err
			}

			svc, e, err := openIssueService(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			requeued, err := svc.Requeue(cmd.Context(), issueID, "")
			if err != nil {
				return err
			}
			if requeued {
				fmt.Fprintf(cmd.OutOrStdout(), "issue %d requeued\n", issueID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "issue %d already queued\n", issueID)
			}
			return nil
		},
	}
}

func printIssues(w io.Writer, issues []model.Issue) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPRIORITY\tRETRIES\tUPDATED")
	for _, i := range issues {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
			i.ID, i.Type, i.Status, i.Priority, i.RetryCount, i.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
