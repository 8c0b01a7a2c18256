package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"payflow.app/resolver/internal/audit"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit stream",
	}
	cmd.AddCommand(auditTailCmd())
	return cmd
}

func auditTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt64("count")

			ctx := cmd.Context()
			e, err := openEnv(ctx, needs{redis: true})
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := audit.NewRedisSink(e.redis, e.cfg.Redis.Prefix).Recent(ctx, count)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return printAudit(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().Int64P("count", "n", 20, "Maximum records")
	return cmd
}

func printAudit(w io.Writer, entries []audit.Entry) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "AT\tACTION\tISSUE\tFROM\tTO\tACTOR\tREASON")
	for _, e := range entries {
		issue := "-"
		if e.IssueID != 0 {
			issue = fmt.Sprint(e.IssueID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Format(time.RFC3339), e.Action, issue, e.From, e.To, e.Actor, e.Reason)
	}
	return tw.Flush()
}
