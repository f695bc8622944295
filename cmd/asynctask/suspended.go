package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/deepnoodle-ai/asynctask"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newSuspendedCmd(root *rootOptions) *cobra.Command {
	var (
		olderThan time.Duration
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "suspended",
		Short: "List executions waiting for a signal",
		Long: `Suspended lists the executions in the configured store that are parked in
a dispatched wait state, longest waiting first. Executions waiting for longer
than expected may have lost their completion signal.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Store.Persistent() {
				return fmt.Errorf("listing suspended executions needs a persistent store, store.driver is %q", cfg.Store.Driver)
			}
			st, err := openStore(cmd.Context(), root.fs, cfg.Store, slog.New(slog.DiscardHandler))
			if err != nil {
				return err
			}
			defer st.close()

			summaries, err := st.checkpointer.ListExecutions(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now()
			waiting := asynctask.FilterWaiting(summaries, olderThan, now)
			if asJSON {
				data, err := json.MarshalIndent(waiting, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			printSuspended(cmd.OutOrStdout(), waiting, now)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only list executions waiting at least this long")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the executions as JSON")
	return cmd
}

func printSuspended(out io.Writer, summaries []*asynctask.ExecutionSummary, now time.Time) {
	if len(summaries) == 0 {
		color.New(color.FgGreen).Fprintln(out, "No suspended executions")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTION\tPROCESS\tSTEP\tDISPATCHED\tWAITING")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.ExecutionID,
			s.WorkflowName,
			s.CurrentStep,
			s.DispatchedAt.Format(time.RFC3339),
			s.WaitingFor(now).Round(time.Second))
	}
	w.Flush()
}
