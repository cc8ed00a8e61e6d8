// File: cmd/runs.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/puntini/puntini/internal/observability"
)

// newRunsCmd creates the `runs` command group for inspecting persisted runs.
func newRunsCmd() *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspects persisted workflow runs",
	}

	runsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lists all persisted runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, cleanup, err := buildService(cmd.Context(), appConfig, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			states, err := service.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, state := range states {
				cmd.Printf("%s  %-10s  %s\n", state.ID, state.Status, state.Goal)
			}
			return nil
		},
	})

	runsCmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Shows one run in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			service, cleanup, err := buildService(cmd.Context(), appConfig, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := service.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRunResult(cmd, state)
			if state.EscalationReason != "" {
				cmd.Printf("escalation reason: %s\n", state.EscalationReason)
			}
			for _, e := range state.ErrorHistory {
				cmd.Printf("error [%s/%s] attempt %d: %s\n", e.Stage, e.Code, e.Attempt, e.Message)
			}
			return nil
		},
	})

	runsCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Deletes terminal runs older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, cleanup, err := buildService(cmd.Context(), appConfig, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			removed, err := service.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("removed %d run(s)\n", removed)
			return nil
		},
	})

	return runsCmd
}
