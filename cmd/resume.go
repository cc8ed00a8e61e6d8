// File: cmd/resume.go
package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/puntini/puntini/internal/observability"
)

// newResumeCmd creates the `resume` command: re-enter an escalated run.
func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resumes an escalated run after the underlying problem was addressed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			service, cleanup, err := buildService(ctx, appConfig, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			state, err := service.Resume(ctx, args[0])
			if state != nil {
				printRunResult(cmd, state)
			}
			return err
		},
	}
}
