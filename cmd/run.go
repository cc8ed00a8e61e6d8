// File: cmd/run.go
package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/observability"
)

// newRunCmd creates the `run` command: execute one goal to a terminal state.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <request...>",
		Short: "Executes a natural language project request against the graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Signal-aware context so Ctrl-C settles the run as cancelled at
			// the next stage boundary instead of killing it mid-batch.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := observability.GetLogger()
			service, cleanup, err := buildService(ctx, appConfig, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			goal := strings.Join(args, " ")
			state, err := service.Run(ctx, goal)
			if state != nil {
				printRunResult(cmd, state)
			}
			if err != nil {
				logger.Warn("Run did not complete", zap.Error(err))
			}
			if state != nil && state.Status == schemas.RunEscalated {
				return fmt.Errorf("run %s escalated; resolve the issue and resume it", state.ID)
			}
			return nil
		},
	}
}

func printRunResult(cmd *cobra.Command, state *schemas.RunState) {
	cmd.Printf("run: %s\nstatus: %s\n", state.ID, state.Status)
	if state.Answer != "" {
		cmd.Println(state.Answer)
	}
}
