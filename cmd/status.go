// File: cmd/status.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/puntini/puntini/internal/observability"
)

// newStatusCmd creates the `status` command: liveness and size of the
// configured graph backend.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Reports graph store health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, cleanup, err := buildBackends(cmd.Context(), appConfig, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			health, err := stores.graph.Health(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("backend: %s\nnodes: %d\nedges: %d\n", health.Backend, health.Nodes, health.Edges)
			return nil
		},
	}
}
