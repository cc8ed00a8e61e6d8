package cmd

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/puntini/puntini/internal/config"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	names := map[string]bool{}
	var runsCmd *cobra.Command
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
		if c.Name() == "runs" {
			runsCmd = c
		}
	}
	for _, want := range []string{"run", "resume", "runs", "status"} {
		assert.True(t, names[want], "missing %s subcommand", want)
	}

	require.NotNil(t, runsCmd)
	subNames := map[string]bool{}
	for _, c := range runsCmd.Commands() {
		subNames[c.Name()] = true
	}
	for _, want := range []string{"list", "show", "cleanup"} {
		assert.True(t, subNames[want], "missing runs %s subcommand", want)
	}
}

func TestBuildBackendsMemory(t *testing.T) {
	cfg := &config.Config{Graph: config.GraphConfig{Backend: config.GraphBackendMemory}}

	stores, cleanup, err := buildBackends(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, stores.graph)
	assert.NotNil(t, stores.runs)
	assert.NotNil(t, stores.log)

	health, err := stores.graph.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "memory", health.Backend)
}

func TestBuildBackendsRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{Graph: config.GraphConfig{Backend: "etcd"}}

	_, _, err := buildBackends(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown graph backend")
}
