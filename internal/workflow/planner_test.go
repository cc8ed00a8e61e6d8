package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/extraction"
)

type cannedLLM struct {
	response string
	err      error
	lastReq  schemas.GenerationRequest
}

func (c *cannedLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	c.lastReq = req
	return c.response, c.err
}

func TestLLMPlannerParsesSteps(t *testing.T) {
	t.Parallel()
	llm := &cannedLLM{response: `{"steps": [
		{"description": "create the project", "capability": "graph_mutation"},
		{"description": "create the epic and link it"}
	]}`}
	planner := NewLLMPlanner(llm, zap.NewNop())

	steps, err := planner.Plan(context.Background(), "create project ACME with an epic")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "create the project", steps[0].Description)
	assert.Equal(t, extraction.CapabilityName, steps[1].Capability, "missing capability defaults to graph_mutation")
	assert.False(t, steps[0].Done)

	assert.Equal(t, schemas.TierFast, llm.lastReq.Tier, "planning runs on the fast tier")
	assert.True(t, llm.lastReq.Options.ForceJSONFormat)
}

func TestLLMPlannerToleratesFences(t *testing.T) {
	t.Parallel()
	llm := &cannedLLM{response: "```json\n{\"steps\": [{\"description\": \"do it\", \"capability\": \"graph_mutation\"}]}\n```"}
	planner := NewLLMPlanner(llm, zap.NewNop())

	steps, err := planner.Plan(context.Background(), "do it")
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}

func TestLLMPlannerFailures(t *testing.T) {
	t.Parallel()

	t.Run("empty goal", func(t *testing.T) {
		t.Parallel()
		planner := NewLLMPlanner(&cannedLLM{}, zap.NewNop())
		_, err := planner.Plan(context.Background(), "   ")
		require.Error(t, err)
	})

	t.Run("empty plan", func(t *testing.T) {
		t.Parallel()
		planner := NewLLMPlanner(&cannedLLM{response: `{"steps": []}`}, zap.NewNop())
		_, err := planner.Plan(context.Background(), "do nothing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty plan")
	})

	t.Run("unparseable output", func(t *testing.T) {
		t.Parallel()
		planner := NewLLMPlanner(&cannedLLM{response: "sure, here is my plan:"}, zap.NewNop())
		_, err := planner.Plan(context.Background(), "do something")
		require.Error(t, err)
	})

	t.Run("step without a description", func(t *testing.T) {
		t.Parallel()
		planner := NewLLMPlanner(&cannedLLM{response: `{"steps": [{"capability": "graph_mutation"}]}`}, zap.NewNop())
		_, err := planner.Plan(context.Background(), "do something")
		require.Error(t, err)
	})
}
