// File: internal/workflow/planner.go
// Description: LLM-backed planner. Decomposes a free-form goal into an
// ordered list of capability-tagged steps on the fast model tier; planning
// failures are fatal for the run.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/extraction"
	"github.com/puntini/puntini/internal/llmutil"
)

const plannerSystemPrompt = `You plan how to fulfil a project management request against a property graph
of Project, Epic, Issue and User entities. Decompose the request into a short
ordered list of steps. Every step must name the capability that executes it;
the only available capability is "graph_mutation". Keep plans minimal: one
step per coherent group of mutations.
Respond with JSON and nothing else:
{"steps": [{"description": "<what this step achieves>", "capability": "graph_mutation"}]}`

// LLMPlanner implements schemas.Planner on top of an LLM client.
type LLMPlanner struct {
	logger *zap.Logger
	llm    schemas.LLMClient
}

// NewLLMPlanner creates a planner backed by the given LLM client.
func NewLLMPlanner(llm schemas.LLMClient, logger *zap.Logger) *LLMPlanner {
	return &LLMPlanner{
		logger: logger.Named("planner"),
		llm:    llm,
	}
}

type planEnvelope struct {
	Steps []struct {
		Description string `json:"description"`
		Capability  string `json:"capability"`
	} `json:"steps"`
}

// Plan implements schemas.Planner.
func (p *LLMPlanner) Plan(ctx context.Context, goal string) ([]schemas.PlanStep, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, fmt.Errorf("goal must not be empty")
	}

	raw, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   "Request: " + goal,
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	envelope, err := llmutil.ParseJSON[planEnvelope](raw)
	if err != nil {
		return nil, fmt.Errorf("plan output did not parse: %w", err)
	}
	if len(envelope.Steps) == 0 {
		return nil, fmt.Errorf("the model produced an empty plan")
	}

	steps := make([]schemas.PlanStep, 0, len(envelope.Steps))
	for _, s := range envelope.Steps {
		capability := s.Capability
		if capability == "" {
			capability = extraction.CapabilityName
		}
		if strings.TrimSpace(s.Description) == "" {
			return nil, fmt.Errorf("the model produced a step without a description")
		}
		steps = append(steps, schemas.PlanStep{
			Description: s.Description,
			Capability:  capability,
		})
	}

	p.logger.Debug("Planned goal", zap.Int("steps", len(steps)))
	return steps, nil
}
