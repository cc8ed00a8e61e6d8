// File: internal/extraction/extractor.go
// Description: LLM-backed patch extraction. Turns a context bundle into
// candidate graph patches by prompting the model for a strict JSON batch and
// parsing it defensively. Parse failures surface the raw model output so the
// next attempt can include it as evidence.
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/llmutil"
)

// CapabilityName is what this extractor registers under in the tool registry.
const CapabilityName = "graph_mutation"

// DefaultTargetSchema is the JSON shape the model is asked to produce. It is
// injected into the system prompt verbatim.
const DefaultTargetSchema = `{
  "patches": [
    {
      "op": "add_node | update_properties | add_edge | delete_node | delete_edge",
      "node": {"label": "Project | Epic | Issue | User", "key": "<natural key>", "properties": {}},
      "edge": {"source_label": "...", "source_key": "...", "rel": "HAS_EPIC | HAS_ISSUE | ASSIGNED_TO | BLOCKS", "target_label": "...", "target_key": "..."},
      "justification": "<why this mutation follows from the request>"
    }
  ]
}`

// PatchExtractor implements schemas.Extractor on top of an LLM client.
type PatchExtractor struct {
	logger *zap.Logger
	llm    schemas.LLMClient
}

// NewPatchExtractor creates an extractor backed by the given LLM client.
func NewPatchExtractor(llm schemas.LLMClient, logger *zap.Logger) *PatchExtractor {
	return &PatchExtractor{
		logger: logger.Named("extraction"),
		llm:    llm,
	}
}

// Extract implements schemas.Extractor. A transport failure is reported as
// *schemas.CapabilityError, unusable model output as *schemas.ExtractionError.
func (e *PatchExtractor) Extract(ctx context.Context, bundle schemas.ContextBundle, targetSchema string) ([]schemas.Patch, error) {
	if targetSchema == "" {
		targetSchema = DefaultTargetSchema
	}

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt(targetSchema),
		UserPrompt:   userPrompt(bundle),
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.1,
			ForceJSONFormat: true,
		},
	}

	raw, err := e.llm.Generate(ctx, req)
	if err != nil {
		return nil, &schemas.CapabilityError{Capability: CapabilityName, Err: err}
	}

	patches, err := parsePatches(raw)
	if err != nil {
		e.logger.Warn("Model output did not parse into a patch batch",
			zap.Int("disclosure_level", bundle.DisclosureLevel),
			zap.Error(err))
		return nil, err
	}

	e.logger.Debug("Extracted patch batch",
		zap.Int("patches", len(patches)),
		zap.Int("disclosure_level", bundle.DisclosureLevel))
	return patches, nil
}

func systemPrompt(targetSchema string) string {
	var b strings.Builder
	b.WriteString("You translate project management requests into graph mutation patches.\n")
	b.WriteString("The graph holds Project, Epic, Issue and User nodes, addressed by natural key.\n")
	b.WriteString("Relationships: Project-HAS_EPIC->Epic, Epic-HAS_ISSUE->Issue, Project-HAS_ISSUE->Issue, Issue-ASSIGNED_TO->User, Issue-BLOCKS->Issue.\n")
	b.WriteString("Issue status is one of: open, in_progress, done, blocked.\n")
	b.WriteString("Reference only entities that exist or that you create earlier in the same batch.\n")
	b.WriteString("Respond with JSON matching this schema and nothing else:\n")
	b.WriteString(targetSchema)
	return b.String()
}

func userPrompt(bundle schemas.ContextBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", bundle.Goal)
	if bundle.StepDescription != "" {
		fmt.Fprintf(&b, "Current step: %s\n", bundle.StepDescription)
	}
	if bundle.Progress != "" {
		fmt.Fprintf(&b, "Progress: %s\n", bundle.Progress)
	}
	if bundle.LastError != nil {
		fmt.Fprintf(&b, "The previous attempt failed at the %s stage: %s\nProduce a corrected batch.\n",
			bundle.LastError.Stage, bundle.LastError.Message)
	}
	if len(bundle.ErrorHistory) > 0 && bundle.DisclosureLevel >= 2 {
		b.WriteString("All failures so far:\n")
		for _, e := range bundle.ErrorHistory {
			fmt.Fprintf(&b, "- [%s] %s\n", e.Code, e.Message)
		}
	}
	if len(bundle.FailurePatterns) > 0 {
		b.WriteString("Recurring failure patterns to avoid:\n")
		for _, p := range bundle.FailurePatterns {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}

// patchEnvelope matches the documented response shape. Models occasionally
// return the bare array instead; parsePatches accepts both.
type patchEnvelope struct {
	Patches []schemas.Patch `json:"patches"`
}

func parsePatches(raw string) ([]schemas.Patch, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &schemas.ExtractionError{Reason: "model returned an empty response", Raw: raw}
	}

	if envelope, err := llmutil.ParseJSON[patchEnvelope](raw); err == nil && envelope.Patches != nil {
		return finalize(envelope.Patches)
	}

	bare, err := llmutil.ParseJSON[[]schemas.Patch](raw)
	if err != nil {
		return nil, &schemas.ExtractionError{
			Reason: "model output is not a patch batch",
			Raw:    raw,
			Err:    err,
		}
	}
	return finalize(*bare)
}

// finalize stamps identity onto model-produced patches. The model is not
// trusted to mint operation ids; a fresh id per extracted patch keeps retries
// of rejected batches from colliding with the idempotency ledger.
func finalize(patches []schemas.Patch) ([]schemas.Patch, error) {
	now := time.Now().UTC()
	for i := range patches {
		patches[i].ID = uuid.NewString()
		patches[i].CreatedAt = now
	}
	return patches, nil
}
