// File: internal/workflow/tools.go
// Description: Explicit tool registry. Tools are registered at wiring time;
// selection is a lookup by capability, and an unknown capability is fatal
// for the run rather than retryable.
package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
)

// Registry holds the registered tools, keyed by name and indexed by the
// capability they provide.
type Registry struct {
	logger *zap.Logger

	mu           sync.RWMutex
	byName       map[string]schemas.AgentTool
	byCapability map[string]schemas.AgentTool
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:       logger.Named("tools"),
		byName:       make(map[string]schemas.AgentTool),
		byCapability: make(map[string]schemas.AgentTool),
	}
}

// Register adds a tool. A duplicate name or capability is a wiring error,
// not a silent override.
func (r *Registry) Register(tool schemas.AgentTool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("cannot register a tool without a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[tool.Name()]; exists {
		return fmt.Errorf("tool %q is already registered", tool.Name())
	}
	if existing, exists := r.byCapability[tool.Capability()]; exists {
		return fmt.Errorf("capability %q is already provided by tool %q", tool.Capability(), existing.Name())
	}
	r.byName[tool.Name()] = tool
	r.byCapability[tool.Capability()] = tool

	r.logger.Debug("Registered tool",
		zap.String("name", tool.Name()),
		zap.String("capability", tool.Capability()))
	return nil
}

// SelectForCapability returns the tool providing the capability, or
// *schemas.ToolSelectionError when none is registered.
func (r *Registry) SelectForCapability(capability string) (schemas.AgentTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.byCapability[capability]
	if !ok {
		return nil, &schemas.ToolSelectionError{Capability: capability}
	}
	return tool, nil
}

// Names lists the registered tool names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// ExtractorTool adapts a schemas.Extractor into a registrable tool.
type ExtractorTool struct {
	name       string
	capability string
	extractor  schemas.Extractor
}

// NewExtractorTool wraps an extractor under the given name and capability.
func NewExtractorTool(name, capability string, extractor schemas.Extractor) *ExtractorTool {
	return &ExtractorTool{name: name, capability: capability, extractor: extractor}
}

func (t *ExtractorTool) Name() string       { return t.name }
func (t *ExtractorTool) Capability() string { return t.capability }

func (t *ExtractorTool) Extract(ctx context.Context, bundle schemas.ContextBundle, targetSchema string) ([]schemas.Patch, error) {
	return t.extractor.Extract(ctx, bundle, targetSchema)
}
