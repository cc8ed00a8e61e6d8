// File: internal/contextmgr/manager.go
// Description: Adaptive context preparation for extraction attempts. The
// manager starts every run at the minimal disclosure level and widens the
// bundle only in response to failures, one level per failed attempt, up to
// the configured cap. It also turns the run's failure history into weighted
// escalation signals.
package contextmgr

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/puntini/puntini/api/schemas"
	"github.com/puntini/puntini/internal/config"
)

// Disclosure levels, lowest to highest. Levels are additive: each one
// includes everything below it.
const (
	LevelMinimal     = 0 // goal, current step, progress
	LevelWithError   = 1 // + most recent attributed error
	LevelWithHistory = 2 // + full error history
	LevelFull        = 3 // + distilled failure patterns
)

// defaultSignalWeight applies to signal kinds missing from the configured
// weighting policy.
const defaultSignalWeight = 0.5

// Manager owns disclosure progression and escalation analysis. It holds no
// per-run state; everything it needs lives in the RunState.
type Manager struct {
	logger *zap.Logger
	cfg    config.WorkflowConfig
}

// New creates a context manager with the given workflow tuning.
func New(cfg config.WorkflowConfig, logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger.Named("contextmgr"),
		cfg:    cfg,
	}
}

// PrepareContext builds the bounded context bundle for the next extraction
// attempt. The bundle is rebuilt from run state each time; callers never
// share it across attempts.
func (m *Manager) PrepareContext(state *schemas.RunState) schemas.ContextBundle {
	level := state.DisclosureLevel
	if level > m.cfg.DisclosureCap {
		level = m.cfg.DisclosureCap
	}

	bundle := schemas.ContextBundle{
		Goal:            state.Goal,
		Progress:        progressSummary(state),
		DisclosureLevel: level,
	}
	if step := state.CurrentStep(); step != nil {
		bundle.StepDescription = step.Description
	}

	if level >= LevelWithError {
		bundle.LastError = state.LastError()
	}
	if level >= LevelWithHistory {
		bundle.ErrorHistory = state.ErrorHistory
	}
	if level >= LevelFull {
		bundle.FailurePatterns = failurePatterns(state.ErrorHistory)
	}

	m.logger.Debug("Prepared context bundle",
		zap.String("run_id", state.ID),
		zap.Int("disclosure_level", level),
		zap.Int("errors", len(state.ErrorHistory)))
	return bundle
}

// EscalateDisclosure raises the run's disclosure level after a failed
// attempt. The level never decreases and never exceeds the cap.
func (m *Manager) EscalateDisclosure(state *schemas.RunState) {
	if state.DisclosureLevel < m.cfg.DisclosureCap {
		state.DisclosureLevel++
	}
}

// AnalyzeSignals derives the independent escalation signals currently
// present in the run. Each signal carries its own confidence; weighting
// happens in ShouldEscalate.
func (m *Manager) AnalyzeSignals(state *schemas.RunState) []schemas.EscalationSignal {
	var signals []schemas.EscalationSignal

	if state.RetryCount >= m.cfg.MaxRetries {
		signals = append(signals, schemas.EscalationSignal{
			Kind:       schemas.SignalRetryThreshold,
			Confidence: 1.0,
			Evidence:   fmt.Sprintf("retry count %d reached the budget of %d", state.RetryCount, m.cfg.MaxRetries),
		})
	}

	if run := identicalErrorRun(state.ErrorHistory); run >= 2 {
		confidence := 0.7
		if run >= 3 {
			confidence = 0.95
		}
		signals = append(signals, schemas.EscalationSignal{
			Kind:       schemas.SignalRepeatedError,
			Confidence: confidence,
			Evidence:   fmt.Sprintf("the last %d attempts failed with an identical error: %s", run, state.LastError().Message),
		})
	}

	if n := countByCode(state.ErrorHistory, schemas.ErrCodeGraphConstraint); n >= 2 {
		signals = append(signals, schemas.EscalationSignal{
			Kind:       schemas.SignalGraphRejection,
			Confidence: 0.8,
			Evidence:   fmt.Sprintf("%d graph constraint rejections in this run", n),
		})
	}

	if n := countByCode(state.ErrorHistory, schemas.ErrCodeCapability); n >= 2 {
		signals = append(signals, schemas.EscalationSignal{
			Kind:       schemas.SignalCapabilityFailure,
			Confidence: 0.8,
			Evidence:   fmt.Sprintf("%d capability failures in this run", n),
		})
	}

	return signals
}

// ShouldEscalate applies the configured weighting policy: the run escalates
// as soon as any single weighted signal clears the threshold. It returns the
// human-readable reason alongside.
func (m *Manager) ShouldEscalate(signals []schemas.EscalationSignal) (bool, string) {
	var reasons []string
	for _, s := range signals {
		score := m.weight(s.Kind) * s.Confidence
		if score >= m.cfg.EscalationThreshold {
			reasons = append(reasons, fmt.Sprintf("%s (score %.2f): %s", s.Kind, score, s.Evidence))
		}
	}
	if len(reasons) == 0 {
		return false, ""
	}
	return true, strings.Join(reasons, "; ")
}

func (m *Manager) weight(kind schemas.SignalKind) float64 {
	if w, ok := m.cfg.SignalWeights[string(kind)]; ok {
		return w
	}
	return defaultSignalWeight
}

// -- helpers --

func progressSummary(state *schemas.RunState) string {
	done := 0
	for _, step := range state.Plan {
		if step.Done {
			done++
		}
	}
	return fmt.Sprintf("step %d of %d (%d completed)", state.StepIndex+1, len(state.Plan), done)
}

// identicalErrorRun returns the length of the trailing run of errors sharing
// the same code and message.
func identicalErrorRun(history []schemas.AttributedError) int {
	if len(history) == 0 {
		return 0
	}
	last := history[len(history)-1]
	run := 1
	for i := len(history) - 2; i >= 0; i-- {
		if history[i].Code != last.Code || history[i].Message != last.Message {
			break
		}
		run++
	}
	return run
}

func countByCode(history []schemas.AttributedError, code schemas.ErrorCode) int {
	n := 0
	for _, e := range history {
		if e.Code == code {
			n++
		}
	}
	return n
}

// failurePatterns distills the error history into short recurring-pattern
// descriptions for the fullest disclosure level.
func failurePatterns(history []schemas.AttributedError) []string {
	if len(history) == 0 {
		return nil
	}
	counts := map[string]int{}
	order := []string{}
	for _, e := range history {
		key := fmt.Sprintf("%s at %s stage", e.Code, e.Stage)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}
	patterns := make([]string, 0, len(order))
	for _, key := range order {
		patterns = append(patterns, fmt.Sprintf("%s (%d times)", key, counts[key]))
	}
	return patterns
}
