// Package judgment wraps the external LLM-based review service behind a
// narrow interface. The pipeline treats any transport or parse failure as
// "inconclusive" via ErrUnavailable, never as a verdict.
package judgment

import (
	"context"
	"errors"

	"critgate/internal/triage"
)

// ErrUnavailable signals that the judgment service could not produce a
// usable answer. Callers must not interpret it as a verdict.
var ErrUnavailable = errors.New("judgment service unavailable")

// PerformanceSummary is the agent history handed to EvaluateAgent.
type PerformanceSummary struct {
	SuggestionsProcessed int     `json:"suggestions_processed"`
	SuggestionsCritical  int     `json:"suggestions_critical"`
	FalsePositives       int     `json:"false_positives"`
	SuccessRate          float64 `json:"success_rate"`
}

// Evaluation is the judgment service's scoring of an agent.
type Evaluation struct {
	Score            float64  `json:"score"` // 0..100
	Reasoning        string   `json:"reasoning"`
	ImprovementNotes []string `json:"improvement_notes,omitempty"`
}

// Judge is the contract with the external judgment service.
type Judge interface {
	// Examine renders a critical / not-critical verdict for one suggestion.
	Examine(ctx context.Context, s triage.Suggestion) (triage.Verdict, error)
	// EvaluateAgent scores an agent's recent performance 0..100.
	EvaluateAgent(ctx context.Context, agentID string, perf PerformanceSummary) (Evaluation, error)
	// Ask is a free-form advisory query with no state effect.
	Ask(ctx context.Context, question string) (string, error)
}

// Offline is the no-service implementation: every call reports
// ErrUnavailable, degrading the system to keyword-only filtering.
type Offline struct{}

var _ Judge = Offline{}

func (Offline) Examine(context.Context, triage.Suggestion) (triage.Verdict, error) {
	return triage.Verdict{}, ErrUnavailable
}

func (Offline) EvaluateAgent(context.Context, string, PerformanceSummary) (Evaluation, error) {
	return Evaluation{}, ErrUnavailable
}

func (Offline) Ask(context.Context, string) (string, error) {
	return "", ErrUnavailable
}
