package triage

import (
	"context"

	"go.uber.org/zap"
)

// =============================================================================
// STAGE 1 - KEYWORD FILTER
// =============================================================================

// criticalTypes are the suggestion types eligible for admission.
var criticalTypes = map[SuggestionType]bool{
	TypeBugFix:                true,
	TypeSecurityVulnerability: true,
	TypeRuntimeError:          true,
	TypeBreakingChange:        true,
	TypeLogicError:            true,
}

// nonCriticalTypes always lose, regardless of severity. This prevents
// severity inflation from smuggling style nits past the filter.
var nonCriticalTypes = map[SuggestionType]bool{
	TypePerformanceOptimization: true,
	TypeStyleImprovement:        true,
	TypeRefactorSuggestion:      true,
	TypeBestPractice:            true,
}

// Classify is the stage-1 keyword filter: a pure function of type and
// severity. Unknown types are rejected.
func Classify(s Suggestion) bool {
	if nonCriticalTypes[s.Type] {
		return false
	}
	if !criticalTypes[s.Type] {
		return false
	}
	return s.Severity == SeverityCritical || s.Severity == SeverityHigh
}

// =============================================================================
// STAGE 2 - TWO-STAGE CRITICAL FILTER
// =============================================================================

// Examiner is the stage-2 oracle. Implemented by judgment.Judge. An error
// from Examine means the verdict is inconclusive, never a rejection or an
// admission in itself; the filter treats it as fail-closed.
type Examiner interface {
	Examine(ctx context.Context, s Suggestion) (Verdict, error)
}

// CriticalFilter composes the keyword filter with an optional Examiner.
type CriticalFilter struct {
	examiner Examiner
	strict   bool // stage 2 runs on every call, not just when requested
	log      *zap.Logger
}

// NewCriticalFilter builds a two-stage filter. A nil examiner degrades the
// filter to keyword-only admission even when stage 2 is requested.
func NewCriticalFilter(examiner Examiner, strict bool, log *zap.Logger) *CriticalFilter {
	if log == nil {
		log = zap.NewNop()
	}
	return &CriticalFilter{examiner: examiner, strict: strict, log: log}
}

// Filter returns the suggestions that clear both stages, in input order.
// Stage 1 always runs. Stage 2 runs when useAI is requested (or strict mode
// forces it) and an examiner is wired; a failed examination drops the item.
func (f *CriticalFilter) Filter(ctx context.Context, suggestions []Suggestion, useAI bool) []Suggestion {
	survivors := make([]Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if Classify(s) {
			survivors = append(survivors, s)
		}
	}

	runStage2 := (useAI || f.strict) && f.examiner != nil
	if !runStage2 || len(survivors) == 0 {
		return survivors
	}

	admitted := survivors[:0]
	for _, s := range survivors {
		verdict, err := f.examiner.Examine(ctx, s)
		if err != nil {
			// Inconclusive judgments fail closed: the item is dropped,
			// the batch continues.
			f.log.Warn("stage-2 examination unavailable, dropping item",
				zap.String("file", s.FilePath),
				zap.String("type", string(s.Type)),
				zap.Error(err))
			continue
		}
		if verdict.IsCritical {
			admitted = append(admitted, s)
		}
	}
	return admitted
}
