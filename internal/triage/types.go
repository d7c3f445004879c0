// Package triage defines the suggestion model and the critical-only
// filtering that decides which machine-generated review suggestions are
// worth forwarding downstream.
package triage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SUGGESTION MODEL
// =============================================================================

// SuggestionType categorizes what kind of issue a suggestion flags.
type SuggestionType string

const (
	TypeBugFix                  SuggestionType = "bug_fix"
	TypeSecurityVulnerability   SuggestionType = "security_vulnerability"
	TypeRuntimeError            SuggestionType = "runtime_error"
	TypeBreakingChange          SuggestionType = "breaking_change"
	TypeLogicError              SuggestionType = "logic_error"
	TypePerformanceOptimization SuggestionType = "performance_optimization"
	TypeStyleImprovement        SuggestionType = "style_improvement"
	TypeRefactorSuggestion      SuggestionType = "refactor_suggestion"
	TypeBestPractice            SuggestionType = "best_practice"
)

// Severity is the ordered severity scale for a suggestion.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// severityRank orders severities for priority derivation. Higher is worse.
var severityRank = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:     4,
	SeverityMedium:   3,
	SeverityLow:      2,
	SeverityInfo:     1,
}

// Rank returns the numeric ordering of a severity, 0 for unknown values.
func (s Severity) Rank() int { return severityRank[s] }

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool { return severityRank[s] > 0 }

var knownTypes = map[SuggestionType]bool{
	TypeBugFix:                  true,
	TypeSecurityVulnerability:   true,
	TypeRuntimeError:            true,
	TypeBreakingChange:          true,
	TypeLogicError:              true,
	TypePerformanceOptimization: true,
	TypeStyleImprovement:        true,
	TypeRefactorSuggestion:      true,
	TypeBestPractice:            true,
}

// Valid reports whether the type is part of the known taxonomy.
func (t SuggestionType) Valid() bool { return knownTypes[t] }

// Suggestion is one flagged code issue. It is immutable once constructed;
// nothing in the pipeline mutates a suggestion after ingestion.
type Suggestion struct {
	Type         SuggestionType    `json:"type"`
	Severity     Severity          `json:"severity"`
	FilePath     string            `json:"file_path"`
	LineStart    int               `json:"line_start"`
	LineEnd      int               `json:"line_end,omitempty"`
	CodeSnippet  string            `json:"code_snippet,omitempty"`
	Description  string            `json:"description"`
	SuggestedFix string            `json:"suggested_fix,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ErrInvalidSuggestion is returned when a suggestion fails boundary validation.
type ErrInvalidSuggestion struct {
	Reason string
}

func (e *ErrInvalidSuggestion) Error() string {
	return fmt.Sprintf("invalid suggestion: %s", e.Reason)
}

// Validate checks a suggestion at the ingestion boundary.
func (s Suggestion) Validate() error {
	if !s.Type.Valid() {
		return &ErrInvalidSuggestion{Reason: fmt.Sprintf("unknown type %q", s.Type)}
	}
	if !s.Severity.Valid() {
		return &ErrInvalidSuggestion{Reason: fmt.Sprintf("unknown severity %q", s.Severity)}
	}
	if s.Description == "" {
		return &ErrInvalidSuggestion{Reason: "description is required"}
	}
	if s.LineStart < 0 || (s.LineEnd != 0 && s.LineEnd < s.LineStart) {
		return &ErrInvalidSuggestion{Reason: "line range is malformed"}
	}
	return nil
}

// Verdict is the stage-2 judgment for a single suggestion.
type Verdict struct {
	IsCritical     bool    `json:"is_critical"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
	Recommendation string  `json:"recommendation"`
}

// =============================================================================
// CHANNELS AND BINS
// =============================================================================

// Channel is a named routing path with its own filter criteria.
type Channel struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	FilterCriteria map[string]string `json:"filter_criteria,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewChannel creates a channel with a generated id.
func NewChannel(name, description string, criteria map[string]string) Channel {
	return Channel{
		ID:             uuid.NewString(),
		Name:           name,
		Description:    description,
		FilterCriteria: criteria,
		CreatedAt:      time.Now().UTC(),
	}
}

// BinStatus is the lifecycle state of a bin.
type BinStatus string

const (
	BinOpen      BinStatus = "open"
	BinForwarded BinStatus = "forwarded"
)

// Bin groups suggestions that survived filtering, scoped to one channel.
// Once Status is BinForwarded its suggestion list is frozen.
type Bin struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Name        string       `json:"name,omitempty"`
	Suggestions []Suggestion `json:"suggestions"`
	Status      BinStatus    `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}

// NewBin creates an open bin for the given channel.
func NewBin(channelID, name string) *Bin {
	return &Bin{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Name:      name,
		Status:    BinOpen,
		CreatedAt: time.Now().UTC(),
	}
}

// Priority is the highest severity among contained suggestions, or
// SeverityInfo for an empty bin.
func (b *Bin) Priority() Severity {
	best := SeverityInfo
	for _, s := range b.Suggestions {
		if s.Severity.Rank() > best.Rank() {
			best = s.Severity
		}
	}
	return best
}

// Clone returns a deep copy safe to hand to downstream callbacks.
func (b *Bin) Clone() Bin {
	cp := *b
	cp.Suggestions = make([]Suggestion, len(b.Suggestions))
	copy(cp.Suggestions, b.Suggestions)
	return cp
}
