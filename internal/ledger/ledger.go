// Package ledger keeps the in-memory merit-token accounts. All mutation
// happens through the Consultant; other components only read.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAgentNotRegistered is returned when an operation names an unknown agent.
var ErrAgentNotRegistered = errors.New("agent not registered")

// AgentPerformanceRecord is the per-agent rolling state.
type AgentPerformanceRecord struct {
	AgentID              string     `json:"agent_id"`
	TokensTotal          int64      `json:"tokens_total"`
	SuggestionsProcessed int        `json:"suggestions_processed"`
	SuggestionsCritical  int        `json:"suggestions_critical"`
	CriticalAccurate     int        `json:"critical_accurate"`
	FalsePositiveCount   int        `json:"false_positive_count"`
	SuccessRate          float64    `json:"success_rate"`
	FearLevel            float64    `json:"fear_level"`
	LastEvaluatedAt      *time.Time `json:"last_evaluated_at,omitempty"`
}

// TokenAward is one immutable ledger entry. Amount is the final rounded
// token delta (base x multiplier) and may be negative for penalties.
type TokenAward struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	Amount          int64     `json:"amount"`
	Reason          string    `json:"reason"`
	Multiplier      float64   `json:"multiplier"`
	EvaluationScore *float64  `json:"evaluation_score,omitempty"`
	AwardedAt       time.Time `json:"awarded_at"`
}

// Ledger is the mutable shared store of agent accounts. Every mutation is
// atomic per agent: a single lock covers each read-modify-write.
type Ledger struct {
	mu      sync.Mutex
	agents  map[string]*AgentPerformanceRecord
	history map[string][]TokenAward
	sinks   []func(TokenAward)
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		agents:  make(map[string]*AgentPerformanceRecord),
		history: make(map[string][]TokenAward),
	}
}

// OnAward registers a sink invoked after every award is committed. Sinks
// run outside the ledger lock; failures are the sink's problem.
func (l *Ledger) OnAward(fn func(TokenAward)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, fn)
}

// RegisterAgent creates a zeroed record if absent. Idempotent.
func (l *Ledger) RegisterAgent(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.agents[agentID]; !ok {
		l.agents[agentID] = &AgentPerformanceRecord{AgentID: agentID}
	}
	return nil
}

// RecordOutcome increments the agent's counters and recomputes success rate.
func (l *Ledger) RecordOutcome(agentID string, wasCritical, wasAccurate bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotRegistered, agentID)
	}

	rec.SuggestionsProcessed++
	if wasCritical {
		rec.SuggestionsCritical++
	}
	if wasCritical && wasAccurate {
		rec.CriticalAccurate++
	}
	if !wasAccurate {
		rec.FalsePositiveCount++
	}
	rec.SuccessRate = float64(rec.CriticalAccurate) / float64(rec.SuggestionsProcessed)
	return nil
}

// Award creates a TokenAward worth round(base x multiplier) tokens and
// applies it to the agent's balance. Negative awards are permitted and are
// never clamped; a balance may go negative.
func (l *Ledger) Award(agentID string, base float64, reason string, multiplier float64, score *float64) (TokenAward, error) {
	l.mu.Lock()

	rec, ok := l.agents[agentID]
	if !ok {
		l.mu.Unlock()
		return TokenAward{}, fmt.Errorf("%w: %s", ErrAgentNotRegistered, agentID)
	}

	award := TokenAward{
		ID:              uuid.NewString(),
		AgentID:         agentID,
		Amount:          int64(math.Round(base * multiplier)),
		Reason:          reason,
		Multiplier:      multiplier,
		EvaluationScore: score,
		AwardedAt:       time.Now().UTC(),
	}
	rec.TokensTotal += award.Amount
	l.history[agentID] = append(l.history[agentID], award)
	sinks := l.sinks
	l.mu.Unlock()

	for _, sink := range sinks {
		sink(award)
	}
	return award, nil
}

// ApplyEvaluation records the fear reset and evaluation timestamp. Called
// only by the Consultant after a successful evaluation.
func (l *Ledger) ApplyEvaluation(agentID string, fear float64, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotRegistered, agentID)
	}
	rec.FearLevel = fear
	t := at
	rec.LastEvaluatedAt = &t
	return nil
}

// Performance returns a snapshot of the agent's record.
func (l *Ledger) Performance(agentID string) (AgentPerformanceRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.agents[agentID]
	if !ok {
		return AgentPerformanceRecord{}, fmt.Errorf("%w: %s", ErrAgentNotRegistered, agentID)
	}
	return *rec, nil
}

// History returns the agent's award history, oldest first.
func (l *Ledger) History(agentID string) ([]TokenAward, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.agents[agentID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotRegistered, agentID)
	}
	out := make([]TokenAward, len(l.history[agentID]))
	copy(out, l.history[agentID])
	return out, nil
}

// All returns snapshots of every registered agent.
func (l *Ledger) All() []AgentPerformanceRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]AgentPerformanceRecord, 0, len(l.agents))
	for _, rec := range l.agents {
		out = append(out, *rec)
	}
	return out
}

// Leaderboard returns the topN agents by token balance.
func (l *Ledger) Leaderboard(topN int) []AgentPerformanceRecord {
	all := l.All()
	sort.Slice(all, func(i, j int) bool {
		if all[i].TokensTotal != all[j].TokensTotal {
			return all[i].TokensTotal > all[j].TokensTotal
		}
		return all[i].AgentID < all[j].AgentID
	})
	if topN > 0 && topN < len(all) {
		all = all[:topN]
	}
	return all
}

// Stats summarizes the whole ledger.
type Stats struct {
	Agents            int     `json:"agents"`
	TotalAwards       int     `json:"total_awards"`
	TotalTokensIssued int64   `json:"total_tokens_issued"`
	MeanSuccessRate   float64 `json:"mean_success_rate"`
}

// Summary returns aggregate ledger statistics.
func (l *Ledger) Summary() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{Agents: len(l.agents)}
	var rateSum float64
	for _, rec := range l.agents {
		s.TotalTokensIssued += rec.TokensTotal
		rateSum += rec.SuccessRate
	}
	for _, h := range l.history {
		s.TotalAwards += len(h)
	}
	if s.Agents > 0 {
		s.MeanSuccessRate = rateSum / float64(s.Agents)
	}
	return s
}
