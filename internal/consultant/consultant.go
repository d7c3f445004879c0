// Package consultant orchestrates agent merit evaluation: it asks the
// judgment service to score an agent, converts the score into a token
// award, and maintains the agent's fear level between evaluations.
package consultant

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"critgate/internal/judgment"
	"critgate/internal/ledger"
	"critgate/internal/triage"
)

// Config holds the scoring and fear-curve parameters.
type Config struct {
	BaseTokenAmount     int
	ExcellentThreshold  float64
	AcceptableThreshold float64
	MaxMultiplier       float64
	FearRisePerHour     float64
	FearReductionFactor float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		BaseTokenAmount:     100,
		ExcellentThreshold:  90,
		AcceptableThreshold: 60,
		MaxMultiplier:       2.0,
		FearRisePerHour:     0.1,
		FearReductionFactor: 1.0,
	}
}

// FearState buckets an agent's fear level.
type FearState string

const (
	FearConfident FearState = "confident" // fear < 0.5
	FearNormal    FearState = "normal"    // 0.5 <= fear < 1.0
	FearAnxious   FearState = "anxious"   // 1.0 <= fear < 2.0
	FearTerrified FearState = "terrified" // fear >= 2.0
)

// FearStateOf maps a fear level to its state.
func FearStateOf(fear float64) FearState {
	switch {
	case fear < 0.5:
		return FearConfident
	case fear < 1.0:
		return FearNormal
	case fear < 2.0:
		return FearAnxious
	default:
		return FearTerrified
	}
}

// EvaluationResult is the composite outcome of one agent evaluation.
type EvaluationResult struct {
	AgentID     string                        `json:"agent_id"`
	Evaluation  judgment.Evaluation           `json:"evaluation"`
	Award       ledger.TokenAward             `json:"award"`
	Performance ledger.AgentPerformanceRecord `json:"performance"`
	FearLevel   float64                       `json:"fear_level"`
	FearState   FearState                     `json:"fear_state"`
}

// Consultant is the only writer of token awards and fear levels.
type Consultant struct {
	judge  judgment.Judge
	ledger *ledger.Ledger
	cfg    Config
	log    *zap.Logger
	clock  func() time.Time

	// Serializes evaluations so two passes over the same agent can never
	// interleave their read-modify-write of tokens or fear.
	evalMu sync.Mutex
}

// New creates a consultant.
func New(judge judgment.Judge, lg *ledger.Ledger, cfg Config, log *zap.Logger) *Consultant {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consultant{
		judge:  judge,
		ledger: lg,
		cfg:    cfg,
		log:    log,
		clock:  time.Now,
	}
}

// Ledger exposes the consultant's ledger for read-only queries.
func (c *Consultant) Ledger() *ledger.Ledger { return c.ledger }

// fearAt projects the stored fear level forward: fear rises linearly with
// hours elapsed since the last evaluation.
func (c *Consultant) fearAt(rec ledger.AgentPerformanceRecord, now time.Time) float64 {
	fear := rec.FearLevel
	if rec.LastEvaluatedAt != nil {
		elapsed := now.Sub(*rec.LastEvaluatedAt).Hours()
		if elapsed > 0 {
			fear += elapsed * c.cfg.FearRisePerHour
		}
	}
	return fear
}

// CurrentFear returns the agent's effective fear level right now.
func (c *Consultant) CurrentFear(agentID string) (float64, FearState, error) {
	rec, err := c.ledger.Performance(agentID)
	if err != nil {
		return 0, "", err
	}
	fear := c.fearAt(rec, c.clock())
	return fear, FearStateOf(fear), nil
}

// bracket maps an evaluation score to base tokens and multiplier. Brackets
// are evaluated top-down with >=, first match wins.
func (c *Consultant) bracket(score float64) (float64, float64) {
	base := float64(c.cfg.BaseTokenAmount)
	switch {
	case score >= c.cfg.ExcellentThreshold:
		return base, c.cfg.MaxMultiplier
	case score >= 80:
		return base, 1.5
	case score >= 70:
		return base, 1.2
	case score >= c.cfg.AcceptableThreshold:
		return base, 1.0
	case score >= 50:
		return base / 2, 1.0
	default:
		return 0, 1.0
	}
}

// EvaluateAgent runs one all-or-nothing evaluation pass for an agent. If
// the judgment call fails nothing is written: no award, no fear reset, no
// timestamp update. A failed evaluation must not reset the fear clock.
func (c *Consultant) EvaluateAgent(ctx context.Context, agentID string) (EvaluationResult, error) {
	c.evalMu.Lock()
	defer c.evalMu.Unlock()

	rec, err := c.ledger.Performance(agentID)
	if err != nil {
		return EvaluationResult{}, err
	}

	perf := judgment.PerformanceSummary{
		SuggestionsProcessed: rec.SuggestionsProcessed,
		SuggestionsCritical:  rec.SuggestionsCritical,
		FalsePositives:       rec.FalsePositiveCount,
		SuccessRate:          rec.SuccessRate,
	}
	eval, err := c.judge.EvaluateAgent(ctx, agentID, perf)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("evaluating agent %s: %w", agentID, err)
	}

	base, mult := c.bracket(eval.Score)
	score := eval.Score
	award, err := c.ledger.Award(agentID, base, fmt.Sprintf("evaluation score %.0f", eval.Score), mult, &score)
	if err != nil {
		return EvaluationResult{}, err
	}

	now := c.clock()
	fear := c.fearAt(rec, now)
	newFear := math.Max(0, fear-(eval.Score/100)*c.cfg.FearReductionFactor)
	if err := c.ledger.ApplyEvaluation(agentID, newFear, now); err != nil {
		return EvaluationResult{}, err
	}

	updated, err := c.ledger.Performance(agentID)
	if err != nil {
		return EvaluationResult{}, err
	}

	c.log.Info("agent evaluated",
		zap.String("agent", agentID),
		zap.Float64("score", eval.Score),
		zap.Int64("tokens", award.Amount),
		zap.Float64("fear", newFear))

	return EvaluationResult{
		AgentID:     agentID,
		Evaluation:  eval,
		Award:       award,
		Performance: updated,
		FearLevel:   newFear,
		FearState:   FearStateOf(newFear),
	}, nil
}

// ExamineSuggestion delegates to the judgment service and, when an agent
// is named, feeds the verdict back into its outcome counters. The feedback
// is enrichment only; it never blocks the filter path.
func (c *Consultant) ExamineSuggestion(ctx context.Context, s triage.Suggestion, agentID string) (triage.Verdict, error) {
	verdict, err := c.judge.Examine(ctx, s)
	if err != nil {
		return triage.Verdict{}, err
	}
	if agentID != "" {
		if err := c.ledger.RecordOutcome(agentID, verdict.IsCritical, verdict.IsCritical); err != nil {
			c.log.Warn("outcome not recorded", zap.String("agent", agentID), zap.Error(err))
		}
	}
	return verdict, nil
}

// Ask forwards a free-form advisory question to the judgment service.
func (c *Consultant) Ask(ctx context.Context, question string) (string, error) {
	return c.judge.Ask(ctx, question)
}

// Overview aggregates ledger stats with the fear-state distribution.
type Overview struct {
	Ledger     ledger.Stats      `json:"ledger"`
	FearStates map[FearState]int `json:"fear_states"`
}

// Stats returns the consultant-wide overview.
func (c *Consultant) Stats() Overview {
	now := c.clock()
	out := Overview{
		Ledger:     c.ledger.Summary(),
		FearStates: make(map[FearState]int),
	}
	for _, rec := range c.ledger.All() {
		out.FearStates[FearStateOf(c.fearAt(rec, now))]++
	}
	return out
}
