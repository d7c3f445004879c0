package judgment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"critgate/internal/triage"
)

// =============================================================================
// GEMINI-BACKED JUDGE
// =============================================================================

// GeminiConfig holds configuration for the Gemini judgment client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:  apiKey,
		Model:   "gemini-2.0-flash",
		Timeout: 20 * time.Second,
	}
}

// GeminiJudge implements Judge against the Gemini API.
type GeminiJudge struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger
}

var _ Judge = (*GeminiJudge)(nil)

// NewGeminiJudge creates a judge backed by the Gemini API.
func NewGeminiJudge(ctx context.Context, cfg GeminiConfig, log *zap.Logger) (*GeminiJudge, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiConfig("").Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGeminiConfig("").Timeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiJudge{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

// generate runs one completion with the per-call timeout. A stalled service
// times out and surfaces as ErrUnavailable to the caller.
func (j *GeminiJudge) generate(ctx context.Context, system, user string, wantJSON bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		// Low temperature for structured output.
		Temperature:       genai.Ptr[float32](0.1),
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	if wantJSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := j.client.Models.GenerateContent(ctx, j.model, genai.Text(user), cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return text, nil
}

const examineSystem = `You are a strict code-review triage judge. Given one
machine-generated suggestion, decide whether it describes a genuinely
critical issue (one that can cause incorrect behavior, data loss, a crash,
or a security breach). Respond with a single JSON object:
{"is_critical": bool, "confidence": 0..1, "reasoning": string, "recommendation": string}`

// Examine renders a verdict for one suggestion.
func (j *GeminiJudge) Examine(ctx context.Context, s triage.Suggestion) (triage.Verdict, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return triage.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	text, err := j.generate(ctx, examineSystem, string(payload), true)
	if err != nil {
		return triage.Verdict{}, err
	}

	var verdict triage.Verdict
	if err := json.Unmarshal([]byte(extractJSON(text)), &verdict); err != nil {
		j.log.Warn("malformed examine response", zap.Error(err))
		return triage.Verdict{}, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	return verdict, nil
}

const evaluateSystem = `You are a performance reviewer for code-review
agents. Given an agent's recent suggestion outcomes, score its work 0-100.
Reward accurate critical findings, penalize false positives. Respond with a
single JSON object:
{"score": 0..100, "reasoning": string, "improvement_notes": [string]}`

// EvaluateAgent scores an agent's recent performance.
func (j *GeminiJudge) EvaluateAgent(ctx context.Context, agentID string, perf PerformanceSummary) (Evaluation, error) {
	summary, err := json.Marshal(perf)
	if err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	user := fmt.Sprintf("Agent %q recent performance: %s", agentID, summary)

	text, err := j.generate(ctx, evaluateSystem, user, true)
	if err != nil {
		return Evaluation{}, err
	}

	var eval Evaluation
	if err := json.Unmarshal([]byte(extractJSON(text)), &eval); err != nil {
		j.log.Warn("malformed evaluation response", zap.Error(err))
		return Evaluation{}, fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	if eval.Score < 0 || eval.Score > 100 {
		return Evaluation{}, fmt.Errorf("%w: score %.1f out of range", ErrUnavailable, eval.Score)
	}
	return eval, nil
}

const askSystem = `You are an advisor on code-review triage. Answer the
question concisely in plain text.`

// Ask is a free-form advisory query.
func (j *GeminiJudge) Ask(ctx context.Context, question string) (string, error) {
	return j.generate(ctx, askSystem, question, false)
}
