package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"critgate/internal/consultant"
	"critgate/internal/judgment"
	"critgate/internal/ledger"
	"critgate/internal/triage"
	"critgate/internal/tunnel"
)

// fixedJudge returns a canned verdict and evaluation.
type fixedJudge struct {
	verdict triage.Verdict
	eval    judgment.Evaluation
}

func (f *fixedJudge) Examine(context.Context, triage.Suggestion) (triage.Verdict, error) {
	return f.verdict, nil
}

func (f *fixedJudge) EvaluateAgent(context.Context, string, judgment.PerformanceSummary) (judgment.Evaluation, error) {
	return f.eval, nil
}

func (f *fixedJudge) Ask(context.Context, string) (string, error) {
	return "keep shipping", nil
}

func newTestServer(t *testing.T, judge judgment.Judge) (*Server, *ledger.Ledger) {
	t.Helper()
	lg := ledger.New()
	con := consultant.New(judge, lg, consultant.DefaultConfig(), nil)
	sched := consultant.NewScheduler(con, consultant.DefaultSchedulerConfig(), nil)
	t.Cleanup(sched.Stop)
	tn := tunnel.New(triage.NewCriticalFilter(nil, false, nil), nil)
	return New(tn, con, sched, false, nil), lg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func criticalSuggestion() map[string]any {
	return map[string]any{
		"type":        "security_vulnerability",
		"severity":    "critical",
		"file_path":   "auth/login.go",
		"line_start":  42,
		"description": "password logged in plaintext",
	}
}

func styleSuggestion() map[string]any {
	return map[string]any{
		"type":        "style_improvement",
		"severity":    "low",
		"description": "prefer early return",
	}
}

func TestIngestUnknownChannelReturns404(t *testing.T) {
	srv, _ := newTestServer(t, judgment.Offline{})
	w := doJSON(t, srv.Handler(), http.MethodPost, "/ingest", map[string]any{
		"channel_id":  "nope",
		"suggestions": []any{criticalSuggestion()},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIngestNothingCritical(t *testing.T) {
	srv, _ := newTestServer(t, judgment.Offline{})
	w := doJSON(t, srv.Handler(), http.MethodPost, "/ingest", map[string]any{
		"channel_id":  "general",
		"suggestions": []any{styleSuggestion()},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res tunnel.Result
	decode(t, w, &res)
	assert.Equal(t, tunnel.StatusNoCriticalIssues, res.Status)
	assert.Equal(t, 1, res.FilteredOut)
	assert.Empty(t, res.BinID)
}

func TestIngestAndFetchBin(t *testing.T) {
	srv, _ := newTestServer(t, judgment.Offline{})
	w := doJSON(t, srv.Handler(), http.MethodPost, "/ingest", map[string]any{
		"channel_id":  "security",
		"suggestions": []any{criticalSuggestion(), styleSuggestion()},
		"bin_name":    "sprint-12",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res tunnel.Result
	decode(t, w, &res)
	assert.Equal(t, tunnel.StatusSuccess, res.Status)
	assert.Equal(t, 1, res.CriticalCount)
	assert.Equal(t, 1, res.FilteredOut)
	require.NotEmpty(t, res.BinID)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/bins/"+res.BinID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bin triage.Bin
	decode(t, w, &bin)
	assert.Equal(t, "sprint-12", bin.Name)
	assert.Len(t, bin.Suggestions, 1)
}

func TestIngestInvalidSuggestionReturns400(t *testing.T) {
	srv, _ := newTestServer(t, judgment.Offline{})
	bad := criticalSuggestion()
	bad["severity"] = "catastrophic"
	w := doJSON(t, srv.Handler(), http.MethodPost, "/ingest", map[string]any{
		"channel_id":  "general",
		"suggestions": []any{bad},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBinNotFound(t *testing.T) {
	srv, _ := newTestServer(t, judgment.Offline{})
	w := doJSON(t, srv.Handler(), http.MethodGet, "/bins/no-such-bin", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateChannelAndList(t *testing.T) {
	srv, _ := newTestServer(t, judgment.Offline{})
	w := doJSON(t, srv.Handler(), http.MethodPost, "/channels", map[string]any{
		"name":        "perf",
		"description": "performance regressions",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/channels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Channels []triage.Channel `json:"channels"`
	}
	decode(t, w, &out)
	assert.Len(t, out.Channels, 4) // three defaults plus perf
}

func TestExamineUnavailableReturns503(t *testing.T) {
	srv, _ := newTestServer(t, judgment.Offline{})
	w := doJSON(t, srv.Handler(), http.MethodPost, "/consultant/examine", map[string]any{
		"suggestion": criticalSuggestion(),
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRegisterAndEvaluateAgent(t *testing.T) {
	judge := &fixedJudge{eval: judgment.Evaluation{Score: 85, Reasoning: "solid"}}
	srv, _ := newTestServer(t, judge)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/consultant/agents", map[string]any{
		"agent_id": "a1",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv.Handler(), http.MethodPost, "/consultant/evaluate/a1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res consultant.EvaluationResult
	decode(t, w, &res)
	assert.Equal(t, int64(150), res.Award.Amount)
	assert.Equal(t, consultant.FearConfident, res.FearState)
}

func TestEvaluateUnknownAgentReturns404(t *testing.T) {
	judge := &fixedJudge{eval: judgment.Evaluation{Score: 85}}
	srv, _ := newTestServer(t, judge)
	w := doJSON(t, srv.Handler(), http.MethodPost, "/consultant/evaluate/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLeaderboard(t *testing.T) {
	srv, lg := newTestServer(t, judgment.Offline{})
	for i, tokens := range []float64{100, 300, 200} {
		id := fmt.Sprintf("a%d", i+1)
		require.NoError(t, lg.RegisterAgent(id))
		_, err := lg.Award(id, tokens, "seed", 1.0, nil)
		require.NoError(t, err)
	}

	w := doJSON(t, srv.Handler(), http.MethodGet, "/consultant/leaderboard?top_n=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Leaderboard []ledger.AgentPerformanceRecord `json:"leaderboard"`
	}
	decode(t, w, &out)
	require.Len(t, out.Leaderboard, 2)
	assert.Equal(t, "a2", out.Leaderboard[0].AgentID)
	assert.Equal(t, "a3", out.Leaderboard[1].AgentID)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/consultant/leaderboard?top_n=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAgentPerformanceEndpoint(t *testing.T) {
	srv, lg := newTestServer(t, judgment.Offline{})
	require.NoError(t, lg.RegisterAgent("a1"))
	require.NoError(t, lg.RecordOutcome("a1", true, true))

	w := doJSON(t, srv.Handler(), http.MethodGet, "/consultant/agent/a1/performance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Performance ledger.AgentPerformanceRecord `json:"performance"`
		FearState   consultant.FearState          `json:"fear_state"`
	}
	decode(t, w, &out)
	assert.Equal(t, 1, out.Performance.SuggestionsProcessed)
	assert.Equal(t, consultant.FearConfident, out.FearState)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/consultant/agent/ghost/performance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAsk(t *testing.T) {
	srv, _ := newTestServer(t, &fixedJudge{})
	w := doJSON(t, srv.Handler(), http.MethodPost, "/consultant/ask", map[string]any{
		"question": "is this fine?",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Answer string `json:"answer"`
	}
	decode(t, w, &out)
	assert.Equal(t, "keep shipping", out.Answer)

	// Missing question is a binding error.
	w = doJSON(t, srv.Handler(), http.MethodPost, "/consultant/ask", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEvaluationLoopEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &fixedJudge{eval: judgment.Evaluation{Score: 70}})
	h := srv.Handler()

	w := doJSON(t, h, http.MethodGet, "/consultant/next-evaluation", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var next struct {
		Running bool `json:"running"`
	}
	decode(t, w, &next)
	assert.False(t, next.Running)

	w = doJSON(t, h, http.MethodPost, "/consultant/start-evaluation-loop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var started struct {
		Running bool `json:"running"`
		Started bool `json:"started"`
	}
	decode(t, w, &started)
	assert.True(t, started.Running)
	assert.True(t, started.Started)

	// Second start reports it was already running.
	w = doJSON(t, h, http.MethodPost, "/consultant/start-evaluation-loop", nil)
	decode(t, w, &started)
	assert.False(t, started.Started)

	w = doJSON(t, h, http.MethodPost, "/consultant/stop-evaluation-loop", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStatsEndpoints(t *testing.T) {
	srv, lg := newTestServer(t, judgment.Offline{})
	require.NoError(t, lg.RegisterAgent("a1"))
	doJSON(t, srv.Handler(), http.MethodPost, "/ingest", map[string]any{
		"channel_id":  "general",
		"suggestions": []any{criticalSuggestion()},
	})

	w := doJSON(t, srv.Handler(), http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap tunnel.Stats
	decode(t, w, &snap)
	assert.Equal(t, 3, snap.Channels)
	assert.Equal(t, 1, snap.Bins)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/consultant/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var overview consultant.Overview
	decode(t, w, &overview)
	assert.Equal(t, 1, overview.Ledger.Agents)
}
