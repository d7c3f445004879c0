package judgment

import (
	"context"
	"errors"
	"testing"

	"critgate/internal/triage"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"is_critical": true}`, `{"is_critical": true}`},
		{"fenced json", "```json\n{\"score\": 85}\n```", `{"score": 85}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"preamble and trailer", `Sure! Here is the verdict: {"a":1} Hope that helps.`, `{"a":1}`},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"no object", "I cannot answer that.", ""},
		{"empty", "", ""},
		{"only open brace", "{truncated", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOfflineJudgeAlwaysUnavailable(t *testing.T) {
	ctx := context.Background()
	var j Judge = Offline{}

	if _, err := j.Examine(ctx, triage.Suggestion{Description: "x"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Examine error = %v, want ErrUnavailable", err)
	}
	if _, err := j.EvaluateAgent(ctx, "a1", PerformanceSummary{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("EvaluateAgent error = %v, want ErrUnavailable", err)
	}
	if _, err := j.Ask(ctx, "anything"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ask error = %v, want ErrUnavailable", err)
	}
}
