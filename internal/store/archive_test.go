package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"critgate/internal/ledger"
	"critgate/internal/triage"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func forwardedBin(name string, n int) triage.Bin {
	bin := triage.NewBin("security", name)
	bin.Status = triage.BinForwarded
	for i := 0; i < n; i++ {
		bin.Suggestions = append(bin.Suggestions, triage.Suggestion{
			Type:        triage.TypeSecurityVulnerability,
			Severity:    triage.SeverityCritical,
			FilePath:    "auth/login.go",
			LineStart:   i + 1,
			Description: "secret in log output",
		})
	}
	return *bin
}

func TestArchiveBinAndQuery(t *testing.T) {
	a := openTestArchive(t)

	bin := forwardedBin("sprint-12", 2)
	require.NoError(t, a.ArchiveBin(bin))

	recs, err := a.RecentBins(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, bin.ID, recs[0].ID)
	assert.Equal(t, "security", recs[0].ChannelID)
	assert.Equal(t, "sprint-12", recs[0].Name)
	assert.Equal(t, string(triage.SeverityCritical), recs[0].Priority)
	assert.Equal(t, 2, recs[0].Suggestions)
}

func TestArchiveBinIsIdempotent(t *testing.T) {
	a := openTestArchive(t)

	bin := forwardedBin("", 1)
	require.NoError(t, a.ArchiveBin(bin))
	require.NoError(t, a.ArchiveBin(bin))

	recs, err := a.RecentBins(10)
	require.NoError(t, err)
	assert.Len(t, recs, 1, "re-archiving the same bin must not duplicate rows")
}

func TestRecentBinsLimit(t *testing.T) {
	a := openTestArchive(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.ArchiveBin(forwardedBin("", 1)))
	}
	recs, err := a.RecentBins(3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestRecordAwardAndQuery(t *testing.T) {
	a := openTestArchive(t)

	score := 85.0
	first := ledger.TokenAward{
		ID:              uuid.NewString(),
		AgentID:         "a1",
		Amount:          150,
		Reason:          "evaluation score 85",
		Multiplier:      1.5,
		EvaluationScore: &score,
		AwardedAt:       time.Now().UTC().Add(-time.Minute),
	}
	second := ledger.TokenAward{
		ID:         uuid.NewString(),
		AgentID:    "a1",
		Amount:     -75,
		Reason:     "penalty",
		Multiplier: 1.0,
		AwardedAt:  time.Now().UTC(),
	}
	other := ledger.TokenAward{
		ID:         uuid.NewString(),
		AgentID:    "a2",
		Amount:     50,
		Reason:     "seed",
		Multiplier: 1.0,
		AwardedAt:  time.Now().UTC(),
	}
	a.RecordAward(first)
	a.RecordAward(second)
	a.RecordAward(other)

	got, err := a.AwardsForAgent("a1")
	require.NoError(t, err)
	require.Len(t, got, 2, "only a1's awards")

	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, int64(150), got[0].Amount)
	require.NotNil(t, got[0].EvaluationScore)
	assert.Equal(t, 85.0, *got[0].EvaluationScore)

	assert.Equal(t, int64(-75), got[1].Amount)
	assert.Nil(t, got[1].EvaluationScore)
}

func TestAwardsForUnknownAgentIsEmpty(t *testing.T) {
	a := openTestArchive(t)
	got, err := a.AwardsForAgent("ghost")
	require.NoError(t, err)
	assert.Empty(t, got)
}
