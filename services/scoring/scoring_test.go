package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"activations-controlplane/services/prize"
)

func TestScoreExample(t *testing.T) {
	require.Equal(t, int64(1130), DefaultWeights().Score(Metrics{Views: 1000, Likes: 50, Comments: 10}))
}

func TestGroupKey(t *testing.T) {
	require.Equal(t, "creator-1", GroupKey("creator-1", "ada", "tiktok"))
	require.Equal(t, "ada:tiktok", GroupKey("", " Ada ", "TikTok"))
}

func TestBuildAggregatesPerCreator(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	subs := []Submission{
		{ID: "s1", CreatorID: "c1", Metrics: Metrics{Views: 100}, SubmittedAt: base},
		{ID: "s2", CreatorID: "c1", Metrics: Metrics{Views: 50, Likes: 10}, SubmittedAt: base.Add(time.Hour)},
		{ID: "s3", CreatorHandle: "bee", CreatorPlatform: "instagram", Metrics: Metrics{Comments: 20}, SubmittedAt: base.Add(time.Minute)},
		{ID: "s4", CreatorHandle: "bee", CreatorPlatform: "instagram", Metrics: Metrics{Views: 200}, SubmittedAt: base.Add(2 * time.Minute)},
	}

	entries := NewEngine().Build(subs, prize.Build(decimal.NewFromInt(100_000)))
	require.Len(t, entries, 2)

	require.Equal(t, "bee:instagram", entries[0].Key)
	require.Equal(t, int64(260), entries[0].CumulativeScore)
	require.Equal(t, 2, entries[0].TotalPosts)
	require.Equal(t, "s4", entries[0].BestSubmissionID)
	require.Equal(t, 1, entries[0].CurrentRank)
	require.True(t, entries[0].PrizeAmount.Equal(decimal.NewFromInt(25_000)))

	require.Equal(t, "c1", entries[1].Key)
	require.Equal(t, int64(170), entries[1].CumulativeScore)
	require.Equal(t, int64(150), entries[1].TotalViews)
	require.Equal(t, "s1", entries[1].BestSubmissionID)
	require.Equal(t, 2, entries[1].CurrentRank)
}

func TestBuildTieBreaksOnFirstSubmission(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	subs := []Submission{
		{ID: "late", CreatorID: "b", Metrics: Metrics{Views: 10}, SubmittedAt: base.Add(time.Hour)},
		{ID: "early", CreatorID: "z", Metrics: Metrics{Views: 10}, SubmittedAt: base},
		{ID: "same", CreatorID: "a", Metrics: Metrics{Views: 10}, SubmittedAt: base.Add(time.Hour)},
	}

	entries := NewEngine().Build(subs, prize.Build(decimal.Zero))
	require.Equal(t, []string{"z", "a", "b"}, []string{entries[0].Key, entries[1].Key, entries[2].Key})
}

func TestBuildRanksArePermutationAndWinnersCapped(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var subs []Submission
	for i := 0; i < 30; i++ {
		subs = append(subs, Submission{
			ID:          fmt.Sprintf("s%02d", i),
			CreatorID:   fmt.Sprintf("c%02d", i),
			Metrics:     Metrics{Views: int64(i % 7), Likes: int64(i % 3)},
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	prizes := prize.Build(decimal.NewFromInt(2_000_000))
	entries := NewEngine().Build(subs, prizes)
	require.Len(t, entries, 30)

	seen := make(map[int]bool, len(entries))
	for i, e := range entries {
		require.Equal(t, i+1, e.CurrentRank)
		require.False(t, seen[e.CurrentRank])
		seen[e.CurrentRank] = true
		require.Equal(t, e.CurrentRank <= 20, e.IsWinner)
		if e.IsWinner {
			require.True(t, e.PrizeAmount.Equal(prizes.Amount(e.CurrentRank)))
		} else {
			require.True(t, e.PrizeAmount.IsZero())
		}
		if i > 0 {
			require.GreaterOrEqual(t, entries[i-1].CumulativeScore, e.CumulativeScore)
		}
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	subs := []Submission{
		{ID: "s1", CreatorID: "c1", Metrics: Metrics{Views: 5}, SubmittedAt: base},
		{ID: "s2", CreatorID: "c2", Metrics: Metrics{Views: 5}, SubmittedAt: base},
		{ID: "s3", CreatorID: "c3", Metrics: Metrics{Likes: 9}, SubmittedAt: base},
	}
	prizes := prize.Build(decimal.NewFromInt(5000))

	first := NewEngine().Build(subs, prizes)
	second := NewEngine().Build(subs, prizes)
	require.Equal(t, first, second)
}

func TestBuildEmpty(t *testing.T) {
	require.Empty(t, NewEngine().Build(nil, prize.Build(decimal.NewFromInt(5000))))
}
