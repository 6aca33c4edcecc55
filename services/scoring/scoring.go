package scoring

import (
	"sort"
	"strings"
	"time"

	"activations-controlplane/services/prize"

	"github.com/shopspring/decimal"
)

type Weights struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

func DefaultWeights() Weights {
	return Weights{Views: 1, Likes: 2, Comments: 3}
}

type Metrics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

func (w Weights) Score(m Metrics) int64 {
	return m.Views*w.Views + m.Likes*w.Likes + m.Comments*w.Comments
}

// Submission is the scoring view of a contest entry.
type Submission struct {
	ID              string
	CreatorID       string
	CreatorHandle   string
	CreatorPlatform string
	Metrics         Metrics
	SubmittedAt     time.Time
}

type Entry struct {
	Key              string          `json:"key"`
	CreatorID        string          `json:"creator_id,omitempty"`
	CreatorHandle    string          `json:"creator_handle"`
	CreatorPlatform  string          `json:"creator_platform"`
	TotalViews       int64           `json:"total_views"`
	TotalLikes       int64           `json:"total_likes"`
	TotalComments    int64           `json:"total_comments"`
	TotalPosts       int             `json:"total_posts"`
	CumulativeScore  int64           `json:"cumulative_score"`
	CurrentRank      int             `json:"current_rank"`
	IsWinner         bool            `json:"is_winner"`
	PrizeAmount      decimal.Decimal `json:"prize_amount"`
	FirstSubmittedAt time.Time       `json:"first_submitted_at"`
	BestSubmissionID string          `json:"best_submission_id"`

	bestScore int64
	bestAt    time.Time
}

// GroupKey identifies a creator inside one contest: the creator id when
// known, otherwise handle:platform. Two unverified accounts sharing a handle
// on one platform merge into one entry.
func GroupKey(creatorID, handle, platform string) string {
	if id := strings.TrimSpace(creatorID); id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(handle)) + ":" + strings.ToLower(strings.TrimSpace(platform))
}

type Engine struct {
	Weights     Weights
	WinnerCount int
}

func NewEngine() Engine {
	return Engine{Weights: DefaultWeights(), WinnerCount: prize.WinnerCount}
}

// Build aggregates submissions per creator and ranks them by cumulative score.
// Ties go to the creator who submitted first, then to the lower key, so the
// output depends only on the input set.
func (e Engine) Build(subs []Submission, prizes prize.Structure) []Entry {
	byKey := make(map[string]*Entry, len(subs))
	for _, s := range subs {
		key := GroupKey(s.CreatorID, s.CreatorHandle, s.CreatorPlatform)
		entry, ok := byKey[key]
		if !ok {
			entry = &Entry{
				Key:              key,
				CreatorID:        s.CreatorID,
				CreatorHandle:    s.CreatorHandle,
				CreatorPlatform:  s.CreatorPlatform,
				FirstSubmittedAt: s.SubmittedAt,
				bestScore:        -1,
			}
			byKey[key] = entry
		}

		score := e.Weights.Score(s.Metrics)
		entry.TotalViews += s.Metrics.Views
		entry.TotalLikes += s.Metrics.Likes
		entry.TotalComments += s.Metrics.Comments
		entry.TotalPosts++
		entry.CumulativeScore += score

		if s.SubmittedAt.Before(entry.FirstSubmittedAt) {
			entry.FirstSubmittedAt = s.SubmittedAt
		}
		if score > entry.bestScore ||
			(score == entry.bestScore && s.SubmittedAt.Before(entry.bestAt)) ||
			(score == entry.bestScore && s.SubmittedAt.Equal(entry.bestAt) && s.ID < entry.BestSubmissionID) {
			entry.bestScore = score
			entry.bestAt = s.SubmittedAt
			entry.BestSubmissionID = s.ID
		}
	}

	entries := make([]Entry, 0, len(byKey))
	for _, entry := range byKey {
		entries = append(entries, *entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.CumulativeScore != b.CumulativeScore {
			return a.CumulativeScore > b.CumulativeScore
		}
		if !a.FirstSubmittedAt.Equal(b.FirstSubmittedAt) {
			return a.FirstSubmittedAt.Before(b.FirstSubmittedAt)
		}
		return a.Key < b.Key
	})

	for i := range entries {
		rank := i + 1
		entries[i].CurrentRank = rank
		entries[i].IsWinner = rank <= e.WinnerCount
		entries[i].PrizeAmount = decimal.Zero
		if entries[i].IsWinner {
			entries[i].PrizeAmount = prizes.Amount(rank)
		}
	}

	return entries
}
