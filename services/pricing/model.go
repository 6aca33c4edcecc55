package pricing

import (
	"github.com/shopspring/decimal"
)

type TaskType string

const (
	TaskLike    TaskType = "like"
	TaskComment TaskType = "comment"
	TaskRepost  TaskType = "repost"
	TaskStory   TaskType = "story"
)

var TaskTypes = []TaskType{TaskLike, TaskComment, TaskRepost, TaskStory}

type Tier string

const (
	TierNano  Tier = "nano"
	TierMicro Tier = "micro"
	TierMid   Tier = "mid"
	TierMacro Tier = "macro"
	TierMega  Tier = "mega"
)

// Unbounded marks the open upper end of the last band.
const Unbounded int64 = -1

type TierBand struct {
	Tier  Tier   `json:"tier"`
	Label string `json:"label"`
	Min   int64  `json:"min_followers"`
	Max   int64  `json:"max_followers"`
}

func (b TierBand) Contains(followers int64) bool {
	if followers < b.Min {
		return false
	}
	return b.Max == Unbounded || followers <= b.Max
}

type Table map[TaskType]map[Tier]decimal.Decimal

// Model holds the pricing tables. Values are read only after construction;
// callers wanting different tables build their own Model.
type Model struct {
	Bands       []TierBand
	Multipliers Table
	PoolCaps    Table
	MixWeights  map[Tier]decimal.Decimal
}

func row(values ...float64) map[Tier]decimal.Decimal {
	tiers := []Tier{TierNano, TierMicro, TierMid, TierMacro, TierMega}
	out := make(map[Tier]decimal.Decimal, len(tiers))
	for i, t := range tiers {
		out[t] = decimal.NewFromFloat(values[i])
	}
	return out
}

// DefaultModel returns the production pricing tables.
func DefaultModel() Model {
	return Model{
		Bands: []TierBand{
			{Tier: TierNano, Label: "Nano", Min: 0, Max: 5000},
			{Tier: TierMicro, Label: "Micro", Min: 5001, Max: 30000},
			{Tier: TierMid, Label: "Mid", Min: 30001, Max: 100000},
			{Tier: TierMacro, Label: "Macro", Min: 100001, Max: 500000},
			{Tier: TierMega, Label: "Mega", Min: 500001, Max: Unbounded},
		},
		Multipliers: Table{
			TaskLike:    row(1.0, 1.5, 2.5, 4.0, 6.0),
			TaskComment: row(1.0, 1.6, 2.6, 4.2, 6.3),
			TaskRepost:  row(1.0, 1.7, 2.8, 4.4, 6.6),
			TaskStory:   row(1.0, 2.2, 3.6, 5.8, 8.4),
		},
		PoolCaps: Table{
			TaskLike:    row(0.05, 0.08, 0.12, 0.18, 0.25),
			TaskComment: row(0.05, 0.08, 0.12, 0.18, 0.25),
			TaskRepost:  row(0.05, 0.09, 0.13, 0.19, 0.26),
			TaskStory:   row(0.06, 0.10, 0.15, 0.22, 0.28),
		},
		MixWeights: row(0.40, 0.30, 0.20, 0.08, 0.02),
	}
}
