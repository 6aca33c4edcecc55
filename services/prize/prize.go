package prize

import (
	"fmt"

	"activations-controlplane/pkg/errutil"

	"github.com/shopspring/decimal"
)

// WinnerCount is the number of paid ranks in every contest.
const WinnerCount = 20

var (
	firstShare  = decimal.NewFromFloat(0.25)
	secondShare = decimal.NewFromFloat(0.15)
	thirdShare  = decimal.NewFromFloat(0.10)
	restShare   = decimal.NewFromFloat(0.50)
	restRanks   = decimal.NewFromInt(WinnerCount - 3)
)

// Structure maps a 1-based rank to its prize. It is derived from the budget
// on every read and never stored.
type Structure map[int]decimal.Decimal

// Build splits totalBudget into 25%, 15%, 10% for the podium and 50% shared
// equally by ranks 4 to 20, each rounded to 2 decimal places. Rank 20 takes
// whatever the rounding leaves, so the structure always sums to the budget.
func Build(totalBudget decimal.Decimal) Structure {
	if totalBudget.IsNegative() {
		totalBudget = decimal.Zero
	}
	totalBudget = totalBudget.Truncate(2)

	s := make(Structure, WinnerCount)
	s[1] = totalBudget.Mul(firstShare).Round(2)
	s[2] = totalBudget.Mul(secondShare).Round(2)
	s[3] = totalBudget.Mul(thirdShare).Round(2)

	pool := totalBudget.Sub(s[1]).Sub(s[2]).Sub(s[3])
	if pool.IsNegative() {
		pool = decimal.Zero
	}
	each := pool.DivRound(restRanks, 2)
	if each.Mul(restRanks.Sub(decimal.NewFromInt(1))).GreaterThan(pool) {
		each = pool.Div(restRanks).Truncate(2)
	}
	for rank := 4; rank < WinnerCount; rank++ {
		s[rank] = each
	}
	s[WinnerCount] = pool.Sub(each.Mul(restRanks.Sub(decimal.NewFromInt(1))))
	return s
}

// Amount is zero for ranks outside 1..20.
func (s Structure) Amount(rank int) decimal.Decimal {
	if v, ok := s[rank]; ok {
		return v
	}
	return decimal.Zero
}

func (s Structure) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range s {
		total = total.Add(v)
	}
	return total
}

// ValidateContestBudget enforces the configured floor. A zero budget is test
// mode and always allowed.
func ValidateContestBudget(budget, minimum decimal.Decimal) error {
	if budget.IsNegative() {
		return errutil.ValidationFailed("budget must not be negative", nil, errutil.WithField("total_budget", "must be >= 0"))
	}
	if budget.IsZero() {
		return nil
	}
	if budget.LessThan(minimum) {
		return errutil.ValidationFailed(
			fmt.Sprintf("contest budget must be at least %s", minimum.StringFixed(2)), nil,
			errutil.WithField("total_budget", "below minimum contest budget"),
		)
	}
	return nil
}
