package pricing

import (
	"fmt"

	"activations-controlplane/pkg/errutil"

	"github.com/shopspring/decimal"
)

type Payment struct {
	Amount       decimal.Decimal `json:"amount"`
	BasePayment  decimal.Decimal `json:"base_payment"`
	CapAmount    decimal.Decimal `json:"cap_amount"`
	Multiplier   decimal.Decimal `json:"multiplier"`
	Tier         Tier            `json:"tier"`
	CappedByPool bool            `json:"capped_by_pool"`
	Allowed      bool            `json:"allowed"`
	Reason       string          `json:"reason,omitempty"`
}

type BreakdownRow struct {
	Band         TierBand        `json:"band"`
	Multiplier   decimal.Decimal `json:"multiplier"`
	Payment      decimal.Decimal `json:"payment"`
	CapAmount    decimal.Decimal `json:"cap_amount"`
	CappedByPool bool            `json:"capped_by_pool"`
}

type TierEstimate struct {
	Tier            Tier            `json:"tier"`
	Payment         decimal.Decimal `json:"payment"`
	MaxParticipants int64           `json:"max_participants"`
}

type Estimate struct {
	Tiers []TierEstimate `json:"tiers"`
	// Realistic is the blended participant count under the tier mix weights.
	Realistic          int64           `json:"realistic"`
	AveragePayment     decimal.Decimal `json:"average_payment"`
	MinParticipants    int64           `json:"min_participants"`
	MaxParticipants    int64           `json:"max_participants"`
	TotalBudget        decimal.Decimal `json:"total_budget"`
	DistributionWeight map[Tier]string `json:"distribution_weight"`
}

func ValidateTaskType(t TaskType) error {
	for _, known := range TaskTypes {
		if t == known {
			return nil
		}
	}
	return errutil.ValidationFailed(fmt.Sprintf("unsupported task type %q", t), nil, errutil.WithField("task_type", "must be one of like, comment, repost, story"))
}

func ValidateBaseRate(rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return errutil.ValidationFailed("base rate must be greater than zero", nil, errutil.WithField("base_rate", "must be > 0"))
	}
	return nil
}

// Tier maps a follower count to its band. Negative counts and gaps fall back
// to nano.
func (m Model) Tier(followers int64) Tier {
	for _, b := range m.Bands {
		if b.Contains(followers) {
			return b.Tier
		}
	}
	return TierNano
}

func (m Model) Band(t Tier) (TierBand, bool) {
	for _, b := range m.Bands {
		if b.Tier == t {
			return b, true
		}
	}
	return TierBand{}, false
}

// quote returns the uncapped payment, the cap and the capped payment for a tier.
func (m Model) quote(tier Tier, baseRate decimal.Decimal, taskType TaskType, totalBudget decimal.Decimal) (mult, base, capAmount, amount decimal.Decimal, capped bool) {
	mult = m.Multipliers[taskType][tier]
	base = baseRate.Mul(mult).Round(2)
	capAmount = totalBudget.Mul(m.PoolCaps[taskType][tier]).Round(2)
	amount = base
	if base.GreaterThan(capAmount) {
		amount = capAmount
		capped = true
	}
	return
}

// CalculateCreatorPayment prices one task for one creator. A payment larger
// than remainingBudget is refused outright, never paid partially.
func (m Model) CalculateCreatorPayment(followers int64, baseRate decimal.Decimal, taskType TaskType, totalBudget, remainingBudget decimal.Decimal) (Payment, error) {
	if followers < 0 {
		return Payment{}, errutil.ValidationFailed("followers must not be negative", nil)
	}
	if err := ValidateTaskType(taskType); err != nil {
		return Payment{}, err
	}
	if err := ValidateBaseRate(baseRate); err != nil {
		return Payment{}, err
	}

	tier := m.Tier(followers)
	mult, base, capAmount, amount, capped := m.quote(tier, baseRate, taskType, totalBudget)

	p := Payment{
		Amount:       amount,
		BasePayment:  base,
		CapAmount:    capAmount,
		Multiplier:   mult,
		Tier:         tier,
		CappedByPool: capped,
		Allowed:      true,
	}

	if remainingBudget.LessThan(amount) {
		p.Amount = decimal.Zero
		p.Allowed = false
		p.Reason = fmt.Sprintf("insufficient remaining budget: payment %s exceeds remaining %s", amount.StringFixed(2), remainingBudget.StringFixed(2))
	}

	return p, nil
}

func (m Model) GetPricingBreakdown(baseRate decimal.Decimal, taskType TaskType, totalBudget decimal.Decimal) ([]BreakdownRow, error) {
	if err := ValidateTaskType(taskType); err != nil {
		return nil, err
	}
	if err := ValidateBaseRate(baseRate); err != nil {
		return nil, err
	}

	rows := make([]BreakdownRow, 0, len(m.Bands))
	for _, b := range m.Bands {
		mult, _, capAmount, amount, capped := m.quote(b.Tier, baseRate, taskType, totalBudget)
		rows = append(rows, BreakdownRow{
			Band:         b,
			Multiplier:   mult,
			Payment:      amount,
			CapAmount:    capAmount,
			CappedByPool: capped,
		})
	}
	return rows, nil
}

// EstimateParticipation projects how many creators a budget can pay. The
// realistic figure is a heuristic over the tier mix weights.
func (m Model) EstimateParticipation(totalBudget, baseRate decimal.Decimal, taskType TaskType) (Estimate, error) {
	if err := ValidateTaskType(taskType); err != nil {
		return Estimate{}, err
	}
	if err := ValidateBaseRate(baseRate); err != nil {
		return Estimate{}, err
	}

	est := Estimate{
		TotalBudget:        totalBudget,
		DistributionWeight: make(map[Tier]string, len(m.MixWeights)),
	}

	average := decimal.Zero
	first := true
	for _, b := range m.Bands {
		_, _, _, amount, _ := m.quote(b.Tier, baseRate, taskType, totalBudget)

		var n int64
		if amount.IsPositive() {
			n = totalBudget.Div(amount).Floor().IntPart()
		}
		est.Tiers = append(est.Tiers, TierEstimate{Tier: b.Tier, Payment: amount, MaxParticipants: n})

		if first || n < est.MinParticipants {
			est.MinParticipants = n
		}
		if n > est.MaxParticipants {
			est.MaxParticipants = n
		}
		first = false

		w := m.MixWeights[b.Tier]
		est.DistributionWeight[b.Tier] = w.Mul(decimal.NewFromInt(100)).StringFixed(0) + "%"
		average = average.Add(w.Mul(amount))
	}

	est.AveragePayment = average.Round(2)
	if average.IsPositive() {
		est.Realistic = totalBudget.Div(average).Floor().IntPart()
	}

	return est, nil
}
