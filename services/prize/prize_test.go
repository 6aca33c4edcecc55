package prize

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"activations-controlplane/pkg/errutil"
)

func TestBuildExample(t *testing.T) {
	s := Build(decimal.NewFromInt(2_000_000))

	require.True(t, s.Amount(1).Equal(decimal.NewFromInt(500_000)))
	require.True(t, s.Amount(2).Equal(decimal.NewFromInt(300_000)))
	require.True(t, s.Amount(3).Equal(decimal.NewFromInt(200_000)))
	for rank := 4; rank < 20; rank++ {
		require.Equal(t, "58823.53", s.Amount(rank).StringFixed(2), "rank %d", rank)
	}
	require.Equal(t, "58823.52", s.Amount(20).StringFixed(2))
	require.True(t, s.Total().Equal(decimal.NewFromInt(2_000_000)))
	require.True(t, s.Amount(21).IsZero())
	require.True(t, s.Amount(0).IsZero())
}

func TestBuildKeysAndSum(t *testing.T) {
	for _, budget := range []int64{0, 1, 2000, 12345, 100_000, 2_000_000, 987_654_321} {
		total := decimal.NewFromInt(budget)
		s := Build(total)

		require.Len(t, s, WinnerCount)
		for rank := 1; rank <= WinnerCount; rank++ {
			_, ok := s[rank]
			require.True(t, ok, "rank %d missing", rank)
		}
		require.True(t, s.Total().Equal(total), "budget %d sum %s", budget, s.Total())
	}
}

func TestBuildNeverExceedsBudget(t *testing.T) {
	budgets := []string{"0.01", "0.02", "0.05", "0.09", "1.36", "17", "999.99", "2000", "2001", "100000", "123456.78", "2000000", "2000000.005"}
	for cents := int64(0); cents < 5000; cents += 7 {
		budgets = append(budgets, decimal.New(cents, -2).String())
	}

	for _, b := range budgets {
		budget := decimal.RequireFromString(b)
		s := Build(budget)

		require.True(t, s.Total().LessThanOrEqual(budget), "budget %s sum %s", b, s.Total())
		require.True(t, s.Total().Equal(budget.Truncate(2)), "budget %s sum %s", b, s.Total())
		for rank := 1; rank <= WinnerCount; rank++ {
			require.False(t, s.Amount(rank).IsNegative(), "budget %s rank %d", b, rank)
		}
	}
}

func TestValidateContestBudget(t *testing.T) {
	minimum := decimal.NewFromInt(2000)

	require.NoError(t, ValidateContestBudget(decimal.Zero, minimum))
	require.NoError(t, ValidateContestBudget(decimal.NewFromInt(2000), minimum))

	err := ValidateContestBudget(decimal.NewFromInt(1999), minimum)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())

	require.Error(t, ValidateContestBudget(decimal.NewFromInt(-1), minimum))
}
