package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"activations-controlplane/pkg/db/option"
	"activations-controlplane/pkg/repository"
	"activations-controlplane/services/testutil"
)

type widget struct {
	ID        string `gorm:"primaryKey"`
	Owner     string `gorm:"index"`
	Status    string
	Quantity  int64
	Reference string `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

func newStore(t *testing.T) (*gorm.DB, repository.Repository[widget]) {
	db := testutil.NewTestDB(t, &widget{})
	return db, repository.ProvideStore[widget](db)
}

func TestFindOneReturnsNilWhenMissing(t *testing.T) {
	_, store := newStore(t)

	got, err := store.FindOne(context.Background(), &widget{ID: "missing"})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFindWithOperatorAndSort(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, q := range []int64{5, 0, 10} {
		require.NoError(t, store.Create(ctx, &widget{
			ID:        string(rune('a' + i)),
			Owner:     "o1",
			Quantity:  q,
			Reference: string(rune('a'+i)) + "-ref",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := store.Find(ctx, &widget{Owner: "o1"},
		option.ApplyOperator(option.Condition{Field: "quantity", Operator: option.GT, Value: 0}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
	)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c", got[0].ID)
	require.Equal(t, "a", got[1].ID)

	n, err := store.Count(ctx, &widget{Owner: "o1"})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestUpdateWhereIsConditional(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &widget{ID: "w1", Status: "draft", Quantity: 3, Reference: "r1"}))

	rows, err := store.UpdateWhere(ctx, &widget{ID: "w1", Status: "live"}, map[string]any{"quantity": 9})
	require.NoError(t, err)
	require.Zero(t, rows)

	rows, err = store.UpdateWhere(ctx, &widget{ID: "w1", Status: "draft"}, map[string]any{
		"quantity": gorm.Expr("quantity - ?", 2),
	}, option.ApplyOperator(option.Condition{Field: "quantity", Operator: option.GTE, Value: 2}))
	require.NoError(t, err)
	require.Equal(t, int64(1), rows)

	got, err := store.FindOne(ctx, &widget{ID: "w1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Quantity)
}

func TestCreateDuplicateIsUniqueViolation(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &widget{ID: "w1", Reference: "same"}))

	err := store.Create(ctx, &widget{ID: "w2", Reference: "same"})
	require.Error(t, err)
	require.True(t, repository.IsUniqueViolation(err))
}

func TestDeleteMissing(t *testing.T) {
	_, store := newStore(t)
	require.ErrorIs(t, store.Delete(context.Background(), "nope"), repository.ErrNoRowsAffected)
}

func TestWithTrxRollsBack(t *testing.T) {
	db, store := newStore(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := store.WithTrx(tx).Create(ctx, &widget{ID: "w1", Reference: "r1"}); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	got, err := store.FindOne(ctx, &widget{ID: "w1"})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCreateOrIgnoreSkipsConflict(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	inserted, err := store.CreateOrIgnore(ctx, &widget{ID: "w1", Reference: "r1", Quantity: 1}, "reference")
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.CreateOrIgnore(ctx, &widget{ID: "w2", Reference: "r1", Quantity: 2}, "reference")
	require.NoError(t, err)
	require.False(t, inserted)

	n, err := store.Count(ctx, &widget{})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
