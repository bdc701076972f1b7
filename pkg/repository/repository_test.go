package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"reviewhub/pkg/db/option"
	"reviewhub/pkg/repository"
	"reviewhub/services/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type widget struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Kind      string
	CreatedAt time.Time
}

func newRepo(t *testing.T) (repository.Repository[widget], *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &widget{})
	return repository.ProvideStore[widget](db), db
}

func TestFindOneMissing(t *testing.T) {
	repo, _ := newRepo(t)

	got, err := repo.FindOne(context.Background(), &widget{ID: "nope"})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBatchCreateAndFind(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ws []*widget
	for i := 0; i < 5; i++ {
		kind := "even"
		if i%2 == 1 {
			kind = "odd"
		}
		ws = append(ws, &widget{ID: fmt.Sprintf("w%d", i), Name: fmt.Sprintf("Widget %d", i), Kind: kind, CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	require.NoError(t, repo.BatchCreate(ctx, ws))
	require.NoError(t, repo.BatchCreate(ctx, nil))

	odd, err := repo.Find(ctx, &widget{Kind: "odd"})
	require.NoError(t, err)
	require.Len(t, odd, 2)

	n, err := repo.Count(ctx, &widget{Kind: "even"})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	sorted, err := repo.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: []string{"w1", "w3", "w4"}}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"w4", "w3", "w1"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})

	liked, err := repo.Find(ctx, nil, option.WithAnyLike("WIDGET 2", "name"))
	require.NoError(t, err)
	require.Len(t, liked, 1)
}

func TestUpdate(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &widget{ID: "w1", Name: "old"}))

	require.NoError(t, repo.Update(ctx, "w1", map[string]any{"name": "new"}))
	got, err := repo.FindOne(ctx, &widget{ID: "w1"})
	require.NoError(t, err)
	require.Equal(t, "new", got.Name)

	err = repo.Update(ctx, "missing", map[string]any{"name": "x"})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestWithTrxRollsBack(t *testing.T) {
	repo, db := newRepo(t)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := repo.WithTrx(tx).Create(ctx, &widget{ID: "w1"}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	n, err := repo.Count(ctx, &widget{})
	require.NoError(t, err)
	require.Zero(t, n)
}
