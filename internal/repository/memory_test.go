package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/friendledger/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 12, 0, 0, 0, time.UTC)
}

func insert(t *testing.T, r *MemoryRepository, e model.Expense) *model.Expense {
	t.Helper()
	stored, err := r.InsertExpense(context.Background(), &e)
	require.NoError(t, err)
	return stored
}

func TestMemoryFriendsSortedByName(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	for _, name := range []string{"bob", "Alice", "Émile", "carol"} {
		_, err := r.CreateFriend(ctx, name, "")
		require.NoError(t, err)
	}

	friends, err := r.ListFriends(ctx)
	require.NoError(t, err)

	names := make([]string, 0, len(friends))
	for _, f := range friends {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Alice", "bob", "carol", "Émile"}, names)
}

func TestMemoryAdjustBalanceConcurrent(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	f, err := r.CreateFriend(ctx, "Alex", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			delta := dec("1.5")
			if i%2 == 1 {
				delta = dec("-0.5")
			}
			_, err := r.AdjustBalance(ctx, f.ID, delta)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := r.GetFriend(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("50")), "balance %s", got.Balance)

	_, err = r.AdjustBalance(ctx, "missing", dec("1"))
	assert.ErrorIs(t, err, ErrFriendNotFound)
}

func TestMemoryReturnsCopies(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	f, err := r.CreateFriend(ctx, "Alex", "")
	require.NoError(t, err)

	f.Name = "changed"
	got, err := r.GetFriend(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alex", got.Name)
}

func TestMemoryListExpenses(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	insert(t, r, model.Expense{Description: "Dinner", Amount: dec("100"), Date: day(1), FriendID: "a", FriendName: "Alex"})
	insert(t, r, model.Expense{Description: "Taxi", Amount: dec("30"), Date: day(2), FriendID: "a", FriendName: "Alex", Settled: true})
	insert(t, r, model.Expense{Description: "Movie", Amount: dec("25"), Date: day(3), FriendID: "s", FriendName: "Sam"})
	insert(t, r, model.Expense{Description: "Lunch with Sam", Amount: dec("40"), Date: day(4), FriendID: "a", FriendName: "Alex"})

	settled := false
	tests := []struct {
		name   string
		filter model.ExpenseFilter
		want   []string
		total  int64
	}{
		{
			name:   "default sort by date desc",
			filter: model.ExpenseFilter{},
			want:   []string{"Lunch with Sam", "Movie", "Taxi", "Dinner"},
			total:  4,
		},
		{
			name:   "search matches description and friend name case-insensitively",
			filter: model.ExpenseFilter{Search: "SAM"},
			want:   []string{"Lunch with Sam", "Movie"},
			total:  2,
		},
		{
			name:   "friend and settled",
			filter: model.ExpenseFilter{FriendID: "a", Settled: &settled},
			want:   []string{"Lunch with Sam", "Dinner"},
			total:  2,
		},
		{
			name:   "inclusive date range",
			filter: model.ExpenseFilter{DateFrom: ptrTime(day(2)), DateTo: ptrTime(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC))},
			want:   []string{"Movie", "Taxi"},
			total:  2,
		},
		{
			name:   "amount asc",
			filter: model.ExpenseFilter{SortBy: model.SortByAmount, SortDirection: model.SortAsc},
			want:   []string{"Movie", "Taxi", "Lunch with Sam", "Dinner"},
			total:  4,
		},
		{
			name:   "second page",
			filter: model.ExpenseFilter{Page: 2, PageSize: 3},
			want:   []string{"Dinner"},
			total:  4,
		},
		{
			name:   "page past the end",
			filter: model.ExpenseFilter{Page: 5, PageSize: 3},
			want:   []string{},
			total:  4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := r.ListExpenses(ctx, tt.filter)
			require.NoError(t, err)

			got := make([]string, 0, len(page.Items))
			for _, e := range page.Items {
				got = append(got, e.Description)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.total, page.TotalItems)
		})
	}
}

func TestMemoryPagination(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		insert(t, r, model.Expense{Description: fmt.Sprintf("e%d", i), Amount: dec("1"), Date: day(1 + i%28), FriendID: "a"})
	}

	page, err := r.ListExpenses(ctx, model.ExpenseFilter{Page: 3})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 10, page.PageSize)
	assert.Equal(t, 3, page.TotalPages)

	page, err = r.ListExpenses(ctx, model.ExpenseFilter{PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, model.MaxPageSize, page.PageSize)
	assert.Len(t, page.Items, 25)
}

func TestMemoryExpenseLifecycle(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	e := insert(t, r, model.Expense{Description: "Dinner", Amount: dec("100"), Date: day(1), FriendID: "a", FriendName: "Alex"})
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())

	repl := *e
	repl.Description = "Late dinner"
	repl.CreatedAt = time.Time{}
	got, err := r.ReplaceExpense(ctx, e.ID, &repl)
	require.NoError(t, err)
	assert.Equal(t, "Late dinner", got.Description)
	assert.Equal(t, e.CreatedAt, got.CreatedAt)

	n, err := r.SyncFriendName(ctx, "a", "Alexander")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	has, err := r.HasUnsettled(ctx, "a")
	require.NoError(t, err)
	assert.True(t, has)

	n, err = r.MarkSettled(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = r.MarkSettled(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err = r.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Settled)
	assert.NotNil(t, got.SettledAt)
	assert.Equal(t, "Alexander", got.FriendName)

	_, err = r.ReplaceExpense(ctx, e.ID, &repl)
	assert.ErrorIs(t, err, model.ErrSettledExpenseEdit)
	deleted, err := r.DeleteExpense(ctx, e.ID)
	assert.ErrorIs(t, err, model.ErrSettledExpenseDelete)
	assert.False(t, deleted)

	got, err = r.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, got.Settled)
	assert.Equal(t, "Late dinner", got.Description)

	n, err = r.DeleteExpensesByFriend(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	deleted, err = r.DeleteExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = r.ReplaceExpense(ctx, e.ID, &repl)
	assert.ErrorIs(t, err, ErrExpenseNotFound)
}

func TestMemoryDeleteUnsettledExpense(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	e := insert(t, r, model.Expense{Description: "Taxi", Amount: dec("12"), Date: day(2), FriendID: "a"})

	deleted, err := r.DeleteExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = r.GetExpense(ctx, e.ID)
	assert.ErrorIs(t, err, ErrExpenseNotFound)
}

func TestMemoryListByFriendOrder(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	insert(t, r, model.Expense{Description: "old", Date: day(1), FriendID: "a"})
	insert(t, r, model.Expense{Description: "new", Date: day(5), FriendID: "a"})
	insert(t, r, model.Expense{Description: "other", Date: day(3), FriendID: "b"})

	got, err := r.ListExpensesByFriend(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Description)
	assert.Equal(t, "old", got[1].Description)

	n, err := r.DeleteExpensesByFriend(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestDefaultAvatarURL(t *testing.T) {
	assert.Equal(t, "https://i.pravatar.cc/150?u=89abcdef", DefaultAvatarURL("0123456789abcdef"))
	assert.Equal(t, "https://i.pravatar.cc/150?u=abc", DefaultAvatarURL("abc"))
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
