package repository

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/friendledger/internal/model"
)

// MemoryRepository хранит друзей и расходы в памяти процесса.
// Все изменения баланса выполняются под мьютексом и поэтому линеаризуемы.
type MemoryRepository struct {
	mu       sync.RWMutex
	friends  map[string]*model.Friend
	expenses map[string]*model.Expense
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		friends:  make(map[string]*model.Friend),
		expenses: make(map[string]*model.Expense),
	}
}

// Migrate ничего не делает: хранилищу в памяти не нужны индексы.
func (r *MemoryRepository) Migrate(context.Context) error { return nil }

// Ping всегда успешен.
func (r *MemoryRepository) Ping(context.Context) error { return nil }

// Close ничего не освобождает.
func (r *MemoryRepository) Close() error { return nil }

// CreateFriend создаёт друга с нулевым балансом.
func (r *MemoryRepository) CreateFriend(_ context.Context, name, avatarURL string) (*model.Friend, error) {
	id := uuid.NewString()
	if avatarURL == "" {
		avatarURL = DefaultAvatarURL(id)
	}
	f := &model.Friend{
		ID:        id,
		Name:      name,
		AvatarURL: avatarURL,
		Balance:   decimal.Zero,
		CreatedAt: now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.friends[id] = f

	cp := *f
	return &cp, nil
}

// GetFriend возвращает друга по идентификатору.
func (r *MemoryRepository) GetFriend(_ context.Context, id string) (*model.Friend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.friends[id]
	if !ok {
		return nil, ErrFriendNotFound
	}
	cp := *f
	return &cp, nil
}

// ListFriends возвращает всех друзей, упорядоченных по имени.
func (r *MemoryRepository) ListFriends(_ context.Context) ([]model.Friend, error) {
	r.mu.RLock()
	res := make([]model.Friend, 0, len(r.friends))
	for _, f := range r.friends {
		res = append(res, *f)
	}
	r.mu.RUnlock()

	sortFriendsByName(res)
	return res, nil
}

// UpdateFriend меняет имя и/или аватар друга.
func (r *MemoryRepository) UpdateFriend(_ context.Context, id string, patch model.FriendPatch) (*model.Friend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friends[id]
	if !ok {
		return nil, ErrFriendNotFound
	}
	if patch.Name != nil {
		f.Name = *patch.Name
	}
	if patch.AvatarURL != nil {
		f.AvatarURL = *patch.AvatarURL
	}
	cp := *f
	return &cp, nil
}

// DeleteFriend удаляет друга и сообщает, был ли он найден.
func (r *MemoryRepository) DeleteFriend(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.friends[id]; !ok {
		return false, nil
	}
	delete(r.friends, id)
	return true, nil
}

// AdjustBalance атомарно прибавляет delta к балансу друга.
func (r *MemoryRepository) AdjustBalance(_ context.Context, id string, delta decimal.Decimal) (*model.Friend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friends[id]
	if !ok {
		return nil, ErrFriendNotFound
	}
	f.Balance = f.Balance.Add(delta)
	cp := *f
	return &cp, nil
}

// SetBalance записывает баланс друга.
func (r *MemoryRepository) SetBalance(_ context.Context, id string, balance decimal.Decimal) (*model.Friend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.friends[id]
	if !ok {
		return nil, ErrFriendNotFound
	}
	f.Balance = balance
	cp := *f
	return &cp, nil
}

// ResetBalance обнуляет баланс друга.
func (r *MemoryRepository) ResetBalance(ctx context.Context, id string) (*model.Friend, error) {
	return r.SetBalance(ctx, id, decimal.Zero)
}

// ListExpenses возвращает страницу расходов согласно фильтру.
func (r *MemoryRepository) ListExpenses(_ context.Context, filter model.ExpenseFilter) (*model.ExpensePage, error) {
	f := filter.Normalize()
	search := strings.ToLower(f.Search)
	from := f.DateFromInclusive()
	to := f.DateToExclusive()

	r.mu.RLock()
	matched := make([]model.Expense, 0, len(r.expenses))
	for _, e := range r.expenses {
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Description), search) &&
			!strings.Contains(strings.ToLower(e.FriendName), search) {
			continue
		}
		if f.FriendID != "" && e.FriendID != f.FriendID {
			continue
		}
		if f.Settled != nil && e.Settled != *f.Settled {
			continue
		}
		if from != nil && e.Date.Before(*from) {
			continue
		}
		if to != nil && !e.Date.Before(*to) {
			continue
		}
		matched = append(matched, *e)
	}
	r.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b model.Expense) int {
		c := compareExpenses(&a, &b, f.SortBy)
		if f.SortDirection == model.SortDesc {
			c = -c
		}
		if c != 0 || f.SortBy == model.SortByCreatedAt {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := int64(len(matched))
	start := min(f.Offset(), len(matched))
	end := min(start+f.PageSize, len(matched))

	return model.NewExpensePage(matched[start:end], f, total), nil
}

func compareExpenses(a, b *model.Expense, field string) int {
	switch field {
	case model.SortByAmount:
		return a.Amount.Cmp(b.Amount)
	case model.SortByDescription:
		return cmp.Compare(a.Description, b.Description)
	case model.SortByFriendName:
		return cmp.Compare(a.FriendName, b.FriendName)
	case model.SortBySettled:
		return cmp.Compare(boolRank(a.Settled), boolRank(b.Settled))
	case model.SortByCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	default:
		return a.Date.Compare(b.Date)
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetExpense возвращает расход по идентификатору.
func (r *MemoryRepository) GetExpense(_ context.Context, id string) (*model.Expense, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.expenses[id]
	if !ok {
		return nil, ErrExpenseNotFound
	}
	cp := *e
	return &cp, nil
}

// ListExpensesByFriend возвращает расходы друга, от новых к старым.
func (r *MemoryRepository) ListExpensesByFriend(_ context.Context, friendID string) ([]model.Expense, error) {
	r.mu.RLock()
	res := make([]model.Expense, 0)
	for _, e := range r.expenses {
		if e.FriendID == friendID {
			res = append(res, *e)
		}
	}
	r.mu.RUnlock()

	slices.SortStableFunc(res, func(a, b model.Expense) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return res, nil
}

// HasUnsettled сообщает, есть ли у друга непогашенные расходы.
func (r *MemoryRepository) HasUnsettled(_ context.Context, friendID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.expenses {
		if e.FriendID == friendID && !e.Settled {
			return true, nil
		}
	}
	return false, nil
}

// InsertExpense сохраняет новый расход, назначая идентификатор и время создания.
func (r *MemoryRepository) InsertExpense(_ context.Context, e *model.Expense) (*model.Expense, error) {
	cp := *e
	cp.ID = uuid.NewString()
	cp.CreatedAt = now()

	r.mu.Lock()
	defer r.mu.Unlock()
	stored := cp
	r.expenses[cp.ID] = &stored
	return &cp, nil
}

// ReplaceExpense заменяет непогашенный расход целиком, сохраняя идентификатор и время создания.
// Погашенный расход не изменяется: возвращается model.ErrSettledExpenseEdit.
func (r *MemoryRepository) ReplaceExpense(_ context.Context, id string, e *model.Expense) (*model.Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.expenses[id]
	if !ok {
		return nil, ErrExpenseNotFound
	}
	if prev.Settled {
		return nil, model.ErrSettledExpenseEdit
	}
	cp := *e
	cp.ID = id
	cp.CreatedAt = prev.CreatedAt
	stored := cp
	r.expenses[id] = &stored
	return &cp, nil
}

// DeleteExpense удаляет непогашенный расход и сообщает, был ли он найден.
// Погашенный расход остаётся: возвращается model.ErrSettledExpenseDelete.
func (r *MemoryRepository) DeleteExpense(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.expenses[id]
	if !ok {
		return false, nil
	}
	if e.Settled {
		return false, model.ErrSettledExpenseDelete
	}
	delete(r.expenses, id)
	return true, nil
}

// DeleteExpensesByFriend удаляет все расходы друга.
func (r *MemoryRepository) DeleteExpensesByFriend(_ context.Context, friendID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, e := range r.expenses {
		if e.FriendID == friendID {
			delete(r.expenses, id)
			n++
		}
	}
	return n, nil
}

// MarkSettled помечает все непогашенные расходы друга погашенными.
func (r *MemoryRepository) MarkSettled(_ context.Context, friendID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := now()
	var n int64
	for _, e := range r.expenses {
		if e.FriendID == friendID && !e.Settled {
			e.Settled = true
			settledAt := t
			e.SettledAt = &settledAt
			n++
		}
	}
	return n, nil
}

// SyncFriendName обновляет снимок имени друга во всех его расходах.
func (r *MemoryRepository) SyncFriendName(_ context.Context, friendID, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, e := range r.expenses {
		if e.FriendID == friendID && e.FriendName != name {
			e.FriendName = name
			n++
		}
	}
	return n, nil
}

// Reset удаляет все данные.
func (r *MemoryRepository) Reset(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.friends = make(map[string]*model.Friend)
	r.expenses = make(map[string]*model.Expense)
	return nil
}

// RestoreFriend записывает друга как есть, включая идентификатор и баланс.
func (r *MemoryRepository) RestoreFriend(_ context.Context, f *model.Friend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *f
	r.friends[f.ID] = &cp
	return nil
}

// RestoreExpense записывает расход как есть, включая идентификатор и время создания.
func (r *MemoryRepository) RestoreExpense(_ context.Context, e *model.Expense) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *e
	r.expenses[e.ID] = &cp
	return nil
}
