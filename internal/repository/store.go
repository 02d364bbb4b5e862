package repository

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/friendledger/internal/model"
)

// Store объединяет хранилище друзей и хранилище расходов одного бэкенда,
// а также операции обслуживания: инициализацию, проверку соединения и восстановление данных.
type Store interface {
	CreateFriend(ctx context.Context, name, avatarURL string) (*model.Friend, error)
	GetFriend(ctx context.Context, id string) (*model.Friend, error)
	ListFriends(ctx context.Context) ([]model.Friend, error)
	UpdateFriend(ctx context.Context, id string, patch model.FriendPatch) (*model.Friend, error)
	DeleteFriend(ctx context.Context, id string) (bool, error)
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*model.Friend, error)
	SetBalance(ctx context.Context, id string, balance decimal.Decimal) (*model.Friend, error)
	ResetBalance(ctx context.Context, id string) (*model.Friend, error)

	ListExpenses(ctx context.Context, filter model.ExpenseFilter) (*model.ExpensePage, error)
	GetExpense(ctx context.Context, id string) (*model.Expense, error)
	ListExpensesByFriend(ctx context.Context, friendID string) ([]model.Expense, error)
	HasUnsettled(ctx context.Context, friendID string) (bool, error)
	InsertExpense(ctx context.Context, e *model.Expense) (*model.Expense, error)
	ReplaceExpense(ctx context.Context, id string, e *model.Expense) (*model.Expense, error)
	DeleteExpense(ctx context.Context, id string) (bool, error)
	DeleteExpensesByFriend(ctx context.Context, friendID string) (int64, error)
	MarkSettled(ctx context.Context, friendID string) (int64, error)
	SyncFriendName(ctx context.Context, friendID, name string) (int64, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	Reset(ctx context.Context) error
	RestoreFriend(ctx context.Context, f *model.Friend) error
	RestoreExpense(ctx context.Context, e *model.Expense) error
}

var (
	_ Store = (*MemoryRepository)(nil)
	_ Store = (*PostgresRepository)(nil)
	_ Store = (*MongoRepository)(nil)
)

// Options задаёт вид хранилища и параметры подключения к нему.
type Options struct {
	Kind        string
	PostgresDSN string
	MongoURI    string
	MongoDB     string
}

// Open создаёт хранилище выбранного вида. Схема и индексы создаются отдельным вызовом Migrate.
func Open(opts Options) (Store, error) {
	switch opts.Kind {
	case "postgres":
		repo, err := NewPostgresRepository(opts.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "mongo":
		repo, err := NewMongoRepository(opts.MongoURI, opts.MongoDB)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "memory", "":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown storage %q", opts.Kind)
	}
}
