// Package service реализует учёт общих расходов: согласование балансов друзей с историей расходов.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/friendledger/internal/metrics"
	"github.com/mmeshcher/friendledger/internal/model"
	"github.com/mmeshcher/friendledger/internal/repository"
	"github.com/mmeshcher/friendledger/internal/split"
)

// FriendStore описывает хранилище друзей. Только оно меняет поле баланса.
type FriendStore interface {
	CreateFriend(ctx context.Context, name, avatarURL string) (*model.Friend, error)
	GetFriend(ctx context.Context, id string) (*model.Friend, error)
	ListFriends(ctx context.Context) ([]model.Friend, error)
	UpdateFriend(ctx context.Context, id string, patch model.FriendPatch) (*model.Friend, error)
	DeleteFriend(ctx context.Context, id string) (bool, error)
	// AdjustBalance атомарно прибавляет delta к балансу; вызовы для одного друга линеаризуемы.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*model.Friend, error)
	ResetBalance(ctx context.Context, id string) (*model.Friend, error)
}

// ExpenseStore описывает хранилище расходов. Балансы друзей оно не трогает.
type ExpenseStore interface {
	ListExpenses(ctx context.Context, filter model.ExpenseFilter) (*model.ExpensePage, error)
	GetExpense(ctx context.Context, id string) (*model.Expense, error)
	ListExpensesByFriend(ctx context.Context, friendID string) ([]model.Expense, error)
	HasUnsettled(ctx context.Context, friendID string) (bool, error)
	InsertExpense(ctx context.Context, e *model.Expense) (*model.Expense, error)
	// ReplaceExpense и DeleteExpense затрагивают только непогашенный расход,
	// иначе возвращают model.ErrSettledExpenseEdit и model.ErrSettledExpenseDelete.
	ReplaceExpense(ctx context.Context, id string, e *model.Expense) (*model.Expense, error)
	DeleteExpense(ctx context.Context, id string) (bool, error)
	DeleteExpensesByFriend(ctx context.Context, friendID string) (int64, error)
	MarkSettled(ctx context.Context, friendID string) (int64, error)
	SyncFriendName(ctx context.Context, friendID, name string) (int64, error)
}

// Pinger реализуется хранилищами, умеющими проверять соединение.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Имена операций для логов и метрик.
const (
	opCreateFriend  = "create_friend"
	opUpdateFriend  = "update_friend"
	opDeleteFriend  = "delete_friend"
	opSettle        = "settle"
	opCreateExpense = "create_expense"
	opUpdateExpense = "update_expense"
	opDeleteExpense = "delete_expense"
	opReconcile     = "reconcile"
)

// ReconcileError означает, что расход записан, но изменение баланса применить не удалось.
// Баланс друга расходится с историей расходов до ручного или автоматического согласования.
type ReconcileError struct {
	Op        string
	Step      string
	ExpenseID string
	FriendID  string
	Err       error
}

func (e *ReconcileError) Error() string {
	if e.ExpenseID == "" {
		return fmt.Sprintf("%s: %s failed for friend %s, balance needs reconciliation: %v",
			e.Op, e.Step, e.FriendID, e.Err)
	}
	return fmt.Sprintf("%s: %s failed for friend %s after writing expense %s, balance needs reconciliation: %v",
		e.Op, e.Step, e.FriendID, e.ExpenseID, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Service содержит бизнес-логику учёта расходов.
type Service struct {
	friends  FriendStore
	expenses ExpenseStore
	logger   *zap.Logger
	metrics  *metrics.Ledger
	now      func() time.Time
}

// NewService создаёт сервис поверх хранилищ друзей и расходов.
func NewService(friends FriendStore, expenses ExpenseStore, logger *zap.Logger, m *metrics.Ledger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		friends:  friends,
		expenses: expenses,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ping проверяет доступность хранилищ.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.friends.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	if p, ok := s.expenses.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Service) observe(op string, err *error) {
	s.metrics.Observe(op, *err)
}

func (s *Service) reconcileNeeded(op, step, expenseID, friendID string, err error) error {
	s.metrics.ReconcileNeeded(op)
	s.logger.Error("balance update failed after expense write",
		zap.String("op", op),
		zap.String("step", step),
		zap.String("expense_id", expenseID),
		zap.String("friend_id", friendID),
		zap.Bool("reconcile_needed", true),
		zap.Error(err),
	)
	return &ReconcileError{Op: op, Step: step, ExpenseID: expenseID, FriendID: friendID, Err: err}
}

// ListFriends возвращает всех друзей, упорядоченных по имени.
func (s *Service) ListFriends(ctx context.Context) ([]model.Friend, error) {
	return s.friends.ListFriends(ctx)
}

// GetFriend возвращает друга по идентификатору.
func (s *Service) GetFriend(ctx context.Context, id string) (*model.Friend, error) {
	return s.friends.GetFriend(ctx, id)
}

// CreateFriend создаёт друга с нулевым балансом.
func (s *Service) CreateFriend(ctx context.Context, name, avatarURL string) (f *model.Friend, err error) {
	defer s.observe(opCreateFriend, &err)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError("name", "friend name is required")
	}
	return s.friends.CreateFriend(ctx, name, strings.TrimSpace(avatarURL))
}

// UpdateFriend меняет имя и/или аватар друга. Новое имя переносится в снимки имени в его расходах.
func (s *Service) UpdateFriend(ctx context.Context, id string, patch model.FriendPatch) (f *model.Friend, err error) {
	defer s.observe(opUpdateFriend, &err)

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, model.NewValidationError("name", "friend name is required")
		}
		patch.Name = &name
	}

	f, err = s.friends.UpdateFriend(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		n, err := s.expenses.SyncFriendName(ctx, id, f.Name)
		if err != nil {
			s.logger.Error("friend renamed but expense snapshots not updated",
				zap.String("op", opUpdateFriend),
				zap.String("step", "sync friend name"),
				zap.String("friend_id", id),
				zap.Error(err),
			)
			return nil, fmt.Errorf("sync friend name: %w", err)
		}
		if n > 0 {
			s.logger.Debug("friend name synced", zap.String("friend_id", id), zap.Int64("expenses", n))
		}
	}
	return f, nil
}

// DeleteFriend удаляет друга вместе с его (погашенными) расходами.
// Друга с непогашенными расходами удалить нельзя.
func (s *Service) DeleteFriend(ctx context.Context, id string) (res *model.DeleteFriendResult, err error) {
	defer s.observe(opDeleteFriend, &err)

	unsettled, err := s.expenses.HasUnsettled(ctx, id)
	if err != nil {
		return nil, err
	}
	if unsettled {
		return nil, model.ErrFriendHasUnsettled
	}

	deleted, err := s.friends.DeleteFriend(ctx, id)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, repository.ErrFriendNotFound
	}

	n, err := s.expenses.DeleteExpensesByFriend(ctx, id)
	if err != nil {
		s.logger.Error("friend deleted but expenses remain",
			zap.String("op", opDeleteFriend),
			zap.String("step", "delete expenses"),
			zap.String("friend_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("delete friend expenses: %w", err)
	}

	return &model.DeleteFriendResult{FriendDeleted: true, ExpensesDeleted: n}, nil
}

// Settle погашает все непогашенные расходы друга и обнуляет его баланс. Повторный вызов безопасен.
func (s *Service) Settle(ctx context.Context, friendID string) (res *model.SettleResult, err error) {
	defer s.observe(opSettle, &err)

	if _, err := s.friends.GetFriend(ctx, friendID); err != nil {
		return nil, err
	}

	n, err := s.expenses.MarkSettled(ctx, friendID)
	if err != nil {
		return nil, err
	}

	f, err := s.friends.ResetBalance(ctx, friendID)
	if err != nil {
		if n > 0 {
			return nil, s.reconcileNeeded(opSettle, "reset balance", "", friendID, err)
		}
		return nil, err
	}

	s.logger.Info("friend settled", zap.String("friend_id", friendID), zap.Int64("expenses", n))
	return &model.SettleResult{SettledCount: n, Friend: f}, nil
}

// ListExpenses возвращает страницу расходов согласно фильтру.
func (s *Service) ListExpenses(ctx context.Context, filter model.ExpenseFilter) (*model.ExpensePage, error) {
	return s.expenses.ListExpenses(ctx, filter)
}

// GetExpense возвращает расход по идентификатору.
func (s *Service) GetExpense(ctx context.Context, id string) (*model.Expense, error) {
	return s.expenses.GetExpense(ctx, id)
}

// ListExpensesByFriend возвращает все расходы друга, от новых к старым.
func (s *Service) ListExpensesByFriend(ctx context.Context, friendID string) ([]model.Expense, error) {
	return s.expenses.ListExpensesByFriend(ctx, friendID)
}

// CreateExpense записывает расход и применяет его изменение к балансу друга.
func (s *Service) CreateExpense(ctx context.Context, in model.ExpenseInput) (e *model.Expense, err error) {
	defer s.observe(opCreateExpense, &err)

	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, model.NewValidationError("description", "description is required")
	}
	if in.SplitMethod == "" {
		in.SplitMethod = model.SplitEqually
	}
	if in.PaidBy == "" {
		in.PaidBy = model.PaidByYou
	}
	if !in.PaidBy.Valid() {
		return nil, model.NewValidationError("paidBy", "paidBy must be \"you\" or \"friend\"")
	}

	friend, err := s.friends.GetFriend(ctx, in.FriendID)
	if err != nil {
		return nil, err
	}

	shares, err := split.ComputeShares(in.Amount, in.SplitMethod, in.UserAmount)
	if err != nil {
		return nil, err
	}

	date := s.now()
	if in.Date != nil {
		date = in.Date.UTC()
	}

	stored, err := s.expenses.InsertExpense(ctx, &model.Expense{
		Description:  description,
		Amount:       in.Amount,
		Date:         date,
		FriendID:     friend.ID,
		FriendName:   friend.Name,
		SplitMethod:  in.SplitMethod,
		UserAmount:   shares.UserAmount,
		FriendAmount: shares.FriendAmount,
		PaidBy:       in.PaidBy,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.friends.AdjustBalance(ctx, friend.ID, split.ExpenseDelta(stored)); err != nil {
		return nil, s.reconcileNeeded(opCreateExpense, "adjust balance", stored.ID, friend.ID, err)
	}

	return stored, nil
}

// mergeExpense накладывает частичное обновление на расход и пересчитывает доли.
func mergeExpense(orig *model.Expense, patch model.ExpensePatch) (model.Expense, error) {
	merged := *orig

	if patch.Description != nil {
		d := strings.TrimSpace(*patch.Description)
		if d == "" {
			return merged, model.NewValidationError("description", "description is required")
		}
		merged.Description = d
	}
	if patch.Amount != nil {
		merged.Amount = *patch.Amount
	}
	if patch.Date != nil {
		merged.Date = patch.Date.UTC()
	}
	if patch.SplitMethod != nil {
		merged.SplitMethod = *patch.SplitMethod
	}
	if patch.PaidBy != nil {
		if !patch.PaidBy.Valid() {
			return merged, model.NewValidationError("paidBy", "paidBy must be \"you\" or \"friend\"")
		}
		merged.PaidBy = *patch.PaidBy
	}

	userAmount := orig.UserAmount
	if patch.UserAmount != nil {
		userAmount = *patch.UserAmount
	}
	shares, err := split.ComputeShares(merged.Amount, merged.SplitMethod, &userAmount)
	if err != nil {
		return merged, err
	}
	merged.UserAmount = shares.UserAmount
	merged.FriendAmount = shares.FriendAmount

	return merged, nil
}

// UpdateExpense частично обновляет непогашенный расход и переносит разницу в балансы.
// При смене друга старый вклад снимается со старого друга, новый добавляется новому.
// Погашение, успевшее между чтением и записью, отклоняет запись с model.ErrSettledExpenseEdit.
func (s *Service) UpdateExpense(ctx context.Context, id string, patch model.ExpensePatch) (e *model.Expense, err error) {
	defer s.observe(opUpdateExpense, &err)

	orig, err := s.expenses.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Settled {
		return nil, model.ErrSettledExpenseEdit
	}

	merged, err := mergeExpense(orig, patch)
	if err != nil {
		return nil, err
	}

	friendChanged := patch.FriendID != nil && *patch.FriendID != orig.FriendID
	if friendChanged {
		newFriend, err := s.friends.GetFriend(ctx, *patch.FriendID)
		if err != nil {
			return nil, err
		}
		merged.FriendID = newFriend.ID
		merged.FriendName = newFriend.Name
	}

	oldDelta := split.ExpenseDelta(orig)
	newDelta := split.ExpenseDelta(&merged)

	stored, err := s.expenses.ReplaceExpense(ctx, id, &merged)
	if err != nil {
		return nil, err
	}

	if !friendChanged {
		if err := s.adjust(ctx, opUpdateExpense, stored.ID, orig.FriendID, newDelta.Sub(oldDelta)); err != nil {
			return nil, err
		}
		return stored, nil
	}

	if err := s.adjust(ctx, opUpdateExpense, stored.ID, orig.FriendID, oldDelta.Neg()); err != nil {
		return nil, err
	}
	if err := s.adjust(ctx, opUpdateExpense, stored.ID, merged.FriendID, newDelta); err != nil {
		return nil, err
	}
	return stored, nil
}

// adjust применяет изменение баланса после записи расхода.
// Отсутствующий друг пропускается: согласовывать больше нечего.
func (s *Service) adjust(ctx context.Context, op, expenseID, friendID string, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	_, err := s.friends.AdjustBalance(ctx, friendID, delta)
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) {
		s.logger.Warn("balance adjustment skipped, friend not found",
			zap.String("op", op),
			zap.String("expense_id", expenseID),
			zap.String("friend_id", friendID),
		)
		return nil
	}
	return s.reconcileNeeded(op, "adjust balance", expenseID, friendID, err)
}

// DeleteExpense удаляет непогашенный расход и снимает его вклад с баланса друга.
// Сначала удаляется расход, затем правится баланс; сбой второго шага возвращает *ReconcileError.
func (s *Service) DeleteExpense(ctx context.Context, id string) (deleted bool, err error) {
	defer s.observe(opDeleteExpense, &err)

	e, err := s.expenses.GetExpense(ctx, id)
	if err != nil {
		return false, err
	}
	if e.Settled {
		return false, model.ErrSettledExpenseDelete
	}

	deleted, err = s.expenses.DeleteExpense(ctx, id)
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	if err := s.adjust(ctx, opDeleteExpense, id, e.FriendID, split.ExpenseDelta(e).Neg()); err != nil {
		return false, err
	}
	return true, nil
}
