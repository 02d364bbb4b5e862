// Package seed загружает выгрузку расходов, приводит устаревший формат к текущему
// и пересобирает друзей с балансами, вычисленными по непогашенным расходам.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/friendledger/internal/model"
	"github.com/mmeshcher/friendledger/internal/repository"
	"github.com/mmeshcher/friendledger/internal/split"
)

// Record описывает расход в выгрузке. Поля userPaid и friendPaid встречаются в старом формате
// вместо userAmount и friendAmount.
type Record struct {
	ID           string           `json:"_id"`
	Description  string           `json:"description"`
	Amount       decimal.Decimal  `json:"amount"`
	Date         string           `json:"date"`
	FriendID     string           `json:"friendId"`
	FriendName   string           `json:"friendName"`
	SplitMethod  string           `json:"splitMethod"`
	UserAmount   *decimal.Decimal `json:"userAmount"`
	FriendAmount *decimal.Decimal `json:"friendAmount"`
	UserPaid     *decimal.Decimal `json:"userPaid"`
	FriendPaid   *decimal.Decimal `json:"friendPaid"`
	PaidBy       string           `json:"paidBy"`
	Settled      bool             `json:"settled"`
	SettledAt    string           `json:"settledAt"`
	CreatedAt    string           `json:"createdAt"`
}

// IDFunc переводит идентификатор из выгрузки в идентификатор целевого хранилища.
// Пустой аргумент означает, что нужен новый идентификатор.
type IDFunc func(legacy string) string

// Dataset содержит нормализованные данные, готовые к записи.
type Dataset struct {
	Friends  []model.Friend
	Expenses []model.Expense
}

// Target принимает данные как есть, с идентификаторами и балансами.
type Target interface {
	Reset(ctx context.Context) error
	RestoreFriend(ctx context.Context, f *model.Friend) error
	RestoreExpense(ctx context.Context, e *model.Expense) error
}

// Load читает выгрузку: JSON-массив расходов.
func Load(r io.Reader) ([]Record, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode expenses: %w", err)
	}
	return records, nil
}

// Normalize приводит запись к текущему формату расхода.
// Доли пересчитываются так, чтобы их сумма всегда равнялась сумме расхода.
func Normalize(rec Record, now time.Time) (model.Expense, error) {
	e := model.Expense{
		ID:          rec.ID,
		Description: strings.TrimSpace(rec.Description),
		Amount:      rec.Amount,
		FriendID:    rec.FriendID,
		FriendName:  rec.FriendName,
		SplitMethod: model.SplitMethod(rec.SplitMethod),
		PaidBy:      model.PaidBy(rec.PaidBy),
		Settled:     rec.Settled,
	}

	if e.FriendID == "" {
		return e, model.NewValidationError("friendId", "friend is required")
	}
	if e.SplitMethod == "" {
		e.SplitMethod = model.SplitEqually
	}
	if e.PaidBy == "" {
		e.PaidBy = model.PaidByYou
	}
	if !e.PaidBy.Valid() {
		return e, model.NewValidationError("paidBy", "paidBy must be \"you\" or \"friend\"")
	}

	shares, err := split.ComputeShares(rec.Amount, e.SplitMethod, legacyUserAmount(rec))
	if err != nil {
		return e, err
	}
	e.UserAmount = shares.UserAmount
	e.FriendAmount = shares.FriendAmount

	e.Date = now
	if t, ok := model.ParseDate(rec.Date); ok {
		e.Date = t
	}
	e.CreatedAt = e.Date
	if t, ok := model.ParseDate(rec.CreatedAt); ok {
		e.CreatedAt = t
	}
	if e.Settled {
		settledAt := e.CreatedAt
		if t, ok := model.ParseDate(rec.SettledAt); ok {
			settledAt = t
		}
		e.SettledAt = &settledAt
	}

	return e, nil
}

// legacyUserAmount выбирает долю пользователя для custom-деления:
// userAmount, затем userPaid, затем остаток после friendPaid.
func legacyUserAmount(rec Record) *decimal.Decimal {
	switch {
	case rec.UserAmount != nil:
		return rec.UserAmount
	case rec.UserPaid != nil && !rec.UserPaid.IsZero():
		return rec.UserPaid
	case rec.FriendAmount != nil:
		v := rec.Amount.Sub(*rec.FriendAmount)
		return &v
	case rec.FriendPaid != nil:
		v := rec.Amount.Sub(*rec.FriendPaid)
		return &v
	default:
		return nil
	}
}

// Build нормализует выгрузку, назначает идентификаторы целевого хранилища
// и собирает друзей по расходам. Баланс друга равен сумме изменений по его непогашенным расходам.
func Build(records []Record, newID IDFunc, now time.Time) (*Dataset, error) {
	ds := &Dataset{Expenses: make([]model.Expense, 0, len(records))}
	friendIDs := make(map[string]string)
	byFriend := make(map[string][]model.Expense)
	var order []string

	for i, rec := range records {
		e, err := Normalize(rec, now)
		if err != nil {
			return nil, fmt.Errorf("expense #%d (%s): %w", i, rec.ID, err)
		}

		legacyFriend := e.FriendID
		id, ok := friendIDs[legacyFriend]
		if !ok {
			id = newID(legacyFriend)
			friendIDs[legacyFriend] = id
			order = append(order, legacyFriend)
			ds.Friends = append(ds.Friends, model.Friend{
				ID:        id,
				Name:      e.FriendName,
				AvatarURL: repository.DefaultAvatarURL(legacyFriend),
				CreatedAt: e.CreatedAt,
			})
		}

		e.ID = newID(e.ID)
		e.FriendID = id
		ds.Expenses = append(ds.Expenses, e)
		byFriend[legacyFriend] = append(byFriend[legacyFriend], e)
	}

	for i, legacy := range order {
		f := &ds.Friends[i]
		f.Balance = split.OutstandingBalance(byFriend[legacy])
		for _, e := range byFriend[legacy] {
			if e.CreatedAt.Before(f.CreatedAt) {
				f.CreatedAt = e.CreatedAt
			}
		}
	}

	slices.SortStableFunc(ds.Expenses, func(a, b model.Expense) int {
		return b.Date.Compare(a.Date)
	})
	return ds, nil
}

// Apply очищает хранилище и записывает набор данных.
func Apply(ctx context.Context, t Target, ds *Dataset) error {
	if err := t.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	for i := range ds.Friends {
		if err := t.RestoreFriend(ctx, &ds.Friends[i]); err != nil {
			return fmt.Errorf("friend %s: %w", ds.Friends[i].ID, err)
		}
	}
	for i := range ds.Expenses {
		if err := t.RestoreExpense(ctx, &ds.Expenses[i]); err != nil {
			return fmt.Errorf("expense %s: %w", ds.Expenses[i].ID, err)
		}
	}
	return nil
}
