// Package model содержит доменные сущности учёта общих расходов с друзьями.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitMethod описывает способ деления суммы расхода.
type SplitMethod string

const (
	SplitEqually SplitMethod = "equally"
	SplitCustom  SplitMethod = "custom"
)

// Valid сообщает, является ли значение допустимым способом деления.
func (m SplitMethod) Valid() bool {
	return m == SplitEqually || m == SplitCustom
}

// PaidBy указывает, кто фактически оплатил расход целиком.
type PaidBy string

const (
	PaidByYou    PaidBy = "you"
	PaidByFriend PaidBy = "friend"
)

// Valid сообщает, является ли значение допустимым плательщиком.
func (p PaidBy) Valid() bool {
	return p == PaidByYou || p == PaidByFriend
}

// Friend представляет друга и текущий баланс взаиморасчётов с ним.
// Положительный баланс означает, что друг должен пользователю.
type Friend struct {
	ID        string          `json:"_id"`
	Name      string          `json:"name"`
	AvatarURL string          `json:"profilePic"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdAt"`
}

// FriendPatch содержит изменяемые поля друга. Баланс через него не меняется.
type FriendPatch struct {
	Name      *string
	AvatarURL *string
}

// Expense описывает один общий расход с другом.
type Expense struct {
	ID           string          `json:"_id"`
	Description  string          `json:"description"`
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	FriendID     string          `json:"friendId"`
	FriendName   string          `json:"friendName"`
	SplitMethod  SplitMethod     `json:"splitMethod"`
	UserAmount   decimal.Decimal `json:"userAmount"`
	FriendAmount decimal.Decimal `json:"friendAmount"`
	PaidBy       PaidBy          `json:"paidBy"`
	Settled      bool            `json:"settled"`
	SettledAt    *time.Time      `json:"settledAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ExpenseInput содержит данные для создания расхода.
type ExpenseInput struct {
	Description string
	Amount      decimal.Decimal
	Date        *time.Time
	FriendID    string
	SplitMethod SplitMethod
	UserAmount  *decimal.Decimal
	PaidBy      PaidBy
}

// ExpensePatch содержит частичное обновление расхода; nil-поля сохраняют прежнее значение.
type ExpensePatch struct {
	Description *string
	Amount      *decimal.Decimal
	Date        *time.Time
	FriendID    *string
	SplitMethod *SplitMethod
	UserAmount  *decimal.Decimal
	PaidBy      *PaidBy
}

// SortDirection задаёт направление сортировки.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Поля, по которым допускается сортировка списка расходов.
const (
	SortByDate        = "date"
	SortByAmount      = "amount"
	SortByDescription = "description"
	SortByFriendName  = "friendName"
	SortBySettled     = "settled"
	SortByCreatedAt   = "createdAt"
)

// Значения пагинации по умолчанию.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ExpenseFilter описывает параметры выборки списка расходов.
type ExpenseFilter struct {
	Page          int
	PageSize      int
	SortBy        string
	SortDirection SortDirection
	Search        string
	FriendID      string
	Settled       *bool
	DateFrom      *time.Time
	DateTo        *time.Time
}

// Normalize подставляет значения по умолчанию и ограничивает размер страницы.
func (f ExpenseFilter) Normalize() ExpenseFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	if !IsSortField(f.SortBy) {
		f.SortBy = SortByDate
	}
	if f.SortDirection != SortAsc {
		f.SortDirection = SortDesc
	}
	return f
}

// Offset возвращает число пропускаемых записей для текущей страницы.
func (f ExpenseFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// DateToExclusive возвращает начало дня, следующего за DateTo: верхняя граница включает весь день.
func (f ExpenseFilter) DateToExclusive() *time.Time {
	if f.DateTo == nil {
		return nil
	}
	t := f.DateTo.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return &t
}

// DateFromInclusive возвращает начало дня DateFrom.
func (f ExpenseFilter) DateFromInclusive() *time.Time {
	if f.DateFrom == nil {
		return nil
	}
	t := f.DateFrom.UTC().Truncate(24 * time.Hour)
	return &t
}

// IsSortField сообщает, разрешена ли сортировка по указанному полю.
func IsSortField(field string) bool {
	switch field {
	case SortByDate, SortByAmount, SortByDescription, SortByFriendName, SortBySettled, SortByCreatedAt:
		return true
	}
	return false
}

// ExpensePage содержит страницу расходов и данные пагинации.
type ExpensePage struct {
	Items      []Expense
	Page       int
	PageSize   int
	TotalItems int64
	TotalPages int
}

// NewExpensePage собирает страницу и вычисляет число страниц.
func NewExpensePage(items []Expense, f ExpenseFilter, total int64) *ExpensePage {
	pages := 0
	if f.PageSize > 0 {
		pages = int((total + int64(f.PageSize) - 1) / int64(f.PageSize))
	}
	if items == nil {
		items = []Expense{}
	}
	return &ExpensePage{
		Items:      items,
		Page:       f.Page,
		PageSize:   f.PageSize,
		TotalItems: total,
		TotalPages: pages,
	}
}

// SettleResult описывает итог погашения баланса с другом.
type SettleResult struct {
	SettledCount int64
	Friend       *Friend
}

// DeleteFriendResult описывает итог каскадного удаления друга.
type DeleteFriendResult struct {
	FriendDeleted   bool
	ExpensesDeleted int64
}

// ReconcileReport показывает расхождение сохранённого баланса с историей расходов.
type ReconcileReport struct {
	FriendID string          `json:"friendId"`
	Stored   decimal.Decimal `json:"stored"`
	Computed decimal.Decimal `json:"computed"`
	Drift    decimal.Decimal `json:"drift"`
	Repaired bool            `json:"repaired"`
}

// dateLayouts перечисляет принимаемые форматы дат: полная метка времени и дата из формы.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
}

// ParseDate разбирает дату в одном из поддерживаемых форматов и приводит её к UTC.
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
