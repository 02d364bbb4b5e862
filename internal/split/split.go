// Package split содержит арифметику деления расходов и вычисления изменения баланса.
package split

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/friendledger/internal/model"
)

// Пределы сумм: допустимая сумма и любая доля от неё укладываются в 34 значащие цифры decimal128.
// Доля пользователя может иметь на один знак больше, чтобы половина любой суммы оставалась допустимой.
const MaxScale = 18

// MaxAmount ограничивает модуль суммы расхода и доли.
var MaxAmount = decimal.New(1, 15)

var half = decimal.New(5, -1)

// Shares содержит доли пользователя и друга в сумме расхода.
type Shares struct {
	UserAmount   decimal.Decimal
	FriendAmount decimal.Decimal
}

// CheckAmount проверяет, что сумма не превышает MaxAmount и имеет не больше scale знаков после запятой.
func CheckAmount(field string, d decimal.Decimal, scale int32) error {
	if d.Abs().GreaterThan(MaxAmount) {
		return model.NewValidationError(field, field+" is too large")
	}
	if !d.Equal(d.Truncate(scale)) {
		return model.NewValidationError(field, field+" has too many decimal places")
	}
	return nil
}

// ComputeShares делит сумму расхода согласно способу деления.
// Для equally обе доли равны ровно половине суммы.
// Для custom доля пользователя обязательна и должна лежать в [0, amount].
func ComputeShares(amount decimal.Decimal, method model.SplitMethod, userAmount *decimal.Decimal) (Shares, error) {
	if !amount.IsPositive() {
		return Shares{}, model.NewValidationError("amount", "amount must be positive")
	}
	if err := CheckAmount("amount", amount, MaxScale); err != nil {
		return Shares{}, err
	}

	switch method {
	case model.SplitEqually:
		h := amount.Mul(half)
		return Shares{UserAmount: h, FriendAmount: h}, nil
	case model.SplitCustom:
		if userAmount == nil {
			return Shares{}, model.NewValidationError("userAmount", "user amount is required for custom split")
		}
		if userAmount.IsNegative() {
			return Shares{}, model.NewValidationError("userAmount", "user amount cannot be negative")
		}
		if userAmount.GreaterThan(amount) {
			return Shares{}, model.NewValidationError("userAmount", "user amount cannot be greater than the total amount")
		}
		if err := CheckAmount("userAmount", *userAmount, MaxScale+1); err != nil {
			return Shares{}, err
		}
		return Shares{UserAmount: *userAmount, FriendAmount: amount.Sub(*userAmount)}, nil
	default:
		return Shares{}, model.NewValidationError("splitMethod", "unknown split method")
	}
}

// BalanceDelta возвращает изменение баланса друга от расхода.
// Если платил пользователь, друг должен свою долю; если платил друг, пользователь должен свою.
func BalanceDelta(userAmount, friendAmount decimal.Decimal, paidBy model.PaidBy) decimal.Decimal {
	if paidBy == model.PaidByFriend {
		return userAmount.Neg()
	}
	return friendAmount
}

// ExpenseDelta вычисляет изменение баланса по сохранённому расходу.
func ExpenseDelta(e *model.Expense) decimal.Decimal {
	return BalanceDelta(e.UserAmount, e.FriendAmount, e.PaidBy)
}

// OutstandingBalance суммирует изменения баланса по всем непогашенным расходам.
func OutstandingBalance(expenses []model.Expense) decimal.Decimal {
	total := decimal.Zero
	for i := range expenses {
		if expenses[i].Settled {
			continue
		}
		total = total.Add(ExpenseDelta(&expenses[i]))
	}
	return total
}
