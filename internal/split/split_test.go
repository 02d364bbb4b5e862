package split

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/friendledger/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func TestComputeShares(t *testing.T) {
	tests := []struct {
		name       string
		amount     decimal.Decimal
		method     model.SplitMethod
		userAmount *decimal.Decimal
		wantUser   string
		wantFriend string
		wantErr    bool
	}{
		{
			name:       "equal split of even amount",
			amount:     dec("100"),
			method:     model.SplitEqually,
			wantUser:   "50",
			wantFriend: "50",
		},
		{
			name:       "equal split keeps fractions",
			amount:     dec("0.01"),
			method:     model.SplitEqually,
			wantUser:   "0.005",
			wantFriend: "0.005",
		},
		{
			name:       "equal split ignores user amount",
			amount:     dec("30"),
			method:     model.SplitEqually,
			userAmount: ptr(dec("29")),
			wantUser:   "15",
			wantFriend: "15",
		},
		{
			name:       "custom split",
			amount:     dec("30"),
			method:     model.SplitCustom,
			userAmount: ptr(dec("10")),
			wantUser:   "10",
			wantFriend: "20",
		},
		{
			name:       "custom split user pays nothing",
			amount:     dec("30"),
			method:     model.SplitCustom,
			userAmount: ptr(dec("0")),
			wantUser:   "0",
			wantFriend: "30",
		},
		{
			name:       "custom split user pays everything",
			amount:     dec("30"),
			method:     model.SplitCustom,
			userAmount: ptr(dec("30")),
			wantUser:   "30",
			wantFriend: "0",
		},
		{
			name:    "custom split without user amount",
			amount:  dec("30"),
			method:  model.SplitCustom,
			wantErr: true,
		},
		{
			name:       "custom split negative user amount",
			amount:     dec("30"),
			method:     model.SplitCustom,
			userAmount: ptr(dec("-1")),
			wantErr:    true,
		},
		{
			name:       "custom split user amount above total",
			amount:     dec("30"),
			method:     model.SplitCustom,
			userAmount: ptr(dec("30.01")),
			wantErr:    true,
		},
		{
			name:    "zero amount",
			amount:  dec("0"),
			method:  model.SplitEqually,
			wantErr: true,
		},
		{
			name:    "unknown method",
			amount:  dec("10"),
			method:  model.SplitMethod("thirds"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shares, err := ComputeShares(tt.amount, tt.method, tt.userAmount)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, model.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.True(t, shares.UserAmount.Equal(dec(tt.wantUser)), "user = %s", shares.UserAmount)
			assert.True(t, shares.FriendAmount.Equal(dec(tt.wantFriend)), "friend = %s", shares.FriendAmount)
			assert.True(t, shares.UserAmount.Add(shares.FriendAmount).Equal(tt.amount))
		})
	}
}

func TestComputeShares_EquallyAlwaysHalves(t *testing.T) {
	amounts := []string{
		"1", "3", "7.77", "1000000.01", "0.03",
		"0.00000000000000003",
		"1.000000000000000001",
		"999999999999999.999999999999999999",
		"1000000000000000",
	}
	for _, s := range amounts {
		amount := dec(s)
		shares, err := ComputeShares(amount, model.SplitEqually, nil)
		require.NoError(t, err, "amount %s", s)
		assert.True(t, shares.UserAmount.Equal(shares.FriendAmount), "amount %s", s)
		assert.True(t, shares.UserAmount.Add(shares.FriendAmount).Equal(amount), "amount %s", s)

		// половина суммы годится как доля пользователя при переходе на custom
		_, err = ComputeShares(amount, model.SplitCustom, &shares.UserAmount)
		assert.NoError(t, err, "amount %s", s)
	}
}

func TestComputeShares_RejectsOutOfRangeAmounts(t *testing.T) {
	tests := []struct {
		name       string
		amount     decimal.Decimal
		method     model.SplitMethod
		userAmount *decimal.Decimal
		field      string
	}{
		{"too many significant digits", dec("12345678901234567890123456789012345.5"), model.SplitEqually, nil, "amount"},
		{"huge exponent", decimal.New(1, 7000), model.SplitEqually, nil, "amount"},
		{"above maximum", MaxAmount.Add(dec("0.01")), model.SplitEqually, nil, "amount"},
		{"too many decimal places", dec("1.0000000000000000001"), model.SplitEqually, nil, "amount"},
		{"custom share too precise", dec("10"), model.SplitCustom, ptr(dec("1.00000000000000000001")), "userAmount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeShares(tt.amount, tt.method, tt.userAmount)
			require.Error(t, err)
			var verr *model.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestBalanceDelta(t *testing.T) {
	assert.True(t, BalanceDelta(dec("50"), dec("50"), model.PaidByYou).Equal(dec("50")))
	assert.True(t, BalanceDelta(dec("50"), dec("50"), model.PaidByFriend).Equal(dec("-50")))
	assert.True(t, BalanceDelta(dec("10"), dec("20"), model.PaidByYou).Equal(dec("20")))
	assert.True(t, BalanceDelta(dec("10"), dec("20"), model.PaidByFriend).Equal(dec("-10")))
}

func TestOutstandingBalance_SkipsSettled(t *testing.T) {
	expenses := []model.Expense{
		{UserAmount: dec("50"), FriendAmount: dec("50"), PaidBy: model.PaidByYou},
		{UserAmount: dec("10"), FriendAmount: dec("20"), PaidBy: model.PaidByFriend},
		{UserAmount: dec("5"), FriendAmount: dec("5"), PaidBy: model.PaidByYou, Settled: true},
	}

	assert.True(t, OutstandingBalance(expenses).Equal(dec("40")))
	assert.True(t, OutstandingBalance(nil).IsZero())
}
