package repository

import (
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mmeshcher/friendledger/internal/model"
)

func rawValue(t *testing.T, v any) bson.RawValue {
	t.Helper()
	doc, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	require.NoError(t, err)
	return bson.Raw(doc).Lookup("v")
}

func TestRawDecimal(t *testing.T) {
	d128, err := bson.ParseDecimal128("12.34")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"decimal128", d128, "12.34"},
		{"double", 12.5, "12.5"},
		{"int32", int32(7), "7"},
		{"int64", int64(9), "9"},
		{"string", "3.10", "3.1"},
		{"null", nil, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rawDecimal(rawValue(t, tt.in))
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}

	_, err = rawDecimal(rawValue(t, true))
	assert.Error(t, err)
}

func TestRawTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	got, err := rawTime(rawValue(t, want))
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	got, err = rawTime(rawValue(t, "2024-03-01T10:30:00.000Z"))
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	got, err = rawTime(rawValue(t, "2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *got)

	got, err = rawTime(bson.RawValue{})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = rawTime(rawValue(t, "next tuesday"))
	assert.Error(t, err)
}

func TestExpenseRecordLegacyDocument(t *testing.T) {
	oid := bson.NewObjectID()
	doc, err := bson.Marshal(bson.M{
		"_id":          oid,
		"description":  "Dinner",
		"amount":       100.0,
		"date":         "2024-03-01",
		"friendId":     "65f0000000000000000000aa",
		"friendName":   "Alex",
		"splitMethod":  "equally",
		"userAmount":   50.0,
		"friendAmount": int32(50),
		"paidBy":       "you",
		"settled":      false,
	})
	require.NoError(t, err)

	var rec expenseRecord
	require.NoError(t, bson.Unmarshal(doc, &rec))

	e, err := rec.toModel()
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), e.ID)
	assert.True(t, e.Amount.Equal(decimal.NewFromInt(100)))
	assert.True(t, e.FriendAmount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), e.Date)
	assert.Equal(t, oid.Timestamp().UTC(), e.CreatedAt)
	assert.Nil(t, e.SettledAt)
}

func TestFriendRecordFallsBackToAvatar(t *testing.T) {
	doc, err := bson.Marshal(bson.M{
		"_id":     bson.NewObjectID(),
		"name":    "Sam",
		"avatar":  "https://i.pravatar.cc/150?u=000000bb",
		"balance": 12.5,
	})
	require.NoError(t, err)

	var rec friendRecord
	require.NoError(t, bson.Unmarshal(doc, &rec))

	f, err := rec.toModel()
	require.NoError(t, err)
	assert.Equal(t, "https://i.pravatar.cc/150?u=000000bb", f.AvatarURL)
	assert.True(t, f.Balance.Equal(decimal.RequireFromString("12.5")))
}

func TestBuildExpenseFilter(t *testing.T) {
	settled := false
	from := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	filter := buildExpenseFilter(model.ExpenseFilter{
		Search:   "a.b",
		FriendID: "65f0000000000000000000aa",
		Settled:  &settled,
		DateFrom: &from,
	})

	re := bson.Regex{Pattern: regexp.QuoteMeta("a.b"), Options: "i"}
	assert.Equal(t, bson.A{bson.M{"description": re}, bson.M{"friendName": re}}, filter["$or"])
	assert.Equal(t, "65f0000000000000000000aa", filter["friendId"])
	assert.Equal(t, false, filter["settled"])
	assert.Equal(t, bson.M{"$gte": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, filter["date"])

	assert.Empty(t, buildExpenseFilter(model.ExpenseFilter{}))
}

func TestBuildExpenseSort(t *testing.T) {
	assert.Equal(t,
		bson.D{{Key: "date", Value: -1}, {Key: "createdAt", Value: -1}},
		buildExpenseSort(model.ExpenseFilter{}))
	assert.Equal(t,
		bson.D{{Key: "amount", Value: 1}, {Key: "createdAt", Value: -1}},
		buildExpenseSort(model.ExpenseFilter{SortBy: model.SortByAmount, SortDirection: model.SortAsc}))
	assert.Equal(t,
		bson.D{{Key: "createdAt", Value: -1}},
		buildExpenseSort(model.ExpenseFilter{SortBy: model.SortByCreatedAt}))
}

func TestToExpenseDocRejectsForeignIDs(t *testing.T) {
	_, err := toExpenseDoc(&model.Expense{ID: "0b7c6a8e-1f0e-4c3e-9d5b-2f1e0c9a8b7d"})
	assert.Error(t, err)
}

func TestToDecimal128OutOfRange(t *testing.T) {
	_, err := toDecimal128(decimal.RequireFromString("12345678901234567890123456789012345.5"))
	assert.Error(t, err)

	_, err = toDecimal128(decimal.New(1, 7000))
	assert.Error(t, err)

	v, err := toDecimal128(decimal.RequireFromString("19.99"))
	require.NoError(t, err)
	assert.Equal(t, "19.99", v.String())
}

func TestToExpenseDocRejectsUnrepresentableAmount(t *testing.T) {
	_, err := toExpenseDoc(&model.Expense{
		ID:     bson.NewObjectID().Hex(),
		Amount: decimal.New(1, 7000),
	})
	assert.Error(t, err)
}
