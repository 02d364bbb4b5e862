package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mmeshcher/friendledger/internal/model"
)

// Имена коллекций.
const (
	colFriends  = "friends"
	colExpenses = "expenses"
)

var enCollation = &options.Collation{Locale: "en"}

// MongoRepository хранит друзей и расходы в MongoDB.
// Формат документов совместим с ранее накопленными данными: поля в camelCase,
// устаревшие строковые даты и double-суммы приводятся к каноническому виду при чтении и в Migrate.
type MongoRepository struct {
	client   *mongo.Client
	friends  *mongo.Collection
	expenses *mongo.Collection
}

// NewMongoRepository подключается к MongoDB и проверяет доступность сервера.
func NewMongoRepository(uri, dbName string) (*MongoRepository, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	return &MongoRepository{
		client:   client,
		friends:  db.Collection(colFriends),
		expenses: db.Collection(colExpenses),
	}, nil
}

// Ping проверяет соединение с сервером.
func (r *MongoRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, nil); err != nil {
		return model.Unavailable("ping", err)
	}
	return nil
}

// Close разрывает соединение с сервером.
func (r *MongoRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

// Migrate создаёт индексы и нормализует документы в устаревшем формате. Повторный вызов безопасен.
func (r *MongoRepository) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := r.collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("migrate %s indexes: %w", col, err)
		}
	}

	if err := r.normalizeFriends(ctx); err != nil {
		return err
	}
	return r.normalizeExpenses(ctx)
}

func (r *MongoRepository) collection(name string) *mongo.Collection {
	if name == colFriends {
		return r.friends
	}
	return r.expenses
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colFriends: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetCollation(enCollation)},
			{Keys: bson.D{{Key: "balance", Value: 1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		colExpenses: {
			{Keys: bson.D{{Key: "friendId", Value: 1}}},
			{Keys: bson.D{{Key: "date", Value: -1}}},
			{Keys: bson.D{{Key: "settled", Value: 1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
	}
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func parseObjectID(id string) (bson.ObjectID, bool) {
	oid, err := bson.ObjectIDFromHex(id)
	return oid, err == nil
}

func toDecimal128(d decimal.Decimal) (bson.Decimal128, error) {
	v, err := bson.ParseDecimal128(d.String())
	if err != nil {
		return bson.Decimal128{}, fmt.Errorf("decimal %s out of decimal128 range: %w", d, err)
	}
	return v, nil
}

// toDecimal128s переводит несколько сумм разом, останавливаясь на первой непредставимой.
func toDecimal128s(ds ...decimal.Decimal) ([]bson.Decimal128, error) {
	out := make([]bson.Decimal128, len(ds))
	for i, d := range ds {
		v, err := toDecimal128(d)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// rawDecimal читает число в любом из встречающихся представлений.
func rawDecimal(v bson.RawValue) (decimal.Decimal, error) {
	switch v.Type {
	case bson.TypeDecimal128:
		return decimal.NewFromString(v.Decimal128().String())
	case bson.TypeDouble:
		return decimal.NewFromFloat(v.Double()), nil
	case bson.TypeInt32:
		return decimal.NewFromInt32(v.Int32()), nil
	case bson.TypeInt64:
		return decimal.NewFromInt(v.Int64()), nil
	case bson.TypeString:
		return decimal.NewFromString(v.StringValue())
	case 0, bson.TypeNull:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %s", v.Type)
	}
}

// rawTime читает время, сохранённое как BSON Date или как строка ISO 8601.
func rawTime(v bson.RawValue) (*time.Time, error) {
	switch v.Type {
	case bson.TypeDateTime:
		t := v.Time().UTC()
		return &t, nil
	case bson.TypeString:
		t, ok := model.ParseDate(v.StringValue())
		if !ok {
			return nil, fmt.Errorf("parse time %q", v.StringValue())
		}
		return &t, nil
	case 0, bson.TypeNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported time type %s", v.Type)
	}
}

type friendDoc struct {
	ID         bson.ObjectID   `bson:"_id"`
	Name       string          `bson:"name"`
	ProfilePic string          `bson:"profilePic"`
	Balance    bson.Decimal128 `bson:"balance"`
	CreatedAt  time.Time       `bson:"createdAt"`
}

type friendRecord struct {
	ID         bson.ObjectID `bson:"_id"`
	Name       string        `bson:"name"`
	ProfilePic string        `bson:"profilePic"`
	Avatar     string        `bson:"avatar"`
	Balance    bson.RawValue `bson:"balance"`
	CreatedAt  bson.RawValue `bson:"createdAt"`
}

func (rec *friendRecord) toModel() (*model.Friend, error) {
	balance, err := rawDecimal(rec.Balance)
	if err != nil {
		return nil, fmt.Errorf("friend %s balance: %w", rec.ID.Hex(), err)
	}
	createdAt, err := rawTime(rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("friend %s createdAt: %w", rec.ID.Hex(), err)
	}
	if createdAt == nil {
		t := rec.ID.Timestamp().UTC()
		createdAt = &t
	}

	avatar := rec.ProfilePic
	if avatar == "" {
		avatar = rec.Avatar
	}
	return &model.Friend{
		ID:        rec.ID.Hex(),
		Name:      rec.Name,
		AvatarURL: avatar,
		Balance:   balance,
		CreatedAt: *createdAt,
	}, nil
}

func toFriendDoc(f *model.Friend) (*friendDoc, error) {
	oid, ok := parseObjectID(f.ID)
	if !ok {
		return nil, fmt.Errorf("invalid friend id %q", f.ID)
	}
	balance, err := toDecimal128(f.Balance)
	if err != nil {
		return nil, fmt.Errorf("friend %s balance: %w", f.ID, err)
	}
	return &friendDoc{
		ID:         oid,
		Name:       f.Name,
		ProfilePic: f.AvatarURL,
		Balance:    balance,
		CreatedAt:  f.CreatedAt,
	}, nil
}

type expenseDoc struct {
	ID           bson.ObjectID   `bson:"_id"`
	Description  string          `bson:"description"`
	Amount       bson.Decimal128 `bson:"amount"`
	Date         time.Time       `bson:"date"`
	FriendID     string          `bson:"friendId"`
	FriendName   string          `bson:"friendName"`
	SplitMethod  string          `bson:"splitMethod"`
	UserAmount   bson.Decimal128 `bson:"userAmount"`
	FriendAmount bson.Decimal128 `bson:"friendAmount"`
	PaidBy       string          `bson:"paidBy"`
	Settled      bool            `bson:"settled"`
	SettledAt    *time.Time      `bson:"settledAt,omitempty"`
	CreatedAt    time.Time       `bson:"createdAt"`
}

type expenseRecord struct {
	ID           bson.ObjectID `bson:"_id"`
	Description  string        `bson:"description"`
	Amount       bson.RawValue `bson:"amount"`
	Date         bson.RawValue `bson:"date"`
	FriendID     string        `bson:"friendId"`
	FriendName   string        `bson:"friendName"`
	SplitMethod  string        `bson:"splitMethod"`
	UserAmount   bson.RawValue `bson:"userAmount"`
	FriendAmount bson.RawValue `bson:"friendAmount"`
	PaidBy       string        `bson:"paidBy"`
	Settled      bool          `bson:"settled"`
	SettledAt    bson.RawValue `bson:"settledAt"`
	CreatedAt    bson.RawValue `bson:"createdAt"`
}

func (rec *expenseRecord) toModel() (*model.Expense, error) {
	var err error
	e := &model.Expense{
		ID:          rec.ID.Hex(),
		Description: rec.Description,
		FriendID:    rec.FriendID,
		FriendName:  rec.FriendName,
		SplitMethod: model.SplitMethod(rec.SplitMethod),
		PaidBy:      model.PaidBy(rec.PaidBy),
		Settled:     rec.Settled,
	}
	if !e.SplitMethod.Valid() {
		e.SplitMethod = model.SplitEqually
	}
	if !e.PaidBy.Valid() {
		e.PaidBy = model.PaidByYou
	}

	if e.Amount, err = rawDecimal(rec.Amount); err != nil {
		return nil, fmt.Errorf("expense %s amount: %w", e.ID, err)
	}
	if e.UserAmount, err = rawDecimal(rec.UserAmount); err != nil {
		return nil, fmt.Errorf("expense %s userAmount: %w", e.ID, err)
	}
	if e.FriendAmount, err = rawDecimal(rec.FriendAmount); err != nil {
		return nil, fmt.Errorf("expense %s friendAmount: %w", e.ID, err)
	}

	date, err := rawTime(rec.Date)
	if err != nil {
		return nil, fmt.Errorf("expense %s date: %w", e.ID, err)
	}
	createdAt, err := rawTime(rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("expense %s createdAt: %w", e.ID, err)
	}
	if createdAt == nil {
		t := rec.ID.Timestamp().UTC()
		createdAt = &t
	}
	if date == nil {
		date = createdAt
	}
	if e.SettledAt, err = rawTime(rec.SettledAt); err != nil {
		return nil, fmt.Errorf("expense %s settledAt: %w", e.ID, err)
	}
	e.Date = *date
	e.CreatedAt = *createdAt
	return e, nil
}

func toExpenseDoc(e *model.Expense) (*expenseDoc, error) {
	oid, ok := parseObjectID(e.ID)
	if !ok {
		return nil, fmt.Errorf("invalid expense id %q", e.ID)
	}
	amounts, err := toDecimal128s(e.Amount, e.UserAmount, e.FriendAmount)
	if err != nil {
		return nil, fmt.Errorf("expense %s: %w", e.ID, err)
	}
	return &expenseDoc{
		ID:           oid,
		Description:  e.Description,
		Amount:       amounts[0],
		Date:         e.Date,
		FriendID:     e.FriendID,
		FriendName:   e.FriendName,
		SplitMethod:  string(e.SplitMethod),
		UserAmount:   amounts[1],
		FriendAmount: amounts[2],
		PaidBy:       string(e.PaidBy),
		Settled:      e.Settled,
		SettledAt:    e.SettledAt,
		CreatedAt:    e.CreatedAt,
	}, nil
}

func (r *MongoRepository) normalizeFriends(ctx context.Context) error {
	filter := bson.M{"$or": bson.A{
		bson.M{"balance": bson.M{"$not": bson.M{"$type": "decimal"}}},
		bson.M{"createdAt": bson.M{"$not": bson.M{"$type": "date"}}},
		bson.M{"profilePic": bson.M{"$exists": false}},
	}}

	cur, err := r.friends.Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("find legacy friends: %w", err)
	}
	var records []friendRecord
	if err := cur.All(ctx, &records); err != nil {
		return fmt.Errorf("decode legacy friends: %w", err)
	}

	for i := range records {
		f, err := records[i].toModel()
		if err != nil {
			return fmt.Errorf("normalize friend: %w", err)
		}
		if f.AvatarURL == "" {
			f.AvatarURL = DefaultAvatarURL(f.ID)
		}
		doc, err := toFriendDoc(f)
		if err != nil {
			return err
		}
		if _, err := r.friends.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc); err != nil {
			return fmt.Errorf("replace legacy friend %s: %w", f.ID, err)
		}
	}
	return nil
}

func (r *MongoRepository) normalizeExpenses(ctx context.Context) error {
	notDecimal := bson.M{"$not": bson.M{"$type": "decimal"}}
	filter := bson.M{"$or": bson.A{
		bson.M{"date": bson.M{"$type": "string"}},
		bson.M{"createdAt": bson.M{"$type": "string"}},
		bson.M{"settledAt": bson.M{"$type": "string"}},
		bson.M{"amount": notDecimal},
		bson.M{"userAmount": notDecimal},
		bson.M{"friendAmount": notDecimal},
	}}

	cur, err := r.expenses.Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("find legacy expenses: %w", err)
	}
	var records []expenseRecord
	if err := cur.All(ctx, &records); err != nil {
		return fmt.Errorf("decode legacy expenses: %w", err)
	}

	for i := range records {
		e, err := records[i].toModel()
		if err != nil {
			return fmt.Errorf("normalize expense: %w", err)
		}
		doc, err := toExpenseDoc(e)
		if err != nil {
			return err
		}
		if _, err := r.expenses.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc); err != nil {
			return fmt.Errorf("replace legacy expense %s: %w", e.ID, err)
		}
	}
	return nil
}

func (r *MongoRepository) decodeFriend(res *mongo.SingleResult, op string) (*model.Friend, error) {
	var rec friendRecord
	if err := res.Decode(&rec); err != nil {
		if isNoDocuments(err) {
			return nil, ErrFriendNotFound
		}
		return nil, model.Unavailable(op, err)
	}
	f, err := rec.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return f, nil
}

func (r *MongoRepository) decodeExpense(res *mongo.SingleResult, op string) (*model.Expense, error) {
	var rec expenseRecord
	if err := res.Decode(&rec); err != nil {
		if isNoDocuments(err) {
			return nil, ErrExpenseNotFound
		}
		return nil, model.Unavailable(op, err)
	}
	e, err := rec.toModel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// CreateFriend создаёт друга с нулевым балансом.
func (r *MongoRepository) CreateFriend(ctx context.Context, name, avatarURL string) (*model.Friend, error) {
	oid := bson.NewObjectID()
	if avatarURL == "" {
		avatarURL = DefaultAvatarURL(oid.Hex())
	}
	f := &model.Friend{
		ID:        oid.Hex(),
		Name:      name,
		AvatarURL: avatarURL,
		Balance:   decimal.Zero,
		CreatedAt: now(),
	}
	doc, err := toFriendDoc(f)
	if err != nil {
		return nil, err
	}
	if _, err := r.friends.InsertOne(ctx, doc); err != nil {
		return nil, model.Unavailable("create friend", err)
	}
	return f, nil
}

// GetFriend возвращает друга по идентификатору.
func (r *MongoRepository) GetFriend(ctx context.Context, id string) (*model.Friend, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, ErrFriendNotFound
	}
	return r.decodeFriend(r.friends.FindOne(ctx, bson.M{"_id": oid}), "get friend")
}

// ListFriends возвращает всех друзей, упорядоченных по имени с английской сортировкой.
func (r *MongoRepository) ListFriends(ctx context.Context) ([]model.Friend, error) {
	opts := options.Find().
		SetCollation(enCollation).
		SetSort(bson.D{{Key: "name", Value: 1}})

	cur, err := r.friends.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, model.Unavailable("list friends", err)
	}
	var records []friendRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, model.Unavailable("decode friends", err)
	}

	res := make([]model.Friend, 0, len(records))
	for i := range records {
		f, err := records[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("list friends: %w", err)
		}
		res = append(res, *f)
	}
	return res, nil
}

// UpdateFriend меняет имя и/или аватар друга.
func (r *MongoRepository) UpdateFriend(ctx context.Context, id string, patch model.FriendPatch) (*model.Friend, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, ErrFriendNotFound
	}

	set := bson.M{}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.AvatarURL != nil {
		set["profilePic"] = *patch.AvatarURL
	}
	if len(set) == 0 {
		return r.GetFriend(ctx, id)
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return r.decodeFriend(r.friends.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts), "update friend")
}

// DeleteFriend удаляет друга и сообщает, был ли он найден.
func (r *MongoRepository) DeleteFriend(ctx context.Context, id string) (bool, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return false, nil
	}
	res, err := r.friends.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, model.Unavailable("delete friend", err)
	}
	return res.DeletedCount > 0, nil
}

// AdjustBalance прибавляет delta к балансу через $inc, атомарно на уровне документа.
func (r *MongoRepository) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*model.Friend, error) {
	v, err := toDecimal128(delta)
	if err != nil {
		return nil, fmt.Errorf("adjust balance: %w", err)
	}
	return r.updateBalance(ctx, id, bson.M{"$inc": bson.M{"balance": v}}, "adjust balance")
}

// SetBalance записывает баланс друга.
func (r *MongoRepository) SetBalance(ctx context.Context, id string, balance decimal.Decimal) (*model.Friend, error) {
	v, err := toDecimal128(balance)
	if err != nil {
		return nil, fmt.Errorf("set balance: %w", err)
	}
	return r.updateBalance(ctx, id, bson.M{"$set": bson.M{"balance": v}}, "set balance")
}

// ResetBalance обнуляет баланс друга.
func (r *MongoRepository) ResetBalance(ctx context.Context, id string) (*model.Friend, error) {
	return r.SetBalance(ctx, id, decimal.Zero)
}

func (r *MongoRepository) updateBalance(ctx context.Context, id string, update bson.M, op string) (*model.Friend, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, ErrFriendNotFound
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return r.decodeFriend(r.friends.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts), op)
}

// buildExpenseFilter строит фильтр запроса по параметрам выборки.
func buildExpenseFilter(f model.ExpenseFilter) bson.M {
	filter := bson.M{}
	if f.Search != "" {
		re := bson.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"description": re},
			bson.M{"friendName": re},
		}
	}
	if f.FriendID != "" {
		filter["friendId"] = f.FriendID
	}
	if f.Settled != nil {
		filter["settled"] = *f.Settled
	}

	date := bson.M{}
	if from := f.DateFromInclusive(); from != nil {
		date["$gte"] = *from
	}
	if to := f.DateToExclusive(); to != nil {
		date["$lt"] = *to
	}
	if len(date) > 0 {
		filter["date"] = date
	}
	return filter
}

// buildExpenseSort строит порядок сортировки с вторичным ключом createdAt по убыванию.
func buildExpenseSort(f model.ExpenseFilter) bson.D {
	field := f.SortBy
	if !model.IsSortField(field) {
		field = model.SortByDate
	}
	dir := -1
	if f.SortDirection == model.SortAsc {
		dir = 1
	}
	sort := bson.D{{Key: field, Value: dir}}
	if field != model.SortByCreatedAt {
		sort = append(sort, bson.E{Key: "createdAt", Value: -1})
	}
	return sort
}

// ListExpenses возвращает страницу расходов согласно фильтру.
func (r *MongoRepository) ListExpenses(ctx context.Context, filter model.ExpenseFilter) (*model.ExpensePage, error) {
	f := filter.Normalize()
	query := buildExpenseFilter(f)

	total, err := r.expenses.CountDocuments(ctx, query)
	if err != nil {
		return nil, model.Unavailable("count expenses", err)
	}

	opts := options.Find().
		SetSort(buildExpenseSort(f)).
		SetSkip(int64(f.Offset())).
		SetLimit(int64(f.PageSize))

	items, err := r.findExpenses(ctx, query, opts, "list expenses")
	if err != nil {
		return nil, err
	}
	return model.NewExpensePage(items, f, total), nil
}

func (r *MongoRepository) findExpenses(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder, op string) ([]model.Expense, error) {
	cur, err := r.expenses.Find(ctx, filter, opts)
	if err != nil {
		return nil, model.Unavailable(op, err)
	}
	var records []expenseRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, model.Unavailable(op, err)
	}

	res := make([]model.Expense, 0, len(records))
	for i := range records {
		e, err := records[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		res = append(res, *e)
	}
	return res, nil
}

// GetExpense возвращает расход по идентификатору.
func (r *MongoRepository) GetExpense(ctx context.Context, id string) (*model.Expense, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, ErrExpenseNotFound
	}
	return r.decodeExpense(r.expenses.FindOne(ctx, bson.M{"_id": oid}), "get expense")
}

// ListExpensesByFriend возвращает расходы друга, от новых к старым.
func (r *MongoRepository) ListExpensesByFriend(ctx context.Context, friendID string) ([]model.Expense, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "createdAt", Value: -1}})
	return r.findExpenses(ctx, bson.M{"friendId": friendID}, opts, "list expenses by friend")
}

// HasUnsettled сообщает, есть ли у друга непогашенные расходы.
func (r *MongoRepository) HasUnsettled(ctx context.Context, friendID string) (bool, error) {
	n, err := r.expenses.CountDocuments(ctx,
		bson.M{"friendId": friendID, "settled": false},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, model.Unavailable("check unsettled", err)
	}
	return n > 0, nil
}

// InsertExpense сохраняет новый расход, назначая идентификатор и время создания.
func (r *MongoRepository) InsertExpense(ctx context.Context, e *model.Expense) (*model.Expense, error) {
	cp := *e
	cp.ID = bson.NewObjectID().Hex()
	cp.CreatedAt = now()

	doc, err := toExpenseDoc(&cp)
	if err != nil {
		return nil, err
	}
	if _, err := r.expenses.InsertOne(ctx, doc); err != nil {
		return nil, model.Unavailable("insert expense", err)
	}
	return &cp, nil
}

// ReplaceExpense заменяет документ непогашенного расхода, сохраняя идентификатор и время создания.
// Погашенный к моменту записи расход не изменяется: возвращается model.ErrSettledExpenseEdit.
func (r *MongoRepository) ReplaceExpense(ctx context.Context, id string, e *model.Expense) (*model.Expense, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return nil, ErrExpenseNotFound
	}
	amounts, err := toDecimal128s(e.Amount, e.UserAmount, e.FriendAmount)
	if err != nil {
		return nil, fmt.Errorf("replace expense: %w", err)
	}

	set := bson.M{
		"description":  e.Description,
		"amount":       amounts[0],
		"date":         e.Date,
		"friendId":     e.FriendID,
		"friendName":   e.FriendName,
		"splitMethod":  string(e.SplitMethod),
		"userAmount":   amounts[1],
		"friendAmount": amounts[2],
		"paidBy":       string(e.PaidBy),
		"settled":      e.Settled,
	}
	update := bson.M{"$set": set}
	if e.SettledAt != nil {
		set["settledAt"] = *e.SettledAt
	} else {
		update["$unset"] = bson.M{"settledAt": ""}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	res, err := r.decodeExpense(r.expenses.FindOneAndUpdate(ctx, unsettledByID(oid), update, opts), "replace expense")
	if errors.Is(err, ErrExpenseNotFound) {
		return nil, r.settledOrMissing(ctx, oid, model.ErrSettledExpenseEdit, ErrExpenseNotFound)
	}
	return res, err
}

// DeleteExpense удаляет непогашенный расход и сообщает, был ли он найден.
// Погашенный к моменту удаления расход остаётся: возвращается model.ErrSettledExpenseDelete.
func (r *MongoRepository) DeleteExpense(ctx context.Context, id string) (bool, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return false, nil
	}
	res, err := r.expenses.DeleteOne(ctx, unsettledByID(oid))
	if err != nil {
		return false, model.Unavailable("delete expense", err)
	}
	if res.DeletedCount > 0 {
		return true, nil
	}
	if err := r.settledOrMissing(ctx, oid, model.ErrSettledExpenseDelete, nil); err != nil {
		return false, err
	}
	return false, nil
}

func unsettledByID(oid bson.ObjectID) bson.M {
	return bson.M{"_id": oid, "settled": bson.M{"$ne": true}}
}

// settledOrMissing различает причину, по которой условная запись не нашла документ.
func (r *MongoRepository) settledOrMissing(ctx context.Context, oid bson.ObjectID, settledErr, missingErr error) error {
	n, err := r.expenses.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return model.Unavailable("check expense", err)
	}
	if n > 0 {
		return settledErr
	}
	return missingErr
}

// DeleteExpensesByFriend удаляет все расходы друга.
func (r *MongoRepository) DeleteExpensesByFriend(ctx context.Context, friendID string) (int64, error) {
	res, err := r.expenses.DeleteMany(ctx, bson.M{"friendId": friendID})
	if err != nil {
		return 0, model.Unavailable("delete expenses by friend", err)
	}
	return res.DeletedCount, nil
}

// MarkSettled помечает все непогашенные расходы друга погашенными.
func (r *MongoRepository) MarkSettled(ctx context.Context, friendID string) (int64, error) {
	res, err := r.expenses.UpdateMany(ctx,
		bson.M{"friendId": friendID, "settled": false},
		bson.M{"$set": bson.M{"settled": true, "settledAt": now()}},
	)
	if err != nil {
		return 0, model.Unavailable("mark settled", err)
	}
	return res.ModifiedCount, nil
}

// SyncFriendName обновляет снимок имени друга во всех его расходах.
func (r *MongoRepository) SyncFriendName(ctx context.Context, friendID, name string) (int64, error) {
	res, err := r.expenses.UpdateMany(ctx,
		bson.M{"friendId": friendID, "friendName": bson.M{"$ne": name}},
		bson.M{"$set": bson.M{"friendName": name}},
	)
	if err != nil {
		return 0, model.Unavailable("sync friend name", err)
	}
	return res.ModifiedCount, nil
}

// Reset удаляет все документы обеих коллекций.
func (r *MongoRepository) Reset(ctx context.Context) error {
	if _, err := r.expenses.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("clear expenses: %w", err)
	}
	if _, err := r.friends.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("clear friends: %w", err)
	}
	return nil
}

// RestoreFriend записывает друга как есть, включая идентификатор и баланс.
func (r *MongoRepository) RestoreFriend(ctx context.Context, f *model.Friend) error {
	doc, err := toFriendDoc(f)
	if err != nil {
		return err
	}
	if _, err := r.friends.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("restore friend: %w", err)
	}
	return nil
}

// RestoreExpense записывает расход как есть, включая идентификатор и время создания.
func (r *MongoRepository) RestoreExpense(ctx context.Context, e *model.Expense) error {
	doc, err := toExpenseDoc(e)
	if err != nil {
		return err
	}
	if _, err := r.expenses.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("restore expense: %w", err)
	}
	return nil
}
