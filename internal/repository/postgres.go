package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/friendledger/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	friendColumns  = `id, name, avatar_url, balance, created_at`
	expenseColumns = `id, description, amount, date, friend_id, friend_name, split_method,
		user_amount, friend_amount, paid_by, settled, settled_at, created_at`
)

// PostgresRepository предоставляет доступ к друзьям и расходам в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт пул соединений и проверяет доступность БД.
// Схема создаётся отдельным вызовом Migrate.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Migrate применяет миграции схемы. Повторный вызов ничего не меняет.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Ping проверяет соединение с БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return model.Unavailable("ping", err)
	}
	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// withRetry повторяет fn, пока retryable признаёт ошибку временной.
func (r *PostgresRepository) withRetry(ctx context.Context, retryable func(error) bool, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !retryable(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// isRetryable подходит для идемпотентных запросов: повтор после обрыва связи безопасен.
func isRetryable(err error) bool {
	return isRolledBack(err) || isConnectionError(err)
}

// isRolledBack признаёт только ошибки, после которых запрос гарантированно не применён.
// Обрыв уже отправленного запроса сюда не входит: UPDATE мог успеть зафиксироваться.
func isRolledBack(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return strings.Contains(err.Error(), "connection refused")
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// parseID разбирает идентификатор; некорректный идентификатор не может существовать в БД.
func parseID(id string) (uuid.UUID, bool) {
	u, err := uuid.Parse(id)
	return u, err == nil
}

func scanFriend(row pgx.Row) (*model.Friend, error) {
	var (
		f  model.Friend
		id uuid.UUID
	)
	if err := row.Scan(&id, &f.Name, &f.AvatarURL, &f.Balance, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.ID = id.String()
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

func scanExpense(row pgx.Row) (*model.Expense, error) {
	var (
		e           model.Expense
		id          uuid.UUID
		friendID    uuid.UUID
		splitMethod string
		paidBy      string
	)
	err := row.Scan(&id, &e.Description, &e.Amount, &e.Date, &friendID, &e.FriendName, &splitMethod,
		&e.UserAmount, &e.FriendAmount, &paidBy, &e.Settled, &e.SettledAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ID = id.String()
	e.FriendID = friendID.String()
	e.SplitMethod = model.SplitMethod(splitMethod)
	e.PaidBy = model.PaidBy(paidBy)
	e.Date = e.Date.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if e.SettledAt != nil {
		t := e.SettledAt.UTC()
		e.SettledAt = &t
	}
	return &e, nil
}

// CreateFriend создаёт друга с нулевым балансом.
func (r *PostgresRepository) CreateFriend(ctx context.Context, name, avatarURL string) (*model.Friend, error) {
	id := uuid.New()
	if avatarURL == "" {
		avatarURL = DefaultAvatarURL(id.String())
	}

	f, err := scanFriend(r.pool.QueryRow(ctx,
		`INSERT INTO friends (id, name, avatar_url, balance, created_at)
		 VALUES ($1, $2, $3, 0, $4)
		 RETURNING `+friendColumns,
		id, name, avatarURL, now(),
	))
	if err != nil {
		return nil, model.Unavailable("create friend", err)
	}
	return f, nil
}

// GetFriend возвращает друга по идентификатору.
func (r *PostgresRepository) GetFriend(ctx context.Context, id string) (*model.Friend, error) {
	uid, ok := parseID(id)
	if !ok {
		return nil, ErrFriendNotFound
	}

	f, err := scanFriend(r.pool.QueryRow(ctx,
		`SELECT `+friendColumns+` FROM friends WHERE id = $1`, uid,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFriendNotFound
		}
		return nil, model.Unavailable("get friend", err)
	}
	return f, nil
}

// ListFriends возвращает всех друзей, упорядоченных по имени с учётом локали.
func (r *PostgresRepository) ListFriends(ctx context.Context) ([]model.Friend, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+friendColumns+` FROM friends`)
	if err != nil {
		return nil, model.Unavailable("select friends", err)
	}
	defer rows.Close()

	res := make([]model.Friend, 0)
	for rows.Next() {
		f, err := scanFriend(rows)
		if err != nil {
			return nil, model.Unavailable("scan friend", err)
		}
		res = append(res, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable("rows error", err)
	}

	sortFriendsByName(res)
	return res, nil
}

// UpdateFriend меняет имя и/или аватар друга.
func (r *PostgresRepository) UpdateFriend(ctx context.Context, id string, patch model.FriendPatch) (*model.Friend, error) {
	uid, ok := parseID(id)
	if !ok {
		return nil, ErrFriendNotFound
	}

	f, err := scanFriend(r.pool.QueryRow(ctx,
		`UPDATE friends
		 SET name = COALESCE($2, name), avatar_url = COALESCE($3, avatar_url)
		 WHERE id = $1
		 RETURNING `+friendColumns,
		uid, patch.Name, patch.AvatarURL,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFriendNotFound
		}
		return nil, model.Unavailable("update friend", err)
	}
	return f, nil
}

// DeleteFriend удаляет друга и сообщает, был ли он найден.
func (r *PostgresRepository) DeleteFriend(ctx context.Context, id string) (bool, error) {
	uid, ok := parseID(id)
	if !ok {
		return false, nil
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM friends WHERE id = $1`, uid)
	if err != nil {
		return false, model.Unavailable("delete friend", err)
	}
	return tag.RowsAffected() > 0, nil
}

// AdjustBalance прибавляет delta к балансу одним UPDATE, поэтому параллельные изменения не теряются.
// Запрос не идемпотентен, поэтому повторяется только после гарантированного отката.
func (r *PostgresRepository) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal) (*model.Friend, error) {
	return r.updateBalance(ctx, "adjust balance", isRolledBack,
		`UPDATE friends SET balance = balance + $2 WHERE id = $1 RETURNING `+friendColumns, id, delta)
}

// SetBalance записывает баланс друга.
func (r *PostgresRepository) SetBalance(ctx context.Context, id string, balance decimal.Decimal) (*model.Friend, error) {
	return r.updateBalance(ctx, "set balance", isRetryable,
		`UPDATE friends SET balance = $2 WHERE id = $1 RETURNING `+friendColumns, id, balance)
}

// ResetBalance обнуляет баланс друга.
func (r *PostgresRepository) ResetBalance(ctx context.Context, id string) (*model.Friend, error) {
	return r.SetBalance(ctx, id, decimal.Zero)
}

func (r *PostgresRepository) updateBalance(ctx context.Context, op string, retryable func(error) bool, query, id string, value decimal.Decimal) (*model.Friend, error) {
	uid, ok := parseID(id)
	if !ok {
		return nil, ErrFriendNotFound
	}

	var f *model.Friend
	err := r.withRetry(ctx, retryable, func() error {
		var err error
		f, err = scanFriend(r.pool.QueryRow(ctx, query, uid, value))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFriendNotFound
		}
		return nil, model.Unavailable(op, err)
	}
	return f, nil
}

var expenseSortColumns = map[string]string{
	model.SortByDate:        "date",
	model.SortByAmount:      "amount",
	model.SortByDescription: "description",
	model.SortByFriendName:  "friend_name",
	model.SortBySettled:     "settled",
	model.SortByCreatedAt:   "created_at",
}

// buildExpenseWhere собирает условие WHERE и аргументы для фильтра расходов.
func buildExpenseWhere(f model.ExpenseFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Search != "" {
		p := arg("%" + escapeLike(f.Search) + "%")
		conds = append(conds, fmt.Sprintf("(description ILIKE %s OR friend_name ILIKE %s)", p, p))
	}
	if f.FriendID != "" {
		uid, ok := parseID(f.FriendID)
		if !ok {
			conds = append(conds, "FALSE")
		} else {
			conds = append(conds, "friend_id = "+arg(uid))
		}
	}
	if f.Settled != nil {
		conds = append(conds, "settled = "+arg(*f.Settled))
	}
	if from := f.DateFromInclusive(); from != nil {
		conds = append(conds, "date >= "+arg(*from))
	}
	if to := f.DateToExclusive(); to != nil {
		conds = append(conds, "date < "+arg(*to))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// buildExpenseOrder собирает ORDER BY с вторичным ключом created_at DESC.
func buildExpenseOrder(f model.ExpenseFilter) string {
	col, ok := expenseSortColumns[f.SortBy]
	if !ok {
		col = "date"
	}
	dir := "DESC"
	if f.SortDirection == model.SortAsc {
		dir = "ASC"
	}
	order := " ORDER BY " + col + " " + dir
	if col != "created_at" {
		order += ", created_at DESC"
	}
	return order
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// ListExpenses возвращает страницу расходов согласно фильтру.
func (r *PostgresRepository) ListExpenses(ctx context.Context, filter model.ExpenseFilter) (*model.ExpensePage, error) {
	f := filter.Normalize()
	where, args := buildExpenseWhere(f)

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM expenses`+where, args...).Scan(&total); err != nil {
		return nil, model.Unavailable("count expenses", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM expenses%s%s LIMIT %d OFFSET %d`,
		expenseColumns, where, buildExpenseOrder(f), f.PageSize, f.Offset())

	items, err := r.queryExpenses(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return model.NewExpensePage(items, f, total), nil
}

func (r *PostgresRepository) queryExpenses(ctx context.Context, query string, args ...any) ([]model.Expense, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, model.Unavailable("select expenses", err)
	}
	defer rows.Close()

	res := make([]model.Expense, 0)
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, model.Unavailable("scan expense", err)
		}
		res = append(res, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Unavailable("rows error", err)
	}
	return res, nil
}

// GetExpense возвращает расход по идентификатору.
func (r *PostgresRepository) GetExpense(ctx context.Context, id string) (*model.Expense, error) {
	uid, ok := parseID(id)
	if !ok {
		return nil, ErrExpenseNotFound
	}

	e, err := scanExpense(r.pool.QueryRow(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, uid,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExpenseNotFound
		}
		return nil, model.Unavailable("get expense", err)
	}
	return e, nil
}

// ListExpensesByFriend возвращает расходы друга, от новых к старым.
func (r *PostgresRepository) ListExpensesByFriend(ctx context.Context, friendID string) ([]model.Expense, error) {
	uid, ok := parseID(friendID)
	if !ok {
		return []model.Expense{}, nil
	}
	return r.queryExpenses(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE friend_id = $1 ORDER BY date DESC, created_at DESC`, uid)
}

// HasUnsettled сообщает, есть ли у друга непогашенные расходы.
func (r *PostgresRepository) HasUnsettled(ctx context.Context, friendID string) (bool, error) {
	uid, ok := parseID(friendID)
	if !ok {
		return false, nil
	}

	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM expenses WHERE friend_id = $1 AND settled = FALSE)`, uid,
	).Scan(&exists)
	if err != nil {
		return false, model.Unavailable("check unsettled", err)
	}
	return exists, nil
}

// InsertExpense сохраняет новый расход, назначая идентификатор и время создания.
func (r *PostgresRepository) InsertExpense(ctx context.Context, e *model.Expense) (*model.Expense, error) {
	cp := *e
	cp.ID = uuid.NewString()
	cp.CreatedAt = now()
	if err := r.insertExpense(ctx, &cp); err != nil {
		return nil, model.Unavailable("insert expense", err)
	}
	return &cp, nil
}

func (r *PostgresRepository) insertExpense(ctx context.Context, e *model.Expense) error {
	uid, ok := parseID(e.ID)
	if !ok {
		return fmt.Errorf("invalid expense id %q", e.ID)
	}
	friendID, ok := parseID(e.FriendID)
	if !ok {
		return fmt.Errorf("invalid friend id %q", e.FriendID)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO expenses (`+expenseColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		uid, e.Description, e.Amount, e.Date, friendID, e.FriendName, string(e.SplitMethod),
		e.UserAmount, e.FriendAmount, string(e.PaidBy), e.Settled, e.SettledAt, e.CreatedAt,
	)
	return err
}

// ReplaceExpense заменяет изменяемые поля непогашенного расхода.
// Погашенный к моменту записи расход не изменяется: возвращается model.ErrSettledExpenseEdit.
func (r *PostgresRepository) ReplaceExpense(ctx context.Context, id string, e *model.Expense) (*model.Expense, error) {
	uid, ok := parseID(id)
	if !ok {
		return nil, ErrExpenseNotFound
	}
	friendID, ok := parseID(e.FriendID)
	if !ok {
		return nil, ErrFriendNotFound
	}

	res, err := scanExpense(r.pool.QueryRow(ctx,
		`UPDATE expenses
		 SET description = $2, amount = $3, date = $4, friend_id = $5, friend_name = $6,
		     split_method = $7, user_amount = $8, friend_amount = $9, paid_by = $10,
		     settled = $11, settled_at = $12
		 WHERE id = $1 AND settled = FALSE
		 RETURNING `+expenseColumns,
		uid, e.Description, e.Amount, e.Date, friendID, e.FriendName, string(e.SplitMethod),
		e.UserAmount, e.FriendAmount, string(e.PaidBy), e.Settled, e.SettledAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.settledOrMissing(ctx, uid, model.ErrSettledExpenseEdit, ErrExpenseNotFound)
		}
		return nil, model.Unavailable("replace expense", err)
	}
	return res, nil
}

// DeleteExpense удаляет непогашенный расход и сообщает, был ли он найден.
// Погашенный к моменту удаления расход остаётся: возвращается model.ErrSettledExpenseDelete.
func (r *PostgresRepository) DeleteExpense(ctx context.Context, id string) (bool, error) {
	uid, ok := parseID(id)
	if !ok {
		return false, nil
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM expenses WHERE id = $1 AND settled = FALSE`, uid)
	if err != nil {
		return false, model.Unavailable("delete expense", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if err := r.settledOrMissing(ctx, uid, model.ErrSettledExpenseDelete, nil); err != nil {
		return false, err
	}
	return false, nil
}

// settledOrMissing различает причину, по которой условная запись не затронула строку.
func (r *PostgresRepository) settledOrMissing(ctx context.Context, id uuid.UUID, settledErr, missingErr error) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM expenses WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return model.Unavailable("check expense", err)
	}
	if exists {
		return settledErr
	}
	return missingErr
}

// DeleteExpensesByFriend удаляет все расходы друга.
func (r *PostgresRepository) DeleteExpensesByFriend(ctx context.Context, friendID string) (int64, error) {
	uid, ok := parseID(friendID)
	if !ok {
		return 0, nil
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM expenses WHERE friend_id = $1`, uid)
	if err != nil {
		return 0, model.Unavailable("delete expenses by friend", err)
	}
	return tag.RowsAffected(), nil
}

// MarkSettled помечает все непогашенные расходы друга погашенными.
func (r *PostgresRepository) MarkSettled(ctx context.Context, friendID string) (int64, error) {
	uid, ok := parseID(friendID)
	if !ok {
		return 0, nil
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE expenses SET settled = TRUE, settled_at = $2 WHERE friend_id = $1 AND settled = FALSE`,
		uid, now(),
	)
	if err != nil {
		return 0, model.Unavailable("mark settled", err)
	}
	return tag.RowsAffected(), nil
}

// SyncFriendName обновляет снимок имени друга во всех его расходах.
func (r *PostgresRepository) SyncFriendName(ctx context.Context, friendID, name string) (int64, error) {
	uid, ok := parseID(friendID)
	if !ok {
		return 0, nil
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE expenses SET friend_name = $2 WHERE friend_id = $1 AND friend_name <> $2`, uid, name,
	)
	if err != nil {
		return 0, model.Unavailable("sync friend name", err)
	}
	return tag.RowsAffected(), nil
}

// Reset удаляет всех друзей и все расходы в одной транзакции.
func (r *PostgresRepository) Reset(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM expenses`); err != nil {
		return fmt.Errorf("clear expenses: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM friends`); err != nil {
		return fmt.Errorf("clear friends: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// RestoreFriend записывает друга как есть, включая идентификатор и баланс.
func (r *PostgresRepository) RestoreFriend(ctx context.Context, f *model.Friend) error {
	uid, ok := parseID(f.ID)
	if !ok {
		return fmt.Errorf("invalid friend id %q", f.ID)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO friends (`+friendColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		uid, f.Name, f.AvatarURL, f.Balance, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("restore friend: %w", err)
	}
	return nil
}

// RestoreExpense записывает расход как есть, включая идентификатор и время создания.
func (r *PostgresRepository) RestoreExpense(ctx context.Context, e *model.Expense) error {
	if err := r.insertExpense(ctx, e); err != nil {
		return fmt.Errorf("restore expense: %w", err)
	}
	return nil
}
