package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/friendledger/internal/model"
)

// jsonDate принимает дату в любом из dateLayouts.
type jsonDate time.Time

func (d *jsonDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return model.NewValidationError("date", "date must be a string")
	}
	t, ok := model.ParseDate(strings.TrimSpace(s))
	if !ok {
		return model.NewValidationError("date", "invalid date")
	}
	*d = jsonDate(t)
	return nil
}

func (d *jsonDate) time() *time.Time {
	if d == nil {
		return nil
	}
	t := time.Time(*d)
	return &t
}

type expenseRequest struct {
	Description *string            `json:"description"`
	Amount      *decimal.Decimal   `json:"amount"`
	Date        *jsonDate          `json:"date"`
	FriendID    *string            `json:"friendId"`
	SplitMethod *model.SplitMethod `json:"splitMethod"`
	UserAmount  *decimal.Decimal   `json:"userAmount"`
	PaidBy      *model.PaidBy      `json:"paidBy"`
}

func (req *expenseRequest) input() (model.ExpenseInput, error) {
	var in model.ExpenseInput
	if req.Description != nil {
		in.Description = *req.Description
	}
	if req.Amount == nil {
		return in, model.NewValidationError("amount", "amount is required")
	}
	in.Amount = *req.Amount
	if req.FriendID == nil || strings.TrimSpace(*req.FriendID) == "" {
		return in, model.NewValidationError("friendId", "friend is required")
	}
	in.FriendID = *req.FriendID
	in.Date = req.Date.time()
	if req.SplitMethod != nil {
		in.SplitMethod = *req.SplitMethod
	}
	if req.PaidBy != nil {
		in.PaidBy = *req.PaidBy
	}
	if in.SplitMethod == model.SplitCustom {
		in.UserAmount = req.UserAmount
	}
	return in, nil
}

func (req *expenseRequest) patch() model.ExpensePatch {
	return model.ExpensePatch{
		Description: req.Description,
		Amount:      req.Amount,
		Date:        req.Date.time(),
		FriendID:    req.FriendID,
		SplitMethod: req.SplitMethod,
		UserAmount:  req.UserAmount,
		PaidBy:      req.PaidBy,
	}
}

type paginationResponse struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

type expenseListResponse struct {
	Expenses   []model.Expense    `json:"expenses"`
	Pagination paginationResponse `json:"pagination"`
}

func queryInt(q url.Values, key string) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, model.NewValidationError(key, key+" must be an integer")
	}
	return n, nil
}

// parseExpenseFilter читает параметры выборки из строки запроса.
func parseExpenseFilter(r *http.Request) (model.ExpenseFilter, error) {
	q := r.URL.Query()
	var f model.ExpenseFilter

	var err error
	if f.Page, err = queryInt(q, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = queryInt(q, "limit"); err != nil {
		return f, err
	}

	f.SortBy = q.Get("sortBy")
	if f.SortBy != "" && !model.IsSortField(f.SortBy) {
		return f, model.NewValidationError("sortBy", "unsupported sort field")
	}
	f.SortDirection = model.SortDirection(strings.ToLower(q.Get("sortDirection")))
	f.Search = strings.TrimSpace(q.Get("search"))
	f.FriendID = q.Get("friendId")

	if v := q.Get("settled"); v != "" {
		settled, err := strconv.ParseBool(v)
		if err != nil {
			return f, model.NewValidationError("settled", "settled must be a boolean")
		}
		f.Settled = &settled
	}

	for key, dst := range map[string]**time.Time{"dateFrom": &f.DateFrom, "dateTo": &f.DateTo} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, ok := model.ParseDate(v)
		if !ok {
			return f, model.NewValidationError(key, "invalid date")
		}
		*dst = &t
	}

	return f.Normalize(), nil
}

// ListExpenses возвращает страницу расходов с фильтрами, сортировкой и пагинацией.
func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	filter, err := parseExpenseFilter(r)
	if err != nil {
		h.writeError(w, r, "list expenses", err)
		return
	}

	page, err := h.service.ListExpenses(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, "list expenses", err)
		return
	}

	writeJSON(w, http.StatusOK, expenseListResponse{
		Expenses: page.Items,
		Pagination: paginationResponse{
			Total: page.TotalItems,
			Page:  page.Page,
			Limit: page.PageSize,
			Pages: page.TotalPages,
		},
	})
}

// ListExpensesByFriend возвращает все расходы друга.
func (h *Handler) ListExpensesByFriend(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.service.ListExpensesByFriend(r.Context(), chi.URLParam(r, "friendId"))
	if err != nil {
		h.writeError(w, r, "list friend expenses", err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

// GetExpense возвращает расход по идентификатору.
func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.GetExpense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get expense", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// CreateExpense создаёт расход и обновляет баланс друга.
func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, "create expense", err)
		return
	}

	in, err := req.input()
	if err != nil {
		h.writeError(w, r, "create expense", err)
		return
	}

	e, err := h.service.CreateExpense(r.Context(), in)
	if err != nil {
		h.writeError(w, r, "create expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// UpdateExpense частично обновляет непогашенный расход.
func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, "update expense", err)
		return
	}

	e, err := h.service.UpdateExpense(r.Context(), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		h.writeError(w, r, "update expense", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DeleteExpense удаляет непогашенный расход.
func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.service.DeleteExpense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "delete expense", err)
		return
	}
	if !deleted {
		writeMessage(w, http.StatusNotFound, "Expense not found")
		return
	}
	writeMessage(w, http.StatusOK, "Expense deleted successfully")
}
