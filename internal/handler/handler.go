// Package handler содержит HTTP-обработчики API учёта общих расходов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mmeshcher/friendledger/internal/middleware"
	"github.com/mmeshcher/friendledger/internal/model"
	"github.com/mmeshcher/friendledger/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListFriends(ctx context.Context) ([]model.Friend, error)
	GetFriend(ctx context.Context, id string) (*model.Friend, error)
	CreateFriend(ctx context.Context, name, avatarURL string) (*model.Friend, error)
	UpdateFriend(ctx context.Context, id string, patch model.FriendPatch) (*model.Friend, error)
	DeleteFriend(ctx context.Context, id string) (*model.DeleteFriendResult, error)
	Settle(ctx context.Context, friendID string) (*model.SettleResult, error)
	Reconcile(ctx context.Context, friendID string, repair bool) (*model.ReconcileReport, error)
	ReconcileAll(ctx context.Context, repair bool) ([]model.ReconcileReport, error)

	ListExpenses(ctx context.Context, filter model.ExpenseFilter) (*model.ExpensePage, error)
	GetExpense(ctx context.Context, id string) (*model.Expense, error)
	ListExpensesByFriend(ctx context.Context, friendID string) ([]model.Expense, error)
	CreateExpense(ctx context.Context, in model.ExpenseInput) (*model.Expense, error)
	UpdateExpense(ctx context.Context, id string, patch model.ExpensePatch) (*model.Expense, error)
	DeleteExpense(ctx context.Context, id string) (bool, error)

	Ping(ctx context.Context) error
}

// Options задаёт необязательные части HTTP-слоя.
type Options struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
	StaticDir      string
	Metrics        *middleware.HTTPMetrics
	Gatherer       prometheus.Gatherer
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service Service
	logger  *zap.Logger
	opts    Options
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: s,
		logger:  logger,
		opts:    opts,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// statusFor переводит вид ошибки в HTTP-статус.
func statusFor(err error) int {
	var rerr *service.ReconcileError
	switch {
	case errors.As(err, &rerr):
		return http.StatusInternalServerError
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// capitalize делает первую букву сообщения заглавной.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		msg := err.Error()
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			msg = verr.Message
		}
		writeMessage(w, status, capitalize(msg))
		return
	}

	h.logger.Error(op+" error",
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("uri", r.RequestURI),
	)

	var rerr *service.ReconcileError
	if errors.As(err, &rerr) {
		writeMessage(w, status, rerr.Error())
		return
	}
	writeMessage(w, status, http.StatusText(status))
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return model.NewValidationError("body", "malformed JSON: "+err.Error())
	}
	return nil
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health сообщает о готовности сервиса и доступности хранилища.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Timestamp: time.Now().UTC()}
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		resp.Status = "unavailable"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
