package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/friendledger/internal/model"
)

type friendRequest struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"profilePic"`
}

// ListFriends возвращает всех друзей.
func (h *Handler) ListFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := h.service.ListFriends(r.Context())
	if err != nil {
		h.writeError(w, r, "list friends", err)
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

// GetFriend возвращает друга по идентификатору.
func (h *Handler) GetFriend(w http.ResponseWriter, r *http.Request) {
	f, err := h.service.GetFriend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get friend", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// CreateFriend создаёт друга.
func (h *Handler) CreateFriend(w http.ResponseWriter, r *http.Request) {
	var req friendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, "create friend", err)
		return
	}

	var name, avatar string
	if req.Name != nil {
		name = *req.Name
	}
	if req.AvatarURL != nil {
		avatar = *req.AvatarURL
	}

	f, err := h.service.CreateFriend(r.Context(), name, avatar)
	if err != nil {
		h.writeError(w, r, "create friend", err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// UpdateFriend меняет имя и/или аватар друга.
func (h *Handler) UpdateFriend(w http.ResponseWriter, r *http.Request) {
	var req friendRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, "update friend", err)
		return
	}

	f, err := h.service.UpdateFriend(r.Context(), chi.URLParam(r, "id"), model.FriendPatch{
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		h.writeError(w, r, "update friend", err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type deleteFriendResponse struct {
	Message         string `json:"message"`
	ExpensesDeleted int64  `json:"expensesDeleted"`
}

// DeleteFriend удаляет друга без непогашенных расходов.
func (h *Handler) DeleteFriend(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.DeleteFriend(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "delete friend", err)
		return
	}
	writeJSON(w, http.StatusOK, deleteFriendResponse{
		Message:         "Friend deleted successfully",
		ExpensesDeleted: res.ExpensesDeleted,
	})
}

type settleResponse struct {
	Message      string        `json:"message"`
	SettledCount int64         `json:"settledCount"`
	Friend       *model.Friend `json:"friend"`
}

// Settle погашает все расходы с другом.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Settle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "settle", err)
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{
		Message:      fmt.Sprintf("Balance settled successfully. %d expenses updated.", res.SettledCount),
		SettledCount: res.SettledCount,
		Friend:       res.Friend,
	})
}

func repairParam(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("repair")
	if v == "" {
		return false, nil
	}
	repair, err := strconv.ParseBool(v)
	if err != nil {
		return false, model.NewValidationError("repair", "repair must be a boolean")
	}
	return repair, nil
}

// Reconcile сверяет баланс друга с его расходами и при repair=true исправляет его.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	repair, err := repairParam(r)
	if err != nil {
		h.writeError(w, r, "reconcile", err)
		return
	}

	rep, err := h.service.Reconcile(r.Context(), chi.URLParam(r, "id"), repair)
	if err != nil {
		h.writeError(w, r, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type reconcileAllResponse struct {
	Reports []model.ReconcileReport `json:"reports"`
}

// ReconcileAll сверяет балансы всех друзей.
func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	repair, err := repairParam(r)
	if err != nil {
		h.writeError(w, r, "reconcile all", err)
		return
	}

	reports, err := h.service.ReconcileAll(r.Context(), repair)
	if err != nil {
		h.writeError(w, r, "reconcile all", err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileAllResponse{Reports: reports})
}
