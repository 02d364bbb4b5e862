package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/friendledger/internal/model"
	"github.com/mmeshcher/friendledger/internal/split"
)

// Reconcile сравнивает сохранённый баланс друга с суммой его непогашенных расходов.
// При repair расхождение снимается атомарной поправкой баланса на -drift,
// поэтому параллельные изменения баланса между чтением и записью не теряются.
func (s *Service) Reconcile(ctx context.Context, friendID string, repair bool) (rep *model.ReconcileReport, err error) {
	defer s.observe(opReconcile, &err)

	f, err := s.friends.GetFriend(ctx, friendID)
	if err != nil {
		return nil, err
	}

	expenses, err := s.expenses.ListExpensesByFriend(ctx, friendID)
	if err != nil {
		return nil, err
	}

	computed := split.OutstandingBalance(expenses)
	rep = &model.ReconcileReport{
		FriendID: f.ID,
		Stored:   f.Balance,
		Computed: computed,
		Drift:    f.Balance.Sub(computed),
	}
	if rep.Drift.IsZero() || !repair {
		return rep, nil
	}

	if _, err := s.friends.AdjustBalance(ctx, friendID, rep.Drift.Neg()); err != nil {
		return nil, err
	}
	rep.Repaired = true
	s.metrics.BalanceRepaired()
	s.logger.Info("friend balance repaired",
		zap.String("friend_id", friendID),
		zap.String("stored", rep.Stored.String()),
		zap.String("computed", computed.String()),
	)
	return rep, nil
}

// ReconcileAll проверяет всех друзей и возвращает отчёты только по расхождениям.
func (s *Service) ReconcileAll(ctx context.Context, repair bool) ([]model.ReconcileReport, error) {
	friends, err := s.friends.ListFriends(ctx)
	if err != nil {
		return nil, err
	}

	reports := make([]model.ReconcileReport, 0)
	for _, f := range friends {
		rep, err := s.Reconcile(ctx, f.ID, repair)
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			s.logger.Warn("reconcile friend failed", zap.String("friend_id", f.ID), zap.Error(err))
			continue
		}
		if !rep.Drift.IsZero() {
			reports = append(reports, *rep)
		}
	}
	return reports, nil
}

// StartReconciliation запускает фоновую проверку балансов с заданным интервалом.
// Фоновая проверка только сообщает о расхождениях, исправление выполняется явным вызовом Reconcile.
func (s *Service) StartReconciliation(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reconcileBatch(ctx)
			}
		}
	}()
}

func (s *Service) reconcileBatch(ctx context.Context) {
	reports, err := s.ReconcileAll(ctx, false)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("balance reconciliation failed", zap.Error(err))
		}
		return
	}

	for _, rep := range reports {
		s.logger.Warn("friend balance drift detected",
			zap.String("friend_id", rep.FriendID),
			zap.String("stored", rep.Stored.String()),
			zap.String("computed", rep.Computed.String()),
			zap.String("drift", rep.Drift.String()),
		)
	}
}
