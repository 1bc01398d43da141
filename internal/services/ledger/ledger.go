// Package ledger содержит бизнес-логику счётов токенов: зачисления,
// списания, возвраты и периодические очистки.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brandonlmk/jobs-marketplace/internal/lib/month"
	"github.com/brandonlmk/jobs-marketplace/internal/lib/sl"
	"github.com/brandonlmk/jobs-marketplace/internal/metrics"
	"github.com/brandonlmk/jobs-marketplace/internal/models"
	"github.com/brandonlmk/jobs-marketplace/internal/storage/repository"
)

// LedgerRepository определяет методы хранилища для работы со счетами.
type LedgerRepository interface {
	// CreditTokens зачисляет токены, создавая счёт при необходимости.
	CreditTokens(ctx context.Context, accountID string, amount int, expiry time.Time) (*models.LedgerAccount, error)
	// RefundTokens возвращает токены, пока срок действия баланса не истёк.
	RefundTokens(ctx context.Context, accountID string, amount int, now time.Time) (bool, error)
	// CreditShortlist зачисляет кредиты шортлиста.
	CreditShortlist(ctx context.Context, accountID string, amount int) (*models.LedgerAccount, error)
	// DebitShortlist списывает кредиты шортлиста.
	DebitShortlist(ctx context.Context, accountID string, amount int) error
	// GetLedgerAccount возвращает счёт аккаунта.
	GetLedgerAccount(ctx context.Context, accountID string) (*models.LedgerAccount, error)
	// SweepExpiredTokens обнуляет просроченные балансы.
	SweepExpiredTokens(ctx context.Context, now time.Time) ([]repository.SweptAccount, error)
	// ListActiveSubscriptions возвращает активные подписки.
	ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error)
	// ListDueQueuedSubscriptions возвращает отложенные подписки с наступившей датой начала.
	ListDueQueuedSubscriptions(ctx context.Context, now time.Time) ([]models.Subscription, error)
	// ActivateSubscription переводит отложенную подписку в active.
	ActivateSubscription(ctx context.Context, id int64, now time.Time) (bool, error)
	// ClaimDistribution отмечает месячное начисление подписки.
	ClaimDistribution(ctx context.Context, id int64, prev *time.Time, next time.Time) (bool, error)
	// MarkSubscriptionExpired переводит подписку в expired.
	MarkSubscriptionExpired(ctx context.Context, id int64) (bool, error)
	// GetPlan возвращает тарифный план.
	GetPlan(ctx context.Context, id int) (*models.Plan, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
}

// Notifier отправляет исходящие сообщения пользователям.
type Notifier interface {
	Notify(notification models.Notification) error
}

// Service реализует операции счётов токенов.
type Service struct {
	repo              LedgerRepository
	cache             Cache
	notifier          Notifier
	log               *slog.Logger
	reviewerID        string
	distributionValid int
}

// New создает новый экземпляр Service.
func New(repo LedgerRepository, cache Cache, notifier Notifier, log *slog.Logger,
	reviewerID string, distributionValid int) *Service {
	return &Service{
		repo:              repo,
		cache:             cache,
		notifier:          notifier,
		log:               log,
		reviewerID:        reviewerID,
		distributionValid: distributionValid,
	}
}

// Credit зачисляет amount токенов со сроком действия validityDays от
// текущего момента и возвращает обновлённый счёт. Срок действия никогда
// не сокращается.
func (s *Service) Credit(ctx context.Context, accountID string, amount, validityDays int) (*models.LedgerAccount, error) {
	expiry := time.Now().AddDate(0, 0, validityDays)
	account, err := s.repo.CreditTokens(ctx, accountID, amount, expiry)
	if err != nil {
		return nil, err
	}
	s.log.Info("credited tokens",
		slog.String("account_id", accountID),
		slog.Int("amount", amount),
		slog.Int("balance", account.TokenBalance))
	return account, nil
}

// Refund возвращает amount токенов, если баланс ещё не просрочен.
// Возврат после очистки пропускается молча: сообщать пользователю о
// невозвращённых просроченных токенах не нужно.
func (s *Service) Refund(ctx context.Context, accountID string, amount int) (bool, error) {
	refunded, err := s.repo.RefundTokens(ctx, accountID, amount, time.Now())
	if err != nil {
		return false, err
	}
	if !refunded {
		s.log.Info("refund skipped, balance already expired",
			slog.String("account_id", accountID),
			slog.Int("amount", amount))
	}
	return refunded, nil
}

// CreditShortlist зачисляет amount кредитов шортлиста.
func (s *Service) CreditShortlist(ctx context.Context, accountID string, amount int) (*models.LedgerAccount, error) {
	return s.repo.CreditShortlist(ctx, accountID, amount)
}

// DebitShortlist списывает amount кредитов шортлиста.
func (s *Service) DebitShortlist(ctx context.Context, accountID string, amount int) error {
	return s.repo.DebitShortlist(ctx, accountID, amount)
}

// GetAccount возвращает счёт аккаунта.
func (s *Service) GetAccount(ctx context.Context, accountID string) (*models.LedgerAccount, error) {
	return s.repo.GetLedgerAccount(ctx, accountID)
}

// SweepExpired обнуляет балансы со сроком действия не позже now.
// Каждому затронутому аккаунту отправляется одно уведомление, ревьюеру
// одно сводное. Повторный запуск ничего не находит.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) error {
	const op = "ledger.SweepExpired"
	swept, err := s.repo.SweepExpiredTokens(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(swept) == 0 {
		return nil
	}

	for _, item := range swept {
		metrics.SweptAccountsTotal.Inc()
		err := s.notifier.Notify(models.Notification{
			AccountID: item.AccountID,
			Text:      fmt.Sprintf("Your %d tokens have expired and were removed from your balance.", item.TokenBalance),
		})
		if err != nil {
			s.log.Error("failed to notify swept account", sl.Err(err),
				slog.String("account_id", item.AccountID))
		}
	}

	err = s.notifier.Notify(models.Notification{
		AccountID: s.reviewerID,
		Text:      fmt.Sprintf("Expiry sweep zeroed %d account(s).", len(swept)),
	})
	if err != nil {
		s.log.Error("failed to notify reviewer about sweep", sl.Err(err))
	}

	s.log.Info("expiry sweep finished", slog.Int("accounts", len(swept)))
	return nil
}

// SweepSubscriptions закрывает истёкшие подписки и начисляет месячные
// порции токенов по активным. Начисление закрепляется условным
// обновлением last_distribution, поэтому параллельная очистка не может
// начислить порцию дважды.
func (s *Service) SweepSubscriptions(ctx context.Context, now time.Time) error {
	const op = "ledger.SweepSubscriptions"
	subs, err := s.repo.ListActiveSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, sub := range subs {
		if !now.Before(sub.EndDate) {
			s.expireSubscription(ctx, sub)
			continue
		}
		if !month.Due(sub.StartDate, sub.LastDistribution, now) {
			continue
		}
		s.distribute(ctx, sub)
	}

	// Отложенные подписки активируются после закрытия истёкших, чтобы
	// освободившееся место занималось в том же проходе.
	queued, err := s.repo.ListDueQueuedSubscriptions(ctx, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, sub := range queued {
		s.activateSubscription(ctx, sub, now)
	}
	return nil
}

// activateSubscription пытается перевести отложенную подписку в active.
// Пока у аккаунта есть активная подписка, условное обновление ничего не
// меняет и подписка остаётся в очереди до следующего прохода.
func (s *Service) activateSubscription(ctx context.Context, sub models.Subscription, now time.Time) {
	activated, err := s.repo.ActivateSubscription(ctx, sub.ID, now)
	if err != nil {
		s.log.Error("failed to activate queued subscription", sl.Err(err), slog.Int64("id", sub.ID))
		return
	}
	if !activated {
		return
	}

	s.log.Info("queued subscription activated", slog.Int64("id", sub.ID),
		slog.String("account_id", sub.AccountID))
	err = s.notifier.Notify(models.Notification{
		AccountID: sub.AccountID,
		Text:      "Your subscription is now active. Monthly tokens start today.",
	})
	if err != nil {
		s.log.Error("failed to notify activated subscription", sl.Err(err),
			slog.String("account_id", sub.AccountID))
	}
	s.distribute(ctx, sub)
}

func (s *Service) expireSubscription(ctx context.Context, sub models.Subscription) {
	expired, err := s.repo.MarkSubscriptionExpired(ctx, sub.ID)
	if err != nil {
		s.log.Error("failed to expire subscription", sl.Err(err), slog.Int64("id", sub.ID))
		return
	}
	if !expired {
		return
	}
	err = s.notifier.Notify(models.Notification{
		AccountID: sub.AccountID,
		Text:      "Your subscription has ended. Purchase a new plan to keep receiving monthly tokens.",
	})
	if err != nil {
		s.log.Error("failed to notify expired subscription", sl.Err(err),
			slog.String("account_id", sub.AccountID))
	}
	s.log.Info("subscription expired", slog.Int64("id", sub.ID),
		slog.String("account_id", sub.AccountID))
}

func (s *Service) distribute(ctx context.Context, sub models.Subscription) {
	next := sub.StartDate
	if sub.LastDistribution != nil {
		next = sub.LastDistribution.AddDate(0, 1, 0)
	}

	claimed, err := s.repo.ClaimDistribution(ctx, sub.ID, sub.LastDistribution, next)
	if err != nil {
		s.log.Error("failed to claim distribution", sl.Err(err), slog.Int64("id", sub.ID))
		return
	}
	if !claimed {
		return
	}

	plan, err := s.getPlan(ctx, sub.PlanID)
	if err != nil {
		s.log.Error("failed to load plan for distribution", sl.Err(err),
			slog.Int("plan_id", sub.PlanID))
		return
	}

	account, err := s.Credit(ctx, sub.AccountID, plan.TokensPerMonth, s.distributionValid)
	if err != nil {
		s.log.Error("failed to credit distribution", sl.Err(err),
			slog.String("account_id", sub.AccountID))
		return
	}
	metrics.DistributionsTotal.Inc()

	err = s.notifier.Notify(models.Notification{
		AccountID: sub.AccountID,
		Text: fmt.Sprintf("Your subscription credited %d tokens. New balance: %d.",
			plan.TokensPerMonth, account.TokenBalance),
	})
	if err != nil {
		s.log.Error("failed to notify distribution", sl.Err(err),
			slog.String("account_id", sub.AccountID))
	}
}

func (s *Service) getPlan(ctx context.Context, id int) (*models.Plan, error) {
	var plan *models.Plan
	cacheKey := fmt.Sprintf("plan:%d", id)
	found, err := s.cache.Get(cacheKey, &plan)
	if err != nil {
		s.log.Warn("failed to read plan from cache", slog.String("key", cacheKey), slog.Any("err", err))
	}
	if found {
		return plan, nil
	}

	plan, err = s.repo.GetPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(cacheKey, plan, time.Hour); err != nil {
		s.log.Warn("failed to cache plan", slog.String("key", cacheKey), slog.Any("err", err))
	}
	return plan, nil
}
