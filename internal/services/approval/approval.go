// Package approval содержит бизнес-логику отложенных действий:
// подачу на проверку ревьюеру и применение его решений.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brandonlmk/jobs-marketplace/internal/lib/decision"
	"github.com/brandonlmk/jobs-marketplace/internal/lib/sl"
	"github.com/brandonlmk/jobs-marketplace/internal/metrics"
	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// ActionRepository определяет методы хранилища для отложенных действий
// и затрагиваемых ими записей.
type ActionRepository interface {
	// CreatePendingAction вставляет действие в статусе pending.
	CreatePendingAction(ctx context.Context, kind, requesterID string, payload models.ActionPayload) (int64, error)
	// GetPendingAction возвращает действие по ID.
	GetPendingAction(ctx context.Context, id int64) (*models.PendingAction, error)
	// DecidePendingAction переводит действие из pending в конечный статус.
	DecidePendingAction(ctx context.Context, id int64, status string) (*models.PendingAction, error)
	// GetPackage возвращает разовый пакет токенов.
	GetPackage(ctx context.Context, id int) (*models.Package, error)
	// GetPlan возвращает тарифный план.
	GetPlan(ctx context.Context, id int) (*models.Plan, error)
	// GetActiveSubscription возвращает активную подписку аккаунта.
	GetActiveSubscription(ctx context.Context, accountID string) (*models.Subscription, error)
	// CreateSubscription вставляет подписку.
	CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error)
	// GetJob возвращает вакансию.
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	// PublishJob переводит вакансию в published.
	PublishJob(ctx context.Context, id int64) (bool, error)
}

// Ledger операции счёта, выполняемые при решении.
type Ledger interface {
	Credit(ctx context.Context, accountID string, amount, validityDays int) (*models.LedgerAccount, error)
	CreditShortlist(ctx context.Context, accountID string, amount int) (*models.LedgerAccount, error)
	Refund(ctx context.Context, accountID string, amount int) (bool, error)
}

// Notifier отправляет исходящие сообщения.
type Notifier interface {
	Notify(notification models.Notification) error
	Broadcast(broadcast models.Broadcast) error
}

// Service реализует брокер отложенных действий.
type Service struct {
	repo             ActionRepository
	ledger           Ledger
	notifier         Notifier
	maker            *decision.Maker
	log              *slog.Logger
	reviewerID       string
	broadcastChannel string
	shortlistBonus   int
}

// New создает новый экземпляр Service.
func New(repo ActionRepository, ledger Ledger, notifier Notifier, maker *decision.Maker,
	log *slog.Logger, reviewerID, broadcastChannel string, shortlistBonus int) *Service {
	return &Service{
		repo:             repo,
		ledger:           ledger,
		notifier:         notifier,
		maker:            maker,
		log:              log,
		reviewerID:       reviewerID,
		broadcastChannel: broadcastChannel,
		shortlistBonus:   shortlistBonus,
	}
}

// Submit регистрирует отложенное действие и отправляет ревьюеру одно
// уведомление с кнопками принять/отклонить. Коды кнопок подписаны и
// содержат идентификатор действия.
func (s *Service) Submit(ctx context.Context, kind, requesterID string, payload models.ActionPayload) (int64, error) {
	const op = "approval.Submit"

	actionID, err := s.repo.CreatePendingAction(ctx, kind, requesterID, payload)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.announce(ctx, actionID, kind, requesterID, payload); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("submitted pending action",
		slog.Int64("action_id", actionID),
		slog.String("kind", kind),
		slog.String("requester_id", requesterID))
	return actionID, nil
}

// Announce отправляет ревьюеру кнопки решения по действию, которое уже
// записано хранилищем (например, внутри транзакции подачи вакансии).
// Уже решённое действие повторно не анонсируется.
func (s *Service) Announce(ctx context.Context, actionID int64) error {
	const op = "approval.Announce"

	action, err := s.repo.GetPendingAction(ctx, actionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if action.Status != models.ActionStatusPending {
		return nil
	}

	if err := s.announce(ctx, action.ID, action.Kind, action.RequesterID, action.Payload); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("announced pending action",
		slog.Int64("action_id", actionID),
		slog.String("kind", action.Kind))
	return nil
}

// announce подписывает коды принять/отклонить и шлёт ревьюеру одно
// уведомление с двумя кнопками.
func (s *Service) announce(ctx context.Context, actionID int64, kind, requesterID string, payload models.ActionPayload) error {
	acceptToken, err := s.maker.Sign(actionID, decision.VerdictAccept)
	if err != nil {
		return err
	}
	rejectToken, err := s.maker.Sign(actionID, decision.VerdictReject)
	if err != nil {
		return err
	}

	err = s.notifier.Notify(models.Notification{
		AccountID: s.reviewerID,
		Text:      s.reviewText(ctx, kind, requesterID, payload),
		Actions: []models.Action{
			{Label: "Accept", Token: acceptToken},
			{Label: "Reject", Token: rejectToken},
		},
	})
	if err != nil {
		s.log.Error("failed to notify reviewer", sl.Err(err), slog.Int64("action_id", actionID))
	}
	return nil
}

// Decide применяет вердикт ревьюера к действию actionID. Переход из
// pending выполняется условным обновлением, поэтому из конкурентных
// решений эффект получает ровно одно; повторное решение по уже
// решённому действию подтверждается без эффекта. Неизвестное действие —
// models.ErrNotFound. Статус фиксируется до применения эффекта: эффект
// не может примениться дважды, а сбой после фиксации виден в журнале
// действий и устраняется вручную.
func (s *Service) Decide(ctx context.Context, actionID int64, verdict string) error {
	const op = "approval.Decide"

	status := models.ActionStatusApproved
	if verdict == decision.VerdictReject {
		status = models.ActionStatusRejected
	}

	action, err := s.repo.DecidePendingAction(ctx, actionID, status)
	if errors.Is(err, models.ErrNotFound) {
		// Либо уже решено, либо не существует.
		if _, getErr := s.repo.GetPendingAction(ctx, actionID); getErr == nil {
			s.log.Info("duplicate decision acknowledged", slog.Int64("action_id", actionID))
			return nil
		}
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.DecisionsTotal.WithLabelValues(verdict).Inc()
	s.log.Info("decision applied",
		slog.Int64("action_id", actionID),
		slog.String("kind", action.Kind),
		slog.String("verdict", verdict))

	if status == models.ActionStatusApproved {
		return s.applyApproval(ctx, action)
	}
	return s.applyRejection(ctx, action)
}

func (s *Service) applyApproval(ctx context.Context, action *models.PendingAction) error {
	const op = "approval.applyApproval"

	switch action.Kind {
	case models.ActionKindPayment:
		if action.Payload.PackageID != nil {
			return s.approvePackagePayment(ctx, action)
		}
		if action.Payload.PlanID != nil {
			return s.approvePlanPayment(ctx, action)
		}
		return fmt.Errorf("%s: payment action %d has no package or plan", op, action.ID)
	case models.ActionKindJobPost, models.ActionKindJobRepost:
		return s.approveJob(ctx, action)
	default:
		return fmt.Errorf("%s: unknown action kind %q", op, action.Kind)
	}
}

func (s *Service) approvePackagePayment(ctx context.Context, action *models.PendingAction) error {
	const op = "approval.approvePackagePayment"

	pkg, err := s.repo.GetPackage(ctx, *action.Payload.PackageID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	account, err := s.ledger.Credit(ctx, action.RequesterID, pkg.Tokens, pkg.ValidityDays)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	text := fmt.Sprintf("Payment approved. %d tokens credited, balance: %d.",
		pkg.Tokens, account.TokenBalance)
	if account.TokenExpiry != nil {
		text = fmt.Sprintf("%s Valid until %s.", text, account.TokenExpiry.Format("02-01-2006"))
	}
	s.notifyRequester(action.RequesterID, text)
	return nil
}

func (s *Service) approvePlanPayment(ctx context.Context, action *models.PendingAction) error {
	const op = "approval.approvePlanPayment"

	plan, err := s.repo.GetPlan(ctx, *action.Payload.PlanID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Новая подписка при активной вставляется как queued с началом на
	// день после окончания текущей; очистка подписок активирует её,
	// когда место освободится.
	start := time.Now()
	status := models.SubscriptionActive
	active, err := s.repo.GetActiveSubscription(ctx, action.RequesterID)
	if err == nil {
		start = active.EndDate.AddDate(0, 0, 1)
		status = models.SubscriptionQueued
	} else if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	end := start.AddDate(0, plan.DurationMonths, 0)

	_, err = s.repo.CreateSubscription(ctx, models.Subscription{
		AccountID: action.RequesterID,
		PlanID:    plan.ID,
		StartDate: start,
		EndDate:   end,
		Status:    status,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.notifyRequester(action.RequesterID,
		fmt.Sprintf("Subscription approved. %d tokens monthly from %s until %s.",
			plan.TokensPerMonth, start.Format("02-01-2006"), end.Format("02-01-2006")))
	return nil
}

func (s *Service) approveJob(ctx context.Context, action *models.PendingAction) error {
	const op = "approval.approveJob"

	if action.Payload.JobID == nil {
		return fmt.Errorf("%s: action %d has no job id", op, action.ID)
	}

	job, err := s.repo.GetJob(ctx, *action.Payload.JobID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.repo.PublishJob(ctx, job.ID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.notifier.Broadcast(models.Broadcast{
		ChannelRef: s.broadcastChannel,
		Text: fmt.Sprintf("%s\nIndustry: %s\nSchedule: %s\nPay: %s\n%s",
			job.Title, job.Industry, job.Schedule, job.PayRate, job.Scope),
	})
	if err != nil {
		s.log.Error("failed to broadcast job", sl.Err(err), slog.Int64("job_id", job.ID))
	}

	if _, err := s.ledger.CreditShortlist(ctx, action.RequesterID, s.shortlistBonus); err != nil {
		s.log.Error("failed to credit shortlist bonus", sl.Err(err),
			slog.String("account_id", action.RequesterID))
	}

	s.notifyRequester(action.RequesterID,
		fmt.Sprintf("Your job %q has been approved and published. %d shortlist credits added.",
			job.Title, s.shortlistBonus))
	return nil
}

func (s *Service) applyRejection(ctx context.Context, action *models.PendingAction) error {
	switch action.Kind {
	case models.ActionKindPayment:
		s.notifyRequester(action.RequesterID,
			"Your payment was rejected. Check the screenshot and try again.")
	case models.ActionKindJobPost, models.ActionKindJobRepost:
		// Возврат проходит только пока списанный баланс ещё жив.
		if action.Payload.DebitedTokens > 0 {
			refunded, err := s.ledger.Refund(ctx, action.RequesterID, action.Payload.DebitedTokens)
			if err != nil {
				return fmt.Errorf("approval.applyRejection: %w", err)
			}
			if refunded {
				s.notifyRequester(action.RequesterID,
					fmt.Sprintf("Your job post was rejected. %d tokens have been refunded.",
						action.Payload.DebitedTokens))
				return nil
			}
		}
		s.notifyRequester(action.RequesterID, "Your job post was rejected.")
	}
	return nil
}

func (s *Service) notifyRequester(accountID, text string) {
	err := s.notifier.Notify(models.Notification{AccountID: accountID, Text: text})
	if err != nil {
		s.log.Error("failed to notify requester", sl.Err(err),
			slog.String("account_id", accountID))
	}
}

func (s *Service) reviewText(ctx context.Context, kind, requesterID string, payload models.ActionPayload) string {
	switch kind {
	case models.ActionKindPayment:
		if payload.PackageID != nil {
			if pkg, err := s.repo.GetPackage(ctx, *payload.PackageID); err == nil {
				return fmt.Sprintf("Payment review: %s package from %s, evidence %s",
					pkg.Name, requesterID, payload.EvidenceRef)
			}
		}
		if payload.PlanID != nil {
			if plan, err := s.repo.GetPlan(ctx, *payload.PlanID); err == nil {
				return fmt.Sprintf("Payment review: %s plan from %s, evidence %s",
					plan.Name, requesterID, payload.EvidenceRef)
			}
		}
		return fmt.Sprintf("Payment review from %s, evidence %s", requesterID, payload.EvidenceRef)
	case models.ActionKindJobPost, models.ActionKindJobRepost:
		if payload.JobID != nil {
			if job, err := s.repo.GetJob(ctx, *payload.JobID); err == nil {
				return fmt.Sprintf("Job review: %q from %s", job.Title, requesterID)
			}
		}
		return fmt.Sprintf("Job review from %s", requesterID)
	default:
		return fmt.Sprintf("Review request %s from %s", kind, requesterID)
	}
}
