// Package dispatch маршрутизирует типизированные входящие события в
// операции ядра. Один и тот же диспетчер обслуживает вебхук и очередь
// AMQP, поэтому доставка как минимум один раз безопасна: домены
// отбрасывают повторы сами.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brandonlmk/jobs-marketplace/internal/lib/decision"
	"github.com/brandonlmk/jobs-marketplace/internal/lib/sl"
	"github.com/brandonlmk/jobs-marketplace/internal/metrics"
	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// Intake операции машины состояний диалогов.
type Intake interface {
	Start(ctx context.Context, sessionID, dialog string) error
	Advance(ctx context.Context, sessionID, text string) error
	Cancel(ctx context.Context, sessionID string) error
	SubmitEvidence(ctx context.Context, sessionID, evidenceRef string) error
}

// Approval применение решений ревьюера.
type Approval interface {
	Decide(ctx context.Context, actionID int64, verdict string) error
}

// Ledger списание кредитов шортлиста.
type Ledger interface {
	DebitShortlist(ctx context.Context, accountID string, amount int) error
}

// JobRepository записи вакансий, затрагиваемые шортлистом.
type JobRepository interface {
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	IncrementShortlistCount(ctx context.Context, id int64) error
}

// Notifier отправляет исходящие сообщения.
type Notifier interface {
	Notify(notification models.Notification) error
}

// Service реализует диспетчер входящих событий.
type Service struct {
	intake   Intake
	approval Approval
	ledger   Ledger
	jobs     JobRepository
	notifier Notifier
	maker    *decision.Maker
	log      *slog.Logger
}

// New создает новый экземпляр Service.
func New(intake Intake, approval Approval, ledger Ledger, jobs JobRepository,
	notifier Notifier, maker *decision.Maker, log *slog.Logger) *Service {
	return &Service{
		intake:   intake,
		approval: approval,
		ledger:   ledger,
		jobs:     jobs,
		notifier: notifier,
		maker:    maker,
		log:      log,
	}
}

// Dispatch обрабатывает одно входящее событие. Отказ домена
// (некорректный ввод, конфликт, нехватка баланса, повтор) считается
// обработанным: пользователь уже получил объяснение, событие не
// возвращается в очередь. Ошибка возвращается только при
// инфраструктурном сбое.
func (s *Service) Dispatch(ctx context.Context, event models.InboundEvent) error {
	const op = "dispatch.Dispatch"

	metrics.EventsTotal.WithLabelValues(event.Type).Inc()

	var err error
	switch event.Type {
	case models.EventStart:
		err = s.intake.Start(ctx, event.SessionID, event.Dialog)
	case models.EventCancel:
		err = s.intake.Cancel(ctx, event.SessionID)
	case models.EventMessage:
		err = s.intake.Advance(ctx, event.SessionID, event.Text)
	case models.EventChoice:
		err = s.intake.Advance(ctx, event.SessionID, event.ChoiceID)
	case models.EventEvidence:
		err = s.intake.SubmitEvidence(ctx, event.SessionID, event.EvidenceRef)
	case models.EventDecision:
		err = s.decide(ctx, event)
	case models.EventShortlist:
		err = s.shortlist(ctx, event)
	default:
		return fmt.Errorf("%s: unknown event type %q", op, event.Type)
	}

	if err == nil {
		return nil
	}
	if isDomainRejection(err) {
		s.log.Info("event rejected",
			slog.String("type", event.Type),
			slog.String("session_id", event.SessionID),
			sl.Err(err))
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) decide(ctx context.Context, event models.InboundEvent) error {
	actionID, verdict, err := s.maker.Parse(event.DecisionToken)
	if err != nil {
		s.notify(event.SessionID, "Invalid decision code.")
		return models.NewValidationError("decision_token", "invalid decision code")
	}

	err = s.approval.Decide(ctx, actionID, verdict)
	if errors.Is(err, models.ErrNotFound) {
		s.notify(event.SessionID, "This review request no longer exists.")
		return err
	}
	return err
}

func (s *Service) shortlist(ctx context.Context, event models.InboundEvent) error {
	job, err := s.jobs.GetJob(ctx, event.JobID)
	if errors.Is(err, models.ErrNotFound) {
		s.notify(event.SessionID, "That job no longer exists.")
		return err
	}
	if err != nil {
		return err
	}

	err = s.ledger.DebitShortlist(ctx, event.SessionID, 1)
	if errors.Is(err, models.ErrInsufficientBalance) {
		s.notify(event.SessionID, "You have no shortlist credits left.")
		return err
	}
	if err != nil {
		return err
	}

	if err := s.jobs.IncrementShortlistCount(ctx, job.ID); err != nil {
		return err
	}

	s.notify(event.SessionID, fmt.Sprintf("Applicant %s shortlisted for %q.",
		event.ApplicantRef, job.Title))
	err = s.notifier.Notify(models.Notification{
		AccountID: job.AccountID,
		Text:      fmt.Sprintf("An applicant was shortlisted for your job %q.", job.Title),
	})
	if err != nil {
		s.log.Error("failed to notify job owner", sl.Err(err), slog.Int64("job_id", job.ID))
	}
	return nil
}

func (s *Service) notify(accountID, text string) {
	err := s.notifier.Notify(models.Notification{AccountID: accountID, Text: text})
	if err != nil {
		s.log.Error("failed to send notification", sl.Err(err), slog.String("account_id", accountID))
	}
}

// isDomainRejection отличает отказ домена от инфраструктурного сбоя.
func isDomainRejection(err error) bool {
	return models.IsValidation(err) ||
		errors.Is(err, models.ErrConflict) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInsufficientBalance) ||
		errors.Is(err, models.ErrStaleTurn)
}
