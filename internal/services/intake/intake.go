// Package intake содержит машину состояний диалогов: регистрацию,
// размещение вакансий, покупку токенов и подписок, правку анкеты.
// Все исходящие сообщения пользователю отправляет сам пакет, поэтому
// на каждое входящее событие приходится ровно один ответ.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/brandonlmk/jobs-marketplace/internal/lib/sl"
	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// IntakeRepository определяет методы хранилища для сессий и записей,
// создаваемых диалогами.
type IntakeRepository interface {
	// StartSession начинает диалог; при активном диалоге — models.ErrConflict.
	StartSession(ctx context.Context, sessionID, dialog, firstStep string) error
	// GetSession возвращает сессию.
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	// AdvanceSession переводит сессию на следующий шаг условным обновлением.
	AdvanceSession(ctx context.Context, sessionID, fromStep, field, value, nextStep string) error
	// ClearSession завершает диалог.
	ClearSession(ctx context.Context, sessionID string) error
	// CreateProfile вставляет профиль.
	CreateProfile(ctx context.Context, profile models.Profile) (int64, error)
	// GetProfile возвращает профиль.
	GetProfile(ctx context.Context, id int64) (*models.Profile, error)
	// ListProfiles возвращает профили аккаунта.
	ListProfiles(ctx context.Context, accountID string) ([]models.Profile, error)
	// UpdateProfileAttr обновляет поле анкеты.
	UpdateProfileAttr(ctx context.Context, id int64, attr, value string) error
	// GetJob возвращает вакансию.
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	// SubmitJobForReview одной транзакцией списывает токены, вставляет
	// вакансию и регистрирует действие job-post.
	SubmitJobForReview(ctx context.Context, accountID string, cost int, job models.Job) (int64, int64, error)
	// SubmitJobRepost одной транзакцией списывает токены и регистрирует
	// действие job-repost.
	SubmitJobRepost(ctx context.Context, accountID string, cost int, jobID int64) (int64, error)
	// GetPackage возвращает разовый пакет токенов.
	GetPackage(ctx context.Context, id int) (*models.Package, error)
	// ListPackages возвращает все пакеты.
	ListPackages(ctx context.Context) ([]models.Package, error)
	// ListPlans возвращает все тарифные планы.
	ListPlans(ctx context.Context) ([]models.Plan, error)
}

// Approver регистрирует отложенные действия и анонсирует ревьюеру
// действия, уже записанные хранилищем.
type Approver interface {
	Submit(ctx context.Context, kind, requesterID string, payload models.ActionPayload) (int64, error)
	Announce(ctx context.Context, actionID int64) error
}

// Notifier отправляет исходящие сообщения.
type Notifier interface {
	Prompt(prompt models.Prompt) error
	Notify(notification models.Notification) error
}

// Service реализует машину состояний диалогов.
type Service struct {
	repo          IntakeRepository
	approver      Approver
	notifier      Notifier
	log           *slog.Logger
	jobPostCost   int
	jobRepostCost int
}

// New создает новый экземпляр Service.
func New(repo IntakeRepository, approver Approver, notifier Notifier,
	log *slog.Logger, jobPostCost, jobRepostCost int) *Service {
	return &Service{
		repo:          repo,
		approver:      approver,
		notifier:      notifier,
		log:           log,
		jobPostCost:   jobPostCost,
		jobRepostCost: jobRepostCost,
	}
}

// Start начинает диалог name в сессии sessionID и задаёт первый вопрос.
// При уже активном диалоге сессия не меняется, пользователю уходит
// объяснение и возвращается models.ErrConflict.
func (s *Service) Start(ctx context.Context, sessionID, name string) error {
	const op = "intake.Start"

	d, ok := dialogs[name]
	if !ok {
		s.notify(sessionID, fmt.Sprintf("Unknown dialog %q.", name))
		return models.NewValidationError("dialog", fmt.Sprintf("unknown dialog %q", name))
	}

	err := s.repo.StartSession(ctx, sessionID, name, d.first)
	if errors.Is(err, models.ErrConflict) {
		s.notify(sessionID, "You already have an active dialog. Finish it or cancel it first.")
		return fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.sendPrompt(ctx, sessionID, name, d.first)
	s.log.Info("dialog started",
		slog.String("session_id", sessionID),
		slog.String("dialog", name))
	return nil
}

// Advance обрабатывает текстовый ответ на текущий шаг. Некорректный
// ввод не меняет состояние: пользователю повторяется тот же вопрос и
// возвращается ValidationError. Успешный ход закрепляется условным
// обновлением; проигравший гонку ход получает models.ErrStaleTurn.
func (s *Service) Advance(ctx context.Context, sessionID, text string) error {
	const op = "intake.Advance"

	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	st, ok := dialogs[session.Dialog].steps[session.CurrentStep]
	if !ok {
		return fmt.Errorf("%s: unknown step %q in dialog %q", op, session.CurrentStep, session.Dialog)
	}
	if st.evidence {
		s.notify(sessionID, "Please send the payment screenshot as an attachment.")
		return models.NewValidationError(st.field, "expected an attachment")
	}

	value := strings.TrimSpace(text)
	if err := st.validate(value); err != nil {
		s.notify(sessionID, fmt.Sprintf("%s. %s", err.Error(), st.prompt))
		return err
	}

	next := st.nextStep(value)
	err = s.repo.AdvanceSession(ctx, sessionID, session.CurrentStep, st.field, value, next)
	if errors.Is(err, models.ErrStaleTurn) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if next != "" {
		s.sendPrompt(ctx, sessionID, session.Dialog, next)
		return nil
	}

	scratch := session.Scratch
	if scratch == nil {
		scratch = make(map[string]string)
	}
	scratch[st.field] = value
	return s.finalize(ctx, sessionID, session.Dialog, scratch)
}

// Cancel безусловно завершает активный диалог. Повторная отмена и
// отмена без диалога безвредны.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	const op = "intake.Cancel"
	if err := s.repo.ClearSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.notify(sessionID, "Dialog cancelled.")
	return nil
}

// SubmitEvidence обрабатывает вложение на шаге evidence: закрепляет
// ссылку и регистрирует платёж на проверку ревьюеру.
func (s *Service) SubmitEvidence(ctx context.Context, sessionID, evidenceRef string) error {
	const op = "intake.SubmitEvidence"

	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	st, ok := dialogs[session.Dialog].steps[session.CurrentStep]
	if !ok || !st.evidence {
		s.notify(sessionID, "Not expecting an attachment right now.")
		return models.NewValidationError("evidence", "not expecting an attachment")
	}

	err = s.repo.AdvanceSession(ctx, sessionID, session.CurrentStep, st.field, evidenceRef, "")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	scratch := session.Scratch
	if scratch == nil {
		scratch = make(map[string]string)
	}
	scratch[st.field] = evidenceRef
	return s.finalize(ctx, sessionID, session.Dialog, scratch)
}

func (s *Service) activeSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && !session.Active()) {
		s.notify(sessionID, "No active dialog. Start one first.")
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) finalize(ctx context.Context, sessionID, dialogName string, scratch map[string]string) error {
	switch dialogName {
	case DialogRegistration:
		return s.finalizeRegistration(ctx, sessionID, scratch)
	case DialogJobPost:
		return s.finalizeJobPost(ctx, sessionID, scratch)
	case DialogJobRepost:
		return s.finalizeJobRepost(ctx, sessionID, scratch)
	case DialogTopUp:
		return s.finalizeTopUp(ctx, sessionID, scratch)
	case DialogSubscribe:
		return s.finalizeSubscribe(ctx, sessionID, scratch)
	case DialogEditProfile:
		return s.finalizeEditProfile(ctx, sessionID, scratch)
	default:
		return fmt.Errorf("intake.finalize: unknown dialog %q", dialogName)
	}
}

func (s *Service) finalizeRegistration(ctx context.Context, sessionID string, scratch map[string]string) error {
	const op = "intake.finalizeRegistration"

	kind := scratch["account_type"]
	attrs := make(map[string]string)
	for _, field := range editableAttrs[kind] {
		if value, ok := scratch[field]; ok {
			attrs[field] = value
		}
	}

	_, err := s.repo.CreateProfile(ctx, models.Profile{
		UID:       uuid.New().String(),
		AccountID: sessionID,
		Kind:      kind,
		Attrs:     attrs,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.clearSession(ctx, sessionID)
	s.notify(sessionID, "Registration complete. Your profile has been created.")
	s.log.Info("profile registered",
		slog.String("session_id", sessionID),
		slog.String("kind", kind))
	return nil
}

func (s *Service) finalizeJobPost(ctx context.Context, sessionID string, scratch map[string]string) error {
	const op = "intake.finalizeJobPost"

	profileID, _ := strconv.ParseInt(scratch["profile"], 10, 64)
	profile, err := s.repo.GetProfile(ctx, profileID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && profile.AccountID != sessionID) {
		s.clearSession(ctx, sessionID)
		s.notify(sessionID, "That profile does not exist or is not yours. Dialog closed.")
		return models.NewValidationError("profile", "unknown profile")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if profile.Kind != models.ProfileAgency {
		s.clearSession(ctx, sessionID)
		s.notify(sessionID, "Only agency profiles can post jobs. Dialog closed.")
		return models.NewValidationError("profile", "not an agency profile")
	}

	// Списание, вакансия и отложенное действие фиксируются одной
	// транзакцией: при нехватке баланса действие не создаётся, а сбой
	// после списания не оставляет токены потерянными.
	jobID, actionID, err := s.repo.SubmitJobForReview(ctx, sessionID, s.jobPostCost, models.Job{
		AccountID: sessionID,
		ProfileID: profile.ID,
		Title:     scratch["job_title"],
		Industry:  scratch["company_industry"],
		Schedule:  scratch["date_time"],
		PayRate:   scratch["pay_rate"],
		Scope:     scratch["job_scope"],
	})
	if errors.Is(err, models.ErrInsufficientBalance) {
		s.clearSession(ctx, sessionID)
		s.notify(sessionID, fmt.Sprintf(
			"Posting a job costs %d tokens and your balance is too low. Top up and try again.",
			s.jobPostCost))
		return fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// Действие и списание уже зафиксированы: сбой анонса не должен
	// откатывать подачу.
	if err := s.approver.Announce(ctx, actionID); err != nil {
		s.log.Error("failed to announce pending action", sl.Err(err),
			slog.Int64("action_id", actionID))
	}

	s.clearSession(ctx, sessionID)
	s.notify(sessionID, fmt.Sprintf(
		"Your job has been submitted for review. %d tokens were debited.", s.jobPostCost))
	s.log.Info("job submitted for review",
		slog.String("session_id", sessionID),
		slog.Int64("job_id", jobID))
	return nil
}

func (s *Service) finalizeJobRepost(ctx context.Context, sessionID string, scratch map[string]string) error {
	const op = "intake.finalizeJobRepost"

	jobID, _ := strconv.ParseInt(scratch["job"], 10, 64)
	job, err := s.repo.GetJob(ctx, jobID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && job.AccountID != sessionID) {
		s.clearSession(ctx, sessionID)
		s.notify(sessionID, "That job does not exist or is not yours. Dialog closed.")
		return models.NewValidationError("job", "unknown job")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	actionID, err := s.repo.SubmitJobRepost(ctx, sessionID, s.jobRepostCost, job.ID)
	if errors.Is(err, models.ErrInsufficientBalance) {
		s.clearSession(ctx, sessionID)
		s.notify(sessionID, fmt.Sprintf(
			"Reposting a job costs %d tokens and your balance is too low. Top up and try again.",
			s.jobRepostCost))
		return fmt.Errorf("%s: %w", op, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.approver.Announce(ctx, actionID); err != nil {
		s.log.Error("failed to announce pending action", sl.Err(err),
			slog.Int64("action_id", actionID))
	}

	s.clearSession(ctx, sessionID)
	s.notify(sessionID, fmt.Sprintf(
		"Your job has been submitted for a repost review. %d tokens were debited.", s.jobRepostCost))
	s.log.Info("job submitted for repost review",
		slog.String("session_id", sessionID),
		slog.Int64("job_id", job.ID))
	return nil
}

func (s *Service) finalizeTopUp(ctx context.Context, sessionID string, scratch map[string]string) error {
	const op = "intake.finalizeTopUp"

	packageID, _ := strconv.Atoi(scratch["package"])
	pkg, err := s.repo.GetPackage(ctx, packageID)
	if errors.Is(err, models.ErrNotFound) {
		s.clearSession(ctx, sessionID)
		s.notify(sessionID, "That package does not exist. Dialog closed.")
		return models.NewValidationError("package", "unknown package")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.approver.Submit(ctx, models.ActionKindPayment, sessionID, models.ActionPayload{
		PackageID:   &pkg.ID,
		EvidenceRef: scratch["evidence"],
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.clearSession(ctx, sessionID)
	s.notify(sessionID, "Your payment has been submitted for review. You will be notified once it is checked.")
	return nil
}

func (s *Service) finalizeSubscribe(ctx context.Context, sessionID string, scratch map[string]string) error {
	const op = "intake.finalizeSubscribe"

	planID, _ := strconv.Atoi(scratch["plan"])
	plans, err := s.repo.ListPlans(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	var found bool
	for _, plan := range plans {
		if plan.ID == planID {
			found = true
			break
		}
	}
	if !found {
		s.clearSession(ctx, sessionID)
		s.notify(sessionID, "That plan does not exist. Dialog closed.")
		return models.NewValidationError("plan", "unknown plan")
	}

	_, err = s.approver.Submit(ctx, models.ActionKindPayment, sessionID, models.ActionPayload{
		PlanID:      &planID,
		EvidenceRef: scratch["evidence"],
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.clearSession(ctx, sessionID)
	s.notify(sessionID, "Your payment has been submitted for review. You will be notified once it is checked.")
	return nil
}

func (s *Service) finalizeEditProfile(ctx context.Context, sessionID string, scratch map[string]string) error {
	const op = "intake.finalizeEditProfile"

	profileID, _ := strconv.ParseInt(scratch["profile"], 10, 64)
	profile, err := s.repo.GetProfile(ctx, profileID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && profile.AccountID != sessionID) {
		s.clearSession(ctx, sessionID)
		s.notify(sessionID, "That profile does not exist or is not yours. Dialog closed.")
		return models.NewValidationError("profile", "unknown profile")
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	attr := scratch["attribute"]
	if !attrAllowed(profile.Kind, attr) {
		s.clearSession(ctx, sessionID)
		s.notify(sessionID, fmt.Sprintf("Field %q cannot be edited. Dialog closed.", attr))
		return models.NewValidationError("attribute", "not editable")
	}

	if err := s.repo.UpdateProfileAttr(ctx, profile.ID, attr, scratch["value"]); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.clearSession(ctx, sessionID)
	s.notify(sessionID, "Profile updated.")
	return nil
}

// sendPrompt отправляет вопрос шага, дополняя его справочными
// вариантами для шагов выбора пакета, плана или профиля.
func (s *Service) sendPrompt(ctx context.Context, sessionID, dialogName, stepName string) {
	st := dialogs[dialogName].steps[stepName]
	text := st.prompt

	switch {
	case (dialogName == DialogJobPost || dialogName == DialogEditProfile) && stepName == "profile":
		if profiles, err := s.repo.ListProfiles(ctx, sessionID); err == nil {
			var lines []string
			for _, profile := range profiles {
				lines = append(lines, fmt.Sprintf("%d: %s profile", profile.ID, profile.Kind))
			}
			if len(lines) > 0 {
				text = fmt.Sprintf("%s\n%s", text, strings.Join(lines, "\n"))
			}
		}
	case dialogName == DialogTopUp && stepName == "package":
		if packages, err := s.repo.ListPackages(ctx); err == nil {
			var lines []string
			for _, pkg := range packages {
				lines = append(lines, fmt.Sprintf("%d: %s - %d tokens, $%d, %d days",
					pkg.ID, pkg.Name, pkg.Tokens, pkg.Price, pkg.ValidityDays))
			}
			text = fmt.Sprintf("%s\n%s", text, strings.Join(lines, "\n"))
		}
	case dialogName == DialogSubscribe && stepName == "plan":
		if plans, err := s.repo.ListPlans(ctx); err == nil {
			var lines []string
			for _, plan := range plans {
				lines = append(lines, fmt.Sprintf("%d: %s - %d tokens/month, $%d, %d months",
					plan.ID, plan.Name, plan.TokensPerMonth, plan.Price, plan.DurationMonths))
			}
			text = fmt.Sprintf("%s\n%s", text, strings.Join(lines, "\n"))
		}
	}

	err := s.notifier.Prompt(models.Prompt{
		SessionID: sessionID,
		Text:      text,
		Choices:   st.choices,
	})
	if err != nil {
		s.log.Error("failed to send prompt", sl.Err(err), slog.String("session_id", sessionID))
	}
}

func (s *Service) notify(sessionID, text string) {
	err := s.notifier.Notify(models.Notification{AccountID: sessionID, Text: text})
	if err != nil {
		s.log.Error("failed to send notification", sl.Err(err), slog.String("session_id", sessionID))
	}
}

func (s *Service) clearSession(ctx context.Context, sessionID string) {
	if err := s.repo.ClearSession(ctx, sessionID); err != nil {
		s.log.Error("failed to clear session", sl.Err(err), slog.String("session_id", sessionID))
	}
}
