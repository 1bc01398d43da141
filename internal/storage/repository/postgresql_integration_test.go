package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

func TestStorage_Sessions(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	verify := NewTestVerification(storage)

	err := storage.StartSession(ctx, "sess-1", "registration", "account_type")
	require.NoError(t, err)
	verify.VerifySessionStep(t, "sess-1", "account_type")

	// Второй старт при активном диалоге отклоняется.
	err = storage.StartSession(ctx, "sess-1", "topup", "package")
	require.ErrorIs(t, err, models.ErrConflict)
	verify.VerifySessionStep(t, "sess-1", "account_type")

	err = storage.AdvanceSession(ctx, "sess-1", "account_type", "account_type", "applicant", "name")
	require.NoError(t, err)

	session, err := storage.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "name", session.CurrentStep)
	assert.Equal(t, "applicant", session.Scratch["account_type"])
	assert.True(t, session.Active())

	// Ход от уже пройденного шага проигрывает.
	err = storage.AdvanceSession(ctx, "sess-1", "account_type", "account_type", "agency", "full_name")
	require.ErrorIs(t, err, models.ErrStaleTurn)

	err = storage.ClearSession(ctx, "sess-1")
	require.NoError(t, err)
	verify.VerifySessionStep(t, "sess-1", "")

	// Повторная отмена безвредна.
	err = storage.ClearSession(ctx, "sess-1")
	require.NoError(t, err)

	// После завершения диалога можно начать новый, scratch пуст.
	err = storage.StartSession(ctx, "sess-1", "topup", "package")
	require.NoError(t, err)
	session, err = storage.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "topup", session.Dialog)
	assert.Empty(t, session.Scratch)

	_, err = storage.GetSession(ctx, "no-such-session")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStorage_AdvanceSession_ConcurrentTurns(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, storage.StartSession(ctx, "sess-race", "registration", "name"))

	const turns = 10
	var wg sync.WaitGroup
	results := make(chan error, turns)

	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- storage.AdvanceSession(ctx, "sess-race", "name", "name", "Alice", "dob")
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, stale int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrStaleTurn):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one turn should win")
	assert.Equal(t, turns-1, stale)
}

func TestStorage_PendingActions(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	verify := NewTestVerification(storage)

	packageID := 1
	id, err := storage.CreatePendingAction(ctx, models.ActionKindPayment, "acc-1",
		models.ActionPayload{PackageID: &packageID, EvidenceRef: "file-abc"})
	require.NoError(t, err)
	verify.VerifyActionStatus(t, id, models.ActionStatusPending)

	action, err := storage.GetPendingAction(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ActionKindPayment, action.Kind)
	assert.Equal(t, "acc-1", action.RequesterID)
	require.NotNil(t, action.Payload.PackageID)
	assert.Equal(t, packageID, *action.Payload.PackageID)
	assert.Nil(t, action.DecidedAt)

	decided, err := storage.DecidePendingAction(ctx, id, models.ActionStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusApproved, decided.Status)
	assert.NotNil(t, decided.DecidedAt)

	// Повторное решение не находит pending-строку.
	_, err = storage.DecidePendingAction(ctx, id, models.ActionStatusRejected)
	require.ErrorIs(t, err, models.ErrNotFound)
	verify.VerifyActionStatus(t, id, models.ActionStatusApproved)

	_, err = storage.DecidePendingAction(ctx, 99999, models.ActionStatusApproved)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStorage_DecidePendingAction_ConcurrentDecisions(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	id := factory.CreatePendingAction(t, models.ActionKindJobPost, "acc-1", models.ActionStatusPending)

	const deciders = 8
	var wg sync.WaitGroup
	results := make(chan error, deciders)

	for i := 0; i < deciders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := storage.DecidePendingAction(ctx, id, models.ActionStatusApproved)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, models.ErrNotFound)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one decision should win")
}

func TestStorage_CreditTokens(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	near := time.Now().UTC().AddDate(0, 0, 30).Truncate(time.Second)
	far := time.Now().UTC().AddDate(0, 0, 90).Truncate(time.Second)

	// Первое зачисление создаёт счёт.
	account, err := storage.CreditTokens(ctx, "acc-credit", 45, far)
	require.NoError(t, err)
	assert.Equal(t, 45, account.TokenBalance)
	require.NotNil(t, account.TokenExpiry)
	assert.WithinDuration(t, far, *account.TokenExpiry, time.Second)

	// Зачисление с более ранним сроком не сокращает его.
	account, err = storage.CreditTokens(ctx, "acc-credit", 10, near)
	require.NoError(t, err)
	assert.Equal(t, 55, account.TokenBalance)
	require.NotNil(t, account.TokenExpiry)
	assert.WithinDuration(t, far, *account.TokenExpiry, time.Second)
}

func TestStorage_SubmitJobRepost_ConcurrentDebits(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	verify := NewTestVerification(storage)

	expiry := time.Now().AddDate(0, 0, 30)
	factory.CreateAccount(t, "acc-race", 100, &expiry, 0)
	profileID := factory.CreateProfile(t, "acc-race", models.ProfileAgency)
	jobID := factory.CreateJob(t, "acc-race", profileID, "Cleaner", models.JobStatusPublished)

	// 10 конкурентных подач по 45 из баланса 100: ровно две проходят,
	// и действий создаётся ровно столько же, сколько списаний.
	const submits = 10
	var wg sync.WaitGroup
	results := make(chan error, submits)

	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := storage.SubmitJobRepost(ctx, "acc-race", 45, jobID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, models.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 2, succeeded)
	verify.VerifyTokenBalance(t, "acc-race", 10)

	var actions int
	require.NoError(t, storage.DB.QueryRow(
		"SELECT COUNT(*) FROM pending_actions WHERE requester_id = $1", "acc-race").Scan(&actions))
	assert.Equal(t, 2, actions)
}

func TestStorage_RefundTokens(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	verify := NewTestVerification(storage)

	now := time.Now()

	tests := []struct {
		name        string
		accountID   string
		expiry      *time.Time
		wantRefund  bool
		wantBalance int
	}{
		{
			name:        "refund with live expiry",
			accountID:   "acc-refund-live",
			expiry:      ptrTime(now.AddDate(0, 0, 30)),
			wantRefund:  true,
			wantBalance: 55,
		},
		{
			name:        "refund after expiry is skipped",
			accountID:   "acc-refund-expired",
			expiry:      ptrTime(now.AddDate(0, 0, -1)),
			wantRefund:  false,
			wantBalance: 10,
		},
		{
			name:        "refund without expiry is skipped",
			accountID:   "acc-refund-none",
			expiry:      nil,
			wantRefund:  false,
			wantBalance: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory.CreateAccount(t, tt.accountID, 10, tt.expiry, 0)

			refunded, err := storage.RefundTokens(ctx, tt.accountID, 45, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRefund, refunded)
			verify.VerifyTokenBalance(t, tt.accountID, tt.wantBalance)
		})
	}
}

func TestStorage_Shortlist(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	verify := NewTestVerification(storage)

	account, err := storage.CreditShortlist(ctx, "acc-shortlist", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, account.ShortlistBalance)
	assert.Nil(t, account.TokenExpiry)

	err = storage.DebitShortlist(ctx, "acc-shortlist", 1)
	require.NoError(t, err)
	verify.VerifyShortlistBalance(t, "acc-shortlist", 2)

	err = storage.DebitShortlist(ctx, "acc-shortlist", 5)
	require.ErrorIs(t, err, models.ErrInsufficientBalance)
	verify.VerifyShortlistBalance(t, "acc-shortlist", 2)
}

func TestStorage_SweepExpiredTokens(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	verify := NewTestVerification(storage)

	now := time.Now()
	factory.CreateAccount(t, "acc-expired-1", 40, ptrTime(now.AddDate(0, 0, -1)), 0)
	factory.CreateAccount(t, "acc-expired-2", 15, ptrTime(now.Add(-time.Hour)), 0)
	factory.CreateAccount(t, "acc-live", 20, ptrTime(now.AddDate(0, 0, 30)), 0)
	factory.CreateAccount(t, "acc-zero", 0, ptrTime(now.AddDate(0, 0, -1)), 0)

	swept, err := storage.SweepExpiredTokens(ctx, now)
	require.NoError(t, err)
	require.Len(t, swept, 2)

	byAccount := make(map[string]int)
	for _, item := range swept {
		byAccount[item.AccountID] = item.TokenBalance
	}
	assert.Equal(t, 40, byAccount["acc-expired-1"])
	assert.Equal(t, 15, byAccount["acc-expired-2"])

	verify.VerifyTokenBalance(t, "acc-expired-1", 0)
	verify.VerifyTokenBalance(t, "acc-expired-2", 0)
	verify.VerifyTokenBalance(t, "acc-live", 20)

	// Повторная очистка ничего не находит.
	swept, err = storage.SweepExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, swept)
}

func TestStorage_Subscriptions(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0)

	id, err := storage.CreateSubscription(ctx, models.Subscription{
		AccountID: "acc-sub",
		PlanID:    1,
		StartDate: start,
		EndDate:   end,
		Status:    models.SubscriptionActive,
	})
	require.NoError(t, err)

	sub, err := storage.GetActiveSubscription(ctx, "acc-sub")
	require.NoError(t, err)
	assert.Equal(t, id, sub.ID)
	assert.Nil(t, sub.LastDistribution)

	// Вторая активная подписка того же аккаунта запрещена индексом.
	_, err = storage.CreateSubscription(ctx, models.Subscription{
		AccountID: "acc-sub",
		PlanID:    2,
		StartDate: start,
		EndDate:   end,
		Status:    models.SubscriptionActive,
	})
	require.Error(t, err)

	claimed, err := storage.ClaimDistribution(ctx, id, nil, start)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Повторная заявка с тем же prev проигрывает.
	claimed, err = storage.ClaimDistribution(ctx, id, nil, start)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = storage.ClaimDistribution(ctx, id, &start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, claimed)

	expired, err := storage.MarkSubscriptionExpired(ctx, id)
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = storage.MarkSubscriptionExpired(ctx, id)
	require.NoError(t, err)
	assert.False(t, expired)

	_, err = storage.GetActiveSubscription(ctx, "acc-sub")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestStorage_QueuedSubscriptionLifecycle(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	activeStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	activeEnd := activeStart.AddDate(0, 2, 0)
	activeID, err := storage.CreateSubscription(ctx, models.Subscription{
		AccountID: "acc-renew",
		PlanID:    1,
		StartDate: activeStart,
		EndDate:   activeEnd,
		Status:    models.SubscriptionActive,
	})
	require.NoError(t, err)

	// Продление при активной подписке вставляется как queued и не
	// упирается в частичный уникальный индекс.
	queuedStart := activeEnd.AddDate(0, 0, 1)
	queuedID, err := storage.CreateSubscription(ctx, models.Subscription{
		AccountID: "acc-renew",
		PlanID:    2,
		StartDate: queuedStart,
		EndDate:   queuedStart.AddDate(0, 3, 0),
		Status:    models.SubscriptionQueued,
	})
	require.NoError(t, err)

	// Пока активная жива, активация проигрывает.
	activated, err := storage.ActivateSubscription(ctx, queuedID, queuedStart)
	require.NoError(t, err)
	assert.False(t, activated)

	expired, err := storage.MarkSubscriptionExpired(ctx, activeID)
	require.NoError(t, err)
	require.True(t, expired)

	// До даты начала активация всё ещё проигрывает.
	activated, err = storage.ActivateSubscription(ctx, queuedID, activeEnd)
	require.NoError(t, err)
	assert.False(t, activated)

	due, err := storage.ListDueQueuedSubscriptions(ctx, queuedStart)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, queuedID, due[0].ID)

	activated, err = storage.ActivateSubscription(ctx, queuedID, queuedStart)
	require.NoError(t, err)
	assert.True(t, activated)

	// Повторная активация ничего не меняет.
	activated, err = storage.ActivateSubscription(ctx, queuedID, queuedStart)
	require.NoError(t, err)
	assert.False(t, activated)

	sub, err := storage.GetActiveSubscription(ctx, "acc-renew")
	require.NoError(t, err)
	assert.Equal(t, queuedID, sub.ID)

	due, err = storage.ListDueQueuedSubscriptions(ctx, queuedStart)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestStorage_ClaimDistribution_ConcurrentSweeps(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := factory.CreateSubscription(t, "acc-claim", 1, start, start.AddDate(0, 6, 0),
		nil, models.SubscriptionActive)

	const sweeps = 8
	var wg sync.WaitGroup
	results := make(chan bool, sweeps)

	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := storage.ClaimDistribution(ctx, id, nil, start)
			require.NoError(t, err)
			results <- claimed
		}()
	}
	wg.Wait()
	close(results)

	var claimed int
	for ok := range results {
		if ok {
			claimed++
		}
	}
	assert.Equal(t, 1, claimed, "exactly one sweep should claim the distribution")
}

func TestStorage_ProfilesAndJobs(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	profileID, err := storage.CreateProfile(ctx, models.Profile{
		UID:       "550e8400-e29b-41d4-a716-446655440000",
		AccountID: "acc-agency",
		Kind:      models.ProfileAgency,
		Attrs:     map[string]string{"full_name": "Alice", "company_name": "Acme"},
	})
	require.NoError(t, err)

	profile, err := storage.GetProfile(ctx, profileID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", profile.Attrs["company_name"])

	err = storage.UpdateProfileAttr(ctx, profileID, "company_name", "Acme Pte Ltd")
	require.NoError(t, err)

	profile, err = storage.GetProfile(ctx, profileID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Pte Ltd", profile.Attrs["company_name"])
	assert.Equal(t, "Alice", profile.Attrs["full_name"])

	err = storage.UpdateProfileAttr(ctx, 99999, "full_name", "Bob")
	require.ErrorIs(t, err, models.ErrNotFound)

	profiles, err := storage.ListProfiles(ctx, "acc-agency")
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	factory := NewTestDataFactory(storage)
	jobID := factory.CreateJob(t, "acc-agency", profileID, "Warehouse assistant", models.JobStatusDraft)

	job, err := storage.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDraft, job.Status)

	published, err := storage.PublishJob(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, published)

	// Повторная публикация ничего не меняет.
	published, err = storage.PublishJob(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, published)

	err = storage.IncrementShortlistCount(ctx, jobID)
	require.NoError(t, err)

	job, err = storage.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPublished, job.Status)
	assert.Equal(t, 1, job.ShortlistCount)
}

func TestStorage_SubmitJobForReview(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	verify := NewTestVerification(storage)

	expiry := time.Now().AddDate(0, 0, 30)
	factory.CreateAccount(t, "acc-submit", 50, &expiry, 0)
	profileID := factory.CreateProfile(t, "acc-submit", models.ProfileAgency)

	jobID, actionID, err := storage.SubmitJobForReview(ctx, "acc-submit", 45, models.Job{
		AccountID: "acc-submit",
		ProfileID: profileID,
		Title:     "Cleaner",
		Industry:  "Hospitality",
		Schedule:  "Weekends",
		PayRate:   "12/hour",
		Scope:     "Cleaning rooms",
	})
	require.NoError(t, err)
	verify.VerifyTokenBalance(t, "acc-submit", 5)
	verify.VerifyActionStatus(t, actionID, models.ActionStatusPending)

	job, err := storage.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDraft, job.Status)

	action, err := storage.GetPendingAction(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionKindJobPost, action.Kind)
	require.NotNil(t, action.Payload.JobID)
	assert.Equal(t, jobID, *action.Payload.JobID)
	assert.Equal(t, 45, action.Payload.DebitedTokens)

	// Нехватка баланса откатывает всё: ни списания, ни вакансии,
	// ни действия.
	_, _, err = storage.SubmitJobForReview(ctx, "acc-submit", 45, models.Job{
		AccountID: "acc-submit",
		ProfileID: profileID,
		Title:     "Second job",
	})
	require.ErrorIs(t, err, models.ErrInsufficientBalance)
	verify.VerifyTokenBalance(t, "acc-submit", 5)

	var jobs, actions int
	require.NoError(t, storage.DB.QueryRow(
		"SELECT COUNT(*) FROM jobs WHERE account_id = $1", "acc-submit").Scan(&jobs))
	require.NoError(t, storage.DB.QueryRow(
		"SELECT COUNT(*) FROM pending_actions WHERE requester_id = $1", "acc-submit").Scan(&actions))
	assert.Equal(t, 1, jobs)
	assert.Equal(t, 1, actions)
}

func TestStorage_SubmitJobRepost(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()
	factory := NewTestDataFactory(storage)
	verify := NewTestVerification(storage)

	expiry := time.Now().AddDate(0, 0, 30)
	factory.CreateAccount(t, "acc-repost", 30, &expiry, 0)
	profileID := factory.CreateProfile(t, "acc-repost", models.ProfileAgency)
	jobID := factory.CreateJob(t, "acc-repost", profileID, "Cleaner", models.JobStatusPublished)

	actionID, err := storage.SubmitJobRepost(ctx, "acc-repost", 25, jobID)
	require.NoError(t, err)
	verify.VerifyTokenBalance(t, "acc-repost", 5)
	verify.VerifyActionStatus(t, actionID, models.ActionStatusPending)

	action, err := storage.GetPendingAction(ctx, actionID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionKindJobRepost, action.Kind)
	assert.Equal(t, 25, action.Payload.DebitedTokens)

	_, err = storage.SubmitJobRepost(ctx, "acc-repost", 25, jobID)
	require.ErrorIs(t, err, models.ErrInsufficientBalance)
	verify.VerifyTokenBalance(t, "acc-repost", 5)

	var actions int
	require.NoError(t, storage.DB.QueryRow(
		"SELECT COUNT(*) FROM pending_actions WHERE requester_id = $1", "acc-repost").Scan(&actions))
	assert.Equal(t, 1, actions)
}

func TestStorage_Reference(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()

	ctx := context.Background()

	packages, err := storage.ListPackages(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, packages)

	pkg, err := storage.GetPackage(ctx, packages[0].ID)
	require.NoError(t, err)
	assert.Equal(t, packages[0].Name, pkg.Name)
	assert.Positive(t, pkg.Tokens)

	plans, err := storage.ListPlans(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, plans)

	plan, err := storage.GetPlan(ctx, plans[0].ID)
	require.NoError(t, err)
	assert.Positive(t, plan.TokensPerMonth)

	_, err = storage.GetPackage(ctx, 99999)
	require.ErrorIs(t, err, models.ErrNotFound)

	_, err = storage.GetPlan(ctx, 99999)
	require.ErrorIs(t, err, models.ErrNotFound)
}
