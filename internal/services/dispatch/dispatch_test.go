package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brandonlmk/jobs-marketplace/internal/lib/decision"
	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

type IntakeMock struct{ mock.Mock }

func (m *IntakeMock) Start(ctx context.Context, sessionID, dialog string) error {
	return m.Called(ctx, sessionID, dialog).Error(0)
}
func (m *IntakeMock) Advance(ctx context.Context, sessionID, text string) error {
	return m.Called(ctx, sessionID, text).Error(0)
}
func (m *IntakeMock) Cancel(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}
func (m *IntakeMock) SubmitEvidence(ctx context.Context, sessionID, evidenceRef string) error {
	return m.Called(ctx, sessionID, evidenceRef).Error(0)
}

type ApprovalMock struct{ mock.Mock }

func (m *ApprovalMock) Decide(ctx context.Context, actionID int64, verdict string) error {
	return m.Called(ctx, actionID, verdict).Error(0)
}

type LedgerMock struct{ mock.Mock }

func (m *LedgerMock) DebitShortlist(ctx context.Context, accountID string, amount int) error {
	return m.Called(ctx, accountID, amount).Error(0)
}

type JobsMock struct{ mock.Mock }

func (m *JobsMock) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}
func (m *JobsMock) IncrementShortlistCount(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) Notify(notification models.Notification) error {
	return m.Called(notification).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

type mocks struct {
	intake   *IntakeMock
	approval *ApprovalMock
	ledger   *LedgerMock
	jobs     *JobsMock
	notifier *NotifierMock
}

func newTestService() (*Service, mocks) {
	m := mocks{
		intake:   new(IntakeMock),
		approval: new(ApprovalMock),
		ledger:   new(LedgerMock),
		jobs:     new(JobsMock),
		notifier: new(NotifierMock),
	}
	service := New(m.intake, m.approval, m.ledger, m.jobs, m.notifier,
		decision.NewMaker("test-secret"), newNoopLogger())
	return service, m
}

func TestService_Dispatch_RoutesIntakeEvents(t *testing.T) {
	tests := []struct {
		name   string
		event  models.InboundEvent
		setup  func(m mocks)
		verify func(t *testing.T, m mocks)
	}{
		{
			name:  "start",
			event: models.InboundEvent{Type: models.EventStart, SessionID: "sess-1", Dialog: "registration"},
			setup: func(m mocks) {
				m.intake.On("Start", mock.Anything, "sess-1", "registration").Return(nil)
			},
			verify: func(t *testing.T, m mocks) { m.intake.AssertExpectations(t) },
		},
		{
			name:  "cancel",
			event: models.InboundEvent{Type: models.EventCancel, SessionID: "sess-1"},
			setup: func(m mocks) {
				m.intake.On("Cancel", mock.Anything, "sess-1").Return(nil)
			},
			verify: func(t *testing.T, m mocks) { m.intake.AssertExpectations(t) },
		},
		{
			name:  "message",
			event: models.InboundEvent{Type: models.EventMessage, SessionID: "sess-1", Text: "Alice"},
			setup: func(m mocks) {
				m.intake.On("Advance", mock.Anything, "sess-1", "Alice").Return(nil)
			},
			verify: func(t *testing.T, m mocks) { m.intake.AssertExpectations(t) },
		},
		{
			name:  "choice",
			event: models.InboundEvent{Type: models.EventChoice, SessionID: "sess-1", ChoiceID: "applicant"},
			setup: func(m mocks) {
				m.intake.On("Advance", mock.Anything, "sess-1", "applicant").Return(nil)
			},
			verify: func(t *testing.T, m mocks) { m.intake.AssertExpectations(t) },
		},
		{
			name:  "evidence",
			event: models.InboundEvent{Type: models.EventEvidence, SessionID: "sess-1", EvidenceRef: "file-abc"},
			setup: func(m mocks) {
				m.intake.On("SubmitEvidence", mock.Anything, "sess-1", "file-abc").Return(nil)
			},
			verify: func(t *testing.T, m mocks) { m.intake.AssertExpectations(t) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, m := newTestService()
			tt.setup(m)

			err := service.Dispatch(context.Background(), tt.event)
			require.NoError(t, err)
			tt.verify(t, m)
		})
	}
}

func TestService_Dispatch_DomainRejectionIsConsumed(t *testing.T) {
	// Отказ домена не должен возвращать событие в очередь.
	tests := []struct {
		name string
		err  error
	}{
		{name: "conflict", err: models.ErrConflict},
		{name: "validation", err: models.NewValidationError("dob", "bad format")},
		{name: "insufficient balance", err: models.ErrInsufficientBalance},
		{name: "stale turn", err: models.ErrStaleTurn},
		{name: "not found", err: models.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, m := newTestService()
			m.intake.On("Advance", mock.Anything, "sess-1", "x").Return(tt.err)

			err := service.Dispatch(context.Background(),
				models.InboundEvent{Type: models.EventMessage, SessionID: "sess-1", Text: "x"})
			assert.NoError(t, err)
		})
	}
}

func TestService_Dispatch_InfrastructureErrorPropagates(t *testing.T) {
	service, m := newTestService()
	m.intake.On("Advance", mock.Anything, "sess-1", "x").Return(errors.New("db down"))

	err := service.Dispatch(context.Background(),
		models.InboundEvent{Type: models.EventMessage, SessionID: "sess-1", Text: "x"})
	assert.Error(t, err)
}

func TestService_Dispatch_Decision(t *testing.T) {
	service, m := newTestService()

	token, err := decision.NewMaker("test-secret").Sign(42, decision.VerdictAccept)
	require.NoError(t, err)

	m.approval.On("Decide", mock.Anything, int64(42), decision.VerdictAccept).Return(nil)

	err = service.Dispatch(context.Background(), models.InboundEvent{
		Type:          models.EventDecision,
		SessionID:     "reviewer-1",
		DecisionToken: token,
	})
	require.NoError(t, err)
	m.approval.AssertExpectations(t)
}

func TestService_Dispatch_DecisionInvalidToken(t *testing.T) {
	service, m := newTestService()

	m.notifier.On("Notify", mock.MatchedBy(func(n models.Notification) bool {
		return n.AccountID == "reviewer-1"
	})).Return(nil).Once()

	err := service.Dispatch(context.Background(), models.InboundEvent{
		Type:          models.EventDecision,
		SessionID:     "reviewer-1",
		DecisionToken: "garbage",
	})
	assert.NoError(t, err)
	m.approval.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything, mock.Anything)
	m.notifier.AssertExpectations(t)
}

func TestService_Dispatch_DecisionUnknownAction(t *testing.T) {
	service, m := newTestService()

	token, err := decision.NewMaker("test-secret").Sign(404, decision.VerdictReject)
	require.NoError(t, err)

	m.approval.On("Decide", mock.Anything, int64(404), decision.VerdictReject).
		Return(models.ErrNotFound)
	m.notifier.On("Notify", mock.Anything).Return(nil).Once()

	err = service.Dispatch(context.Background(), models.InboundEvent{
		Type:          models.EventDecision,
		SessionID:     "reviewer-1",
		DecisionToken: token,
	})
	assert.NoError(t, err)
	m.notifier.AssertExpectations(t)
}

func TestService_Dispatch_Shortlist(t *testing.T) {
	service, m := newTestService()

	m.jobs.On("GetJob", mock.Anything, int64(3)).
		Return(&models.Job{ID: 3, AccountID: "acc-agency", Title: "Cleaner"}, nil)
	m.ledger.On("DebitShortlist", mock.Anything, "sess-1", 1).Return(nil)
	m.jobs.On("IncrementShortlistCount", mock.Anything, int64(3)).Return(nil)
	m.notifier.On("Notify", mock.MatchedBy(func(n models.Notification) bool {
		return n.AccountID == "sess-1"
	})).Return(nil).Once()
	m.notifier.On("Notify", mock.MatchedBy(func(n models.Notification) bool {
		return n.AccountID == "acc-agency"
	})).Return(nil).Once()

	err := service.Dispatch(context.Background(), models.InboundEvent{
		Type:         models.EventShortlist,
		SessionID:    "sess-1",
		JobID:        3,
		ApplicantRef: "applicant-7",
	})
	require.NoError(t, err)
	m.jobs.AssertExpectations(t)
	m.notifier.AssertExpectations(t)
}

func TestService_Dispatch_ShortlistNoCredits(t *testing.T) {
	service, m := newTestService()

	m.jobs.On("GetJob", mock.Anything, int64(3)).
		Return(&models.Job{ID: 3, AccountID: "acc-agency", Title: "Cleaner"}, nil)
	m.ledger.On("DebitShortlist", mock.Anything, "sess-1", 1).
		Return(models.ErrInsufficientBalance)
	m.notifier.On("Notify", mock.Anything).Return(nil).Once()

	err := service.Dispatch(context.Background(), models.InboundEvent{
		Type:      models.EventShortlist,
		SessionID: "sess-1",
		JobID:     3,
	})
	assert.NoError(t, err)
	m.jobs.AssertNotCalled(t, "IncrementShortlistCount", mock.Anything, mock.Anything)
}

func TestService_Dispatch_UnknownEventType(t *testing.T) {
	service, _ := newTestService()

	err := service.Dispatch(context.Background(), models.InboundEvent{Type: "telepathy"})
	assert.Error(t, err)
}
