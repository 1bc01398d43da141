package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brandonlmk/jobs-marketplace/internal/http-server/handlers/events"
	"github.com/brandonlmk/jobs-marketplace/internal/http-server/response"
	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

type DispatcherMock struct{ mock.Mock }

func (m *DispatcherMock) Dispatch(ctx context.Context, event models.InboundEvent) error {
	return m.Called(ctx, event).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func performRequest(t *testing.T, handler *events.Handler, body []byte) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp response.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec, resp
}

func TestHandler_Success(t *testing.T) {
	dispatcher := new(DispatcherMock)
	handler := events.New(newNoopLogger(), dispatcher)

	event := models.InboundEvent{Type: models.EventMessage, SessionID: "sess-1", Text: "Alice"}
	dispatcher.On("Dispatch", mock.Anything, event).Return(nil)

	body, err := json.Marshal(event)
	require.NoError(t, err)

	rec, resp := performRequest(t, handler, body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, response.StatusOK, resp.Status)
	dispatcher.AssertExpectations(t)
}

func TestHandler_InvalidJSON(t *testing.T) {
	dispatcher := new(DispatcherMock)
	handler := events.New(newNoopLogger(), dispatcher)

	rec, resp := performRequest(t, handler, []byte("{not json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.StatusError, resp.Status)
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestHandler_MissingType(t *testing.T) {
	dispatcher := new(DispatcherMock)
	handler := events.New(newNoopLogger(), dispatcher)

	rec, resp := performRequest(t, handler, []byte(`{"session_id":"sess-1"}`))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, resp.Error, "Type")
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestHandler_DispatchError(t *testing.T) {
	dispatcher := new(DispatcherMock)
	handler := events.New(newNoopLogger(), dispatcher)

	dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("db down"))

	rec, resp := performRequest(t, handler, []byte(`{"type":"cancel","session_id":"sess-1"}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, response.StatusError, resp.Status)
}
