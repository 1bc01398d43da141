// Package events реализует HTTP-обработчик вебхука входящих событий.
//
// Handler принимает JSON-событие от транспорта, валидирует его и передаёт
// диспетчеру ядра. Отказ домена уже объяснён пользователю сообщением,
// поэтому вебхук отвечает 200 — транспорт не должен повторять доставку.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/brandonlmk/jobs-marketplace/internal/http-server/response"
	"github.com/brandonlmk/jobs-marketplace/internal/lib/sl"
	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// Handler управляет HTTP-запросами с входящими событиями.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс диспетчера входящих событий.
type Service interface {
	Dispatch(ctx context.Context, event models.InboundEvent) error
}

// New создает новый Handler с переданными логгером и диспетчером.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.events"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var event models.InboundEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(event); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	if err := h.service.Dispatch(r.Context(), event); err != nil {
		log.Error("failed to dispatch event", sl.Err(err),
			slog.String("type", event.Type),
			slog.String("session_id", event.SessionID))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not process event"))
		return
	}

	log.Info("event dispatched", slog.String("type", event.Type))
	render.JSON(w, r, response.OK())
}
