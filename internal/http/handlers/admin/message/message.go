// Package message реализует HTTP-обработчик отправки произвольного сообщения
// клиенту от имени оператора. Адресат задаётся идентификатором заказа
// либо tg_id пользователя.
package message

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/khabusiness/rusbridge-orders/internal/http/middlewarectx"
	"github.com/khabusiness/rusbridge-orders/internal/http/response"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Request тело запроса на отправку сообщения.
type Request struct {
	Target string `json:"target" validate:"required"` // Идентификатор заказа либо tg_id
	Text   string `json:"text" validate:"required"`
}

// Handler управляет HTTP-запросами отправки сообщений клиентам.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики отправки сообщений.
type Service interface {
	SendMessage(ctx context.Context, actorID int64, actorName, target, text string) error
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Отправить сообщение клиенту
// @Description Публикует произвольное сообщение клиенту. Адресат задаётся идентификатором заказа либо tg_id.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param request body Request true "Адресат и текст"
// @Security BearerAuth
// @Success 200 {object} response.Response "Сообщение отправлено"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или адресат"
// @Failure 401 {object} response.ErrorResponse "Оператор не авторизован"
// @Failure 404 {object} response.ErrorResponse "Заказ не найден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /admin/messages [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.message"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	actorID, ok := r.Context().Value(middlewarectx.AdminID).(int64)
	if !ok {
		log.Error("admin id not found in context")
		w.WriteHeader(http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}
	actorName, _ := r.Context().Value(middlewarectx.AdminName).(string)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	err := h.service.SendMessage(r.Context(), actorID, actorName, req.Target, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOrderNotFound):
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("order not found"))
		case errors.Is(err, models.ErrUnauthorized):
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error("operator is not allowed"))
		default:
			log.Error("failed to send message", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error("could not send message"))
		}
		return
	}

	log.Info("message sent", slog.String("target", req.Target))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"sent": true,
	}))
}
