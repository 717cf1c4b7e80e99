// Package orderaction реализует HTTP-обработчик действий оператора над заказом:
// взять в работу, отметить выполненным, зафиксировать ошибку, принудительно
// закрыть или отправить клиенту шаблонную инструкцию.
//
// Идентификатор и имя оператора берутся из контекста, куда их кладёт
// JWT middleware админской группы маршрутов.
package orderaction

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/khabusiness/rusbridge-orders/internal/http/middlewarectx"
	"github.com/khabusiness/rusbridge-orders/internal/http/response"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Request тело запроса действия оператора.
type Request struct {
	Action string `json:"action" validate:"required,oneof=claim progress done error force_close template"`
	Text   string `json:"text"` // Причина закрытия либо текст ошибки
}

// Handler управляет HTTP-запросами действий оператора над заказом.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики операторских действий.
type Service interface {
	ApplyOrderAction(ctx context.Context, actorID int64, actorName, orderID, action, payload string) (*models.Order, error)
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
// @Summary Действие оператора над заказом
// @Description Применяет действие оператора к заказу: claim, progress, done, error, force_close или template.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param id path string true "Идентификатор заказа"
// @Param request body Request true "Действие и его параметры"
// @Security BearerAuth
// @Success 200 {object} map[string]any "Заказ после применения действия"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Оператор не авторизован"
// @Failure 403 {object} response.ErrorResponse "Действие недоступно этому оператору"
// @Failure 404 {object} response.ErrorResponse "Заказ не найден"
// @Failure 409 {object} response.ErrorResponse "Заказ изменился параллельно"
// @Failure 422 {object} response.ErrorResponse "Действие недопустимо в текущем статусе"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /admin/orders/{id}/actions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.orderaction"
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

	orderID := chi.URLParam(r, "id")

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

	res, err := h.service.ApplyOrderAction(r.Context(), actorID, actorName, orderID, req.Action, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOrderNotFound):
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("order not found"))
		case errors.Is(err, models.ErrUnauthorized):
			log.Warn("action rejected for this operator",
				slog.Int64("actor_id", actorID), slog.String("action", req.Action))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error("action is not allowed for this operator"))
		case errors.Is(err, models.ErrInvalidTransition):
			log.Warn("action is not allowed in current status", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("action is not allowed in current order status"))
		case errors.Is(err, models.ErrStaleOrder):
			log.Warn("order changed concurrently", slog.String("order_id", orderID))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("order status changed, retry"))
		default:
			log.Error("failed to apply admin action", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not apply action"))
		}
		return
	}

	log.Info("success to apply admin action",
		slog.Int64("actor_id", actorID),
		slog.String("order_id", orderID),
		slog.String("action", req.Action),
		slog.String("status", string(res.Status)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"order": res,
	}))
}
