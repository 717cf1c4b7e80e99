// Package action реализует HTTP-обработчик действий пользователя над заказом:
// отмена, подтверждение получения, жалоба и передача ссылки на сервис.
//
// Handler проверяет, что действие выполняет владелец заказа, и транслирует
// доменные ошибки переходов в соответствующие HTTP-статусы.
package action

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

	"github.com/khabusiness/rusbridge-orders/internal/http/response"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Handler управляет HTTP-запросами действий пользователя над заказом.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис бизнес-логики заказов
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики действий над заказом.
type Service interface {
	ApplyUserAction(ctx context.Context, orderID string, req models.DummyUserAction) (*models.Order, error)
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
// @Summary Действие пользователя над заказом
// @Description Применяет действие пользователя к заказу: cancel, confirm, report_issue или service_link.
// @Tags Orders
// @Accept  json
// @Produce  json
// @Param id path string true "Идентификатор заказа"
// @Param request body models.DummyUserAction true "Действие и его параметры"
// @Success 200 {object} map[string]any "Заказ после применения действия"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON или ссылка"
// @Failure 403 {object} response.ErrorResponse "Заказ принадлежит другому пользователю"
// @Failure 404 {object} response.ErrorResponse "Заказ не найден"
// @Failure 409 {object} response.ErrorResponse "Статус заказа изменился параллельно"
// @Failure 422 {object} response.ErrorResponse "Действие недопустимо в текущем статусе"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /orders/{id}/actions [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.action"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	orderID := chi.URLParam(r, "id")

	var req models.DummyUserAction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	log.Info("request body decoded",
		slog.String("order_id", orderID), slog.String("action", req.Action))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	res, err := h.service.ApplyUserAction(r.Context(), orderID, req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrOrderNotFound):
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("order not found"))
		case errors.Is(err, models.ErrUnauthorized):
			log.Warn("order belongs to another user", slog.String("order_id", orderID))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error("order belongs to another user"))
		case errors.Is(err, models.ErrBadServiceLink), errors.Is(err, models.ErrDisallowedDomain):
			log.Warn("service link rejected", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(err.Error()))
		case errors.Is(err, models.ErrInvalidTransition):
			log.Warn("action is not allowed in current status", sl.Err(err))
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error("action is not allowed in current order status"))
		case errors.Is(err, models.ErrStaleOrder):
			log.Warn("order changed concurrently", slog.String("order_id", orderID))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("order status changed, retry"))
		default:
			log.Error("failed to apply user action", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not apply action"))
		}
		return
	}

	log.Info("success to apply user action",
		slog.String("order_id", orderID),
		slog.String("action", req.Action),
		slog.String("status", string(res.Status)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"order": res,
	}))
}
