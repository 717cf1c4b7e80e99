// Package read реализует HTTP-обработчик для получения заказа по идентификатору.
//
// Handler извлекает идентификатор заказа из URL-параметров, вызывает
// бизнес-логику чтения заказа и возвращает данные заказа в JSON-формате.
package read

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/khabusiness/rusbridge-orders/internal/http/response"
	"github.com/khabusiness/rusbridge-orders/internal/lib/orderid"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Handler обрабатывает запросы на получение заказа по идентификатору.
type Handler struct {
	log     *slog.Logger // Логгер для записи информации и ошибок
	service Service      // Сервис бизнес-логики чтения заказа
}

// Service описывает интерфейс бизнес-логики чтения заказа.
type Service interface {
	GetStatus(ctx context.Context, orderID string) (*models.Order, error)
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Получить заказ
// @Description Возвращает заказ по его публичному идентификатору.
// @Tags Orders
// @Produce  json
// @Param id path string true "Идентификатор заказа"
// @Success 200 {object} map[string]any "Данные заказа"
// @Failure 400 {object} response.ErrorResponse "Некорректный идентификатор"
// @Failure 404 {object} response.ErrorResponse "Заказ не найден"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /orders/{id} [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.read"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	orderID := chi.URLParam(r, "id")
	if !orderid.IsOrderID(orderID) {
		log.Error("invalid order id in url", slog.String("order_id", orderID))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid order id"))
		return
	}

	res, err := h.service.GetStatus(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			log.Warn("order not found", slog.String("order_id", orderID))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("order not found"))
			return
		}
		log.Error("failed to read order", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read order"))
		return
	}

	log.Info("success to read order", slog.String("order_id", res.OrderID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"order": res,
	}))
}
