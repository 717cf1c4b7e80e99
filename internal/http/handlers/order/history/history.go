// Package history реализует HTTP-обработчик чтения журнала событий заказа.
package history

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/khabusiness/rusbridge-orders/internal/http/response"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Handler обрабатывает запросы на чтение журнала событий заказа.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики чтения журнала.
type Service interface {
	History(ctx context.Context, orderID string) ([]*models.OrderEvent, error)
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Журнал событий заказа
// @Description Возвращает все переходы статусов заказа в хронологическом порядке.
// @Tags Orders
// @Produce  json
// @Param id path string true "Идентификатор заказа"
// @Success 200 {object} map[string]any "События заказа"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /orders/{id}/events [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.history"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	orderID := chi.URLParam(r, "id")

	res, err := h.service.History(r.Context(), orderID)
	if err != nil {
		log.Error("failed to read order events", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not read order events"))
		return
	}

	log.Info("success to read order events",
		slog.String("order_id", orderID), slog.Int("count", len(res)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"events": res,
	}))
}
