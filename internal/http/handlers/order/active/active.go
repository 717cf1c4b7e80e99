// Package active реализует HTTP-обработчик поиска открытого заказа пользователя.
//
// Handler извлекает tg_id из URL-параметров и возвращает единственный
// нетерминальный заказ пользователя, если такой есть.
package active

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/khabusiness/rusbridge-orders/internal/http/response"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Handler обрабатывает запросы на поиск открытого заказа пользователя.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики поиска открытого заказа.
type Service interface {
	GetActiveForUser(ctx context.Context, tgID int64) (*models.Order, error)
}

// New создает новый Handler с переданным логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Открытый заказ пользователя
// @Description Возвращает нетерминальный заказ пользователя. У пользователя может быть не больше одного открытого заказа.
// @Tags Orders
// @Produce  json
// @Param tg_id path int true "Идентификатор пользователя в чат-платформе"
// @Success 200 {object} map[string]any "Открытый заказ"
// @Failure 400 {object} response.ErrorResponse "Некорректный tg_id"
// @Failure 404 {object} response.ErrorResponse "Открытого заказа нет"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /users/{tg_id}/orders/active [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.active"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	tgID, err := strconv.ParseInt(chi.URLParam(r, "tg_id"), 10, 64)
	if err != nil {
		log.Error("failed to decode tg_id from url", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid tg_id"))
		return
	}

	res, err := h.service.GetActiveForUser(r.Context(), tgID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("no active order"))
			return
		}
		log.Error("failed to find active order", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not find active order"))
		return
	}

	log.Info("success to find active order",
		slog.Int64("tg_id", tgID), slog.String("order_id", res.OrderID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"order": res,
	}))
}
