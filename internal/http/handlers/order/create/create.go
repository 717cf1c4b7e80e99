// Package create реализует HTTP-обработчик создания заказа.
//
// Handler принимает JSON-запрос с данными заказа, валидирует их, пропускает
// через контроль допуска и бизнес-логику создания заказа и возвращает заказ
// вместе с платёжной ссылкой. Если у пользователя уже есть неоплаченный заказ,
// возвращается он же с перевыпущенной ссылкой.
//
// В случае ошибок формируются соответствующие HTTP-ответы с описанием проблемы.
package create

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/khabusiness/rusbridge-orders/internal/http/response"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
	orderservice "github.com/khabusiness/rusbridge-orders/internal/services/order"
)

// Handler управляет HTTP-запросами на создание заказов.
type Handler struct {
	log      *slog.Logger        // Логгер для записи информации и ошибок
	service  Service             // Сервис бизнес-логики создания заказов
	validate *validator.Validate // Валидатор структуры входящих данных
}

// Service описывает интерфейс бизнес-логики создания заказа.
type Service interface {
	Create(ctx context.Context, req models.DummyOrder) (*orderservice.OrderWithPayment, error)
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
// @Summary Создать заказ
// @Description Создает новый заказ и возвращает платёжную ссылку. Если у пользователя уже есть открытый неоплаченный заказ, возвращает его с перевыпущенной ссылкой.
// @Tags Orders
// @Accept  json
// @Produce  json
// @Param request body models.DummyOrder true "Данные нового заказа"
// @Success 200 {object} map[string]any "Заказ и платёжная ссылка"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 403 {object} response.ErrorResponse "Пользователь заблокирован"
// @Failure 404 {object} response.ErrorResponse "Продукт не найден"
// @Failure 409 {object} response.ErrorResponse "Активный заказ изменился параллельно"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 429 {object} response.ErrorResponse "Превышен дневной лимит заказов"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера при создании заказа"
// @Router /orders [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.order.create"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req models.DummyOrder
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	log.Info("request body decoded", slog.Any("request", req))

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		w.WriteHeader(http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	res, err := h.service.Create(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUserBlocked):
			log.Warn("blocked user tried to create order", slog.Int64("tg_id", req.TgID))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error("user is blocked"))
		case errors.Is(err, models.ErrDailyLimitExceeded):
			log.Warn("daily order limit exceeded", slog.Int64("tg_id", req.TgID))
			w.WriteHeader(http.StatusTooManyRequests)
			render.JSON(w, r, response.Error("daily order limit exceeded"))
		case errors.Is(err, models.ErrProductNotFound):
			log.Error("unknown product", slog.String("product_code", req.ProductCode))
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error("product not found"))
		case errors.Is(err, models.ErrOpenOrderExists):
			log.Warn("active order changed concurrently", slog.Int64("tg_id", req.TgID))
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error("you already have an active order, retry"))
		default:
			log.Error("failed to create order", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not create order"))
		}
		return
	}

	log.Info("success to create order",
		slog.String("order_id", res.Order.OrderID),
		slog.Bool("resumed", res.Resumed))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"order":   res.Order,
		"payment": res.Payment,
		"resumed": res.Resumed,
	}))
}
