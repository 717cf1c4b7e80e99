// Package result реализует HTTP-обработчик result-вебхука платёжного провайдера.
//
// Провайдер присылает форму с номером счёта, суммой и подписью. Handler
// собирает из формы событие, передаёт его сервису подтверждения оплаты
// и отвечает провайдеру строкой OK{InvId}, как того требует протокол.
// Повторная доставка того же вебхука также получает OK без побочных эффектов.
package result

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"

	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
	"github.com/khabusiness/rusbridge-orders/internal/paymentprovider/robokassa"
	"github.com/khabusiness/rusbridge-orders/internal/services/confirmation"
)

// Handler обрабатывает result-вебхуки платёжного провайдера.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс подтверждения оплаты.
type Service interface {
	Apply(ctx context.Context, event robokassa.ResultEvent) (*confirmation.Result, error)
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Result-вебхук платёжного провайдера
// @Description Принимает подтверждение оплаты от Robokassa. При успехе и при идемпотентном повторе отвечает строкой OK{InvId}.
// @Tags Payments
// @Accept  x-www-form-urlencoded
// @Produce  plain
// @Param InvId formData int true "Номер счёта"
// @Param OutSum formData string true "Сумма платежа"
// @Param SignatureValue formData string true "Подпись провайдера"
// @Success 200 {string} string "OK{InvId}"
// @Failure 400 {string} string "Некорректная форма или несовпадение суммы"
// @Failure 401 {string} string "Подпись не прошла проверку"
// @Failure 404 {string} string "Заказ не найден"
// @Failure 409 {string} string "Заказ не ожидает оплату"
// @Router /payment/robokassa/result [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.result"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	if err := r.ParseForm(); err != nil {
		log.Error("failed to parse webhook form", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	invID, err := strconv.ParseInt(r.PostForm.Get("InvId"), 10, 64)
	if err != nil {
		log.Error("invalid InvId in webhook form", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	params := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		params[key] = r.PostForm.Get(key)
	}

	event := robokassa.ResultEvent{
		InvID:          invID,
		OutSum:         r.PostForm.Get("OutSum"),
		SignatureValue: r.PostForm.Get("SignatureValue"),
		Params:         params,
	}

	res, err := h.service.Apply(r.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSignatureInvalid):
			log.Warn("webhook signature mismatch", slog.Int64("inv_id", invID))
			w.WriteHeader(http.StatusUnauthorized)
		case errors.Is(err, models.ErrOrderNotFound):
			log.Warn("webhook for unknown order", slog.Int64("inv_id", invID))
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, models.ErrAmountMismatch):
			log.Warn("webhook amount mismatch", slog.Int64("inv_id", invID))
			w.WriteHeader(http.StatusBadRequest)
		case errors.Is(err, models.ErrStaleOrder):
			log.Warn("webhook for order not awaiting payment", slog.Int64("inv_id", invID))
			w.WriteHeader(http.StatusConflict)
		default:
			log.Error("failed to process payment webhook", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	log.Info("payment webhook processed",
		slog.String("order_id", res.OrderID),
		slog.Int64("inv_id", res.InvID),
		slog.Bool("applied", res.Applied))

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "OK%d", res.InvID)
}
