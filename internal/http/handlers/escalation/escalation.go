// Package escalation реализует HTTP-обработчик вызова оператора без заказа.
//
// Handler проверяет блокировку и кулдаун пользователя через контроль допуска
// и публикует уведомление операторам.
package escalation

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
)

// Request тело запроса на вызов оператора.
type Request struct {
	TgID     int64  `json:"tg_id" validate:"required"`
	Username string `json:"username"`
	Text     string `json:"text"` // Свободный текст обращения
}

// Handler управляет HTTP-запросами на вызов оператора.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// Service описывает интерфейс бизнес-логики вызова оператора.
type Service interface {
	RequestEscalation(ctx context.Context, tgID int64, username, text string) error
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
// @Summary Вызвать оператора
// @Description Публикует обращение пользователя операторам. Повторный вызов до истечения кулдауна отклоняется.
// @Tags Escalations
// @Accept  json
// @Produce  json
// @Param request body Request true "Обращение пользователя"
// @Success 200 {object} response.Response "Обращение принято"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 403 {object} response.ErrorResponse "Пользователь заблокирован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 429 {object} response.ErrorResponse "Кулдаун ещё не истёк"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /escalations [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.escalation"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

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

	err := h.service.RequestEscalation(r.Context(), req.TgID, req.Username, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUserBlocked):
			log.Warn("blocked user tried to call operator", slog.Int64("tg_id", req.TgID))
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error("user is blocked"))
		case errors.Is(err, models.ErrCooldownActive):
			log.Warn("escalation cooldown is active", slog.Int64("tg_id", req.TgID))
			w.WriteHeader(http.StatusTooManyRequests)
			render.JSON(w, r, response.Error("operator was called recently, try again later"))
		default:
			log.Error("failed to request escalation", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not call operator"))
		}
		return
	}

	log.Info("escalation accepted", slog.Int64("tg_id", req.TgID))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"accepted": true,
	}))
}
