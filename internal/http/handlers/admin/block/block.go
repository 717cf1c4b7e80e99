// Package block реализует HTTP-обработчики блокировки и разблокировки
// пользователя оператором. Блокировка запрещает создание заказов
// и вызов оператора, открытые заказы при этом не трогаются.
package block

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/khabusiness/rusbridge-orders/internal/http/middlewarectx"
	"github.com/khabusiness/rusbridge-orders/internal/http/response"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Request тело запроса на блокировку.
type Request struct {
	Reason string `json:"reason"` // Причина блокировки для журнала
}

// Handler управляет HTTP-запросами блокировки пользователей.
type Handler struct {
	log     *slog.Logger
	service Service
}

// Service описывает интерфейс бизнес-логики блокировки.
type Service interface {
	SetBlocked(ctx context.Context, actorID int64, actorName string, tgID int64, blocked bool, reason string) error
}

// New создает новый Handler с переданными логгером и сервисом.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// Block godoc
// @Summary Заблокировать пользователя
// @Description Запрещает пользователю создавать заказы и вызывать оператора.
// @Tags Admin
// @Accept  json
// @Produce  json
// @Param tg_id path int true "Идентификатор пользователя"
// @Param request body Request false "Причина блокировки"
// @Security BearerAuth
// @Success 200 {object} response.Response "Пользователь заблокирован"
// @Failure 400 {object} response.ErrorResponse "Некорректный tg_id"
// @Failure 401 {object} response.ErrorResponse "Оператор не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /admin/users/{tg_id}/block [post]
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true, "handlers.admin.block")
}

// Unblock godoc
// @Summary Разблокировать пользователя
// @Description Снимает блокировку с пользователя.
// @Tags Admin
// @Produce  json
// @Param tg_id path int true "Идентификатор пользователя"
// @Security BearerAuth
// @Success 200 {object} response.Response "Пользователь разблокирован"
// @Failure 400 {object} response.ErrorResponse "Некорректный tg_id"
// @Failure 401 {object} response.ErrorResponse "Оператор не авторизован"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /admin/users/{tg_id}/block [delete]
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false, "handlers.admin.unblock")
}

func (h *Handler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool, op string) {
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

	tgID, err := strconv.ParseInt(chi.URLParam(r, "tg_id"), 10, 64)
	if err != nil {
		log.Error("failed to decode tg_id from url", sl.Err(err))
		w.WriteHeader(http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid tg_id"))
		return
	}

	var req Request
	if blocked && r.Body != nil {
		// Причина опциональна, пустое тело не ошибка.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.service.SetBlocked(r.Context(), actorID, actorName, tgID, blocked, req.Reason); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			w.WriteHeader(http.StatusForbidden)
			render.JSON(w, r, response.Error("operator is not allowed"))
			return
		}
		log.Error("failed to change block state", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not change block state"))
		return
	}

	log.Info("block state changed",
		slog.Int64("tg_id", tgID), slog.Bool("blocked", blocked))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"tg_id":   tgID,
		"blocked": blocked,
	}))
}
