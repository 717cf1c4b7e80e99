// Package snapshot реализует отладочный HTTP-обработчик выгрузки всех
// открытых заказов. Доступен только при включённом в конфигурации флаге.
package snapshot

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/khabusiness/rusbridge-orders/internal/http/response"
	"github.com/khabusiness/rusbridge-orders/internal/lib/sl"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Handler обрабатывает запросы на выгрузку открытых заказов.
type Handler struct {
	log     *slog.Logger
	service Service
	enabled bool // Выгрузка выключена в продакшене
}

// Service описывает интерфейс бизнес-логики выгрузки заказов.
type Service interface {
	Snapshot(ctx context.Context) ([]*models.Order, error)
}

// New создает новый Handler. Если enabled = false, обработчик отвечает 404.
func New(log *slog.Logger, service Service, enabled bool) *Handler {
	return &Handler{
		log:     log,
		service: service,
		enabled: enabled,
	}
}

// ServeHTTP godoc
// @Summary Снимок открытых заказов
// @Description Возвращает все нетерминальные заказы. Работает только при включённом отладочном флаге.
// @Tags Admin
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} map[string]any "Открытые заказы"
// @Failure 404 {object} response.ErrorResponse "Выгрузка отключена"
// @Failure 500 {object} response.ErrorResponse "Ошибка сервера"
// @Router /admin/debug/snapshot [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.admin.snapshot"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	if !h.enabled {
		w.WriteHeader(http.StatusNotFound)
		render.JSON(w, r, response.Error("not found"))
		return
	}

	res, err := h.service.Snapshot(r.Context())
	if err != nil {
		log.Error("failed to snapshot active orders", sl.Err(err))
		w.WriteHeader(http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not snapshot orders"))
		return
	}

	log.Info("snapshot served", slog.Int("count", len(res)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"orders": res,
	}))
}
