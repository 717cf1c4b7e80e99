// Package orderservice предоставляет маршруты и сборку основного приложения.
package orderservice

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/admin/block"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/admin/message"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/admin/orderaction"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/admin/snapshot"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/escalation"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/health"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/order/action"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/order/active"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/order/create"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/order/history"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/order/read"
	"github.com/khabusiness/rusbridge-orders/internal/http/handlers/payment/result"
	"github.com/khabusiness/rusbridge-orders/internal/http/middlewarectx"
	"github.com/khabusiness/rusbridge-orders/internal/lib/jwt"
	"github.com/khabusiness/rusbridge-orders/internal/services/adminops"
	confirmservice "github.com/khabusiness/rusbridge-orders/internal/services/confirmation"
	ordersvc "github.com/khabusiness/rusbridge-orders/internal/services/order"
)

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger,
	orderService *ordersvc.Service,
	confirmationService *confirmservice.Service,
	adminService *adminops.Service,
	jwtMaker jwt.Maker,
	debugSnapshot bool) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Конечные точки бота: аутентификация на уровне бота, не пользователя
		r.Post("/orders", create.New(logger, orderService).ServeHTTP)
		r.Get("/orders/{id}", read.New(logger, orderService).ServeHTTP)
		r.Get("/orders/{id}/events", history.New(logger, orderService).ServeHTTP)
		r.Post("/orders/{id}/actions", action.New(logger, orderService).ServeHTTP)
		r.Get("/users/{tg_id}/orders/active", active.New(logger, orderService).ServeHTTP)
		r.Post("/escalations", escalation.New(logger, orderService).ServeHTTP)

		// Группа операторов с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(jwtMaker, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger))
			r.Post("/admin/orders/{id}/actions", orderaction.New(logger, adminService).ServeHTTP)
			blockHandler := block.New(logger, adminService)
			r.Post("/admin/users/{tg_id}/block", blockHandler.Block)
			r.Delete("/admin/users/{tg_id}/block", blockHandler.Unblock)
			r.Post("/admin/messages", message.New(logger, adminService).ServeHTTP)
			r.Get("/admin/debug/snapshot", snapshot.New(logger, orderService, debugSnapshot).ServeHTTP)
		})

		// Result-вебхук платёжного провайдера (без аутентификации, защищён подписью)
		r.Post("/payment/robokassa/result", result.New(logger, confirmationService).ServeHTTP)
	})

	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
	r.Get("/health", health.New(logger).ServeHTTP)
}
