// Package metrics счётчики prometheus для жизненного цикла заказов.
// Отдаются стандартным promhttp-обработчиком на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrderTransitions количество переходов статусов по паре from/to.
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_transitions_total",
		Help: "Number of order status transitions.",
	}, []string{"from", "to", "trigger"})

	// PaymentWebhooks количество обработанных платёжных вебхуков по исходу.
	PaymentWebhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_payment_webhooks_total",
		Help: "Number of processed payment result webhooks.",
	}, []string{"outcome"})

	// ExpiredOrders количество заказов, закрытых по таймауту.
	ExpiredOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Number of orders expired by the timeout sweeper.",
	}, []string{"status"})

	// AdmissionRejections количество отказов в создании заказа по причине.
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_admission_rejections_total",
		Help: "Number of rejected order creation attempts.",
	}, []string{"reason"})
)
