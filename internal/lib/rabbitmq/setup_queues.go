package rabbitmq

// NotificationExchange единый exchange уведомлений для чат-бота.
const NotificationExchange = "notifications"

// Ключи маршрутизации уведомлений.
const (
	RoutingOrderEvent    = "order_event"    // смена статуса заказа, доставляется клиенту
	RoutingOperatorAlert = "operator_alert" // новый заказ или вызов оператора, в чат операторов
	RoutingReminder      = "reminder"       // напоминание об окончании подписки
)

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

func GetNotificationQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "bot.order_events", RoutingKey: RoutingOrderEvent},
		{QueueName: "bot.operator_alerts", RoutingKey: RoutingOperatorAlert},
		{QueueName: "bot.reminders", RoutingKey: RoutingReminder},
	}
}
