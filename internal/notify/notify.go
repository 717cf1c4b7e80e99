// Package notify отправка уведомлений чат-боту через RabbitMQ. Бот читает
// очереди и доставляет сообщения пользователям и в чат операторов.
package notify

import (
	"time"

	"github.com/streadway/amqp"

	"github.com/khabusiness/rusbridge-orders/internal/lib/rabbitmq"
	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// OrderEventMessage уведомление клиенту о смене статуса его заказа.
type OrderEventMessage struct {
	TgID      int64              `json:"tg_id"`
	OrderID   string             `json:"order_id"`
	Status    models.OrderStatus `json:"status"`
	Note      string             `json:"note,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// OperatorAlertMessage уведомление в чат операторов: новый заказ,
// присланная ссылка или явный вызов оператора.
type OperatorAlertMessage struct {
	Kind      string    `json:"kind"` // new_order, link_received, escalation, issue_reported
	TgID      int64     `json:"tg_id"`
	Username  string    `json:"username,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DirectMessage произвольное сообщение пользователю от оператора.
type DirectMessage struct {
	TgID      int64     `json:"tg_id"`
	Text      string    `json:"text"`
	OrderID   string    `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ReminderMessage напоминание об окончании подписки.
type ReminderMessage struct {
	TgID        int64     `json:"tg_id"`
	ProductCode string    `json:"product_code"`
	EndDate     time.Time `json:"end_date"`
	DaysLeft    int       `json:"days_left"`
}

// AMQPNotifier публикует сообщения в exchange уведомлений.
type AMQPNotifier struct {
	ch *amqp.Channel
}

func NewAMQPNotifier(ch *amqp.Channel) *AMQPNotifier {
	return &AMQPNotifier{ch: ch}
}

func (n *AMQPNotifier) Publish(routingKey string, message any) error {
	return rabbitmq.PublishMessage(n.ch, rabbitmq.NotificationExchange, routingKey, message)
}
