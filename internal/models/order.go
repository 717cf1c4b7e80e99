// Package models содержит доменные структуры заказа, пользователя, подписки
// и журнальных записей, а также вспомогательные типы для приёма данных
// из внешних источников (JSON-запросы транспорта бота).
package models

import "time"

// OrderStatus статус заказа в жизненном цикле.
type OrderStatus string

// Статусы заказа. Порядок соответствует нормальному пути заказа,
// последние четыре — терминальные.
const (
	StatusNew               OrderStatus = "NEW"
	StatusWaitPay           OrderStatus = "WAIT_PAY"
	StatusPaid              OrderStatus = "PAID"
	StatusWaitServiceLink   OrderStatus = "WAIT_SERVICE_LINK"
	StatusReadyForOperator  OrderStatus = "READY_FOR_OPERATOR"
	StatusInProgress        OrderStatus = "IN_PROGRESS"
	StatusDone              OrderStatus = "DONE"
	StatusWaitClientConfirm OrderStatus = "WAIT_CLIENT_CONFIRM"
	StatusClientConfirmed   OrderStatus = "CLIENT_CONFIRMED"
	StatusError             OrderStatus = "ERROR"
	StatusExpired           OrderStatus = "EXPIRED"
	StatusCancelled         OrderStatus = "CANCELLED"
)

// ActiveStatuses нетерминальные статусы: у пользователя может быть
// не более одного заказа в любом из них.
var ActiveStatuses = []OrderStatus{
	StatusNew, StatusWaitPay, StatusPaid, StatusWaitServiceLink,
	StatusReadyForOperator, StatusInProgress, StatusDone, StatusWaitClientConfirm,
}

// TriggerKind источник, инициировавший переход заказа.
type TriggerKind string

// Источники переходов для журнала событий.
const (
	TriggerUser    TriggerKind = "user"
	TriggerWebhook TriggerKind = "webhook"
	TriggerTimeout TriggerKind = "timeout"
	TriggerAdmin   TriggerKind = "admin"
	TriggerSystem  TriggerKind = "system"
)

// Order основная модель заказа. Заказ никогда не удаляется,
// только переводится в терминальный статус.
type Order struct {
	OrderID         string      // Публичный идентификатор вида RB-20240101120000-AB12
	PaymentInvID    int64       // Номер счёта для платёжного провайдера
	TgID            int64       // Идентификатор пользователя в чат-платформе
	Username        string      // Имя пользователя на момент создания
	SourceKey       string      // Источник перехода (оффер, renew и т.п.)
	ProductCode     string      // Код продукта из каталога
	ProductName     string      // Название продукта на момент создания
	PriceRub        int         // Цена в рублях
	Status          OrderStatus // Текущий статус
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusChangedAt time.Time  // Момент входа в текущий статус, опорная точка для таймаутов
	PaidAt          *time.Time // Момент подтверждения оплаты
	ServiceLink     string     // Ссылка на сервис, присланная клиентом
	ServiceLinkAt   *time.Time
	OperatorID      *int64 // Оператор, взявший заказ; nil пока не взят
	OperatorName    string
	ClaimedAt       *time.Time
	DoneAt          *time.Time
	ConfirmedAt     *time.Time
	ErrorCode       string // Код причины для ERROR/EXPIRED/принудительного закрытия
	ErrorText       string
	PaymentOutSum   string // Сумма из платёжного провайдера, строкой как пришла
}

// IsTerminal сообщает, завершён ли заказ.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusClientConfirmed, StatusError, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// DummyOrder используется для приёма запроса на создание заказа из JSON.
type DummyOrder struct {
	TgID        int64  `json:"tg_id" validate:"required"`            // Идентификатор пользователя
	Username    string `json:"username"`                             // Имя пользователя (опционально)
	SourceKey   string `json:"source_key"`                           // Источник перехода
	ProductCode string `json:"product_code" validate:"required"`     // Код продукта
	AmountRub   int    `json:"amount_rub" validate:"omitempty,gt=0"` // Своя сумма для продуктов с плавающей ценой
}

// UserAction действие пользователя над собственным заказом.
type UserAction string

// Поддерживаемые действия пользователя.
const (
	ActionCancel      UserAction = "cancel"
	ActionConfirm     UserAction = "confirm"
	ActionReportIssue UserAction = "report_issue"
	ActionServiceLink UserAction = "service_link"
)

// DummyUserAction используется для приёма действия пользователя из JSON.
type DummyUserAction struct {
	TgID   int64  `json:"tg_id" validate:"required"`
	Action string `json:"action" validate:"required,oneof=cancel confirm report_issue service_link"`
	Link   string `json:"link"` // Только для action=service_link
}
