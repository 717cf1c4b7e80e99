package models

import "time"

// OrderEvent запись журнала переходов. Пишется в той же транзакции, что и сам
// переход, никогда не изменяется; по журналу восстанавливается история заказа.
type OrderEvent struct {
	ID         string // UUID записи
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Trigger    TriggerKind
	Note       string
	CreatedAt  time.Time
}

// AdminAction запись о привилегированном действии оператора или администратора.
// Пишется всегда, даже если само действие не затронуло статус заказа.
type AdminAction struct {
	ID        string // UUID записи
	OrderID   string // Пустая строка для действий без заказа (block/unblock)
	AdminID   int64
	AdminName string
	Action    string
	Note      string
	CreatedAt time.Time
}
