package models

import "time"

// OrderUpdate необязательные поля, записываемые вместе с переходом статуса.
// nil означает "оставить как есть"; хранилище применяет обновление только
// в той же атомарной операции, что и смену статуса.
type OrderUpdate struct {
	ServiceLink   *string
	ServiceLinkAt *time.Time
	OperatorID    *int64
	OperatorName  *string
	ClaimedAt     *time.Time
	PaidAt        *time.Time
	DoneAt        *time.Time
	ConfirmedAt   *time.Time
	ErrorCode     *string
	ErrorText     *string
	PaymentOutSum *string
}

// Ptr вспомогательная функция для заполнения OrderUpdate литералами.
func Ptr[T any](v T) *T { return &v }
