package models

import "time"

// Subscription производная запись об активированной услуге. Создаётся, когда
// заказ доходит до CLIENT_CONFIRMED, и читается планировщиком напоминаний.
type Subscription struct {
	ID          int64
	TgID        int64
	ProductCode string
	StartDate   time.Time
	EndDate     time.Time
	LastOrderID string // Заказ, которым подписка была активирована или продлена
	Remind3Sent bool   // Напоминание за 3 дня уже отправлено
	Remind0Sent bool   // Напоминание в день окончания уже отправлено
}
