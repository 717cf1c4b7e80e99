package models

import "time"

// User представляет пользователя чат-платформы. Запись создаётся при первом
// контакте и никогда не удаляется; блокировка и суточный счётчик заказов
// живут прямо на записи пользователя.
type User struct {
	TgID         int64  // Идентификатор в чат-платформе, первичный ключ
	Username     string // Последнее известное имя пользователя
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	SourceKey    string // Последний источник перехода
	Blocked      bool   // Флаг блокировки, выставляется администратором
	BlockReason  string
	BlockedBy    *int64     // Администратор, установивший блокировку
	DailyCount   int        // Счётчик заказов за текущие сутки UTC
	DailyCountAt *time.Time // День (UTC, обрезан до суток), к которому относится счётчик
}
