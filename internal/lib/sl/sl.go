// Package sl содержит вспомогательные функции для работы с логгером slog.
package sl

import "log/slog"

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to apply transition", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Order возвращает slog.Attr с ключом "order_id" для единообразной привязки
// записей лога к заказу.
func Order(orderID string) slog.Attr {
	return slog.Attr{
		Key:   "order_id",
		Value: slog.StringValue(orderID),
	}
}
