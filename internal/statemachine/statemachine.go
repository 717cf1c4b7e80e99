// Package statemachine задаёт таблицу допустимых переходов статуса заказа.
// Это единственное место, где решается, какой переход разрешён; хранилище
// и сервисы обязаны проверять переход здесь перед любой записью статуса.
package statemachine

import (
	"fmt"

	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// allowed таблица переходов: из статуса — в какие статусы можно перейти.
// Терминальные статусы не имеют исходящих рёбер.
var allowed = map[models.OrderStatus][]models.OrderStatus{
	models.StatusNew: {
		models.StatusWaitPay, models.StatusCancelled, models.StatusExpired, models.StatusError,
	},
	models.StatusWaitPay: {
		models.StatusPaid, models.StatusCancelled, models.StatusExpired, models.StatusError,
	},
	models.StatusPaid: {
		models.StatusWaitServiceLink, models.StatusCancelled, models.StatusError,
	},
	models.StatusWaitServiceLink: {
		models.StatusReadyForOperator, models.StatusExpired, models.StatusCancelled, models.StatusError,
	},
	models.StatusReadyForOperator: {
		models.StatusInProgress, models.StatusError, models.StatusCancelled,
	},
	models.StatusInProgress: {
		models.StatusDone, models.StatusError, models.StatusCancelled,
	},
	models.StatusDone: {
		models.StatusWaitClientConfirm, models.StatusClientConfirmed, models.StatusError, models.StatusCancelled,
	},
	models.StatusWaitClientConfirm: {
		models.StatusClientConfirmed, models.StatusReadyForOperator, models.StatusError, models.StatusCancelled,
	},
	models.StatusClientConfirmed: {},
	models.StatusError:           {},
	models.StatusExpired:         {},
	models.StatusCancelled:       {},
}

// Ensure проверяет, допустим ли переход current -> target.
// Возвращает models.ErrInvalidTransition с деталями, если перехода нет в таблице.
func Ensure(current, target models.OrderStatus) error {
	for _, next := range allowed[current] {
		if next == target {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, target)
}

// CanForceClose сообщает, можно ли принудительно закрыть заказ из статуса current.
// Принудительное закрытие обходит обычные ограничения таблицы, но терминальный
// заказ закрыть повторно нельзя.
func CanForceClose(current, target models.OrderStatus) bool {
	if current.IsTerminal() {
		return false
	}
	return target == models.StatusCancelled || target == models.StatusError
}
