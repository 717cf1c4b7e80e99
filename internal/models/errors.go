package models

import "errors"

// Ошибки допуска к созданию заказа и вызова оператора.
var (
	ErrUserBlocked        = errors.New("user is blocked")
	ErrOpenOrderExists    = errors.New("user already has an open order")
	ErrDailyLimitExceeded = errors.New("daily order limit exceeded")
	ErrCooldownActive     = errors.New("operator request cooldown is active")
)

// Ошибки переходов состояния заказа.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleOrder        = errors.New("order status changed concurrently")
	ErrUnauthorized      = errors.New("actor is not allowed to perform this action")
)

// Ошибки валидации ссылки на сервис.
var (
	ErrBadServiceLink   = errors.New("service link is malformed")
	ErrDisallowedDomain = errors.New("service link domain is not allowed")
)

// Ошибки обработки платёжного подтверждения.
var (
	ErrSignatureInvalid = errors.New("payment signature mismatch")
	ErrAmountMismatch   = errors.New("payment amount mismatch")
	ErrOrderNotFound    = errors.New("order not found")
)

// ErrProductNotFound продукт отсутствует в каталоге либо скрыт.
var ErrProductNotFound = errors.New("product not found")
