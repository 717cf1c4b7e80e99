// Package orderid генерирует публичные идентификаторы заказов вида
// RB-YYYYMMDDHHMMSS-XXXX: человекочитаемые, сортируемые по времени создания.
package orderid

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// Prefix префикс всех идентификаторов заказов.
const Prefix = "RB-"

// New возвращает новый идентификатор заказа для момента now (UTC).
func New(now time.Time) string {
	suffix := make([]byte, 2)
	_, _ = rand.Read(suffix)
	return Prefix + now.UTC().Format("20060102150405") + "-" + strings.ToUpper(hex.EncodeToString(suffix))
}

// IsOrderID сообщает, похожа ли строка на идентификатор заказа.
// Используется админскими командами для различения tg_id и order_id.
func IsOrderID(s string) bool {
	return strings.HasPrefix(strings.ToUpper(s), Prefix)
}
