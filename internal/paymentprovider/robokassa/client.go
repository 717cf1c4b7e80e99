// Package robokassa строит платёжные ссылки и проверяет подписи result-вебхука
// платёжного провайдера Robokassa. Пакет не имеет состояния и не трогает заказы:
// применением подтверждений занимается сервис confirmation.
package robokassa

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/khabusiness/rusbridge-orders/internal/config"
)

const payBaseURL = "https://auth.robokassa.ru/Merchant/Index.aspx"

// Client строит ссылки и проверяет подписи по реквизитам из конфига.
type Client struct {
	cfg config.Robokassa
}

// New создаёт клиента. Допустимые алгоритмы подписи: md5, sha1, sha256, sha512.
func New(cfg config.Robokassa) (*Client, error) {
	switch strings.ToLower(cfg.HashAlgo) {
	case "md5", "sha1", "sha256", "sha512":
	default:
		return nil, fmt.Errorf("robokassa: unsupported hash algorithm %q", cfg.HashAlgo)
	}
	return &Client{cfg: cfg}, nil
}

// FormatOutSum приводит цену в рублях к формату суммы провайдера ("2500.00").
func FormatOutSum(priceRub int) string {
	return fmt.Sprintf("%d.00", priceRub)
}

func (c *Client) digest(payload string) string {
	data := []byte(payload)
	switch strings.ToLower(c.cfg.HashAlgo) {
	case "md5":
		sum := md5.Sum(data) //nolint:gosec // алгоритм задаёт провайдер
		return hex.EncodeToString(sum[:])
	case "sha1":
		sum := sha1.Sum(data) //nolint:gosec // алгоритм задаёт провайдер
		return hex.EncodeToString(sum[:])
	case "sha256":
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha512.Sum512(data)
		return hex.EncodeToString(sum[:])
	}
}

// sortedShp возвращает пары Shp_* в виде "ключ=значение", отсортированные
// без учёта регистра ключа, как того требует формат подписи провайдера.
func sortedShp(shp map[string]string) []string {
	keys := make([]string, 0, len(shp))
	for key := range shp {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+shp[key])
	}
	return parts
}

// BuildPaymentLink строит платёжную ссылку для заказа. В стаб-режиме возвращает
// настроенный success-URL вместо обращения к провайдеру.
func (c *Client) BuildPaymentLink(orderID string, invID int64, priceRub int, description string) PaymentLink {
	outSum := FormatOutSum(priceRub)
	if c.cfg.PaymentStub {
		return PaymentLink{
			PayURL:       c.cfg.StubSuccessURL,
			SuccessURL:   c.cfg.StubSuccessURL,
			FailURL:      c.cfg.StubFailURL,
			InvID:        invID,
			OutSum:       outSum,
			ProviderMode: "stub",
		}
	}

	shp := map[string]string{"Shp_order_id": orderID}
	parts := []string{c.cfg.MerchantLogin, outSum, strconv.FormatInt(invID, 10), c.cfg.Password1}
	parts = append(parts, sortedShp(shp)...)
	signature := c.digest(strings.Join(parts, ":"))

	query := url.Values{}
	query.Set("MerchantLogin", c.cfg.MerchantLogin)
	query.Set("OutSum", outSum)
	query.Set("InvId", strconv.FormatInt(invID, 10))
	query.Set("Description", description)
	query.Set("SignatureValue", signature)
	query.Set("Culture", "ru")
	query.Set("Shp_order_id", orderID)
	if c.cfg.IsTest {
		query.Set("IsTest", "1")
	}

	return PaymentLink{
		PayURL:       payBaseURL + "?" + query.Encode(),
		SuccessURL:   c.cfg.SuccessURL,
		FailURL:      c.cfg.FailURL,
		InvID:        invID,
		OutSum:       outSum,
		ProviderMode: "robokassa",
	}
}

// VerifyResultSignature пересчитывает подпись result-вебхука по полям запроса
// и сверяет с присланной. База подписи: OutSum:InvId:Password2[:Shp_*...].
func (c *Client) VerifyResultSignature(params map[string]string) bool {
	outSum := strings.TrimSpace(params["OutSum"])
	invID := strings.TrimSpace(params["InvId"])
	provided := strings.ToLower(strings.TrimSpace(params["SignatureValue"]))

	shp := make(map[string]string)
	for key, value := range params {
		if strings.HasPrefix(key, "Shp_") {
			shp[key] = value
		}
	}

	parts := []string{outSum, invID, c.cfg.Password2}
	parts = append(parts, sortedShp(shp)...)
	expected := strings.ToLower(c.digest(strings.Join(parts, ":")))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
