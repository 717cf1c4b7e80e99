// Package linkcheck проверяет присланную клиентом ссылку на сервис:
// форма URL, запрет сокращателей и допустимые домены продукта.
package linkcheck

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// blockedShortDomains сокращатели ссылок, которые не принимаются,
// так как скрывают конечный домен.
var blockedShortDomains = map[string]bool{
	"bit.ly":      true,
	"t.co":        true,
	"tinyurl.com": true,
	"goo.gl":      true,
	"vk.cc":       true,
}

// Validate проверяет raw и возвращает нормализованный URL.
// allowedDomains — allowlist доменов продукта; пустой список означает
// любой домен, прошедший остальные проверки. Домен принимается при точном
// совпадении либо если host является его поддоменом.
func Validate(raw string, allowedDomains []string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", fmt.Errorf("%w: empty input", models.ErrBadServiceLink)
	}
	if strings.Contains(candidate, " ") {
		return "", fmt.Errorf("%w: expected a single url", models.ErrBadServiceLink)
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrBadServiceLink, err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return "", fmt.Errorf("%w: scheme must be https", models.ErrBadServiceLink)
	}

	host := strings.Trim(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return "", fmt.Errorf("%w: missing host", models.ErrBadServiceLink)
	}
	if blockedShortDomains[host] {
		return "", fmt.Errorf("%w: url shorteners are not accepted", models.ErrBadServiceLink)
	}

	normalized := "https://" + host + parsed.Path
	if parsed.RawQuery != "" {
		normalized += "?" + parsed.RawQuery
	}

	if len(allowedDomains) > 0 && !domainAllowed(host, allowedDomains) {
		return "", fmt.Errorf("%w: expected one of %s", models.ErrDisallowedDomain, strings.Join(allowedDomains, ", "))
	}
	return normalized, nil
}

func domainAllowed(host string, allowed []string) bool {
	for _, domain := range allowed {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
