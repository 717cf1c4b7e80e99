// Package catalog загружает каталог продуктов из JSON-файла. Каталог —
// внешний источник данных: ядро только читает его, схема продукта
// соответствует файлу data/products.json.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/khabusiness/rusbridge-orders/internal/models"
)

// Product описывает продукт каталога.
type Product struct {
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	Provider       string   `json:"provider"`
	PriceRub       int      `json:"price_rub"`
	DisplayPrice   string   `json:"display_price,omitempty"` // Отображаемая цена, например "от 10 USD"
	VariablePrice  bool     `json:"variable_price,omitempty"`
	DurationDays   int      `json:"duration_days"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	Instruction    string   `json:"instruction_template,omitempty"`
	Hidden         bool     `json:"hidden,omitempty"`
}

// Catalog хранит продукты по коду. После загрузки не изменяется.
type Catalog struct {
	products map[string]Product
}

// Load читает каталог из файла path.
func Load(path string) (*Catalog, error) {
	const op = "catalog.Load"

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var items []Product
	if err := json.Unmarshal(content, &items); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	products := make(map[string]Product, len(items))
	for _, item := range items {
		products[item.Code] = item
	}
	return &Catalog{products: products}, nil
}

// FromProducts собирает каталог из готового списка. Используется в тестах.
func FromProducts(items []Product) *Catalog {
	products := make(map[string]Product, len(items))
	for _, item := range items {
		products[item.Code] = item
	}
	return &Catalog{products: products}
}

// Get возвращает продукт по коду. Скрытые продукты доступны: скрытие
// влияет только на витрину, а не на уже выданные ссылки.
func (c *Catalog) Get(code string) (Product, error) {
	product, ok := c.products[code]
	if !ok {
		return Product{}, models.ErrProductNotFound
	}
	return product, nil
}

// Len возвращает количество продуктов в каталоге.
func (c *Catalog) Len() int {
	return len(c.products)
}
