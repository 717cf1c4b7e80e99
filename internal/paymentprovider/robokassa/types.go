package robokassa

// PaymentLink результат построения платёжной ссылки.
type PaymentLink struct {
	PayURL       string `json:"pay_url"`
	SuccessURL   string `json:"success_url"`
	FailURL      string `json:"fail_url"`
	InvID        int64  `json:"inv_id"`
	OutSum       string `json:"out_sum"`       // Сумма в формате провайдера, например "2500.00"
	ProviderMode string `json:"provider_mode"` // "robokassa" либо "stub"
}

// ResultEvent распакованный result-вебхук провайдера.
type ResultEvent struct {
	InvID          int64             // Номер счёта
	OutSum         string            // Заявленная сумма
	SignatureValue string            // Присланная подпись
	Params         map[string]string // Все поля формы, включая Shp_*
}
