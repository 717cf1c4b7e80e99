// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек сервиса заказов.
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	ProductsFile            string `yaml:"products_file" env-default:"./data/products.json"`
	RabbitURL               string `yaml:"rabbit_url" env:"RABBIT_URL"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	Robokassa               `yaml:"robokassa"`
	Limits                  `yaml:"limits"`
	Admin                   `yaml:"admin"`
}

// HTTPServer структура для настройки сервера.
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:"0.0.0.0:8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis.
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// Robokassa настройки платёжного провайдера: реквизиты подписи,
// адреса возврата и тестовый режим со стабовыми ссылками.
type Robokassa struct {
	MerchantLogin  string `yaml:"merchant_login" env:"ROBOKASSA_MERCHANT_LOGIN"`
	Password1      string `yaml:"password1" env:"ROBOKASSA_PASSWORD1"`
	Password2      string `yaml:"password2" env:"ROBOKASSA_PASSWORD2"`
	HashAlgo       string `yaml:"hash_algo" env-default:"md5"`
	IsTest         bool   `yaml:"is_test"`
	PaymentStub    bool   `yaml:"payment_stub"` // Стабовые ссылки вместо реального провайдера
	SuccessURL     string `yaml:"success_url"`
	FailURL        string `yaml:"fail_url"`
	StubSuccessURL string `yaml:"stub_success_url"`
	StubFailURL    string `yaml:"stub_fail_url"`
}

// Limits пороговые значения допуска и таймауты жизненного цикла заказа.
type Limits struct {
	DailyOrderLimit        int           `yaml:"daily_order_limit" env-default:"5"`
	BypassTgIDs            []int64       `yaml:"bypass_tg_ids"` // Тестовые аккаунты без суточного лимита
	WaitPayTimeout         time.Duration `yaml:"wait_pay_timeout" env-default:"60m"`
	WaitServiceLinkTimeout time.Duration `yaml:"wait_service_link_timeout" env-default:"12h"`
	SweepInterval          time.Duration `yaml:"sweep_interval" env-default:"10m"`
	ReminderInterval       time.Duration `yaml:"reminder_interval" env-default:"6h"`
	OperatorCooldown       time.Duration `yaml:"operator_cooldown" env-default:"10m"`
	TransitionRetries      int           `yaml:"transition_retries" env-default:"3"`
}

// Admin настройки привилегированного доступа и отладочной выгрузки.
type Admin struct {
	JWTSecretKey  string        `yaml:"jwt_secret_key" env:"ADMIN_JWT_SECRET"`
	TokenTTL      time.Duration `yaml:"token_ttl" env-default:"24h"`
	AdminIDs      []int64       `yaml:"admin_ids"`
	DebugSnapshot bool          `yaml:"debug_snapshot"` // Разрешает GET /admin/debug/snapshot
}

// MustLoad функция для загрузки конфига; путь берётся из CONFIG_PATH.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

// IsBypass сообщает, освобождён ли пользователь от суточного лимита заказов.
func (l Limits) IsBypass(tgID int64) bool {
	for _, id := range l.BypassTgIDs {
		if id == tgID {
			return true
		}
	}
	return false
}

// IsAdmin сообщает, входит ли идентификатор в список операторов/администраторов.
func (a Admin) IsAdmin(tgID int64) bool {
	for _, id := range a.AdminIDs {
		if id == tgID {
			return true
		}
	}
	return false
}
