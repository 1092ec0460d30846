package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment    Environment
	Log            Log
	HTTP           HTTPServer
	BaseURL        string `env:"BASE_URL"`
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"mysql"`
	DatabaseURL    string `env:"DATABASE_URL"`

	Gateway   Gateway   `envPrefix:"GATEWAY_"`
	SendGrid  SendGrid  `envPrefix:"SENDGRID_"`
	Chat      Chat      `envPrefix:"CHAT_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Outbox    Outbox    `envPrefix:"OUTBOX_"`
	Admin     Admin     `envPrefix:"ADMIN_"`
	Reconcile Reconcile `envPrefix:"RECONCILE_"`
}

// Gateway holds the invoice provider credentials. It is read once at startup
// and handed to the gateway client.
type Gateway struct {
	BaseApiURL       string        `env:"BASE_API_URL" envDefault:"https://api.xendit.co"`
	ApiKey           string        `env:"API_KEY"`
	CallbackToken    string        `env:"CALLBACK_TOKEN"`
	Timeout          time.Duration `env:"TIMEOUT" envDefault:"15s"`
	Currency         string        `env:"CURRENCY" envDefault:"IDR"`
	CurrencyExponent int32         `env:"CURRENCY_EXPONENT" envDefault:"0"`
	InvoiceDuration  time.Duration `env:"INVOICE_DURATION" envDefault:"24h"`
	SuccessURL       string        `env:"SUCCESS_URL"`
	FailureURL       string        `env:"FAILURE_URL"`
}

type SendGrid struct {
	ApiKey     string `env:"API_KEY"`
	FromEmail  string `env:"FROM_EMAIL"`
	FromName   string `env:"FROM_NAME" envDefault:"Orders"`
	AdminEmail string `env:"ADMIN_EMAIL"`
}

type Chat struct {
	BaseApiURL    string `env:"BASE_API_URL" envDefault:"https://graph.facebook.com/v19.0"`
	AccessToken   string `env:"ACCESS_TOKEN"`
	PhoneNumberID string `env:"PHONE_NUMBER_ID"`
}

type Redis struct {
	Address  string        `env:"ADDRESS"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	LockTTL  time.Duration `env:"LOCK_TTL" envDefault:"30s"`
}

type Outbox struct {
	BatchSize   int           `env:"BATCH_SIZE" envDefault:"50"`
	Interval    time.Duration `env:"INTERVAL" envDefault:"5s"`
	LockTTL     time.Duration `env:"LOCK_TTL" envDefault:"1m"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"8"`
	BaseBackoff time.Duration `env:"BASE_BACKOFF" envDefault:"10s"`
	MaxBackoff  time.Duration `env:"MAX_BACKOFF" envDefault:"30m"`
}

type Admin struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type Reconcile struct {
	MaxConflictRetries int `env:"MAX_CONFLICT_RETRIES" envDefault:"5"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

// Load reads an optional .env file into the environment and parses Config
// from it. A missing .env file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
