// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"astro-bot/internal/models"
)

type Telegram struct {
	Token string `validate:"required"`
	Debug bool
}

type DB struct {
	Driver       string `validate:"oneof=postgres memory"`
	Host         string `validate:"required_if=Driver postgres"`
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int `validate:"gte=1"`
	MaxIdleConns int `validate:"gte=0"`
	ConnLifetime time.Duration
}

// DSN builds a libpq-style connection string.
func (d DB) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode, d.MaxOpenConns,
	)
}

type Stripe struct {
	SecretKey  string `validate:"required"`
	WebhookKey string `validate:"required"`
	PriceID    string `validate:"required"`
	// Prices overrides PriceID per product kind.
	Prices     map[string]string
	SuccessURL string
	CancelURL  string
}

// PriceFor returns the Stripe price id for kind.
func (s Stripe) PriceFor(kind models.ProductKind) string {
	if p, ok := s.Prices[string(kind)]; ok && p != "" {
		return p
	}
	return s.PriceID
}

type GPT struct {
	APIKey      string `validate:"required"`
	Model       string `validate:"required"`
	MaxTokens   int    `validate:"gt=0"`
	Temperature float32
	Retries     int `validate:"gte=0"`
}

type S3 struct {
	Bucket          string `validate:"required"`
	Region          string `validate:"required"`
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	Prefix          string
}

// PDF needs a UTF-8 TTF font: reports are Cyrillic.
type PDF struct {
	FontPath     string `validate:"required,file"`
	FontBoldPath string `validate:"omitempty,file"`
	BotLink      string
}

type Queue struct {
	Driver    string `validate:"oneof=memory amqp"`
	Workers   int    `validate:"gte=1"`
	Buffer    int    `validate:"gte=1"`
	AMQPURL   string `validate:"required_if=Driver amqp"`
	QueueName string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type Delivery struct {
	GenerateTimeout time.Duration `validate:"gt=0"`
	RenderTimeout   time.Duration `validate:"gt=0"`
	UploadTimeout   time.Duration `validate:"gt=0"`
	SendTimeout     time.Duration `validate:"gt=0"`
	LockWait        time.Duration
}

type Server struct {
	Port string `validate:"required"`
}

type Log struct {
	Development bool
}

type Config struct {
	Telegram        Telegram
	DB              DB
	Stripe          Stripe
	GPT             GPT
	S3              S3
	PDF             PDF
	Queue           Queue
	Redis           Redis
	Delivery        Delivery
	Server          Server
	Log             Log
	ShutdownTimeout time.Duration
}

var defaults = map[string]any{
	"ShutdownTimeout":          10 * time.Second,
	"DB.Driver":                "postgres",
	"DB.Port":                  "5432",
	"DB.SSLMode":               "disable",
	"DB.MaxOpenConns":          20,
	"DB.MaxIdleConns":          10,
	"DB.ConnLifetime":          5 * time.Minute,
	"GPT.Model":                "gpt-4-turbo",
	"GPT.MaxTokens":            2500,
	"GPT.Temperature":          0.9,
	"GPT.Retries":              1,
	"S3.Region":                "us-east-1",
	"S3.Prefix":                "reports",
	"PDF.FontPath":             "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"PDF.BotLink":              "https://t.me/CosmoAstrologyBot",
	"Queue.Driver":             "memory",
	"Queue.Workers":            3,
	"Queue.Buffer":             100,
	"Queue.QueueName":          "report_delivery",
	"Redis.LockTTL":            5 * time.Minute,
	"Delivery.GenerateTimeout": 2 * time.Minute,
	"Delivery.RenderTimeout":   30 * time.Second,
	"Delivery.UploadTimeout":   30 * time.Second,
	"Delivery.SendTimeout":     30 * time.Second,
	"Delivery.LockWait":        5 * time.Minute,
	"Server.Port":              "8080",
}

// Load loads the configuration from config.{yaml,json} or, when no file is
// found, from the environment. The result is validated.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AddConfigPath("$HOME/.astro-bot")

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	var cfg *Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		cfg = FromEnv()
	} else {
		// Process any ${ENV_VAR} syntax in the config values
		for _, key := range v.AllKeys() {
			value := v.GetString(key)
			if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
				envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
				if envValue := os.Getenv(envVar); envValue != "" {
					v.Set(key, envValue)
				}
			}
		}

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("error unmarshaling config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a config from environment variables only.
func FromEnv() *Config {
	cfg := &Config{}

	cfg.Telegram.Token = os.Getenv("TELEGRAM_TOKEN")
	cfg.Telegram.Debug = getEnvBool("TELEGRAM_DEBUG", false)

	cfg.DB.Driver = getEnvOr("DB_DRIVER", defaults["DB.Driver"].(string))
	cfg.DB.Host = getEnvOr("DB_HOST", "localhost")
	cfg.DB.Port = getEnvOr("DB_PORT", defaults["DB.Port"].(string))
	cfg.DB.User = getEnvOr("DB_USER", "postgres")
	cfg.DB.Password = getEnvOr("DB_PASSWORD", "postgres")
	cfg.DB.DBName = getEnvOr("DB_NAME", "astro_bot")
	cfg.DB.SSLMode = getEnvOr("DB_SSL_MODE", defaults["DB.SSLMode"].(string))
	cfg.DB.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", defaults["DB.MaxOpenConns"].(int))
	cfg.DB.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", defaults["DB.MaxIdleConns"].(int))
	cfg.DB.ConnLifetime = getEnvDuration("DB_CONN_LIFETIME", defaults["DB.ConnLifetime"].(time.Duration))

	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookKey = getEnvOr("STRIPE_WEBHOOK_KEY", os.Getenv("STRIPE_WEBHOOK_SECRET"))
	cfg.Stripe.PriceID = os.Getenv("STRIPE_PRICE_ID")
	cfg.Stripe.SuccessURL = os.Getenv("STRIPE_SUCCESS_URL")
	cfg.Stripe.CancelURL = os.Getenv("STRIPE_CANCEL_URL")
	cfg.Stripe.Prices = make(map[string]string)
	for _, p := range models.Products() {
		if id := os.Getenv("STRIPE_PRICE_" + strings.ToUpper(string(p.Kind))); id != "" {
			cfg.Stripe.Prices[string(p.Kind)] = id
		}
	}

	cfg.GPT.APIKey = getEnvOr("GPT_API_KEY", os.Getenv("OPENAI_API_KEY"))
	cfg.GPT.Model = getEnvOr("GPT_MODEL", defaults["GPT.Model"].(string))
	cfg.GPT.MaxTokens = getEnvInt("GPT_MAX_TOKENS", defaults["GPT.MaxTokens"].(int))
	cfg.GPT.Temperature = float32(getEnvFloat("GPT_TEMPERATURE", defaults["GPT.Temperature"].(float64)))
	cfg.GPT.Retries = getEnvInt("GPT_RETRIES", defaults["GPT.Retries"].(int))

	cfg.S3.Bucket = os.Getenv("S3_BUCKET")
	cfg.S3.Region = getEnvOr("S3_REGION", defaults["S3.Region"].(string))
	cfg.S3.EndpointURL = os.Getenv("S3_ENDPOINT_URL")
	cfg.S3.AccessKeyID = os.Getenv("S3_ACCESS_KEY_ID")
	cfg.S3.SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")
	cfg.S3.PublicBaseURL = os.Getenv("S3_PUBLIC_BASE_URL")
	cfg.S3.Prefix = getEnvOr("S3_PREFIX", defaults["S3.Prefix"].(string))

	cfg.PDF.FontPath = getEnvOr("PDF_FONT_PATH", defaults["PDF.FontPath"].(string))
	cfg.PDF.FontBoldPath = os.Getenv("PDF_FONT_BOLD_PATH")
	cfg.PDF.BotLink = getEnvOr("PDF_BOT_LINK", defaults["PDF.BotLink"].(string))

	cfg.Queue.Driver = getEnvOr("QUEUE_DRIVER", defaults["Queue.Driver"].(string))
	cfg.Queue.Workers = getEnvInt("QUEUE_WORKERS", defaults["Queue.Workers"].(int))
	cfg.Queue.Buffer = getEnvInt("QUEUE_BUFFER", defaults["Queue.Buffer"].(int))
	cfg.Queue.AMQPURL = os.Getenv("AMQP_URL")
	cfg.Queue.QueueName = getEnvOr("QUEUE_NAME", defaults["Queue.QueueName"].(string))

	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.LockTTL = getEnvDuration("REDIS_LOCK_TTL", defaults["Redis.LockTTL"].(time.Duration))

	cfg.Delivery.GenerateTimeout = getEnvDuration("DELIVERY_GENERATE_TIMEOUT", defaults["Delivery.GenerateTimeout"].(time.Duration))
	cfg.Delivery.RenderTimeout = getEnvDuration("DELIVERY_RENDER_TIMEOUT", defaults["Delivery.RenderTimeout"].(time.Duration))
	cfg.Delivery.UploadTimeout = getEnvDuration("DELIVERY_UPLOAD_TIMEOUT", defaults["Delivery.UploadTimeout"].(time.Duration))
	cfg.Delivery.SendTimeout = getEnvDuration("DELIVERY_SEND_TIMEOUT", defaults["Delivery.SendTimeout"].(time.Duration))
	cfg.Delivery.LockWait = getEnvDuration("DELIVERY_LOCK_WAIT", defaults["Delivery.LockWait"].(time.Duration))

	cfg.Server.Port = getEnvOr("SERVER_PORT", defaults["Server.Port"].(string))
	cfg.Log.Development = getEnvBool("LOG_DEVELOPMENT", false)
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", defaults["ShutdownTimeout"].(time.Duration))

	return cfg
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Helper function to get environment variable with default value
func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
