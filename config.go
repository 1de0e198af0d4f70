package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"orders-service/database"
	aws_pkg "orders-service/pkg/aws"

	"github.com/joho/godotenv"
)

const (
	ProviderBus    = "bus"
	ProviderStripe = "stripe"
)

type Config struct {
	Env  string
	Port string

	NATSServers             []string
	NATSQueue               string
	ProductValidateSubject  string
	PaymentSessionSubject   string
	PaymentSucceededSubject string
	RequestTimeout          time.Duration
	HandlerTimeout          time.Duration
	MaxInFlight             int64
	PaymentSessionAttempts  int

	DB database.Config

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ProductCacheTTL time.Duration

	KafkaBrokers     []string
	OrderEventsTopic string

	AWSEndpoint           string
	OrderSNSTopicArn      string
	PaymentEventsQueueURL string
	PaymentEventsQueue    string
	CloudWatchEnabled     bool
	CloudWatchLogGroup    string
	MetricsNamespace      string

	PaymentsProvider    string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeSuccessURL    string
	StripeCancelURL     string

	RateLimitPerMinute int
	RateLimitBurst     int
}

// secretSource is implemented by *aws.SecretsClient.
type secretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

const (
	dbSecretName     = "orders/DB_CREDENTIALS"
	stripeSecretName = "orders/STRIPE"
)

func LoadConfig() (*Config, error) {
	// .env is optional; the process environment wins
	_ = godotenv.Load()

	cfg, err := configFromEnv()
	if err != nil {
		return nil, err
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		awsCfg, err := aws_pkg.LoadAWSConfig(ctx, cfg.AWSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		if err := applySecrets(ctx, cfg, aws_pkg.NewSecretsClient(awsCfg)); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configFromEnv() (*Config, error) {
	p := &envParser{}
	cfg := &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "3002"),

		NATSServers:             splitList(getEnv("NATS_SERVERS", "nats://localhost:4222")),
		NATSQueue:               getEnv("NATS_QUEUE", "orders-service"),
		ProductValidateSubject:  getEnv("PRODUCT_VALIDATE_SUBJECT", `{"cmd":"validate-product"}`),
		PaymentSessionSubject:   getEnv("PAYMENT_SESSION_SUBJECT", "create.payment.session"),
		PaymentSucceededSubject: getEnv("PAYMENT_SUCCEEDED_SUBJECT", "order.payment.succeeded"),
		RequestTimeout:          p.duration("REQUEST_TIMEOUT", 5*time.Second),
		HandlerTimeout:          p.duration("HANDLER_TIMEOUT", 30*time.Second),
		MaxInFlight:             int64(p.int("MAX_IN_FLIGHT", 64)),
		PaymentSessionAttempts:  p.int("PAYMENT_SESSION_ATTEMPTS", 3),

		DB: database.Config{
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Name:     os.Getenv("POSTGRES_DB"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		},

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         p.int("REDIS_DB", 0),
		ProductCacheTTL: p.duration("PRODUCT_CACHE_TTL", 60*time.Second),

		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		OrderEventsTopic: getEnv("ORDER_EVENTS_TOPIC", "order.events"),

		AWSEndpoint:           os.Getenv("AWS_ENDPOINT"),
		OrderSNSTopicArn:      os.Getenv("ORDER_SNS_TOPIC_ARN"),
		PaymentEventsQueueURL: os.Getenv("PAYMENT_EVENTS_QUEUE_URL"),
		PaymentEventsQueue:    os.Getenv("PAYMENT_EVENTS_QUEUE"),
		CloudWatchEnabled:     os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup:    getEnv("CLOUDWATCH_LOG_GROUP", "/ecommerce/orders-service"),
		MetricsNamespace:      getEnv("METRICS_NAMESPACE", "ECommerce/Orders"),

		PaymentsProvider:    strings.ToLower(getEnv("PAYMENTS_PROVIDER", ProviderBus)),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:    os.Getenv("STRIPE_SUCCESS_URL"),
		StripeCancelURL:     os.Getenv("STRIPE_CANCEL_URL"),

		RateLimitPerMinute: p.int("RATE_LIMIT_PER_MINUTE", 600),
		RateLimitBurst:     p.int("RATE_LIMIT_BURST", 100),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySecrets overrides database credentials and Stripe keys with the
// values stored in Secrets Manager. Missing keys keep the env values.
func applySecrets(ctx context.Context, cfg *Config, src secretSource) error {
	db, err := src.GetSecretMap(ctx, dbSecretName)
	if err != nil {
		return fmt.Errorf("read secret %s: %w", dbSecretName, err)
	}
	override(&cfg.DB.User, db["POSTGRES_USER"])
	override(&cfg.DB.Password, db["POSTGRES_PASSWORD"])
	override(&cfg.DB.Name, db["POSTGRES_DB"])
	override(&cfg.DB.Host, db["POSTGRES_HOST"])
	override(&cfg.DB.Port, db["POSTGRES_PORT"])

	if cfg.PaymentsProvider != ProviderStripe && cfg.StripeWebhookSecret == "" {
		return nil
	}
	keys, err := src.GetSecretMap(ctx, stripeSecretName)
	if err != nil {
		return fmt.Errorf("read secret %s: %w", stripeSecretName, err)
	}
	override(&cfg.StripeSecretKey, keys["STRIPE_SECRET_KEY"])
	override(&cfg.StripeWebhookSecret, keys["STRIPE_WEBHOOK_SECRET"])
	return nil
}

func (c *Config) validate() error {
	if c.DB.User == "" || c.DB.Password == "" || c.DB.Name == "" || c.DB.Host == "" {
		return fmt.Errorf("database config incomplete")
	}
	if len(c.NATSServers) == 0 {
		return fmt.Errorf("NATS_SERVERS is required")
	}
	switch c.PaymentsProvider {
	case ProviderBus:
	case ProviderStripe:
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when PAYMENTS_PROVIDER=stripe")
		}
	default:
		return fmt.Errorf("unknown PAYMENTS_PROVIDER %q", c.PaymentsProvider)
	}
	if c.RequestTimeout <= 0 || c.HandlerTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("MAX_IN_FLIGHT must be positive")
	}
	if c.PaymentSessionAttempts <= 0 {
		return fmt.Errorf("PAYMENT_SESSION_ATTEMPTS must be positive")
	}
	if c.RateLimitPerMinute <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

// envParser collects parse errors so all bad keys are reported at once.
type envParser struct {
	errs []error
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (p *envParser) int(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func override(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}
