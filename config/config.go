package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable, loaded from the environment. A .env file is
// honored in development.
type Config struct {
	Port string
	Env  string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string

	StripeSecretKey  string
	StripeWebhookKey string

	// EventTransport selects how webhook messages arrive and where payment
	// events go: "kafka" or "sqs".
	EventTransport string

	KafkaBrokers      string
	PaymentEventTopic string
	WebhookTopic      string
	WebhookDLQTopic   string
	ConsumerGroupID   string

	WebhookQueueURL    string
	WebhookDLQURL      string
	PaymentSNSTopicARN string

	// RedisAddr enables the Redis-backed webhook dedup store when set;
	// otherwise dedup is in-process.
	RedisAddr     string
	RedisPassword string
	DedupTTL      time.Duration

	// Outbound gateway protection.
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
	GatewayCallTimeout      time.Duration
	GatewayMaxRequests      int
	GatewayWindow           time.Duration

	// Reconciliation.
	ReconcileConcurrency  int
	ReconcilePollInterval time.Duration
	ReconcileMaxAttempts  int

	// Inbound HTTP throttling.
	HTTPRequestsPerMinute int
	HTTPBurst             int
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file is normal outside development.
		_ = err
	}

	cfg := &Config{
		Port: getEnv("PORT", "8087"),
		Env:  getEnv("APP_ENV", "development"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		StripeSecretKey:  os.Getenv("STRIPE_API_KEY"),
		StripeWebhookKey: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		EventTransport: strings.ToLower(getEnv("EVENT_TRANSPORT", "kafka")),

		KafkaBrokers:      getEnv("KAFKA_BROKERS", "localhost:9092"),
		PaymentEventTopic: getEnv("PAYMENT_EVENT_TOPIC", "payment-events"),
		WebhookTopic:      getEnv("WEBHOOK_TOPIC", "gateway-webhooks"),
		WebhookDLQTopic:   getEnv("WEBHOOK_DLQ_TOPIC", "gateway-webhooks-dlq"),
		ConsumerGroupID:   getEnv("CONSUMER_GROUP_ID", "payment-sync-service"),

		WebhookQueueURL:    os.Getenv("WEBHOOK_QUEUE_URL"),
		WebhookDLQURL:      os.Getenv("WEBHOOK_DLQ_URL"),
		PaymentSNSTopicARN: os.Getenv("PAYMENT_SNS_TOPIC_ARN"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DedupTTL:      getDuration("DEDUP_TTL", 24*time.Hour),

		BreakerFailureThreshold: getInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerResetTimeout:     getDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
		GatewayCallTimeout:      getDuration("GATEWAY_CALL_TIMEOUT", 10*time.Second),
		GatewayMaxRequests:      getInt("GATEWAY_MAX_REQUESTS", 100),
		GatewayWindow:           getDuration("GATEWAY_WINDOW", time.Second),

		ReconcileConcurrency:  getInt("RECONCILE_CONCURRENCY", 1),
		ReconcilePollInterval: getDuration("RECONCILE_POLL_INTERVAL", 2*time.Minute),
		ReconcileMaxAttempts:  getInt("RECONCILE_MAX_ATTEMPTS", 5),

		HTTPRequestsPerMinute: getInt("HTTP_REQUESTS_PER_MINUTE", 300),
		HTTPBurst:             getInt("HTTP_BURST", 50),
	}

	if cfg.PostgresUser == "" || cfg.PostgresPassword == "" || cfg.PostgresDB == "" {
		return nil, fmt.Errorf("missing required postgres environment variables")
	}
	if cfg.StripeSecretKey == "" || cfg.StripeWebhookKey == "" {
		return nil, fmt.Errorf("STRIPE_API_KEY and STRIPE_WEBHOOK_SECRET must be set")
	}
	switch cfg.EventTransport {
	case "kafka":
	case "sqs":
		if cfg.WebhookQueueURL == "" || cfg.PaymentSNSTopicARN == "" {
			return nil, fmt.Errorf("WEBHOOK_QUEUE_URL and PAYMENT_SNS_TOPIC_ARN must be set for sqs transport")
		}
	default:
		return nil, fmt.Errorf("unknown EVENT_TRANSPORT %q", cfg.EventTransport)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
