package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	StoreDynamo   = "dynamo"
	StorePostgres = "postgres"

	GatewayRazorpay = "razorpay"
	GatewayStripe   = "stripe"
	GatewayFake     = "fake"
)

// placeholderKeys are signing keys shipped in sample configs. They are never
// accepted regardless of length.
var placeholderKeys = []string{
	"changeme",
	"change-me",
	"change-this-to-a-secure-secret",
	"secret",
	"your-secret-key",
}

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort  string `env:"APP_PORT" envDefault:"3000"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"dynamo"`

	AWSRegion      string       `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSEndpointURL string       `env:"AWS_ENDPOINT_URL"` // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string       `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretKey   string       `env:"AWS_SECRET_ACCESS_KEY"`
	DynamoTables   DynamoTables `envPrefix:"DYNAMO_TABLE_"`
	SNSRegion      string       `env:"SNS_REGION"`
	SMSEnabled     bool         `env:"SMS_ENABLED" envDefault:"false"`
	SMSSenderID    string       `env:"SMS_SENDER_ID"`
	InvoiceBucket  string       `env:"S3_INVOICE_BUCKET"`

	DatabaseURL   string `env:"DATABASE_URL"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"2"`
	RunMigrations bool   `env:"DB_RUN_MIGRATIONS" envDefault:"true"`

	RedisAddr        string        `env:"REDIS_ADDR"`
	RedisPassword    string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	OTPRequestLimit  int           `env:"OTP_REQUEST_LIMIT" envDefault:"5"`
	OTPRequestWindow time.Duration `env:"OTP_REQUEST_WINDOW" envDefault:"15m"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"subscription-core.events"`

	JWTKey           string `env:"JWT_KEY"`
	JWTIssuer        string `env:"JWT_ISSUER" envDefault:"subscription-core"`
	JWTAudience      string `env:"JWT_AUDIENCE"`
	JWTExpiryMinutes int    `env:"JWT_EXPIRY_MINUTES" envDefault:"10080"`

	OTPLifetimeMinutes int  `env:"OTP_LIFETIME_MINUTES" envDefault:"5"`
	OTPMaxAttempts     int  `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	OTPExposeCodes     bool `env:"OTP_EXPOSE_CODES" envDefault:"false"`

	GatewayProvider    string        `env:"PAYMENT_GATEWAY" envDefault:"razorpay"`
	RazorpayKeyID      string        `env:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret  string        `env:"RAZORPAY_KEY_SECRET"`
	RazorpayBaseURL    string        `env:"RAZORPAY_BASE_URL" envDefault:"https://api.razorpay.com/v1"`
	StripeSecretKey    string        `env:"STRIPE_SECRET_KEY"`
	StripeSigningKey   string        `env:"STRIPE_SIGNING_KEY"`
	FakeGatewaySecret  string        `env:"FAKE_GATEWAY_SECRET" envDefault:"dev-gateway-secret"`
	DefaultAmountMinor int64         `env:"PAYMENT_DEFAULT_AMOUNT" envDefault:"49900"`
	Currency           string        `env:"PAYMENT_CURRENCY" envDefault:"INR"`
	PlanDescription    string        `env:"PAYMENT_PLAN_DESCRIPTION" envDefault:"Monthly Subscription"`
	DefaultPlanID      string        `env:"PAYMENT_DEFAULT_PLAN_ID"`
	PendingOrderTTL    time.Duration `env:"PAYMENT_PENDING_ORDER_TTL" envDefault:"30m"`

	ResetLinkBaseURL string `env:"RESET_LINK_BASE_URL"`
	SMTPHost         string `env:"SMTP_HOST" envDefault:"localhost"`
	SMTPPort         string `env:"SMTP_PORT" envDefault:"1025"`
	SMTPFrom         string `env:"SMTP_FROM" envDefault:"noreply@example.com"`
	SMTPUsername     string `env:"SMTP_USERNAME"`
	SMTPPassword     string `env:"SMTP_PASSWORD"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users         string `env:"USERS" envDefault:"users"`
	Sessions      string `env:"SESSIONS" envDefault:"user_sessions"`
	OtpChallenges string `env:"OTP_CHALLENGES" envDefault:"otp_challenges"`
	ResetTokens   string `env:"RESET_TOKENS" envDefault:"password_reset_tokens"`
	Plans         string `env:"PLANS" envDefault:"plans"`
	PlanHistory   string `env:"PLAN_HISTORY" envDefault:"user_plan_history"`
	Invoices      string `env:"INVOICES" envDefault:"invoices"`
}

// Load reads all configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range or unsafe settings. It runs once at startup.
func (c *Config) Validate() error {
	var errs []error

	key := strings.TrimSpace(c.JWTKey)
	switch {
	case key == "":
		errs = append(errs, errors.New("JWT_KEY is required"))
	case IsPlaceholderKey(key):
		errs = append(errs, errors.New("JWT_KEY must be replaced with a secure value"))
	case len(key) < 32:
		errs = append(errs, errors.New("JWT_KEY must be at least 32 characters"))
	}
	if c.JWTIssuer == "" {
		errs = append(errs, errors.New("JWT_ISSUER is required"))
	}
	if c.JWTExpiryMinutes < 5 || c.JWTExpiryMinutes > 60*24*30 {
		errs = append(errs, errors.New("JWT_EXPIRY_MINUTES must be between 5 minutes and 30 days"))
	}

	if c.OTPLifetimeMinutes < 1 || c.OTPLifetimeMinutes > 30 {
		errs = append(errs, errors.New("OTP_LIFETIME_MINUTES must be between 1 and 30"))
	}
	if c.OTPMaxAttempts < 1 || c.OTPMaxAttempts > 10 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be between 1 and 10"))
	}
	if c.OTPExposeCodes && c.IsProduction() {
		errs = append(errs, errors.New("OTP_EXPOSE_CODES cannot be enabled in production"))
	}

	switch c.StoreDriver {
	case StoreDynamo:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.GatewayProvider {
	case GatewayRazorpay:
		if c.RazorpayKeyID == "" || c.RazorpayKeySecret == "" {
			errs = append(errs, errors.New("razorpay credentials must be configured"))
		}
	case GatewayStripe:
		if c.StripeSecretKey == "" || c.StripeSigningKey == "" {
			errs = append(errs, errors.New("stripe secret and signing keys must be configured"))
		}
	case GatewayFake:
		if c.IsProduction() {
			errs = append(errs, errors.New("the fake payment gateway cannot be used in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYMENT_GATEWAY %q", c.GatewayProvider))
	}
	if c.DefaultAmountMinor <= 0 {
		errs = append(errs, errors.New("PAYMENT_DEFAULT_AMOUNT must be positive"))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, errors.New("PAYMENT_CURRENCY must be a 3-letter code"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWTExpiryMinutes) * time.Minute
}

func (c *Config) OTPLifetime() time.Duration {
	return time.Duration(c.OTPLifetimeMinutes) * time.Minute
}

// IsPlaceholderKey reports whether key is a known sample signing key.
func IsPlaceholderKey(key string) bool {
	for _, p := range placeholderKeys {
		if strings.EqualFold(strings.TrimSpace(key), p) {
			return true
		}
	}
	return false
}
