package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting for the ShulePay service. Values are
// read from the environment once at startup; a .env file is loaded first
// when present so local development does not need exported variables.
type Config struct {
	Server   ServerConfig
	MongoDB  MongoDBConfig
	Redis    RedisConfig
	Firebase FirebaseConfig
	S3       S3Config
	JWT      JWTConfig
	Gateway  GatewayConfig
	Billing  BillingConfig
	OTEL     OTELConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type MongoDBConfig struct {
	URI      string
	Database string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// FirebaseConfig points at the service-account credentials used for FCM
// push notifications. When CredentialsFile is empty the notifier falls
// back to logging.
type FirebaseConfig struct {
	CredentialsFile string
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
}

type JWTConfig struct {
	Secret string
}

// GatewayConfig configures the TumaPay payment gateway client.
type GatewayConfig struct {
	MerchantCode string
	APIKey       string
	BaseURL      string
	NotifyURL    string
}

// BillingConfig controls the recurring billing scheduler. RunHour is the
// local hour of day (0-23) at which the daily run fires.
type BillingConfig struct {
	RunHour        int
	MaxConcurrency int
}

type OTELConfig struct {
	Enabled        bool
	Endpoint       string
	InstanceID     string
	Token          string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Load reads configuration from the environment, loading .env first if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[Config] no .env file found, reading from environment")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("APP_ENV", "development"),
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "shulepay"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       int(getEnvAsInt64("REDIS_DB", 0)),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		S3: S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			Region:    getEnv("S3_REGION", "us-east-1"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", "payment-proofs"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Gateway: GatewayConfig{
			MerchantCode: getEnv("TUMAPAY_MERCHANT_CODE", ""),
			APIKey:       getEnv("TUMAPAY_API_KEY", ""),
			BaseURL:      getEnv("TUMAPAY_BASE_URL", "https://api.tumapay.dev"),
			NotifyURL:    getEnv("TUMAPAY_NOTIFY_URL", ""),
		},
		Billing: BillingConfig{
			RunHour:        int(getEnvAsInt64("BILLING_RUN_HOUR", 9)),
			MaxConcurrency: int(getEnvAsInt64("BILLING_MAX_CONCURRENCY", 8)),
		},
		OTEL: OTELConfig{
			Enabled:        getEnv("OTEL_ENABLED", "false") == "true",
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			InstanceID:     getEnv("OTEL_INSTANCE_ID", ""),
			Token:          getEnv("OTEL_TOKEN", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "shulepay-api"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnv("APP_ENV", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.Billing.RunHour < 0 || c.Billing.RunHour > 23 {
		return fmt.Errorf("config: BILLING_RUN_HOUR must be between 0 and 23, got %d", c.Billing.RunHour)
	}
	if c.Billing.MaxConcurrency < 1 {
		return fmt.Errorf("config: BILLING_MAX_CONCURRENCY must be at least 1, got %d", c.Billing.MaxConcurrency)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("[Config] invalid integer for %s: %q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}
