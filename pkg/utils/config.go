package utils

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	EventBus  EventBusConfig
	OTP       OTPConfig
	Dispatch  DispatchConfig
	Webhook   WebhookConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Name        string
	Port        string
	Debug       bool
	LogPath     string
	FrontendURL string
}

type DatabaseConfig struct {
	Host          string
	Port          string
	Name          string
	User          string
	Password      string
	MaxConns      int32
	RunMigrations bool
}

// RedisConfig is optional. An empty Addr selects the in-process lock and
// rate-limit store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventBusConfig is optional. An empty AMQPURL keeps webhook tasks on an
// in-process channel.
type EventBusConfig struct {
	AMQPURL string
}

type OTPConfig struct {
	ExpiryMinutes int
	Length        int
	MaxAttempts   int
	HashCost      int
}

type DispatchConfig struct {
	RadiusMeters float64
}

type WebhookConfig struct {
	Timeout         time.Duration
	LogSize         int
	Workers         int
	ResponseExcerpt int
}

type GatewayConfig struct {
	StoreID          string
	StorePassword    string
	SessionURL       string
	ValidationURL    string
	CallbackBaseURL  string
	Currency         string
	Timeout          time.Duration
	BreakerThreshold int64
}

type RateLimitConfig struct {
	OTPGeneratePerMinute int
	OTPVerifyPerMinute   int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	// Set defaults
	viper.SetDefault("APP_NAME", "roadside-dispatch")
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("LOG_PATH", "logs/")
	viper.SetDefault("FRONTEND_URL", "http://localhost:3000")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("DB_RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("OTP_EXPIRY_MINUTES", 10)
	viper.SetDefault("OTP_LENGTH", 6)
	viper.SetDefault("OTP_MAX_ATTEMPTS", 5)
	viper.SetDefault("OTP_HASH_COST", 10)
	viper.SetDefault("DISPATCH_RADIUS_METERS", 20000)
	viper.SetDefault("WEBHOOK_TIMEOUT", "5s")
	viper.SetDefault("WEBHOOK_LOG_SIZE", 20)
	viper.SetDefault("WEBHOOK_WORKERS", 4)
	viper.SetDefault("WEBHOOK_RESPONSE_EXCERPT", 512)
	viper.SetDefault("GATEWAY_SESSION_URL", "https://sandbox.sslcommerz.com/gwprocess/v4/api.php")
	viper.SetDefault("GATEWAY_VALIDATION_URL", "https://sandbox.sslcommerz.com/validator/api/validationserverAPI.php")
	viper.SetDefault("GATEWAY_CURRENCY", "BDT")
	viper.SetDefault("GATEWAY_TIMEOUT", "10s")
	viper.SetDefault("GATEWAY_BREAKER_THRESHOLD", 5)
	viper.SetDefault("RATE_LIMIT_OTP_GENERATE", 3)
	viper.SetDefault("RATE_LIMIT_OTP_VERIFY", 10)

	viper.AutomaticEnv()

	// .env is optional when the environment already carries the settings
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	config := &Config{
		App: AppConfig{
			Name:        viper.GetString("APP_NAME"),
			Port:        viper.GetString("PORT"),
			Debug:       viper.GetBool("DEBUG"),
			LogPath:     viper.GetString("LOG_PATH"),
			FrontendURL: viper.GetString("FRONTEND_URL"),
		},
		Database: DatabaseConfig{
			Host:          viper.GetString("DB_HOST"),
			Port:          viper.GetString("DB_PORT"),
			Name:          viper.GetString("DB_NAME"),
			User:          viper.GetString("DB_USER"),
			Password:      viper.GetString("DB_PASS"),
			MaxConns:      viper.GetInt32("DB_MAX_CONNS"),
			RunMigrations: viper.GetBool("DB_RUN_MIGRATIONS"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		EventBus: EventBusConfig{
			AMQPURL: viper.GetString("EVENTBUS_AMQP_URL"),
		},
		OTP: OTPConfig{
			ExpiryMinutes: viper.GetInt("OTP_EXPIRY_MINUTES"),
			Length:        viper.GetInt("OTP_LENGTH"),
			MaxAttempts:   viper.GetInt("OTP_MAX_ATTEMPTS"),
			HashCost:      viper.GetInt("OTP_HASH_COST"),
		},
		Dispatch: DispatchConfig{
			RadiusMeters: viper.GetFloat64("DISPATCH_RADIUS_METERS"),
		},
		Webhook: WebhookConfig{
			Timeout:         viper.GetDuration("WEBHOOK_TIMEOUT"),
			LogSize:         viper.GetInt("WEBHOOK_LOG_SIZE"),
			Workers:         viper.GetInt("WEBHOOK_WORKERS"),
			ResponseExcerpt: viper.GetInt("WEBHOOK_RESPONSE_EXCERPT"),
		},
		Gateway: GatewayConfig{
			StoreID:          viper.GetString("GATEWAY_STORE_ID"),
			StorePassword:    viper.GetString("GATEWAY_STORE_PASSWORD"),
			SessionURL:       viper.GetString("GATEWAY_SESSION_URL"),
			ValidationURL:    viper.GetString("GATEWAY_VALIDATION_URL"),
			CallbackBaseURL:  viper.GetString("GATEWAY_CALLBACK_BASE_URL"),
			Currency:         viper.GetString("GATEWAY_CURRENCY"),
			Timeout:          viper.GetDuration("GATEWAY_TIMEOUT"),
			BreakerThreshold: viper.GetInt64("GATEWAY_BREAKER_THRESHOLD"),
		},
		RateLimit: RateLimitConfig{
			OTPGeneratePerMinute: viper.GetInt("RATE_LIMIT_OTP_GENERATE"),
			OTPVerifyPerMinute:   viper.GetInt("RATE_LIMIT_OTP_VERIFY"),
		},
	}

	return config, nil
}
