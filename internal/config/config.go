package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Provider  ProviderConfig
	Relay     RelayConfig
	Polling   PollingConfig
	Delivery  DeliveryConfig
	RateLimit RateLimitConfig

	// CallbackSecret authenticates inbound completion callbacks. Outside
	// production an empty or mismatched secret is accepted with a warning.
	CallbackSecret string

	// Costs maps operation type to credit cost. Missing entries default to 1.
	Costs map[string]int64
}

// ProviderConfig configures the synchronous completion provider.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	Timeout    time.Duration
}

// RelayConfig configures the outbound automation pipeline relay.
type RelayConfig struct {
	Endpoint        string
	CallbackBaseURL string
	Secret          string
	Timeout         time.Duration
}

// PollingConfig configures the long-running job provider and poll cadence.
type PollingConfig struct {
	BaseURL         string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	Interval        time.Duration
	MaxAttempts     int
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	SubmitTimeout   time.Duration
	RequestTimeout  time.Duration
}

// DeliveryConfig configures the secondary delivery channel.
type DeliveryConfig struct {
	TelegramToken string
	MaxAttempts   int
	RetryBase     time.Duration
	MaxTextRunes  int
}

// RateLimitConfig configures the per-user admission rate limit.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	UserRate      float64
	UserBurst     int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "inkflow"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "inkflow"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		Provider: ProviderConfig{
			APIKey:     strings.TrimSpace(getenv("PROVIDER_API_KEY", "")),
			BaseURL:    strings.TrimSpace(getenv("PROVIDER_BASE_URL", "")),
			TextModel:  getenv("PROVIDER_TEXT_MODEL", "gpt-4o-mini"),
			ImageModel: getenv("PROVIDER_IMAGE_MODEL", "dall-e-3"),
			Timeout:    getenvDuration("PROVIDER_TIMEOUT", 120*time.Second),
		},
		Relay: RelayConfig{
			Endpoint:        strings.TrimSpace(getenv("RELAY_ENDPOINT", "")),
			CallbackBaseURL: strings.TrimSpace(getenv("RELAY_CALLBACK_BASE_URL", "http://localhost:8080")),
			Secret:          strings.TrimSpace(getenv("RELAY_SECRET", "")),
			Timeout:         getenvDuration("RELAY_TIMEOUT", 15*time.Second),
		},
		Polling: PollingConfig{
			BaseURL:        strings.TrimSpace(getenv("JOBS_BASE_URL", "")),
			TokenURL:       strings.TrimSpace(getenv("JOBS_TOKEN_URL", "")),
			ClientID:       strings.TrimSpace(getenv("JOBS_CLIENT_ID", "")),
			ClientSecret:   strings.TrimSpace(getenv("JOBS_CLIENT_SECRET", "")),
			Interval:       getenvDuration("JOBS_POLL_INTERVAL", 5*time.Second),
			MaxAttempts:    getenvInt("JOBS_MAX_POLL_ATTEMPTS", 120),
			RetryAttempts:  getenvInt("JOBS_CHECK_RETRY_ATTEMPTS", 5),
			RetryBaseDelay: getenvDuration("JOBS_CHECK_RETRY_BASE_DELAY", 2*time.Second),
			SubmitTimeout:  getenvDuration("JOBS_SUBMIT_TIMEOUT", 30*time.Second),
			RequestTimeout: getenvDuration("JOBS_REQUEST_TIMEOUT", 15*time.Second),
		},
		Delivery: DeliveryConfig{
			TelegramToken: strings.TrimSpace(getenv("TELEGRAM_BOT_TOKEN", "")),
			MaxAttempts:   getenvInt("DELIVERY_MAX_ATTEMPTS", 3),
			RetryBase:     getenvDuration("DELIVERY_RETRY_BASE_DELAY", 2*time.Second),
			MaxTextRunes:  getenvInt("DELIVERY_MAX_TEXT_RUNES", 4000),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("REDIS_DB", 0),
			UserRate:      getenvFloat("RATE_LIMIT_USER_RATE", 1),
			UserBurst:     getenvInt("RATE_LIMIT_USER_BURST", 5),
		},

		CallbackSecret: strings.TrimSpace(getenv("CALLBACK_SECRET", "")),
		Costs:          parseCosts(getenv("GENERATION_COSTS", "")),
	}
}

// IsProduction reports whether the app runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// parseCosts parses "worksheet=2,slide_deck=10" style cost tables.
func parseCosts(raw string) map[string]int64 {
	costs := map[string]int64{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		cost, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || cost <= 0 {
			continue
		}
		costs[strings.TrimSpace(key)] = cost
	}
	return costs
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
