package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot trading core.
type Config struct {
	Port     string
	GRPCPort string

	// Database
	DBDriver    string // "sqlite" or "postgres"
	DBPath      string
	DatabaseURL string

	// Binance
	BinanceTestnet    bool
	BinanceAPIKey     string
	BinanceAPISecret  string
	BinanceSymbols    []string // pairs in BASE_QUOTE form
	BinanceLive       bool     // default trading mode when no runtime override exists
	UseMockFeed       bool
	MockStartPrice    float64
	ExchangeTimeout   time.Duration
	ExchangeRateLimit float64 // requests per second

	// Runner
	RunnerInterval      time.Duration
	SubscriptionTimeout time.Duration
	BotConcurrency      int
	PriceMaxAge         time.Duration
	KlinesCacheTTL      time.Duration
	BotsFile            string

	// Fill stream
	KafkaBrokers    []string
	KafkaFillsTopic string

	// Notifications
	TelegramToken  string
	TelegramChatID int64

	// Auth
	JWTSecret string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/trading.db")
	}

	return &Config{
		Port:                getEnv("PORT", "8080"),
		GRPCPort:            getEnv("GRPC_PORT", "9090"),
		DBDriver:            strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:              dbPath,
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		BinanceTestnet:      getEnvBool("BINANCE_TESTNET", false),
		BinanceAPIKey:       os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:    os.Getenv("BINANCE_API_SECRET"),
		BinanceSymbols:      splitAndTrim(getEnv("BINANCE_SYMBOLS", "BTC_USDT,ETH_USDT")),
		BinanceLive:         getEnvBool("BINANCE_LIVE_TRADING", false),
		UseMockFeed:         getEnvBool("USE_MOCK_FEED", true),
		MockStartPrice:      getEnvFloat("MOCK_START_PRICE", 50000),
		ExchangeTimeout:     getEnvDuration("EXCHANGE_TIMEOUT", 8*time.Second),
		ExchangeRateLimit:   getEnvFloat("EXCHANGE_RATE_LIMIT", 10),
		RunnerInterval:      getEnvDuration("RUNNER_INTERVAL", 10*time.Second),
		SubscriptionTimeout: getEnvDuration("SUBSCRIPTION_TIMEOUT", 20*time.Second),
		BotConcurrency:      getEnvInt("BOT_CONCURRENCY", 1),
		PriceMaxAge:         getEnvDuration("PRICE_MAX_AGE", 0),
		KlinesCacheTTL:      getEnvDuration("KLINES_CACHE_TTL", 30*time.Second),
		BotsFile:            getEnv("BOTS_FILE", "./configs/bots.yaml"),
		KafkaBrokers:        splitAndTrim(os.Getenv("KAFKA_BROKERS")),
		KafkaFillsTopic:     getEnv("KAFKA_FILLS_TOPIC", "bot.fills"),
		TelegramToken:       os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:      int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		JWTSecret:           getEnv("JWT_SECRET", "dev-secret"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFile:             os.Getenv("LOG_FILE"),
	}, nil
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DBPath
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
