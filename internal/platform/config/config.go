package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the server needs from its environment so main
// stays lean. All values are externally supplied; the service never invents
// prices, durations, or identities.
type Config struct {
	Addr        string
	Environment string

	// Marketplace economics. Price is in microalgos per credential.
	Price          uint64
	Validity       time.Duration
	HoldingAddress string
	AdminAddress   string

	// Admin API authentication: bcrypt hash of the admin API key, and the key
	// used to sign the short-lived admin JWTs exchanged for it.
	AdminKeyHash  string
	JWTSigningKey string
	AdminTokenTTL time.Duration

	// Validator cache.
	CacheTTL time.Duration

	// Weather provider selection: open-meteo (default), openweather, weatherapi.
	Provider          string
	OpenWeatherAPIKey string
	WeatherAPIKey     string

	// Ledger collaborator.
	LedgerURL            string
	LedgerToken          string
	LedgerSettleTimeout  time.Duration
	LedgerRequestTimeout time.Duration

	// Optional backing services. Empty means not configured and the in-memory
	// implementations are used instead.
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string
	EventTopic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:        getString("WXPASS_ADDR", ":8080"),
		Environment: getString("WXPASS_ENV", "development"),

		Price:          getUint("CREDENTIAL_PRICE", 10_000_000), // 10 algos
		Validity:       getDuration("CREDENTIAL_VALIDITY", time.Hour),
		HoldingAddress: os.Getenv("HOLDING_ADDRESS"),
		AdminAddress:   os.Getenv("ADMIN_ADDRESS"),

		AdminKeyHash:  os.Getenv("ADMIN_KEY_HASH"),
		JWTSigningKey: getString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		AdminTokenTTL: getDuration("ADMIN_TOKEN_TTL", 15*time.Minute),

		CacheTTL: getDuration("VALIDATOR_CACHE_TTL", 5*time.Second),

		Provider:          getString("WEATHER_PROVIDER", "open-meteo"),
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		WeatherAPIKey:     os.Getenv("WEATHERAPI_KEY"),

		LedgerURL:            getString("LEDGER_URL", "http://localhost:4001"),
		LedgerToken:          os.Getenv("LEDGER_TOKEN"),
		LedgerSettleTimeout:  getDuration("LEDGER_SETTLE_TIMEOUT", 30*time.Second),
		LedgerRequestTimeout: getDuration("LEDGER_REQUEST_TIMEOUT", 10*time.Second),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		EventTopic:   getString("EVENT_TOPIC", "wxpass.events"),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

// RedisConfig holds tuning for the optional Redis validator cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisFromEnv builds a RedisConfig with defaults suited to the cache workload.
func RedisFromEnv() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}
