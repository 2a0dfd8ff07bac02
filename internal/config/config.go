package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the engine
type Config struct {
	// Mode
	DryRun bool
	Debug  bool

	// Telegram (optional; log-only sink when unset)
	TelegramToken  string
	TelegramChatID int64

	// Snapshot feed
	SnapshotWSURL   string
	SnapshotTTL     time.Duration
	SnapshotTimeout time.Duration

	// Scheduler cadences
	FastInterval     time.Duration
	StandardInterval time.Duration

	// Broker venue
	BrokerBaseURL   string
	BrokerAPIKey    string
	BrokerAPISecret string
	BrokerTimeout   time.Duration
	MinLot          decimal.Decimal

	// Execution retries
	MaxOrderAttempts int
	BackoffStep      time.Duration
	BaseDeviation    decimal.Decimal
	MarketBand       decimal.Decimal
	UseOCO           bool

	// Exit state machine
	ExitCheckInterval  time.Duration
	BreakevenThreshold decimal.Decimal
	PartialThreshold   decimal.Decimal
	PartialClosePct    decimal.Decimal
	SpreadBuffer       decimal.Decimal
	FlipThreshold      decimal.Decimal
	MaxHoldTime        time.Duration

	// Volatility adjuster
	VolIndexThreshold decimal.Decimal
	WidenCap          decimal.Decimal
	BaseRiskFactor    decimal.Decimal
	TrailMultiplier   decimal.Decimal

	// Database
	DatabaseDSN string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		SnapshotWSURL:   getEnv("SNAPSHOT_WS_URL", "ws://localhost:9000/snapshots"),
		SnapshotTTL:     getEnvDuration("SNAPSHOT_TTL", 20*time.Second),
		SnapshotTimeout: getEnvDuration("SNAPSHOT_FETCH_TIMEOUT", 3*time.Second),

		FastInterval:     getEnvDuration("FAST_POLL_INTERVAL", 5*time.Second),
		StandardInterval: getEnvDuration("STANDARD_POLL_INTERVAL", 30*time.Second),

		BrokerBaseURL:   getEnv("BROKER_BASE_URL", "http://localhost:9001"),
		BrokerAPIKey:    os.Getenv("BROKER_API_KEY"),
		BrokerAPISecret: os.Getenv("BROKER_API_SECRET"),
		BrokerTimeout:   getEnvDuration("BROKER_TIMEOUT", 10*time.Second),
		MinLot:          getEnvDecimal("BROKER_MIN_LOT", decimal.NewFromFloat(0.01)),

		MaxOrderAttempts: getEnvInt("MAX_ORDER_ATTEMPTS", 3),
		BackoffStep:      getEnvDuration("ORDER_BACKOFF_STEP", 300*time.Millisecond),
		BaseDeviation:    getEnvDecimal("ORDER_BASE_DEVIATION", decimal.NewFromFloat(0.0005)),
		MarketBand:       getEnvDecimal("ORDER_MARKET_BAND", decimal.NewFromFloat(0.001)),
		UseOCO:           getEnvBool("USE_OCO", false),

		ExitCheckInterval:  getEnvDuration("EXIT_CHECK_INTERVAL", 30*time.Second),
		BreakevenThreshold: getEnvDecimal("BREAKEVEN_THRESHOLD", decimal.NewFromFloat(0.30)),
		PartialThreshold:   getEnvDecimal("PARTIAL_THRESHOLD", decimal.NewFromFloat(0.60)),
		PartialClosePct:    getEnvDecimal("PARTIAL_CLOSE_PCT", decimal.NewFromFloat(0.50)),
		SpreadBuffer:       getEnvDecimal("SPREAD_BUFFER", decimal.NewFromFloat(0.0002)),
		FlipThreshold:      getEnvDecimal("FLIP_THRESHOLD", decimal.NewFromFloat(0.80)),
		MaxHoldTime:        getEnvDuration("MAX_HOLD_TIME", 0),

		VolIndexThreshold: getEnvDecimal("VOL_INDEX_THRESHOLD", decimal.NewFromFloat(25)),
		WidenCap:          getEnvDecimal("WIDEN_CAP", decimal.NewFromFloat(2.0)),
		BaseRiskFactor:    getEnvDecimal("BASE_RISK_FACTOR", decimal.NewFromFloat(1.0)),
		TrailMultiplier:   getEnvDecimal("TRAIL_MULTIPLIER", decimal.NewFromFloat(1.5)),

		DatabaseDSN: getEnv("DATABASE_DSN", "data/tradesentry.db"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if !cfg.DryRun && cfg.BrokerAPIKey == "" {
		return nil, fmt.Errorf("BROKER_API_KEY is required outside dry-run")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
