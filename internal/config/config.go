// Package config loads the relay configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/relay/internal/errs"
)

// Config holds application configuration.
type Config struct {
	Port     int
	LogLevel string
	DevMode  bool
	DataDir  string

	Execution ExecutionConfig
	Risk      RiskConfig
	Broker    BrokerConfig
	Audit     AuditConfig
}

// ExecutionConfig tunes the signal execution engine.
type ExecutionConfig struct {
	MaxSignalAge       time.Duration // signals older than this are rejected
	DefaultMaxExecTime time.Duration
	PortfolioValue     float64
	SizingMethod       string // fixed, confidence_weighted, kelly, volatility_adjusted
	MinQualityScore    float64
	MaxLatencyMs       float64
}

// RiskConfig holds the pre-trade validation limits that come from the
// environment. Limits not listed here keep their defaults.
type RiskConfig struct {
	MaxPositionSize        int
	MaxPortfolioExposure   float64
	MinConfidenceThreshold float64
	MaxSignalsPerHour      int
	MaxConcurrentSignals   int
	MaxDailyTrades         int
	MaxDailyLoss           float64
}

// BrokerConfig selects and configures the broker gateway.
type BrokerConfig struct {
	GatewayURL   string
	GatewayWSURL string
	APIKey       string
	Simulated    bool
}

// AuditConfig configures the audit trail and the optional S3 archive.
type AuditConfig struct {
	DBPath   string
	S3Bucket string // empty disables the archive sink
	S3Region string
	S3Prefix string
	FlushSec int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	cfg := &Config{
		Port:     getEnvAsInt("RELAY_PORT", 8001),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		DataDir:  dataDir,
		Execution: ExecutionConfig{
			MaxSignalAge:       getEnvAsDurationMs("EXECUTION_MAX_SIGNAL_AGE_MS", 5000),
			DefaultMaxExecTime: getEnvAsDurationMs("EXECUTION_DEFAULT_MAX_EXEC_TIME_MS", 30_000),
			PortfolioValue:     getEnvAsFloat("EXECUTION_PORTFOLIO_VALUE", 1_000_000),
			SizingMethod:       getEnv("EXECUTION_SIZING_METHOD", "confidence_weighted"),
			MinQualityScore:    getEnvAsFloat("EXECUTION_MIN_QUALITY_SCORE", 70),
			MaxLatencyMs:       getEnvAsFloat("EXECUTION_MAX_LATENCY_MS", 500),
		},
		Risk: RiskConfig{
			MaxPositionSize:        getEnvAsInt("RISK_MAX_POSITION_SIZE", 1000),
			MaxPortfolioExposure:   getEnvAsFloat("RISK_MAX_PORTFOLIO_EXPOSURE", 0.95),
			MinConfidenceThreshold: getEnvAsFloat("RISK_MIN_CONFIDENCE", 0.6),
			MaxSignalsPerHour:      getEnvAsInt("RISK_MAX_SIGNALS_PER_HOUR", 50),
			MaxConcurrentSignals:   getEnvAsInt("RISK_MAX_CONCURRENT_SIGNALS", 10),
			MaxDailyTrades:         getEnvAsInt("RISK_MAX_DAILY_TRADES", 100),
			MaxDailyLoss:           getEnvAsFloat("RISK_MAX_DAILY_LOSS", 50_000),
		},
		Broker: BrokerConfig{
			GatewayURL:   getEnv("IB_GATEWAY_URL", "http://localhost:5000"),
			GatewayWSURL: getEnv("IB_GATEWAY_WS_URL", "ws://localhost:5000/v1/stream"),
			APIKey:       getEnv("IB_GATEWAY_API_KEY", ""),
			Simulated:    getEnvAsBool("BROKER_SIMULATED", false),
		},
		Audit: AuditConfig{
			DBPath:   getEnv("AUDIT_DB_PATH", dataDir+"/audit.db"),
			S3Bucket: getEnv("AUDIT_S3_BUCKET", ""),
			S3Region: getEnv("AUDIT_S3_REGION", "us-east-1"),
			S3Prefix: getEnv("AUDIT_S3_PREFIX", "relay"),
			FlushSec: getEnvAsInt("AUDIT_FLUSH_SEC", 60),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errs.Configuration(fmt.Sprintf("invalid port %d", c.Port), nil)
	}
	if c.Execution.PortfolioValue <= 0 {
		return errs.Configuration("portfolio value must be positive", nil)
	}
	switch c.Execution.SizingMethod {
	case "fixed", "confidence_weighted", "kelly", "volatility_adjusted":
	default:
		return errs.Configuration("unknown sizing method: "+c.Execution.SizingMethod, nil)
	}
	if c.Risk.MinConfidenceThreshold < 0 || c.Risk.MinConfidenceThreshold > 1 {
		return errs.Configuration("min confidence must be in [0,1]", nil)
	}
	if !c.Broker.Simulated && c.Broker.GatewayURL == "" {
		return errs.Configuration("broker gateway URL required", nil)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDurationMs(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMs)) * time.Millisecond
}
