package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Secrets (from .env)
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool
	WebhookURL       string
	BotName          string
	APIKey           string
	CORSAllowOrigin  string

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Client / capital
	ClientID     int64
	TotalCapital float64

	// Grid parameters
	GridSpacing       float64 // fractional, e.g. 0.025 = 2.5%
	ProfitMargin      float64 // replacement sell margin over fill price
	LevelsPerSide     int
	NotionalSafety    float64 // multiplier applied when bumping to min notional
	PriceStreamEnable bool

	// Compound sizing
	CompoundMinProfit    float64
	CompoundReinvestRate float64
	CompoundMaxMult      float64

	// Auto-reset
	ResetDeviation    float64 // fractional deviation from center that triggers reset
	ResetCooldownSecs int
	ResetMaxPerDay    int

	// Reconciliation
	ReconcileTolerance    float64
	ReconcileIntervalMins int

	// Timing
	MonitorIntervalSeconds int
	ExchangeTimeoutSeconds int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		// Secrets
		BinanceAPIKey:    envStr("BINANCE_API_KEY", ""),
		BinanceAPISecret: envStr("BINANCE_API_SECRET", ""),
		BinanceTestnet:   envBool("BINANCE_TESTNET", true),
		WebhookURL:       envStr("WEBHOOK_URL", ""),
		BotName:          envStr("BOT_NAME", "GridTraderPro"),
		APIKey:           envStr("API_KEY", ""),
		CORSAllowOrigin:  envStr("CORS_ALLOW_ORIGIN", "*"),

		// Database
		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "gridtrader"),
		DBUser:     envStr("DB_USER", ""),
		DBPassword: envStr("DB_PASSWORD", ""),

		// Client / capital
		ClientID:     envInt64("CLIENT_ID", 1),
		TotalCapital: envFloat("TOTAL_CAPITAL", 2400),

		// Grid
		GridSpacing:       envFloat("GRID_SPACING", 0.025),
		ProfitMargin:      envFloat("PROFIT_MARGIN", 0.025),
		LevelsPerSide:     envInt("GRID_LEVELS_PER_SIDE", 5),
		NotionalSafety:    envFloat("NOTIONAL_SAFETY_MARGIN", 1.15),
		PriceStreamEnable: envBool("PRICE_STREAM_ENABLED", true),

		// Compound sizing
		CompoundMinProfit:    envFloat("COMPOUND_MIN_PROFIT", 25),
		CompoundReinvestRate: envFloat("COMPOUND_REINVEST_RATE", 0.3),
		CompoundMaxMult:      envFloat("COMPOUND_MAX_MULTIPLIER", 3.0),

		// Auto-reset
		ResetDeviation:    envFloat("RESET_DEVIATION", 0.15),
		ResetCooldownSecs: envInt("RESET_COOLDOWN_SECONDS", 3600),
		ResetMaxPerDay:    envInt("RESET_MAX_PER_DAY", 5),

		// Reconciliation
		ReconcileTolerance:    envFloat("RECONCILE_TOLERANCE", 0.01),
		ReconcileIntervalMins: envInt("RECONCILE_INTERVAL_MINUTES", 15),

		// Timing
		MonitorIntervalSeconds: envInt("MONITOR_INTERVAL_SECONDS", 30),
		ExchangeTimeoutSeconds: envInt("EXCHANGE_TIMEOUT_SECONDS", 10),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.TotalCapital <= 0 {
		errs = append(errs, "TOTAL_CAPITAL must be positive")
	}
	if c.GridSpacing <= 0 || c.GridSpacing >= 0.2 {
		errs = append(errs, "GRID_SPACING must be in (0, 0.2)")
	}
	if c.ProfitMargin <= 0 {
		errs = append(errs, "PROFIT_MARGIN must be positive")
	}
	if c.LevelsPerSide < 1 {
		errs = append(errs, "GRID_LEVELS_PER_SIDE must be at least 1")
	}
	if c.BinanceAPIKey == "" || c.BinanceAPISecret == "" {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET are required")
	}
	if c.BinanceTestnet {
		fmt.Println("[WARN] BINANCE_TESTNET enabled — orders go to the test exchange")
	}
	if c.APIKey == "" {
		fmt.Println("[WARN] API_KEY not set — REST API has no authentication")
	}
	if c.WebhookURL == "" {
		fmt.Println("[WARN] WEBHOOK_URL not set — trade notifications print to stdout only")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== Grid Trading Backend Configuration ===")
	if c.BinanceTestnet {
		fmt.Println("  TESTNET MODE — no real funds at risk")
	} else {
		fmt.Println("  LIVE TRADING MODE")
	}
	fmt.Println("--------------------------------------")
	fmt.Printf("Client ID: %d\n", c.ClientID)
	fmt.Printf("Total Capital: $%.2f\n", c.TotalCapital)
	fmt.Println("Grid Configuration:")
	fmt.Printf("  Levels: %d per side\n", c.LevelsPerSide)
	fmt.Printf("  Spacing: %.2f%%\n", c.GridSpacing*100)
	fmt.Printf("  Profit margin: %.2f%%\n", c.ProfitMargin*100)
	fmt.Println("Auto-Reset:")
	fmt.Printf("  Deviation threshold: %.1f%%\n", c.ResetDeviation*100)
	fmt.Printf("  Cooldown: %ds, max %d/day\n", c.ResetCooldownSecs, c.ResetMaxPerDay)
	fmt.Println("Compound Sizing:")
	fmt.Printf("  Threshold: $%.2f | Reinvest: %.0f%% | Cap: %.1fx\n",
		c.CompoundMinProfit, c.CompoundReinvestRate*100, c.CompoundMaxMult)
	fmt.Printf("Monitoring interval: %ds\n", c.MonitorIntervalSeconds)
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}
