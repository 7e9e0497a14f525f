/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional
 * .env file. The resulting Config is built once at startup and passed to the
 * components that need it; nothing mutates it afterwards.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultReadTimeoutSeconds      = 15
	defaultConfirmFallbackSeconds  = 5
	defaultFallbackAnimalWeightKg  = 450
	defaultReconcileSchedule       = "@every 5m"
	defaultReconcileConcurrency    = 4
	defaultSubmitRateLimitPerMin   = 20
	defaultOverviewScanLimit       = 200
	defaultRedisRateLimitPrefix    = "beefchain:rate_limit"
	defaultReconcileEventQueue     = "beefchain.reconcile_requests"
	defaultLedgerRequestsPerSecond = 10
)

// Config holds all the configuration variables for the service.
type Config struct {
	ServerPort                  string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string  `mapstructure:"DATABASE_URL"`
	RedisURL                    string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                 string  `mapstructure:"RABBITMQ_URL"`
	ReconcileEventQueue         string  `mapstructure:"RECONCILE_EVENT_QUEUE"`
	LedgerRPCURL                string  `mapstructure:"LEDGER_RPC_URL"`
	LedgerRelayerURL            string  `mapstructure:"LEDGER_RELAYER_URL"`
	LedgerRelayerAPIKey         string  `mapstructure:"LEDGER_RELAYER_API_KEY"`
	ContractAddress             string  `mapstructure:"CONTRACT_ADDRESS"`
	LedgerReadTimeoutSeconds    int     `mapstructure:"LEDGER_READ_TIMEOUT_SECONDS"`
	LedgerRequestsPerSecond     float64 `mapstructure:"LEDGER_RPS"`
	ConfirmationFallbackSeconds int     `mapstructure:"CONFIRMATION_FALLBACK_SECONDS"`
	CacheBaseURL                string  `mapstructure:"CACHE_BASE_URL"`
	CacheOrigin                 string  `mapstructure:"CACHE_ORIGIN"`
	WalletJWTSecret             string  `mapstructure:"WALLET_JWT_SECRET"`
	InternalAPIKey              string  `mapstructure:"INTERNAL_API_KEY"`
	SystemWallet                string  `mapstructure:"SYSTEM_WALLET"`
	SystemFeePercent            float64 `mapstructure:"SYSTEM_FEE_PERCENT"`
	PriceAnimalTransfer         int64   `mapstructure:"PRICE_ANIMAL_TRANSFER"`
	PriceBatchTransfer          int64   `mapstructure:"PRICE_BATCH_TRANSFER"`
	PriceAnimalAcceptance       int64   `mapstructure:"PRICE_ANIMAL_ACCEPTANCE"`
	FallbackAnimalWeightKg      float64 `mapstructure:"FALLBACK_ANIMAL_WEIGHT_KG"`
	UnitPricePerKg              float64 `mapstructure:"UNIT_PRICE_PER_KG"`
	ReconcileSchedule           string  `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileScopesRaw          string  `mapstructure:"RECONCILE_SCOPES"`
	ReconcileConcurrency        int     `mapstructure:"RECONCILE_CONCURRENCY"`
	SubmitRateLimitPerMinute    int     `mapstructure:"SUBMIT_RATE_LIMIT_PER_MINUTE"`
	OverviewScanLimit           int     `mapstructure:"OVERVIEW_SCAN_LIMIT"`

	// ReconcileScopes is RECONCILE_SCOPES split on commas, canonical and de-duplicated.
	ReconcileScopes []string `mapstructure:"-"`
}

// LedgerReadTimeout returns the per-read ledger deadline.
func (c Config) LedgerReadTimeout() time.Duration {
	return time.Duration(c.LedgerReadTimeoutSeconds) * time.Second
}

// ConfirmationFallback returns the fixed delay used when confirmation polling fails.
func (c Config) ConfirmationFallback() time.Duration {
	return time.Duration(c.ConfirmationFallbackSeconds) * time.Second
}

// LoadConfig reads configuration from environment variables from the given path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRedisRateLimitPrefix)
	viper.SetDefault("RECONCILE_EVENT_QUEUE", defaultReconcileEventQueue)
	viper.SetDefault("LEDGER_READ_TIMEOUT_SECONDS", defaultReadTimeoutSeconds)
	viper.SetDefault("LEDGER_RPS", defaultLedgerRequestsPerSecond)
	viper.SetDefault("CONFIRMATION_FALLBACK_SECONDS", defaultConfirmFallbackSeconds)
	viper.SetDefault("SYSTEM_FEE_PERCENT", 5.0)
	viper.SetDefault("PRICE_ANIMAL_TRANSFER", 1000)
	viper.SetDefault("PRICE_BATCH_TRANSFER", 5000)
	viper.SetDefault("PRICE_ANIMAL_ACCEPTANCE", 800)
	viper.SetDefault("FALLBACK_ANIMAL_WEIGHT_KG", defaultFallbackAnimalWeightKg)
	viper.SetDefault("UNIT_PRICE_PER_KG", 0.0)
	viper.SetDefault("RECONCILE_SCHEDULE", defaultReconcileSchedule)
	viper.SetDefault("RECONCILE_CONCURRENCY", defaultReconcileConcurrency)
	viper.SetDefault("SUBMIT_RATE_LIMIT_PER_MINUTE", defaultSubmitRateLimitPerMin)
	viper.SetDefault("OVERVIEW_SCAN_LIMIT", defaultOverviewScanLimit)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("RECONCILE_EVENT_QUEUE")
	_ = viper.BindEnv("LEDGER_RPC_URL", "LEDGER_RPC_URL", "STARKNET_RPC_URL")
	_ = viper.BindEnv("LEDGER_RELAYER_URL")
	_ = viper.BindEnv("LEDGER_RELAYER_API_KEY")
	_ = viper.BindEnv("CONTRACT_ADDRESS")
	_ = viper.BindEnv("LEDGER_READ_TIMEOUT_SECONDS")
	_ = viper.BindEnv("LEDGER_RPS")
	_ = viper.BindEnv("CONFIRMATION_FALLBACK_SECONDS")
	_ = viper.BindEnv("CACHE_BASE_URL")
	_ = viper.BindEnv("CACHE_ORIGIN")
	_ = viper.BindEnv("WALLET_JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("SYSTEM_WALLET")
	_ = viper.BindEnv("SYSTEM_FEE_PERCENT")
	_ = viper.BindEnv("SYSTEM_FEE_PERCENTAGE")
	_ = viper.BindEnv("PRICE_ANIMAL_TRANSFER")
	_ = viper.BindEnv("PRICE_BATCH_TRANSFER")
	_ = viper.BindEnv("PRICE_ANIMAL_ACCEPTANCE")
	_ = viper.BindEnv("FALLBACK_ANIMAL_WEIGHT_KG")
	_ = viper.BindEnv("UNIT_PRICE_PER_KG")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_SCOPES")
	_ = viper.BindEnv("RECONCILE_CONCURRENCY")
	_ = viper.BindEnv("SUBMIT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("OVERVIEW_SCAN_LIMIT")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRedisRateLimitPrefix
	}
	config.CacheBaseURL = strings.TrimRight(strings.TrimSpace(config.CacheBaseURL), "/")
	config.CacheOrigin = strings.TrimSpace(config.CacheOrigin)
	config.SystemWallet = strings.TrimSpace(config.SystemWallet)
	config.ContractAddress = strings.TrimSpace(config.ContractAddress)

	if viper.IsSet("SYSTEM_FEE_PERCENTAGE") {
		percentStr := strings.TrimSpace(viper.GetString("SYSTEM_FEE_PERCENTAGE"))
		if percentStr != "" {
			percentValue, parseErr := strconv.ParseFloat(percentStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid SYSTEM_FEE_PERCENTAGE\" value=%q err=%v", percentStr, parseErr)
			} else {
				config.SystemFeePercent = percentValue
			}
		}
	}
	if config.SystemFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative system fee percent configured; coercing to zero\" fee_percent=%f", config.SystemFeePercent)
		config.SystemFeePercent = 0
	}
	if config.SystemFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"system fee percent too high; capping at 100\" fee_percent=%f", config.SystemFeePercent)
		config.SystemFeePercent = 100
	}

	for name, price := range map[string]*int64{
		"PRICE_ANIMAL_TRANSFER":   &config.PriceAnimalTransfer,
		"PRICE_BATCH_TRANSFER":    &config.PriceBatchTransfer,
		"PRICE_ANIMAL_ACCEPTANCE": &config.PriceAnimalAcceptance,
	} {
		if *price < 0 {
			log.Printf("level=warn component=config msg=\"negative price configured; coercing to zero\" key=%s value=%d", name, *price)
			*price = 0
		}
	}

	if config.LedgerReadTimeoutSeconds <= 0 {
		config.LedgerReadTimeoutSeconds = defaultReadTimeoutSeconds
	}
	if config.ConfirmationFallbackSeconds <= 0 {
		config.ConfirmationFallbackSeconds = defaultConfirmFallbackSeconds
	}
	if config.LedgerRequestsPerSecond <= 0 {
		config.LedgerRequestsPerSecond = defaultLedgerRequestsPerSecond
	}
	if config.FallbackAnimalWeightKg <= 0 {
		config.FallbackAnimalWeightKg = defaultFallbackAnimalWeightKg
	}
	if config.UnitPricePerKg < 0 {
		config.UnitPricePerKg = 0
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = defaultReconcileSchedule
	}
	if config.ReconcileConcurrency <= 0 {
		config.ReconcileConcurrency = defaultReconcileConcurrency
	}
	if config.SubmitRateLimitPerMinute <= 0 {
		config.SubmitRateLimitPerMinute = defaultSubmitRateLimitPerMin
	}
	if config.OverviewScanLimit <= 0 {
		config.OverviewScanLimit = defaultOverviewScanLimit
	}

	config.ReconcileScopes = splitScopes(config.ReconcileScopesRaw)
	return
}

func splitScopes(raw string) []string {
	seen := make(map[string]struct{})
	scopes := []string{}
	for _, part := range strings.Split(raw, ",") {
		scope := strings.ToLower(strings.TrimSpace(part))
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		scopes = append(scopes, scope)
	}
	return scopes
}
